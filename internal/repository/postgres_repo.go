// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
	"github.com/Fan4Metal/emby-webhooks-app/internal/persistence/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DriverPostgres = "postgres"

type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresRepository(pool *pgxpool.Pool, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *PostgresRepository) Driver() string { return DriverPostgres }

func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "error", err)
		return err
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) SwapSessionState(ctx context.Context, key string, kind domain.EventKind, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO playback_state (session_key, last_event, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_key) DO UPDATE
		SET last_event = EXCLUDED.last_event,
		    updated_at = EXCLUDED.updated_at
		WHERE playback_state.last_event <> EXCLUDED.last_event
	`, key, string(kind), at.UTC())
	if err != nil {
		return false, fmt.Errorf("upsert session state: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) DeleteSessionState(ctx context.Context, key string) error {
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM playback_state WHERE session_key = $1`,
		key,
	); err != nil {
		return fmt.Errorf("delete session state: %w", err)
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, entry domain.LogEntry) (int64, error) {
	var id int64
	if err := t.tx.QueryRow(ctx, `
		INSERT INTO webhook_log (message, kind, display_time, session_key, received_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`,
		entry.Message,
		string(entry.Kind),
		entry.DisplayTime,
		nullString(entry.SessionKey),
		entry.ReceivedAt.UTC(),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert log entry: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	limit = normalizeLimit(limit)

	rows, err := r.pool.Query(ctx, `
		SELECT id, message, kind, display_time, COALESCE(session_key, ''), received_at
		FROM webhook_log
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		r.logger.Error("list recent query failed", "limit", limit, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LogEntry, 0, limit)
	for rows.Next() {
		var (
			entry domain.LogEntry
			kind  string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Message,
			&kind,
			&entry.DisplayTime,
			&entry.SessionKey,
			&entry.ReceivedAt,
		); err != nil {
			r.logger.Error("scan log row failed", "error", err)
			return nil, err
		}
		entry.Kind = domain.EventKind(kind)
		entry.ReceivedAt = entry.ReceivedAt.UTC()
		out = append(out, entry)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("log rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

func (r *PostgresRepository) ListSessionStates(ctx context.Context) ([]domain.SessionState, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_key, last_event, updated_at
		FROM playback_state
		ORDER BY updated_at DESC, session_key ASC
	`)
	if err != nil {
		r.logger.Error("list sessions query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SessionState, 0, 8)
	for rows.Next() {
		var (
			state     domain.SessionState
			lastEvent string
		)
		if err := rows.Scan(&state.SessionKey, &lastEvent, &state.UpdatedAt); err != nil {
			r.logger.Error("scan session row failed", "error", err)
			return nil, err
		}
		state.LastEvent = domain.EventKind(lastEvent)
		state.UpdatedAt = state.UpdatedAt.UTC()
		out = append(out, state)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("session rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

func (r *PostgresRepository) Clear(ctx context.Context) (domain.ClearResult, error) {
	var result domain.ClearResult

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return result, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM webhook_log`)
	if err != nil {
		r.logger.Error("clear log failed", "error", err)
		return result, err
	}
	result.Entries = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM playback_state`)
	if err != nil {
		r.logger.Error("clear session state failed", "error", err)
		return result, err
	}
	result.Sessions = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "error", err)
		return domain.ClearResult{}, err
	}

	r.logger.Debug("clear committed", "entries", result.Entries, "sessions", result.Sessions)
	return result, nil
}

func (r *PostgresRepository) PruneSessionStates(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM playback_state WHERE updated_at < $1`,
		before.UTC(),
	)
	if err != nil {
		r.logger.Error("prune sessions failed", "before", before, "error", err)
		return 0, err
	}

	r.logger.Info("stale sessions pruned", "before", before, "deleted", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) Check(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return err
	}
	return postgres.SchemaReady(ctx, r.pool)
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
