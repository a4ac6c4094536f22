// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
	"github.com/Fan4Metal/emby-webhooks-app/internal/persistence/sqlite"
)

const DriverSQLite = "sqlite"

type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteRepository(db *sql.DB, logger *slog.Logger) *SQLiteRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteRepository{
		db:     db,
		logger: logger,
	}
}

func (r *SQLiteRepository) Driver() string { return DriverSQLite }

func (r *SQLiteRepository) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("commit failed", "error", err)
		return err
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) SwapSessionState(ctx context.Context, key string, kind domain.EventKind, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO playback_state (session_key, last_event, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE
		SET last_event = excluded.last_event,
		    updated_at = excluded.updated_at
		WHERE playback_state.last_event <> excluded.last_event
	`, key, string(kind), formatTime(at))
	if err != nil {
		return false, fmt.Errorf("upsert session state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert session state rows: %w", err)
	}
	return n > 0, nil
}

func (t *sqliteTx) DeleteSessionState(ctx context.Context, key string) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM playback_state WHERE session_key = ?`,
		key,
	); err != nil {
		return fmt.Errorf("delete session state: %w", err)
	}
	return nil
}

func (t *sqliteTx) AppendEntry(ctx context.Context, entry domain.LogEntry) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO webhook_log (message, kind, display_time, session_key, received_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		entry.Message,
		string(entry.Kind),
		entry.DisplayTime,
		nullString(entry.SessionKey),
		formatTime(entry.ReceivedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert log entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("log entry id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) ListRecent(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	limit = normalizeLimit(limit)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message, kind, display_time, COALESCE(session_key, ''), received_at
		FROM webhook_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		r.logger.Error("list recent query failed", "limit", limit, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LogEntry, 0, limit)
	for rows.Next() {
		var (
			entry      domain.LogEntry
			kind       string
			receivedAt string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Message,
			&kind,
			&entry.DisplayTime,
			&entry.SessionKey,
			&receivedAt,
		); err != nil {
			r.logger.Error("scan log row failed", "error", err)
			return nil, err
		}
		entry.Kind = domain.EventKind(kind)
		if entry.ReceivedAt, err = parseTime(receivedAt); err != nil {
			r.logger.Warn("unparseable received_at", "id", entry.ID, "value", receivedAt)
		}
		out = append(out, entry)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("log rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

func (r *SQLiteRepository) ListSessionStates(ctx context.Context) ([]domain.SessionState, error) {
	rows, err := r.db.QueryContext(ctx, `
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
			updatedAt string
		)
		if err := rows.Scan(&state.SessionKey, &lastEvent, &updatedAt); err != nil {
			r.logger.Error("scan session row failed", "error", err)
			return nil, err
		}
		state.LastEvent = domain.EventKind(lastEvent)
		if state.UpdatedAt, err = parseTime(updatedAt); err != nil {
			r.logger.Warn("unparseable updated_at", "session_key", state.SessionKey, "value", updatedAt)
		}
		out = append(out, state)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("session rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) (domain.ClearResult, error) {
	var result domain.ClearResult

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return result, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM webhook_log`)
	if err != nil {
		r.logger.Error("clear log failed", "error", err)
		return result, err
	}
	result.Entries, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM playback_state`)
	if err != nil {
		r.logger.Error("clear session state failed", "error", err)
		return result, err
	}
	result.Sessions, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		r.logger.Error("commit failed", "error", err)
		return domain.ClearResult{}, err
	}

	r.logger.Debug("clear committed", "entries", result.Entries, "sessions", result.Sessions)
	return result, nil
}

func (r *SQLiteRepository) PruneSessionStates(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM playback_state WHERE updated_at < ?`,
		formatTime(before),
	)
	if err != nil {
		r.logger.Error("prune sessions failed", "before", before, "error", err)
		return 0, err
	}

	n, _ := res.RowsAffected()
	r.logger.Info("stale sessions pruned", "before", before, "deleted", n)
	return n, nil
}

func (r *SQLiteRepository) Check(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return err
	}
	return sqlite.SchemaReady(ctx, r.db)
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
