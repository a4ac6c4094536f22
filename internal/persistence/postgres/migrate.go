// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	embeddedmigrations "github.com/Fan4Metal/emby-webhooks-app/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// emby migration runs on one database are serialized by this advisory lock.
const schemaMigrationLockID int64 = 0x454d42595f4d4947 // "EMBY_MIG"

var errNilPool = errors.New("postgres: nil database pool")

// requiredTables hold the activity log and the per-session dedup state.
var requiredTables = []string{
	"webhook_log",
	"playback_state",
}

type requiredColumn struct {
	Table  string
	Column string
}

var requiredColumns = []requiredColumn{
	{Table: "webhook_log", Column: "session_key"},
	{Table: "webhook_log", Column: "received_at"},
	{Table: "playback_state", Column: "last_event"},
	{Table: "playback_state", Column: "updated_at"},
}

type SchemaHealthChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaHealthChecker(pool *pgxpool.Pool) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.pool)
}

// EnsureSchema applies the pending postgres migrations of the emby webhook
// store and then verifies webhook_log and playback_state are usable.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errNilPool
	}
	if logger == nil {
		logger = slog.Default()
	}

	files, err := embeddedmigrations.Ordered(embeddedmigrations.Postgres)
	if err != nil {
		return fmt.Errorf("read emby postgres migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("emby postgres migration set is empty")
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for emby migrations: %w", err)
	}
	defer conn.Release()

	started := time.Now()
	err = withMigrationLock(ctx, conn, logger, func() error {
		applied, err := appliedMigrations(ctx, conn)
		if err != nil {
			return err
		}

		pending := 0
		for _, file := range files {
			if applied[file.Name] {
				continue
			}
			pending++
			if err := applyMigration(ctx, conn, file); err != nil {
				return fmt.Errorf("emby migration %s: %w", file.Name, err)
			}
			logger.Info("emby migration applied", "file", file.Name)
		}

		logger.Info("emby schema up to date",
			"dialect", embeddedmigrations.Postgres,
			"applied", pending,
			"already_applied", len(files)-pending,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		return nil
	})
	if err != nil {
		return err
	}

	return SchemaReady(ctx, pool)
}

func withMigrationLock(ctx context.Context, conn *pgxpool.Conn, logger *slog.Logger, fn func() error) error {
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return fmt.Errorf("lock emby migrations: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); err != nil {
			logger.Error("unlock emby migrations failed", "error", err)
		}
	}()

	return fn()
}

// appliedMigrations creates the bookkeeping table on first use and returns
// the file names already recorded in it.
func appliedMigrations(ctx context.Context, conn *pgxpool.Conn) (map[string]bool, error) {
	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied emby migrations: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list applied emby migrations: %w", err)
	}

	applied := make(map[string]bool, len(names))
	for _, name := range names {
		applied[name] = true
	}
	return applied, nil
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, file embeddedmigrations.File) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, file.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file.Name); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SchemaReady reports whether the webhook_log and playback_state tables and
// the columns the store depends on exist in the public schema.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errNilPool
	}

	rows, err := pool.Query(ctx, `
		SELECT table_name::text, column_name::text
		FROM information_schema.columns
		WHERE table_schema = 'public'
		  AND table_name::text = ANY($1::text[])
	`, requiredTables)
	if err != nil {
		return fmt.Errorf("inspect emby schema: %w", err)
	}

	found, err := pgx.CollectRows(rows, pgx.RowToStructByPos[requiredColumn])
	if err != nil {
		return fmt.Errorf("inspect emby schema: %w", err)
	}

	return missingSchemaObjects(found)
}

// missingSchemaObjects compares the columns found in the database with the
// required set. A table with no columns at all is reported as a table.
func missingSchemaObjects(found []requiredColumn) error {
	present := make(map[requiredColumn]bool, len(found))
	tables := make(map[string]bool, len(requiredTables))
	for _, c := range found {
		present[c] = true
		tables[c.Table] = true
	}

	var missingTables []string
	for _, table := range requiredTables {
		if !tables[table] {
			missingTables = append(missingTables, table)
		}
	}
	if len(missingTables) > 0 {
		return fmt.Errorf("emby schema missing tables: %s", strings.Join(missingTables, ", "))
	}

	var missingColumns []string
	for _, column := range requiredColumns {
		if !present[column] {
			missingColumns = append(missingColumns, column.Table+"."+column.Column)
		}
	}
	if len(missingColumns) > 0 {
		return fmt.Errorf("emby schema missing columns: %s", strings.Join(missingColumns, ", "))
	}

	return nil
}
