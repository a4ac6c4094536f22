// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	embeddedmigrations "github.com/Fan4Metal/emby-webhooks-app/migrations"
)

var requiredTables = []string{
	"webhook_log",
	"playback_state",
}

type SchemaHealthChecker struct {
	db *sql.DB
}

func NewSchemaHealthChecker(db *sql.DB) *SchemaHealthChecker {
	return &SchemaHealthChecker{db: db}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.db)
}

// EnsureSchema applies pending embedded migrations. Each file runs in its own
// transaction together with its schema_migrations row.
func EnsureSchema(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	if logger == nil {
		logger = slog.Default()
	}

	started := time.Now()
	logger.Info("schema bootstrap starting", "dialect", embeddedmigrations.SQLite)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	migrations, err := embeddedmigrations.Ordered(embeddedmigrations.SQLite)
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(migrations) == 0 {
		return errors.New("no embedded migrations found")
	}

	applied := 0
	for _, migration := range migrations {
		ok, err := applyMigration(ctx, db, migration)
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", migration.Name, err)
		}
		if ok {
			logger.Info("migration applied", "file", migration.Name)
			applied++
		}
	}

	logger.Info("schema bootstrap complete",
		"applied", applied,
		"skipped", len(migrations)-applied,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, db)
}

func applyMigration(ctx context.Context, db *sql.DB, migration embeddedmigrations.File) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`,
		migration.Name,
	).Scan(&exists); err != nil {
		return false, err
	}
	if exists > 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (filename) VALUES (?)`,
		migration.Name,
	); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func SchemaReady(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	missing := make([]string, 0, len(requiredTables))
	for _, table := range requiredTables {
		var n int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
			table,
		).Scan(&n); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if n == 0 {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required tables missing: %s", strings.Join(missing, ", "))
	}

	return nil
}
