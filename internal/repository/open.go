// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
	persistbadger "github.com/Fan4Metal/emby-webhooks-app/internal/persistence/badger"
	"github.com/Fan4Metal/emby-webhooks-app/internal/persistence/postgres"
	"github.com/Fan4Metal/emby-webhooks-app/internal/persistence/sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
	BadgerDir   string
	PGMaxConns  int32
	AutoMigrate bool
}

// Drivers lists the accepted Options.Driver values.
func Drivers() []string {
	return []string{DriverSQLite, DriverPostgres, DriverBadger}
}

// Open creates the storage handle for opts.Driver and wraps it in a Store.
// With AutoMigrate the SQL schema is brought up to date before returning.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	logger = logger.With("driver", driver)

	switch driver {
	case DriverSQLite, "":
		db, err := sqlite.Open(ctx, opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		if opts.AutoMigrate {
			if err := sqlite.EnsureSchema(ctx, db, logger); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("sqlite schema bootstrap: %w", err)
			}
		}
		return NewSQLiteRepository(db, logger), nil

	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, opts.DatabaseURL, postgres.PoolOptions{MaxConns: opts.PGMaxConns})
		if err != nil {
			return nil, err
		}
		if opts.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, fmt.Errorf("postgres schema bootstrap: %w", err)
			}
		}
		return NewPostgresRepository(pool, logger), nil

	case DriverBadger:
		db, err := persistbadger.Open(opts.BadgerDir, logger)
		if err != nil {
			return nil, err
		}
		repo, err := NewBadgerRepository(db, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return repo, nil

	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStorageDriver, opts.Driver)
	}
}
