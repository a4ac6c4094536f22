// SPDX-License-Identifier: Apache-2.0

// Package app assembles the storage backend and the ingestion pipeline from
// a loaded Config. The API server and the operator CLI share it.
package app

import (
	"context"
	"log/slog"

	"github.com/Fan4Metal/emby-webhooks-app/internal/activitylog"
	"github.com/Fan4Metal/emby-webhooks-app/internal/config"
	"github.com/Fan4Metal/emby-webhooks-app/internal/dedup"
	"github.com/Fan4Metal/emby-webhooks-app/internal/ingest"
	"github.com/Fan4Metal/emby-webhooks-app/internal/normalize"
	"github.com/Fan4Metal/emby-webhooks-app/internal/repository"
)

type App struct {
	Store  repository.Store
	Log    *activitylog.Log
	Ingest *ingest.Service
}

// StorageOptions maps the storage section of cfg onto repository options.
func StorageOptions(cfg config.Config) repository.Options {
	return repository.Options{
		Driver:      cfg.Storage.Driver,
		SQLitePath:  cfg.Storage.SQLitePath,
		DatabaseURL: cfg.Storage.DatabaseURL,
		BadgerDir:   cfg.Storage.BadgerDir,
		PGMaxConns:  cfg.Storage.PGMaxConns,
		AutoMigrate: cfg.Storage.AutoMigrate,
	}
}

// New opens the configured store and wires the pipeline on top of it. The
// caller owns the returned App and must Close it.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := repository.Open(ctx, StorageOptions(cfg), logger)
	if err != nil {
		return nil, err
	}

	return Wire(store, cfg, logger), nil
}

// Wire builds the pipeline on an already open store.
func Wire(store repository.Store, cfg config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}

	normalizer := normalize.New(normalize.Options{
		Layout: cfg.Display.Layout,
		Offset: cfg.Display.Offset,
		Locale: cfg.Display.Locale,
	})
	log := activitylog.New(store, cfg.RecentLimit, logger.With("component", "activitylog"))
	engine := dedup.NewEngine(logger.With("component", "dedup"))

	svc := ingest.NewService(store, normalizer, engine, log, ingest.Options{
		Breaker: ingest.BreakerOptions{
			Enabled:     cfg.Breaker.Enabled,
			MaxFailures: cfg.Breaker.MaxFailures,
			OpenTimeout: cfg.Breaker.OpenTimeout,
		},
	}, logger.With("component", "ingest"))

	return &App{
		Store:  store,
		Log:    log,
		Ingest: svc,
	}
}

func (a *App) Close() error {
	return a.Store.Close()
}
