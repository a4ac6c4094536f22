// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/Fan4Metal/emby-webhooks-app/internal/config"
	"github.com/Fan4Metal/emby-webhooks-app/internal/persistence/sqlite"
)

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = sqlite.MemoryPath
	cfg.Storage.AutoMigrate = true
	cfg.RecentLimit = 10
	return cfg
}

func TestNewWiresPipeline(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(ctx, memoryConfig(), logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	raw := map[string]any{
		"Event":   "playback.start",
		"Server":  map[string]any{"Name": "Home"},
		"User":    map[string]any{"Name": "alice"},
		"Session": map[string]any{"Id": "s1"},
		"Item":    map[string]any{"Name": "Alien"},
	}

	first, err := a.Ingest.Ingest(ctx, raw)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if first.Deduped() {
		t.Fatal("expected first start to be admitted")
	}

	second, err := a.Ingest.Ingest(ctx, raw)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !second.Deduped() {
		t.Fatal("expected repeated start to be suppressed")
	}

	entries, err := a.Log.ListRecent(ctx, 0)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry got %d", len(entries))
	}
	if a.Log.MaxRecent() != 10 {
		t.Fatalf("expected recent limit 10 got %d", a.Log.MaxRecent())
	}
}

func TestStorageOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "badger"
	cfg.Storage.BadgerDir = "/tmp/x"
	cfg.Storage.PGMaxConns = 7

	opts := StorageOptions(cfg)
	if opts.Driver != "badger" || opts.BadgerDir != "/tmp/x" || opts.PGMaxConns != 7 || !opts.AutoMigrate {
		t.Fatalf("unexpected options %+v", opts)
	}
}
