//go:build integration

// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/persistence/postgres/pgtest"
)

func openPostgres(t *testing.T) Store {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	store, err := Open(ctx, Options{
		Driver:      DriverPostgres,
		DatabaseURL: pgtest.URL(t),
		PGMaxConns:  8,
		AutoMigrate: true,
	}, discardLogger())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresRepositoryContract(t *testing.T) {
	runStoreContract(t, openPostgres)
}

func TestPostgresRepositoryCheck(t *testing.T) {
	store := openPostgres(t)
	if err := store.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
}
