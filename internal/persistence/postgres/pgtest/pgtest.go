// SPDX-License-Identifier: Apache-2.0

// Package pgtest provisions a throwaway PostgreSQL database for
// integration tests. DATABASE_URL wins when set; otherwise a container is
// started with testcontainers. Tests are skipped when neither is reachable.
package pgtest

import (
	"context"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const image = "postgres:16-alpine"

// URL returns a connection string for an empty database owned by t.
func URL(t *testing.T) string {
	t.Helper()

	baseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if baseURL == "" {
		baseURL = startContainer(t)
	}

	return createDatabase(t, baseURL)
}

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
)

// startContainer starts one container per test binary. The testcontainers
// reaper removes it when the process exits.
func startContainer(t *testing.T) string {
	t.Helper()

	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		container, err := tcpostgres.Run(ctx, image,
			tcpostgres.WithDatabase("emby"),
			tcpostgres.WithUsername("emby"),
			tcpostgres.WithPassword("emby"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			_ = testcontainers.TerminateContainer(container)
			containerErr = err
			return
		}
		containerURL, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})

	if containerErr != nil {
		t.Skipf("skip integration test: cannot start postgres container (%v)", containerErr)
	}
	return containerURL
}

func createDatabase(t *testing.T, baseURL string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	adminPool, err := pgxpool.New(ctx, baseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot create admin pool (%v)", err)
	}
	if err := adminPool.Ping(ctx); err != nil {
		adminPool.Close()
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}

	name := "emby_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := adminPool.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		adminPool.Close()
		t.Skipf("skip integration test: cannot create database (%v)", err)
	}

	t.Cleanup(func() {
		defer adminPool.Close()

		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cleanupCancel()

		_, _ = adminPool.Exec(cleanupCtx, `
			SELECT pg_terminate_backend(pid)
			FROM pg_stat_activity
			WHERE datname = $1
			  AND pid <> pg_backend_pid()
		`, name)
		if _, err := adminPool.Exec(cleanupCtx, "DROP DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
			t.Logf("cleanup warning: drop temp database failed (%v)", err)
		}
	})

	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" {
		t.Fatalf("DATABASE_URL must be a postgres:// URL, got %q", baseURL)
	}
	u.Path = "/" + name

	return u.String()
}
