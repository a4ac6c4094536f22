// SPDX-License-Identifier: Apache-2.0

// Package repository holds the storage primitives behind session dedup and
// the activity log. Every backend offers the same conditional upsert so the
// admit decision is made by the store rather than by a read in Go.
package repository

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
)

// Tx is the write surface of a single ingest transaction.
type Tx interface {
	// SwapSessionState stores kind as the last event of key unless it is
	// already the stored value. changed reports whether a row was written.
	SwapSessionState(ctx context.Context, key string, kind domain.EventKind, at time.Time) (changed bool, err error)
	// DeleteSessionState removes the row for key. Missing rows are not an error.
	DeleteSessionState(ctx context.Context, key string) error
	// AppendEntry inserts entry and returns its assigned id.
	AppendEntry(ctx context.Context, entry domain.LogEntry) (int64, error)
}

// Store is implemented by every backend.
type Store interface {
	// WithinTx runs fn in one transaction. fn may be invoked again when the
	// backend detects a write conflict, so it must not keep state across calls.
	WithinTx(ctx context.Context, fn func(Tx) error) error
	ListRecent(ctx context.Context, limit int) ([]domain.LogEntry, error)
	ListSessionStates(ctx context.Context) ([]domain.SessionState, error)
	// Clear deletes all log entries and all session state atomically.
	Clear(ctx context.Context) (domain.ClearResult, error)
	// PruneSessionStates deletes session rows last updated before the cutoff.
	PruneSessionStates(ctx context.Context, before time.Time) (int64, error)
	// Check verifies connectivity and schema.
	Check(ctx context.Context) error
	Close() error
	Driver() string
}

// timeLayout is fixed width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// normalizeLimit maps non-positive limits onto the default page size.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return domain.DefaultRecentLimit
	}
	return limit
}

// sortSessionStates orders rows most recently updated first, as the SQL
// backends do.
func sortSessionStates(states []domain.SessionState) {
	slices.SortFunc(states, func(a, b domain.SessionState) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionKey, b.SessionKey)
	})
}
