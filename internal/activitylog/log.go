// SPDX-License-Identifier: Apache-2.0

// Package activitylog is the append-only record of admitted events.
package activitylog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
	"github.com/Fan4Metal/emby-webhooks-app/internal/metrics"
)

// Appender is the slice of a storage transaction used to add entries.
type Appender interface {
	AppendEntry(ctx context.Context, entry domain.LogEntry) (int64, error)
}

// Store is the read and maintenance surface of the backing repository.
type Store interface {
	ListRecent(ctx context.Context, limit int) ([]domain.LogEntry, error)
	ListSessionStates(ctx context.Context) ([]domain.SessionState, error)
	Clear(ctx context.Context) (domain.ClearResult, error)
	PruneSessionStates(ctx context.Context, before time.Time) (int64, error)
}

type Log struct {
	store     Store
	maxRecent int
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Log over store. maxRecent caps ListRecent; non-positive
// values use domain.DefaultRecentLimit.
func New(store Store, maxRecent int, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRecent <= 0 {
		maxRecent = domain.DefaultRecentLimit
	}

	return &Log{
		store:     store,
		maxRecent: maxRecent,
		logger:    logger,
		now:       time.Now,
	}
}

// MaxRecent is the largest page ListRecent returns.
func (l *Log) MaxRecent() int {
	return l.maxRecent
}

// Append records an admitted event inside the caller's transaction.
func (l *Log) Append(ctx context.Context, tx Appender, ev domain.CanonicalEvent) (domain.LogEntry, error) {
	entry := domain.NewLogEntry(ev, l.now().UTC())

	id, err := tx.AppendEntry(ctx, entry)
	if err != nil {
		l.logger.Error("log append failed", "kind", ev.Kind, "error", err)
		return domain.LogEntry{}, fmt.Errorf("append log entry: %w", err)
	}

	entry.ID = id
	return entry, nil
}

// ListRecent returns up to limit entries, newest first. Limits outside
// 1..MaxRecent are clamped to MaxRecent.
func (l *Log) ListRecent(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	if limit <= 0 || limit > l.maxRecent {
		limit = l.maxRecent
	}

	entries, err := l.store.ListRecent(ctx, limit)
	if err != nil {
		metrics.IncStorageError("list_recent")
		return nil, fmt.Errorf("%w: list recent: %v", domain.ErrStorageUnavailable, err)
	}
	return entries, nil
}

// Clear removes every log entry and every session state row in one
// transaction.
func (l *Log) Clear(ctx context.Context) (domain.ClearResult, error) {
	result, err := l.store.Clear(ctx)
	if err != nil {
		metrics.IncStorageError("clear")
		return domain.ClearResult{}, fmt.Errorf("%w: clear: %v", domain.ErrStorageUnavailable, err)
	}

	metrics.IncLogClears()
	l.logger.Info("activity log cleared", "entries", result.Entries, "sessions", result.Sessions)
	return result, nil
}

// Sessions lists the open session state rows, most recently updated first.
func (l *Log) Sessions(ctx context.Context) ([]domain.SessionState, error) {
	states, err := l.store.ListSessionStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", domain.ErrStorageUnavailable, err)
	}
	return states, nil
}

// PruneSessions drops session rows idle since before. Sessions whose stop
// was never delivered otherwise stay forever.
func (l *Log) PruneSessions(ctx context.Context, before time.Time) (int64, error) {
	n, err := l.store.PruneSessionStates(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("%w: prune sessions: %v", domain.ErrStorageUnavailable, err)
	}
	return n, nil
}
