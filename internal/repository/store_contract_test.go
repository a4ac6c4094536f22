// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
	"golang.org/x/sync/errgroup"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("swap session state", func(t *testing.T) {
		testSwapSessionState(t, open(t))
	})
	t.Run("append and list recent", func(t *testing.T) {
		testAppendAndListRecent(t, open(t))
	})
	t.Run("rollback on error", func(t *testing.T) {
		testRollbackOnError(t, open(t))
	})
	t.Run("clear", func(t *testing.T) {
		testClear(t, open(t))
	})
	t.Run("prune sessions", func(t *testing.T) {
		testPruneSessions(t, open(t))
	})
	t.Run("concurrent duplicate swaps", func(t *testing.T) {
		testConcurrentSwaps(t, open(t))
	})
}

func swap(t *testing.T, s Store, key string, kind domain.EventKind, at time.Time) bool {
	t.Helper()

	var changed bool
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		var err error
		changed, err = tx.SwapSessionState(context.Background(), key, kind, at)
		return err
	})
	if err != nil {
		t.Fatalf("swap %s/%s: %v", key, kind, err)
	}
	return changed
}

func appendEntry(t *testing.T, s Store, msg string, at time.Time) int64 {
	t.Helper()

	var id int64
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		var err error
		id, err = tx.AppendEntry(context.Background(), domain.LogEntry{
			Message:     msg,
			Kind:        domain.KindPlaybackStart,
			DisplayTime: "01.01.2024 00:00:00",
			ReceivedAt:  at,
		})
		return err
	})
	if err != nil {
		t.Fatalf("append %q: %v", msg, err)
	}
	return id
}

func testSwapSessionState(t *testing.T, s Store) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if !swap(t, s, "k1", domain.KindPlaybackStart, at) {
		t.Fatal("expected first swap to insert")
	}
	if swap(t, s, "k1", domain.KindPlaybackStart, at.Add(time.Minute)) {
		t.Fatal("expected duplicate swap to report unchanged")
	}

	states, err := s.ListSessionStates(ctx)
	if err != nil {
		t.Fatalf("list sessions after duplicate: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected 1 session row after duplicate, got %d", len(states))
	}
	if states[0].LastEvent != domain.KindPlaybackStart {
		t.Fatalf("expected duplicate to keep last event start, got %s", states[0].LastEvent)
	}
	if !states[0].UpdatedAt.Equal(at) {
		t.Fatalf("expected duplicate to keep updated_at %s, got %s", at, states[0].UpdatedAt)
	}

	if !swap(t, s, "k1", domain.KindPlaybackPause, at.Add(2*time.Minute)) {
		t.Fatal("expected transition to report changed")
	}

	states, err = s.ListSessionStates(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected 1 session row, got %d", len(states))
	}
	if states[0].LastEvent != domain.KindPlaybackPause {
		t.Fatalf("expected last event pause, got %s", states[0].LastEvent)
	}
	if !states[0].UpdatedAt.Equal(at.Add(2 * time.Minute)) {
		t.Fatalf("expected updated_at of the transition, got %s", states[0].UpdatedAt)
	}

	err = s.WithinTx(ctx, func(tx Tx) error {
		if err := tx.DeleteSessionState(ctx, "k1"); err != nil {
			return err
		}
		return tx.DeleteSessionState(ctx, "missing")
	})
	if err != nil {
		t.Fatalf("delete session state: %v", err)
	}

	states, err = s.ListSessionStates(ctx)
	if err != nil {
		t.Fatalf("list sessions after delete: %v", err)
	}
	if len(states) != 0 {
		t.Fatalf("expected no session rows, got %d", len(states))
	}
}

func testAppendAndListRecent(t *testing.T, s Store) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var last int64
	for i, msg := range []string{"one", "two", "three", "four"} {
		id := appendEntry(t, s, msg, at.Add(time.Duration(i)*time.Second))
		if id <= last {
			t.Fatalf("expected increasing ids, got %d after %d", id, last)
		}
		last = id
	}

	got, err := s.ListRecent(ctx, 3)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	want := []string{"four", "three", "two"}
	for i := range want {
		if got[i].Message != want[i] {
			t.Fatalf("entry %d: expected %q got %q", i, want[i], got[i].Message)
		}
	}
	if got[0].ID != last {
		t.Fatalf("expected newest id %d, got %d", last, got[0].ID)
	}
	if !got[0].ReceivedAt.Equal(at.Add(3 * time.Second)) {
		t.Fatalf("expected received_at to round-trip, got %s", got[0].ReceivedAt)
	}
	if got[0].Kind != domain.KindPlaybackStart || got[0].DisplayTime == "" {
		t.Fatalf("unexpected entry fields: %+v", got[0])
	}

	all, err := s.ListRecent(ctx, 0)
	if err != nil {
		t.Fatalf("list recent default limit: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected default limit to return all 4 entries, got %d", len(all))
	}
}

func testRollbackOnError(t *testing.T, s Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.SwapSessionState(ctx, "k", domain.KindPlaybackStart, time.Now()); err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ctx, domain.LogEntry{Message: "lost", Kind: domain.KindPlaybackStart, ReceivedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to be returned, got %v", err)
	}

	entries, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	states, err := s.ListSessionStates(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(entries) != 0 || len(states) != 0 {
		t.Fatalf("expected rollback, got %d entries and %d sessions", len(entries), len(states))
	}
}

func testClear(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now()

	appendEntry(t, s, "a", now)
	appendEntry(t, s, "b", now)
	swap(t, s, "k1", domain.KindPlaybackStart, now)
	swap(t, s, "k2", domain.KindPlaybackPause, now)
	swap(t, s, "k3", domain.KindPlaybackUnpause, now)

	result, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if result.Entries != 2 || result.Sessions != 3 {
		t.Fatalf("unexpected clear counts: %+v", result)
	}

	entries, _ := s.ListRecent(ctx, 10)
	states, _ := s.ListSessionStates(ctx)
	if len(entries) != 0 || len(states) != 0 {
		t.Fatalf("expected empty store, got %d entries and %d sessions", len(entries), len(states))
	}

	if !swap(t, s, "k1", domain.KindPlaybackStart, now) {
		t.Fatal("expected swap after clear to insert again")
	}
	appendEntry(t, s, "c", now)
	entries, _ = s.ListRecent(ctx, 10)
	if len(entries) != 1 || entries[0].Message != "c" {
		t.Fatalf("expected store to accept writes after clear, got %+v", entries)
	}
}

func testPruneSessions(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	swap(t, s, "old", domain.KindPlaybackPause, base)
	swap(t, s, "new", domain.KindPlaybackStart, base.Add(48*time.Hour))

	n, err := s.PruneSessionStates(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}

	states, err := s.ListSessionStates(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(states) != 1 || states[0].SessionKey != "new" {
		t.Fatalf("expected only the fresh session to remain, got %+v", states)
	}
}

func testConcurrentSwaps(t *testing.T, s Store) {
	const workers = 16

	var admitted atomic.Int32
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			var changed bool
			err := s.WithinTx(context.Background(), func(tx Tx) error {
				var err error
				changed, err = tx.SwapSessionState(context.Background(), "dup", domain.KindPlaybackPause, time.Now())
				return err
			})
			if err != nil {
				return err
			}
			if changed {
				admitted.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent swaps: %v", err)
	}

	if got := admitted.Load(); got != 1 {
		t.Fatalf("expected exactly one changed swap, got %d", got)
	}
}
