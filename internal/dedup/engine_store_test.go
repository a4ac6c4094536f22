// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
	"github.com/Fan4Metal/emby-webhooks-app/internal/repository"
	"golang.org/x/sync/errgroup"
)

func openStore(t *testing.T, driver string) repository.Store {
	t.Helper()

	store, err := repository.Open(context.Background(), repository.Options{
		Driver:      driver,
		SQLitePath:  ":memory:",
		AutoMigrate: true,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open %s store: %v", driver, err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestConcurrentDuplicatesAdmitOnce(t *testing.T) {
	for _, driver := range []string{repository.DriverSQLite, repository.DriverBadger} {
		t.Run(driver, func(t *testing.T) {
			store := openStore(t, driver)
			e := testEngine()
			ev := playback("abc", domain.KindPlaybackPause)

			const deliveries = 20
			var admitted atomic.Int32
			var g errgroup.Group
			for i := 0; i < deliveries; i++ {
				g.Go(func() error {
					var decision domain.Decision
					err := store.WithinTx(context.Background(), func(tx repository.Tx) error {
						var err error
						decision, err = e.Decide(context.Background(), tx, ev)
						if err != nil {
							return err
						}
						return e.Settle(context.Background(), tx, ev, decision)
					})
					if err != nil {
						return err
					}
					if decision.Admitted() {
						admitted.Add(1)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("deliveries: %v", err)
			}

			if got := admitted.Load(); got != 1 {
				t.Fatalf("expected exactly one admit, got %d", got)
			}

			states, err := store.ListSessionStates(context.Background())
			if err != nil {
				t.Fatalf("list sessions: %v", err)
			}
			if len(states) != 1 || states[0].LastEvent != domain.KindPlaybackPause {
				t.Fatalf("unexpected session state: %+v", states)
			}
		})
	}
}

func TestStopClearsStoredSession(t *testing.T) {
	for _, driver := range []string{repository.DriverSQLite, repository.DriverBadger} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, driver)
			e := testEngine()

			run := func(ev domain.CanonicalEvent) domain.Decision {
				var decision domain.Decision
				err := store.WithinTx(ctx, func(tx repository.Tx) error {
					var err error
					if decision, err = e.Decide(ctx, tx, ev); err != nil {
						return err
					}
					return e.Settle(ctx, tx, ev, decision)
				})
				if err != nil {
					t.Fatalf("process %s: %v", ev.Kind, err)
				}
				return decision
			}

			run(playback("k", domain.KindPlaybackStart))
			run(playback("k", domain.KindPlaybackStop))

			states, err := store.ListSessionStates(ctx)
			if err != nil {
				t.Fatalf("list sessions: %v", err)
			}
			if len(states) != 0 {
				t.Fatalf("expected stop to remove session, got %+v", states)
			}

			if got := run(playback("k", domain.KindPlaybackStart)); got != domain.DecisionAdmit {
				t.Fatalf("expected restart to be admitted, got %s", got)
			}
		})
	}
}
