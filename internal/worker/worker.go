// SPDX-License-Identifier: Apache-2.0

// Package worker periodically prunes playback session states that stopped
// receiving events without a playback.stop, so abandoned sessions do not
// accumulate forever.
package worker

import (
	"context"
	"log/slog"
	"time"
)

type SessionPruner interface {
	PruneSessions(ctx context.Context, before time.Time) (int64, error)
}

type Deps struct {
	Pruner SessionPruner
	Logger *slog.Logger
	// IdleAfter is how long a session may go without an event before its
	// state row is dropped.
	IdleAfter time.Duration
	// Interval between prune passes.
	Interval time.Duration
}

type Worker struct {
	pruner    SessionPruner
	logger    *slog.Logger
	idleAfter time.Duration
	interval  time.Duration
	now       func() time.Time
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	idle := deps.IdleAfter
	if idle <= 0 {
		idle = 24 * time.Hour
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	return &Worker{
		pruner:    deps.Pruner,
		logger:    l,
		idleAfter: idle,
		interval:  interval,
		now:       time.Now,
	}
}

// ProcessOnce runs a single prune pass and returns the number of dropped
// session states.
func (w *Worker) ProcessOnce(ctx context.Context) (int64, error) {
	before := w.now().Add(-w.idleAfter)

	n, err := w.pruner.PruneSessions(ctx, before)
	if err != nil {
		w.logger.Error("prune sessions failed", "before", before, "error", err)
		return 0, err
	}

	if n > 0 {
		w.logger.Info("idle sessions pruned", "count", n, "before", before)
	} else {
		w.logger.Debug("no idle sessions", "before", before)
	}
	return n, nil
}

// Run prunes once immediately and then every interval until ctx is done.
// Failed passes are logged and retried on the next tick.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("session prune worker started",
		"interval", w.interval,
		"idle_after", w.idleAfter,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		_, _ = w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("session prune worker stopped")
			return
		case <-ticker.C:
		}
	}
}
