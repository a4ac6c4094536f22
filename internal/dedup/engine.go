// SPDX-License-Identifier: Apache-2.0

// Package dedup decides whether a playback notification is a genuine state
// transition for its session or a retransmission to drop.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
)

// SessionTx is the slice of a storage transaction the engine needs.
type SessionTx interface {
	SwapSessionState(ctx context.Context, key string, kind domain.EventKind, at time.Time) (bool, error)
	DeleteSessionState(ctx context.Context, key string) error
}

type Engine struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		logger: logger,
		now:    time.Now,
	}
}

// Decide admits every event that is not a keyed playback transition. For
// keyed playback events the store performs one conditional upsert: a
// different (or first) kind is written and admitted, a repeat of the stored
// kind is suppressed without touching the row.
func (e *Engine) Decide(ctx context.Context, tx SessionTx, ev domain.CanonicalEvent) (domain.Decision, error) {
	if !ev.Tracked() {
		return domain.DecisionAdmit, nil
	}

	changed, err := tx.SwapSessionState(ctx, ev.SessionKey, ev.Kind, e.now().UTC())
	if err != nil {
		e.logger.Error("session state upsert failed",
			"session_key", ev.SessionKey,
			"kind", ev.Kind,
			"error", err,
		)
		return "", fmt.Errorf("dedup decide: %w", err)
	}

	if !changed {
		e.logger.Debug("duplicate suppressed", "session_key", ev.SessionKey, "kind", ev.Kind)
		return domain.DecisionSuppress, nil
	}
	return domain.DecisionAdmit, nil
}

// Settle runs after the admitted event is logged. An admitted stop ends the
// session, so its row is removed and a later start under the same key is
// admitted again.
func (e *Engine) Settle(ctx context.Context, tx SessionTx, ev domain.CanonicalEvent, decision domain.Decision) error {
	if !decision.Admitted() || !ev.HasSessionKey() || !ev.Kind.IsTerminal() {
		return nil
	}

	if err := tx.DeleteSessionState(ctx, ev.SessionKey); err != nil {
		e.logger.Error("session state cleanup failed", "session_key", ev.SessionKey, "error", err)
		return fmt.Errorf("dedup settle: %w", err)
	}

	e.logger.Debug("session closed", "session_key", ev.SessionKey)
	return nil
}
