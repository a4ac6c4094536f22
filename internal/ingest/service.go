// SPDX-License-Identifier: Apache-2.0

// Package ingest runs one webhook notification through normalization, the
// dedup decision, the activity log append and stop cleanup, all inside a
// single storage transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/activitylog"
	"github.com/Fan4Metal/emby-webhooks-app/internal/dedup"
	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
	"github.com/Fan4Metal/emby-webhooks-app/internal/metrics"
	"github.com/Fan4Metal/emby-webhooks-app/internal/normalize"
	"github.com/Fan4Metal/emby-webhooks-app/internal/repository"
	"github.com/Fan4Metal/emby-webhooks-app/internal/telemetry"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TxRunner opens storage transactions.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(repository.Tx) error) error
}

type BreakerOptions struct {
	Enabled bool
	// MaxFailures consecutive storage failures open the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker fails fast before probing again.
	OpenTimeout time.Duration
}

type Options struct {
	Breaker BreakerOptions
	// Tracer defaults to the module tracer on the global provider.
	Tracer trace.Tracer
}

// Result describes what happened to one notification.
type Result struct {
	Event    domain.CanonicalEvent
	Decision domain.Decision
	// Entry is set when the event was admitted and logged.
	Entry *domain.LogEntry
}

func (r Result) Deduped() bool {
	return r.Decision == domain.DecisionSuppress
}

type Service struct {
	store      TxRunner
	normalizer *normalize.Normalizer
	engine     *dedup.Engine
	log        *activitylog.Log
	breaker    *gobreaker.CircuitBreaker[Result]
	tracer     trace.Tracer
	logger     *slog.Logger
}

func NewService(
	store TxRunner,
	normalizer *normalize.Normalizer,
	engine *dedup.Engine,
	log *activitylog.Log,
	opts Options,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}

	s := &Service{
		store:      store,
		normalizer: normalizer,
		engine:     engine,
		log:        log,
		tracer:     tracer,
		logger:     logger,
	}
	if opts.Breaker.Enabled {
		s.breaker = newBreaker(opts.Breaker, logger)
	}
	return s
}

func newBreaker(opts BreakerOptions, logger *slog.Logger) *gobreaker.CircuitBreaker[Result] {
	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	return gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        "storage",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A client hanging up is not a storage failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(int(to))
			logger.Warn("storage breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// Ingest processes one decoded payload. Normalization never fails; any
// storage failure, including a tripped breaker, is returned wrapping
// domain.ErrStorageUnavailable and leaves no partial writes.
func (s *Service) Ingest(ctx context.Context, raw map[string]any) (Result, error) {
	started := time.Now()

	ctx, span := s.tracer.Start(ctx, "ingest.webhook")
	defer span.End()

	ev := s.normalizer.Normalize(raw)
	span.SetAttributes(
		attribute.String("emby.event.kind", ev.Kind.Label()),
		attribute.Bool("emby.session.keyed", ev.HasSessionKey()),
	)

	res, err := s.execute(ctx, ev)
	if err != nil {
		metrics.IncStorageError("ingest")
		metrics.ObserveIngestDuration(metrics.OutcomeFailed, time.Since(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage unavailable")
		s.logger.Error("webhook ingest failed",
			"kind", ev.Kind,
			"session_key", ev.SessionKey,
			"error", err,
		)
		return Result{Event: ev}, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	span.SetAttributes(attribute.String("emby.dedup.decision", string(res.Decision)))
	metrics.IncWebhookEvent(ev.Kind, res.Decision)

	if res.Deduped() {
		metrics.ObserveIngestDuration(metrics.OutcomeSuppressed, time.Since(started))
		s.logger.Info("webhook suppressed", "kind", ev.Kind, "session_key", ev.SessionKey)
		return res, nil
	}

	metrics.ObserveIngestDuration(metrics.OutcomeAdmitted, time.Since(started))
	s.logger.Info("webhook admitted",
		"kind", ev.Kind,
		"session_key", ev.SessionKey,
		"entry_id", res.Entry.ID,
	)
	return res, nil
}

func (s *Service) execute(ctx context.Context, ev domain.CanonicalEvent) (Result, error) {
	if s.breaker == nil {
		return s.apply(ctx, ev)
	}
	return s.breaker.Execute(func() (Result, error) {
		return s.apply(ctx, ev)
	})
}

// apply is the transaction body. It may run more than once when the backend
// retries on conflict, so the result is rebuilt on every attempt.
func (s *Service) apply(ctx context.Context, ev domain.CanonicalEvent) (Result, error) {
	var res Result

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		res = Result{Event: ev}

		decision, err := s.engine.Decide(ctx, tx, ev)
		if err != nil {
			return err
		}
		res.Decision = decision
		if !decision.Admitted() {
			return nil
		}

		entry, err := s.log.Append(ctx, tx, ev)
		if err != nil {
			return err
		}
		res.Entry = &entry

		return s.engine.Settle(ctx, tx, ev, decision)
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// BreakerState reports the storage breaker state, "disabled" when off.
func (s *Service) BreakerState() string {
	if s.breaker == nil {
		return "disabled"
	}
	return s.breaker.State().String()
}
