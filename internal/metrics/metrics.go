// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for webhook_ingest_duration_seconds.
const (
	OutcomeAdmitted   = "admitted"
	OutcomeSuppressed = "suppressed"
	OutcomeFailed     = "failed"
)

var (
	initOnce sync.Once

	webhookEventsCounter   *prometheus.CounterVec
	ingestDurationMetric   *prometheus.HistogramVec
	storageErrorsCounter   *prometheus.CounterVec
	malformedPayloadsTotal prometheus.Counter
	logClearsCounter       prometheus.Counter
	breakerStateGauge      prometheus.Gauge
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		webhookEventsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Webhook notifications by event kind and dedup decision.",
			},
			[]string{"kind", "decision"},
		)

		ingestDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_ingest_duration_seconds",
				Help:    "Duration of normalize plus storage transaction per notification.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)

		storageErrorsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Storage failures by operation.",
			},
			[]string{"op"},
		)

		malformedPayloadsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webhook_malformed_payloads_total",
				Help: "Webhook bodies that could not be decoded and were treated as empty.",
			},
		)

		logClearsCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "activity_log_clears_total",
				Help: "Total number of activity log clears.",
			},
		)

		breakerStateGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "storage_breaker_state",
				Help: "Storage circuit breaker state: 0 closed, 1 half-open, 2 open.",
			},
		)

		prometheus.MustRegister(
			webhookEventsCounter,
			ingestDurationMetric,
			storageErrorsCounter,
			malformedPayloadsTotal,
			logClearsCounter,
			breakerStateGauge,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, kind := range []domain.EventKind{
			domain.KindPlaybackStart,
			domain.KindPlaybackPause,
			domain.KindPlaybackUnpause,
			domain.KindPlaybackStop,
			domain.KindSystemTest,
		} {
			for _, decision := range []domain.Decision{domain.DecisionAdmit, domain.DecisionSuppress} {
				webhookEventsCounter.WithLabelValues(kind.Label(), string(decision))
			}
		}
		webhookEventsCounter.WithLabelValues(domain.KindOther, string(domain.DecisionAdmit))
	})
}

func IncWebhookEvent(kind domain.EventKind, decision domain.Decision) {
	Init()
	webhookEventsCounter.WithLabelValues(kind.Label(), string(decision)).Inc()
}

func ObserveIngestDuration(outcome string, d time.Duration) {
	Init()
	ingestDurationMetric.WithLabelValues(outcome).Observe(d.Seconds())
}

func IncStorageError(op string) {
	Init()
	storageErrorsCounter.WithLabelValues(op).Inc()
}

func IncMalformedPayload() {
	Init()
	malformedPayloadsTotal.Inc()
}

func IncLogClears() {
	Init()
	logClearsCounter.Inc()
}

func SetBreakerState(state int) {
	Init()
	breakerStateGauge.Set(float64(state))
}
