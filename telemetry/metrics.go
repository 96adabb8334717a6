// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	LiveAdmitted      prometheus.Counter
	BackfillAdmitted  prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	BufferOverflows   prometheus.Counter
	KnownGaps         prometheus.Counter
	FetchRetries      prometheus.Counter
	WorkerFailures    prometheus.Counter

	// Histograms (seconds)
	BackfillDuration prometheus.Observer

	// Gauges
	ActiveWorkersGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		LiveAdmitted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_live_admitted_total", Help: "Live messages admitted to the log"})
		BackfillAdmitted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_backfill_admitted_total", Help: "Backfilled messages admitted to the log"})
		DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_duplicates_skipped_total", Help: "Messages skipped because their identity was already persisted"})
		BufferOverflows = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_buffer_overflows_total", Help: "Live buffer overflows forcing an early live transition"})
		KnownGaps = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_known_gaps_total", Help: "History gaps reported (depth limit or exhausted retries)"})
		FetchRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_fetch_retries_total", Help: "Backfill fetch retries after transient failures"})
		WorkerFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_worker_failures_total", Help: "Ingestion workers that exited with an error"})
		BackfillDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_backfill_duration_seconds", Help: "Backfill phase duration seconds", Buckets: prometheus.DefBuckets})
		ActiveWorkersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_active_workers", Help: "Currently running per-chat ingestion workers"})
	})
}

// WorkerStarted bumps the active worker gauge.
func WorkerStarted() {
	if ActiveWorkersGauge != nil {
		ActiveWorkersGauge.Inc()
	}
}

// WorkerStopped decrements the active worker gauge.
func WorkerStopped() {
	if ActiveWorkersGauge != nil {
		ActiveWorkersGauge.Dec()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
