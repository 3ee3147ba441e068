// Package telemetry provides Prometheus metrics, tracing and correlation-id aware logging helpers.
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
	CyclesTotal    *prometheus.CounterVec // platform, outcome
	RecordsTotal   *prometheus.CounterVec // platform, result (fetched|saved|normalize_error|persist_error)
	PagesTotal     *prometheus.CounterVec // platform
	TokenRefreshes *prometheus.CounterVec // platform, result
	RetriesTotal   *prometheus.CounterVec // platform, class
	SkippedTicks   *prometheus.CounterVec // platform

	// Histograms (seconds)
	CycleDuration *prometheus.HistogramVec // platform

	// Gauges
	CollectingGauge  *prometheus.GaugeVec // platform, 1 while a cycle runs
	CircuitOpenGauge *prometheus.GaugeVec // platform, 1=open 0=closed
	LastSuccessGauge *prometheus.GaugeVec // platform, unix seconds of the last successful cycle
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livetally_collection_cycles_total", Help: "Collection cycles by outcome"}, []string{"platform", "outcome"})
		RecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livetally_records_total", Help: "Live listings processed by result"}, []string{"platform", "result"})
		PagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livetally_pages_fetched_total", Help: "Listing pages fetched"}, []string{"platform"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livetally_token_refreshes_total", Help: "Client-credentials token exchanges"}, []string{"platform", "result"})
		RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livetally_retries_total", Help: "Retried platform calls by failure class"}, []string{"platform", "class"})
		SkippedTicks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livetally_skipped_ticks_total", Help: "Ticks skipped because a cycle was still collecting"}, []string{"platform"})
		CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "livetally_cycle_duration_seconds", Help: "Collection cycle duration seconds", Buckets: prometheus.DefBuckets}, []string{"platform"})
		CollectingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "livetally_collecting", Help: "1 while a collection cycle is running"}, []string{"platform"})
		CircuitOpenGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "livetally_circuit_open", Help: "Circuit breaker open=1 closed=0"}, []string{"platform"})
		LastSuccessGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "livetally_last_success_timestamp_seconds", Help: "Unix time of the last successful cycle"}, []string{"platform"})
	})
}

// The helpers below are no-ops until Init has run, so packages can record
// metrics unconditionally (tests never call Init).

// RecordCycle counts a finished cycle and its record tallies.
func RecordCycle(platform, outcome string, d time.Duration, fetched, saved, normErrs, persistErrs int) {
	if CyclesTotal == nil {
		return
	}
	CyclesTotal.WithLabelValues(platform, outcome).Inc()
	CycleDuration.WithLabelValues(platform).Observe(d.Seconds())
	RecordsTotal.WithLabelValues(platform, "fetched").Add(float64(fetched))
	RecordsTotal.WithLabelValues(platform, "saved").Add(float64(saved))
	RecordsTotal.WithLabelValues(platform, "normalize_error").Add(float64(normErrs))
	RecordsTotal.WithLabelValues(platform, "persist_error").Add(float64(persistErrs))
	if outcome == "succeeded" {
		LastSuccessGauge.WithLabelValues(platform).SetToCurrentTime()
	}
}

// RecordPage counts one fetched listing page.
func RecordPage(platform string) {
	if PagesTotal != nil {
		PagesTotal.WithLabelValues(platform).Inc()
	}
}

// RecordTokenRefresh counts a token exchange attempt.
func RecordTokenRefresh(platform string, err error) {
	if TokenRefreshes == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	TokenRefreshes.WithLabelValues(platform, result).Inc()
}

// RecordRetry counts a retried call.
func RecordRetry(platform, class string) {
	if RetriesTotal != nil {
		RetriesTotal.WithLabelValues(platform, class).Inc()
	}
}

// RecordSkippedTick counts a tick dropped because the platform was busy.
func RecordSkippedTick(platform string) {
	if SkippedTicks != nil {
		SkippedTicks.WithLabelValues(platform).Inc()
	}
}

// SetCollecting flips the per-platform collecting gauge.
func SetCollecting(platform string, on bool) {
	if CollectingGauge != nil {
		CollectingGauge.WithLabelValues(platform).Set(boolFloat(on))
	}
}

// UpdateCircuitGauge sets gauge to 1 if open else 0.
func UpdateCircuitGauge(platform string, open bool) {
	if CircuitOpenGauge != nil {
		CircuitOpenGauge.WithLabelValues(platform).Set(boolFloat(open))
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
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
