package collector

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/stream"
	"github.com/onnwee/livetally/telemetry"
)

// BreakerSettings tune the per-platform circuit breaker around listing fetches.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker. Only transient and rate-limit
	// failures count; auth and permanent errors say nothing about availability.
	ConsecutiveFailures uint32
	// OpenFor is how long the breaker rejects calls before probing again.
	OpenFor time.Duration
}

// DefaultBreakerSettings trips after 5 consecutive failures and stays open for a minute.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenFor: time.Minute}
}

func newBreaker(p stream.Platform, s BreakerSettings) *gobreaker.CircuitBreaker[platform.Page] {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	if s.OpenFor <= 0 {
		s.OpenFor = DefaultBreakerSettings().OpenFor
	}
	name := string(p)
	telemetry.UpdateCircuitGauge(name, false)
	return gobreaker.NewCircuitBreaker[platform.Page](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch platform.Classify(err) {
			case platform.ClassTransient, platform.ClassRateLimit:
				return false
			default:
				return true
			}
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				slog.String("component", "collector"),
				slog.String("platform", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			telemetry.UpdateCircuitGauge(name, to == gobreaker.StateOpen)
		},
	})
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
