// Package retry wraps fallible platform calls with bounded exponential
// backoff. Failures are classified with platform.Classify: auth and permanent
// errors are returned immediately, rate limits wait at least as long as the
// platform asked, transient errors back off with jitter.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/onnwee/livetally/platform"
)

// Policy describes how a call is retried. The zero value is usable and
// behaves like Default().
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	// Jitter is the randomization factor applied to every delay (0.2 = ±20%).
	Jitter   float64
	MaxDelay time.Duration

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep replaces the context-aware wait; tests use it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default returns 3 attempts, 1s base delay, x2 multiplier, 20% jitter, 30s cap.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, Jitter: 0.2, MaxDelay: 30 * time.Second}
}

func (p Policy) withDefaults() Policy {
	d := Default()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = max(d.MaxDelay, p.BaseDelay)
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	return p
}

// Do runs op until it succeeds, fails with a non-retryable error, the
// attempts are used up, or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.withDefaults()
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
	}
	b.Reset()

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		class := platform.Classify(err)
		if class == platform.ClassAuth || class == platform.ClassPermanent {
			return err
		}
		if attempt >= p.MaxAttempts {
			return err
		}
		delay := max(b.NextBackOff(), 0)
		if class == platform.ClassRateLimit {
			delay = max(delay, platform.RetryAfter(err))
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if p.Sleep(ctx, delay) != nil {
			return err
		}
	}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
