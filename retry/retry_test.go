package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/livetally/platform"
)

// recorder replaces real sleeping and remembers every requested delay.
type recorder struct{ delays []time.Duration }

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func noJitter(rec *recorder) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, Jitter: 0, MaxDelay: time.Minute, Sleep: rec.sleep}
}

func TestRateLimitHonorsRetryAfterAndBoundsAttempts(t *testing.T) {
	rec := &recorder{}
	calls := 0
	err := noJitter(rec).Do(context.Background(), func(context.Context) error {
		calls++
		return &platform.RateLimitError{Platform: "twitch", RetryAfter: 5 * time.Second, Err: errors.New("429")}
	})
	if err == nil {
		t.Fatal("expected the last rate limit error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(rec.delays) != 2 {
		t.Fatalf("waits = %d, want 2", len(rec.delays))
	}
	for i, d := range rec.delays {
		if d < 5*time.Second {
			t.Errorf("wait %d = %v, want >= 5s", i, d)
		}
	}
}

func TestRateLimitUsesBackoffWhenLonger(t *testing.T) {
	rec := &recorder{}
	p := noJitter(rec)
	p.BaseDelay = 10 * time.Second
	_ = p.Do(context.Background(), func(context.Context) error {
		return &platform.RateLimitError{Platform: "kick", RetryAfter: time.Second, Err: errors.New("429")}
	})
	if len(rec.delays) == 0 || rec.delays[0] != 10*time.Second {
		t.Errorf("first wait = %v, want 10s backoff", rec.delays)
	}
}

func TestTransientBacksOffExponentially(t *testing.T) {
	rec := &recorder{}
	calls := 0
	err := noJitter(rec).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &platform.TransientError{Platform: "twitch", Err: errors.New("503")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want success on third attempt", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", rec.delays, want)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, rec.delays[i], want[i])
		}
	}
}

func TestJitterStaysInBounds(t *testing.T) {
	rec := &recorder{}
	p := Policy{MaxAttempts: 2, BaseDelay: time.Second, Multiplier: 2, Jitter: 0.2, MaxDelay: time.Minute, Sleep: rec.sleep}
	for i := 0; i < 20; i++ {
		_ = p.Do(context.Background(), func(context.Context) error { return errors.New("boom") })
	}
	for _, d := range rec.delays {
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Errorf("jittered delay %v outside [0.8s, 1.2s]", d)
		}
	}
}

func TestNonRetryableErrorsReturnImmediately(t *testing.T) {
	for name, failure := range map[string]error{
		"auth":      &platform.AuthError{Platform: "twitch", Err: errors.New("401")},
		"permanent": &platform.PermanentError{Platform: "twitch", StatusCode: 400, Err: errors.New("bad request")},
	} {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			calls := 0
			err := noJitter(rec).Do(context.Background(), func(context.Context) error {
				calls++
				return failure
			})
			if !errors.Is(err, failure) {
				t.Errorf("Do() = %v, want %v", err, failure)
			}
			if calls != 1 || len(rec.delays) != 0 {
				t.Errorf("calls=%d waits=%d, want 1 call and no waits", calls, len(rec.delays))
			}
		})
	}
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return &platform.TransientError{Platform: "kick", Err: errors.New("timeout")}
	})
	if err == nil || calls != 1 {
		t.Errorf("err=%v calls=%d, want error after a single call", err, calls)
	}
}

func TestValueReturnsResult(t *testing.T) {
	rec := &recorder{}
	calls := 0
	got, err := Value(context.Background(), noJitter(rec), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Errorf("Value() = %q, %v", got, err)
	}
}
