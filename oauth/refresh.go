package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// StartRefresher launches a goroutine that periodically checks every stored
// token and refreshes the ones whose remaining lifetime is within window, so
// collection cycles rarely pay for a token exchange themselves.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func (m *Manager) StartRefresher(ctx context.Context, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	go func() {
		for {
			// ±20% jitter per iteration
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2+1) - jitterRange)
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval + jitter):
			}
			m.refreshExpiring(ctx, window)
		}
	}()
}

// refreshExpiring refreshes tokens that expire within window. Platforms that
// have never fetched a token, or whose token does not expire, are left to the
// collection path.
func (m *Manager) refreshExpiring(ctx context.Context, window time.Duration) {
	now := m.now()
	for _, p := range m.store.Platforms() {
		cred, _ := m.store.Get(p)
		if cred.AccessToken == "" || cred.ExpiresAt.IsZero() {
			continue
		}
		if cred.ExpiresAt.Sub(now) > window {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		_, err := m.Refresh(rctx, p)
		cancel()
		if err != nil {
			slog.Warn("background token refresh failed", slog.String("platform", string(p)), slog.Any("err", err))
		}
	}
}
