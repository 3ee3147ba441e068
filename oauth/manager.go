package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/retry"
	"github.com/onnwee/livetally/stream"
	"github.com/onnwee/livetally/telemetry"
)

// DefaultMargin is how much lifetime a cached token must have left to be handed out.
const DefaultMargin = 60 * time.Second

// exchangeTimeout bounds one shared refresh, retries included. It is detached
// from the caller that started it, so joined callers are not cut short.
const exchangeTimeout = time.Minute

// TokenFetcher performs one token exchange for a platform.
type TokenFetcher interface {
	FetchToken(ctx context.Context, cred Credential) (*oauth2.Token, error)
}

// TokenFetcherFunc adapts a function to TokenFetcher.
type TokenFetcherFunc func(ctx context.Context, cred Credential) (*oauth2.Token, error)

func (f TokenFetcherFunc) FetchToken(ctx context.Context, cred Credential) (*oauth2.Token, error) {
	return f(ctx, cred)
}

// Manager hands out valid bearer tokens, refreshing them through the
// registered TokenFetcher when missing, near expiry, or rejected.
type Manager struct {
	store    *Store
	fetchers map[stream.Platform]TokenFetcher
	policy   retry.Policy
	margin   time.Duration
	now      func() time.Time
	group    singleflight.Group
}

// NewManager creates a Manager over store. Register fetchers before use.
func NewManager(store *Store, policy retry.Policy, margin time.Duration) *Manager {
	if margin <= 0 {
		margin = DefaultMargin
	}
	return &Manager{
		store:    store,
		fetchers: map[stream.Platform]TokenFetcher{},
		policy:   policy,
		margin:   margin,
		now:      time.Now,
	}
}

// Register sets the token fetcher for p. Not safe to call concurrently with Token.
func (m *Manager) Register(p stream.Platform, f TokenFetcher) {
	m.fetchers[p] = f
}

// Token returns a bearer token for p that is valid for longer than the margin.
// Exchange failures are *platform.AuthError; a done ctx returns ctx.Err().
func (m *Manager) Token(ctx context.Context, p stream.Platform) (string, error) {
	cred, ok := m.store.Get(p)
	if !ok {
		return "", &platform.AuthError{Platform: p, Err: errors.New("no credentials configured")}
	}
	if cred.Valid(m.now(), m.margin) {
		return cred.AccessToken, nil
	}
	return m.Refresh(ctx, p)
}

// Refresh exchanges credentials for a new token. Concurrent callers for the
// same platform share a single exchange and its result. The exchange does not
// stop when the caller that started it gives up; each caller stops waiting
// when its own ctx is done.
func (m *Manager) Refresh(ctx context.Context, p stream.Platform) (string, error) {
	ch := m.group.DoChan(string(p), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exchangeTimeout)
		defer cancel()
		return m.refresh(ctx, p)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			slog.Debug("joined in-flight token refresh", slog.String("platform", string(p)))
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) refresh(ctx context.Context, p stream.Platform) (string, error) {
	f, ok := m.fetchers[p]
	if !ok {
		return "", &platform.AuthError{Platform: p, Err: errors.New("no token fetcher registered")}
	}
	cred, ok := m.store.Get(p)
	if !ok {
		return "", &platform.AuthError{Platform: p, Err: errors.New("no credentials configured")}
	}
	tok, err := retry.Value(ctx, m.policy, func(ctx context.Context) (*oauth2.Token, error) {
		return f.FetchToken(ctx, cred)
	})
	telemetry.RecordTokenRefresh(string(p), err)
	if err != nil {
		slog.Warn("token refresh failed", slog.String("platform", string(p)), slog.Any("err", err))
		if platform.IsAuth(err) {
			return "", err
		}
		return "", &platform.AuthError{Platform: p, Err: fmt.Errorf("token refresh: %w", err)}
	}
	m.store.Update(p, func(c *Credential) {
		c.AccessToken = tok.AccessToken
		c.ExpiresAt = tok.Expiry
	})
	slog.Info("token refreshed", slog.String("platform", string(p)), slog.Time("expires_at", tok.Expiry))
	return tok.AccessToken, nil
}

// Invalidate forgets token if it is still the current one for p, so the next
// Token call performs an exchange. Stale tokens from earlier refreshes are ignored.
func (m *Manager) Invalidate(p stream.Platform, token string) {
	m.store.Update(p, func(c *Credential) {
		if c.AccessToken == token {
			c.AccessToken = ""
			c.ExpiresAt = time.Time{}
		}
	})
}
