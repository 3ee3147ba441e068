// Package oauth owns platform credentials and turns them into valid bearer
// tokens. The Store holds client credentials and the current access token per
// platform; the Manager is the only writer and guarantees that at most one
// token exchange per platform is in flight. Tokens live in memory only.
package oauth

import (
	"sort"
	"sync"
	"time"

	"github.com/onnwee/livetally/stream"
)

// Credential is the client id/secret of one platform plus its current access token.
// A zero ExpiresAt with a non-empty AccessToken means the token does not expire
// (YouTube API keys).
type Credential struct {
	Platform     stream.Platform
	ClientID     string
	ClientSecret string
	AccessToken  string
	ExpiresAt    time.Time
}

// Valid reports whether the access token can still be used for longer than margin.
func (c Credential) Valid(now time.Time, margin time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return c.ExpiresAt.Sub(now) > margin
}

// Store is a concurrency-safe map of platform credentials.
type Store struct {
	mu    sync.RWMutex
	creds map[stream.Platform]Credential
}

// NewStore returns a Store seeded with the given credentials.
func NewStore(creds ...Credential) *Store {
	s := &Store{creds: make(map[stream.Platform]Credential, len(creds))}
	for _, c := range creds {
		s.creds[c.Platform] = c
	}
	return s
}

// Get returns the credential for p.
func (s *Store) Get(p stream.Platform) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[p]
	return c, ok
}

// Set replaces the credential for c.Platform.
func (s *Store) Set(c Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.Platform] = c
}

// Update applies fn to the credential for p under the write lock.
// It returns false when p has no credential.
func (s *Store) Update(p stream.Platform, fn func(c *Credential)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[p]
	if !ok {
		return false
	}
	fn(&c)
	s.creds[p] = c
	return true
}

// Platforms lists the platforms with stored credentials, sorted.
func (s *Store) Platforms() []stream.Platform {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]stream.Platform, 0, len(s.creds))
	for p := range s.creds {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
