package server

import (
	"context"
	"sync"

	"github.com/onnwee/livetally/collector"
	"github.com/onnwee/livetally/livecache"
	"github.com/onnwee/livetally/stream"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Collector triggers immediate cycles. *collector.Scheduler implements it.
type Collector interface {
	RunNow(ctx context.Context, p stream.Platform) ([]collector.Summary, error)
	Platforms() []stream.Platform
}

// LiveReader reads the cached live view. *livecache.Cache implements it.
type LiveReader interface {
	Live(ctx context.Context, p stream.Platform) ([]livecache.Entry, error)
}

// Options holds the dependencies of the HTTP handlers. Live and Status are optional.
type Options struct {
	DB        Pinger
	Collector Collector
	Live      LiveReader
	Status    *StatusBoard
	Auth      AuthConfig
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db        Pinger
	collector Collector
	live      LiveReader
	status    *StatusBoard
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(opts Options) *Handlers {
	status := opts.Status
	if status == nil {
		status = NewStatusBoard()
	}
	return &Handlers{db: opts.DB, collector: opts.Collector, live: opts.Live, status: status}
}

// StatusBoard remembers the latest summary per platform. It is a
// collector.Reporter.
type StatusBoard struct {
	mu   sync.RWMutex
	last map[stream.Platform]collector.Summary
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{last: make(map[stream.Platform]collector.Summary)}
}

func (b *StatusBoard) Report(_ context.Context, s collector.Summary) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[s.Platform] = s
}

// Snapshot returns a copy of the latest summaries.
func (b *StatusBoard) Snapshot() map[stream.Platform]collector.Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[stream.Platform]collector.Summary, len(b.last))
	for p, s := range b.last {
		out[p] = s
	}
	return out
}
