// Package collector runs collection cycles: for one platform it obtains a
// token, pages through live listings, normalizes each one and persists it.
// The Scheduler drives one Collector per platform on its own interval.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/retry"
	"github.com/onnwee/livetally/stream"
	"github.com/onnwee/livetally/telemetry"
)

// Store persists one normalized record atomically.
type Store interface {
	Save(ctx context.Context, r stream.Record) error
}

// Tokens supplies bearer tokens. oauth.Manager implements it.
type Tokens interface {
	Token(ctx context.Context, p stream.Platform) (string, error)
	Invalidate(p stream.Platform, token string)
}

// Options configure a Collector. Zero values take defaults.
type Options struct {
	MaxPages int
	// RequestsPerSecond paces page fetches; zero or negative disables pacing.
	RequestsPerSecond float64
	Retry             retry.Policy
	Breaker           BreakerSettings
	// Now replaces time.Now (tests).
	Now func() time.Time
}

// Collector runs collection cycles for one platform. Collect is not
// reentrant; the Scheduler guarantees at most one cycle at a time.
type Collector struct {
	client   platform.Client
	tokens   Tokens
	store    Store
	maxPages int
	policy   retry.Policy
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[platform.Page]
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// New builds a Collector for client.
func New(client platform.Client, tokens Tokens, store Store, opts Options) *Collector {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	p := client.Name()
	policy := opts.Retry
	userHook := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		telemetry.RecordRetry(string(p), platform.Classify(err).String())
		slog.Debug("retrying platform call",
			slog.String("component", "collector"),
			slog.String("platform", string(p)),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("err", err))
		if userHook != nil {
			userHook(attempt, delay, err)
		}
	}
	return &Collector{
		client:   client,
		tokens:   tokens,
		store:    store,
		maxPages: opts.MaxPages,
		policy:   policy,
		limiter:  rate.NewLimiter(limit, 1),
		breaker:  newBreaker(p, opts.Breaker),
		now:      opts.Now,
	}
}

// Platform returns the platform this collector serves.
func (c *Collector) Platform() stream.Platform { return c.client.Name() }

// stamp returns the cycle's collection timestamp, never earlier than the
// previous cycle's.
func (c *Collector) stamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// Collect runs one cycle. It never panics on platform failures; the outcome
// and counts are reported in the Summary.
func (c *Collector) Collect(ctx context.Context) (sum Summary) {
	p := c.client.Name()
	start := c.now()
	sum = Summary{Platform: p, CycleID: uuid.New(), StartedAt: start.UTC()}
	defer func() { sum.Duration = c.now().Sub(start) }()

	ctx = telemetry.WithCorrelation(ctx, sum.CycleID.String())
	ctx, span := telemetry.StartSpan(ctx, "collector", "collect",
		telemetry.PlatformAttr(string(p)), telemetry.CycleAttr(sum.CycleID.String()))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "collector"), slog.String("platform", string(p)))

	collectedAt := c.stamp()
	token, err := c.tokens.Token(ctx, p)
	if err != nil {
		log.Error("no token, cycle aborted", slog.Any("err", err))
		telemetry.RecordError(span, err)
		sum.Outcome, sum.Error = OutcomeFailed, err.Error()
		return sum
	}

	cursor := ""
	for page := 0; page < c.maxPages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			sum.finish(page, fmt.Errorf("wait for page %d: %w", page+1, err), log)
			break
		}
		var pg platform.Page
		pg, token, err = c.fetch(ctx, token, cursor, log)
		if err != nil {
			sum.finish(page, err, log)
			break
		}
		sum.Pages++
		telemetry.RecordPage(string(p))
		c.process(ctx, pg.Listings, collectedAt, &sum, log)
		if pg.NextCursor == "" {
			break
		}
		cursor = pg.NextCursor
		if ctx.Err() != nil {
			break
		}
	}
	if sum.Outcome == "" {
		sum.Outcome = OutcomeSucceeded
	}
	if sum.Outcome == OutcomeFailed {
		telemetry.RecordError(span, errors.New(sum.Error))
	} else {
		telemetry.SetSpanSuccess(span)
	}
	return sum
}

// finish records the error that stopped pagination on page (0-based). The
// first page failing fails the cycle; later pages keep what was collected.
func (s *Summary) finish(page int, err error, log *slog.Logger) {
	s.Error = err.Error()
	switch {
	case breakerRejected(err) && page == 0:
		log.Warn("circuit open, cycle skipped", slog.Any("err", err))
		s.Outcome = OutcomeSkipped
	case page == 0:
		log.Error("first page failed, cycle aborted", slog.Any("err", err))
		s.Outcome = OutcomeFailed
	default:
		log.Warn("pagination stopped early, keeping partial results",
			slog.Int("pages", s.Pages), slog.Any("err", err))
	}
}

// fetch gets one page. A rejected token is invalidated and replaced once;
// the returned token is the one to use for the next page.
func (c *Collector) fetch(ctx context.Context, token, cursor string, log *slog.Logger) (platform.Page, string, error) {
	pg, err := c.fetchOnce(ctx, token, cursor)
	if err == nil || !platform.IsAuth(err) {
		return pg, token, err
	}
	p := c.client.Name()
	log.Warn("token rejected, refreshing once", slog.Any("err", err))
	c.tokens.Invalidate(p, token)
	fresh, terr := c.tokens.Token(ctx, p)
	if terr != nil {
		return platform.Page{}, token, terr
	}
	pg, err = c.fetchOnce(ctx, fresh, cursor)
	return pg, fresh, err
}

func (c *Collector) fetchOnce(ctx context.Context, token, cursor string) (platform.Page, error) {
	ctx, span := telemetry.StartSpan(ctx, "collector", "fetch_page", telemetry.PlatformAttr(string(c.client.Name())))
	defer span.End()
	pg, err := c.breaker.Execute(func() (platform.Page, error) {
		return retry.Value(ctx, c.policy, func(ctx context.Context) (platform.Page, error) {
			return c.client.FetchLiveStreams(ctx, token, cursor)
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return pg, err
}

// process normalizes and saves one page. Saves run on a context detached
// from cancellation so a page that was fetched is persisted completely.
func (c *Collector) process(ctx context.Context, listings []json.RawMessage, collectedAt time.Time, sum *Summary, log *slog.Logger) {
	saveCtx := context.WithoutCancel(ctx)
	for _, raw := range listings {
		sum.Fetched++
		rec, err := c.client.Normalize(raw)
		if err != nil {
			sum.NormalizeErrors++
			sum.Errored++
			log.Warn("dropping listing", slog.Any("err", err))
			continue
		}
		sum.Normalized++
		rec.Snapshot.CycleID = sum.CycleID
		rec.Snapshot.CollectedAt = collectedAt
		err = c.store.Save(saveCtx, rec)
		if errors.Is(err, platform.ErrDuplicateSnapshot) {
			sum.Duplicates++
			log.Debug("channel already recorded in this cycle", slog.String("channel_id", rec.Channel.ChannelID))
			continue
		}
		if err != nil {
			sum.PersistErrors++
			sum.Errored++
			log.Error("failed to persist record",
				slog.String("channel_id", rec.Channel.ChannelID),
				slog.Any("err", err))
			continue
		}
		sum.Saved++
		sum.Live = append(sum.Live, rec)
	}
}
