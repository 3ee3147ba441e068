package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/livetally/stream"
	"github.com/onnwee/livetally/telemetry"
)

// ErrNotRunning is returned by RunNow before Run has started or after it returned.
var ErrNotRunning = errors.New("scheduler is not running")

// ErrUnknownPlatform is returned by RunNow for a platform with no collector.
var ErrUnknownPlatform = errors.New("platform not enabled")

// Task is one platform's collector and its interval.
type Task struct {
	Collector *Collector
	Interval  time.Duration
}

// Reporter receives every finished cycle summary.
type Reporter interface {
	Report(ctx context.Context, s Summary)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, s Summary)

func (f ReporterFunc) Report(ctx context.Context, s Summary) { f(ctx, s) }

type slot struct {
	task Task
	busy atomic.Bool
}

// Scheduler runs each platform's cycles on its own ticker, concurrently across
// platforms and at most one at a time per platform.
type Scheduler struct {
	slots     map[stream.Platform]*slot
	order     []stream.Platform
	reporters []Reporter

	mu      sync.Mutex
	ctx     context.Context // set while Run is active
	cycles  sync.WaitGroup
	results chan Summary
}

// NewScheduler creates a Scheduler for tasks. Reporters see every summary,
// including skipped ones.
func NewScheduler(tasks []Task, reporters ...Reporter) *Scheduler {
	s := &Scheduler{slots: make(map[stream.Platform]*slot, len(tasks)), reporters: reporters}
	for _, t := range tasks {
		p := t.Collector.Platform()
		if _, dup := s.slots[p]; dup {
			continue
		}
		s.slots[p] = &slot{task: t}
		s.order = append(s.order, p)
	}
	return s
}

// Platforms lists the scheduled platforms in registration order.
func (s *Scheduler) Platforms() []stream.Platform {
	return append([]stream.Platform(nil), s.order...)
}

// Run starts every platform's loop with an immediate first cycle and blocks
// until ctx is cancelled and all in-flight cycles have finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.ctx = ctx
	s.results = make(chan Summary, 16)
	results := s.results
	s.mu.Unlock()

	reported := make(chan struct{})
	go func() {
		defer close(reported)
		for sum := range results {
			s.report(ctx, sum)
		}
	}()

	var loops sync.WaitGroup
	for _, p := range s.order {
		sl := s.slots[p]
		loops.Add(1)
		go func() {
			defer loops.Done()
			s.loop(ctx, sl)
		}()
	}
	slog.Info("scheduler started", slog.String("component", "scheduler"), slog.Any("platforms", s.order))

	<-ctx.Done()
	loops.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.mu.Unlock()
	// No new cycles can start now; wait for in-flight ones, then drain.
	s.cycles.Wait()
	close(results)
	<-reported
	slog.Info("scheduler stopped", slog.String("component", "scheduler"))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, sl *slot) {
	p := sl.task.Collector.Platform()
	interval := sl.task.Interval
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	s.tick(sl)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tick(sl) {
				telemetry.RecordSkippedTick(string(p))
				slog.Info("tick skipped, previous cycle still collecting",
					slog.String("component", "scheduler"), slog.String("platform", string(p)))
			}
		}
	}
}

// tick starts a background cycle unless one is already running.
func (s *Scheduler) tick(sl *slot) bool {
	_, started := s.start(sl, nil)
	return started
}

// start claims the slot and launches a cycle. done, when non-nil, receives
// the summary in addition to the results channel.
func (s *Scheduler) start(sl *slot, done chan<- Summary) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.ctx.Err() != nil {
		return nil, false
	}
	if !sl.busy.CompareAndSwap(false, true) {
		return nil, false
	}
	ctx := s.ctx
	results := s.results
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		p := string(sl.task.Collector.Platform())
		telemetry.SetCollecting(p, true)
		sum := sl.task.Collector.Collect(ctx)
		telemetry.SetCollecting(p, false)
		sl.busy.Store(false)
		results <- sum
		if done != nil {
			done <- sum
		}
	}()
	return ctx, true
}

// RunNow triggers an immediate cycle for p, or for every platform when p is
// empty, and waits for the summaries. A platform that is already collecting
// reports OutcomeSkipped without fetching anything.
func (s *Scheduler) RunNow(ctx context.Context, p stream.Platform) ([]Summary, error) {
	s.mu.Lock()
	running := s.ctx != nil
	s.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}

	targets := s.order
	if p != "" {
		if _, ok := s.slots[p]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
		}
		targets = []stream.Platform{p}
	}

	out := make([]Summary, len(targets))
	var wg sync.WaitGroup
	for i, name := range targets {
		sl := s.slots[name]
		done := make(chan Summary, 1)
		if _, ok := s.start(sl, done); !ok {
			sum := skipped(name, "collection already in progress")
			out[i] = sum
			s.report(ctx, sum)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sum := <-done:
				out[i] = sum
			case <-ctx.Done():
				out[i] = Summary{Platform: name, Outcome: OutcomeFailed, Error: ctx.Err().Error()}
			}
		}()
	}
	wg.Wait()
	return out, nil
}

func (s *Scheduler) report(ctx context.Context, sum Summary) {
	for _, r := range s.reporters {
		r.Report(ctx, sum)
	}
}

// LogReporter logs each summary and records cycle metrics.
func LogReporter() Reporter {
	return ReporterFunc(func(_ context.Context, sum Summary) {
		p := string(sum.Platform)
		telemetry.RecordCycle(p, string(sum.Outcome), sum.Duration, sum.Fetched, sum.Saved, sum.NormalizeErrors, sum.PersistErrors)
		attrs := []any{
			slog.String("component", "scheduler"),
			slog.String("platform", p),
			slog.String("corr", sum.CycleID.String()),
			slog.String("outcome", string(sum.Outcome)),
			slog.Int("pages", sum.Pages),
			slog.Int("fetched", sum.Fetched),
			slog.Int("saved", sum.Saved),
			slog.Int("errored", sum.Errored),
			slog.Int("duplicates", sum.Duplicates),
			slog.Duration("duration", sum.Duration),
		}
		switch sum.Outcome {
		case OutcomeFailed:
			slog.Error("collection cycle failed", append(attrs, slog.String("err", sum.Error))...)
		case OutcomeSkipped:
			slog.Info("collection cycle skipped", append(attrs, slog.String("reason", sum.Error))...)
		default:
			slog.Info("collection cycle finished", attrs...)
		}
	})
}
