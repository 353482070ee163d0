package watcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/skiff/internal/build"
	"github.com/conneroisu/skiff/internal/logging"
	"github.com/conneroisu/skiff/internal/metrics"
	"github.com/conneroisu/skiff/internal/shutdown"
)

// State is a state of the watch loop.
type State int32

const (
	StateIdle State = iota
	StateDebouncing
	StateBuilding
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateBuilding:
		return "building"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Builder runs one build cycle.
type Builder interface {
	Build(ctx context.Context) (*build.Result, error)
}

// Reporter is told about the outcome of every cycle.
type Reporter interface {
	BuildComplete(result *build.Result)
	BuildFailed(err error)
}

// Stats counts what the loop has done.
type Stats struct {
	Builds    int
	Failures  int
	Accepted  int
	Ignored   int
	Coalesced int
	LastBuild time.Time
}

// Coordinator owns the watch loop.
type Coordinator struct {
	builder  Builder
	source   Source
	reporter Reporter
	ignores  *IgnoreList
	static   []string
	debounce time.Duration
	initial  bool
	logger   logging.Logger
	metrics  metrics.Recorder

	state atomic.Int32

	mu    sync.Mutex
	stats Stats
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReporter sets the sink for build outcomes.
func WithReporter(r Reporter) Option {
	return func(c *Coordinator) { c.reporter = r }
}

// WithIgnoreList sets the list pipelines announce their writes on.
func WithIgnoreList(l *IgnoreList) Option {
	return func(c *Coordinator) { c.ignores = l }
}

// WithIgnored adds paths whose events never trigger a build.
func WithIgnored(paths ...string) Option {
	return func(c *Coordinator) { c.static = append(c.static, paths...) }
}

// WithDebounce sets how long the loop waits for a burst of events to end.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) { c.debounce = d }
}

// WithInitialBuild runs a build before waiting for the first event.
func WithInitialBuild(enabled bool) Option {
	return func(c *Coordinator) { c.initial = enabled }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a coordinator rebuilding with builder on events
// from source.
func NewCoordinator(builder Builder, source Source, opts ...Option) *Coordinator {
	c := &Coordinator{
		builder:  builder,
		source:   source,
		ignores:  &IgnoreList{},
		debounce: 250 * time.Millisecond,
		initial:  true,
		logger:   logging.NewNopLogger(),
		metrics:  metrics.NopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("watcher")

	return c
}

// State returns the current state of the loop.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Stats returns a snapshot of the loop counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// IgnoreList returns the list pipelines should announce their writes on.
func (c *Coordinator) IgnoreList() *IgnoreList { return c.ignores }

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Coordinator) count(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// Run drives the loop until sig is triggered, ctx is done or the source
// closes its event stream. A build in progress always runs to completion
// before Run returns; to interrupt it, cancel ctx.
func (c *Coordinator) Run(ctx context.Context, sig *shutdown.Signal) error {
	defer c.setState(StateShuttingDown)

	ignored := newIgnoreSet(c.static)
	if c.initial {
		ignored = c.build(ctx, ignored, nil)
		if sig.Triggered() {
			return nil
		}
	}
	c.setState(StateIdle)

	pending := make(map[string]struct{})
	// Reset discards a pending expiry (go1.23 timer semantics).
	timer := time.NewTimer(c.debounce)
	timer.Stop()
	defer timer.Stop()
	var deadline <-chan time.Time

	events := c.source.Events()
	errs := c.source.Errors()

	for {
		select {
		case <-sig.Done():
			c.logger.Debug(ctx, "Shutdown requested", "pending", len(pending))
			return nil

		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				c.logger.Debug(ctx, "Event source closed")
				return nil
			}
			ignored = newIgnoreSet(ignored, c.ignores.Drain())
			if ignored.matches(ev.Path) {
				c.metrics.IncWatchEvents(false)
				c.count(func(s *Stats) { s.Ignored++ })
				continue
			}

			c.metrics.IncWatchEvents(true)
			c.count(func(s *Stats) {
				s.Accepted++
				if len(pending) > 0 {
					s.Coalesced++
				}
			})
			pending[ev.Path] = struct{}{}

			timer.Reset(c.debounce)
			deadline = timer.C
			c.setState(StateDebouncing)

		case err := <-errs:
			if err != nil {
				c.logger.Warn(ctx, err, "Watch error; continuing with remaining paths")
			}

		case <-deadline:
			deadline = nil
			if sig.Triggered() {
				return nil
			}
			if len(pending) == 0 {
				c.setState(StateIdle)
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})

			ignored = c.build(ctx, ignored, paths)
			// events queued during the build must not start another one
			if sig.Triggered() {
				return nil
			}
			c.setState(StateIdle)
		}
	}
}

// build runs one cycle and returns the ignore set for the next events.
func (c *Coordinator) build(ctx context.Context, prev ignoreSet, paths []string) ignoreSet {
	c.setState(StateBuilding)
	if len(paths) > 0 {
		c.logger.Info(ctx, "Change detected, rebuilding", "paths", len(paths), "first", paths[0])
	}

	result, err := c.builder.Build(ctx)
	c.count(func(s *Stats) {
		s.Builds++
		s.LastBuild = time.Now()
		if err != nil {
			s.Failures++
		}
	})

	if err != nil {
		c.logger.Error(ctx, err, "Build failed")
		if c.reporter != nil {
			c.reporter.BuildFailed(err)
		}

		written := []string(nil)
		if result != nil {
			written = result.Written
		}

		return newIgnoreSet(prev, written, c.ignores.Drain())
	}

	c.logger.Info(ctx, "Build complete",
		"cycle", result.CycleID.String(),
		"artifacts", len(result.Artifacts),
		"duration", fmt.Sprint(result.Duration.Round(time.Millisecond)))
	if c.reporter != nil {
		c.reporter.BuildComplete(result)
	}

	return newIgnoreSet(c.static, result.Written, c.ignores.Drain())
}
