package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/skiff/internal/build"
	"github.com/conneroisu/skiff/internal/shutdown"
)

const debounce = 40 * time.Millisecond

type fakeSource struct {
	events chan ChangeEvent
	errs   chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan ChangeEvent, 64), errs: make(chan error, 4)}
}

func (s *fakeSource) Events() <-chan ChangeEvent { return s.events }
func (s *fakeSource) Errors() <-chan error       { return s.errs }
func (s *fakeSource) Close() error               { return nil }

func (s *fakeSource) send(paths ...string) {
	for _, p := range paths {
		s.events <- ChangeEvent{Type: EventTypeModified, Path: p}
	}
}

type fakeBuilder struct {
	mu      sync.Mutex
	calls   int
	written []string
	fail    map[int]error
	during  func(call int)
}

func (b *fakeBuilder) Build(context.Context) (*build.Result, error) {
	b.mu.Lock()
	b.calls++
	call := b.calls
	during := b.during
	err := b.fail[call]
	b.mu.Unlock()

	if during != nil {
		during(call)
	}

	res := &build.Result{CycleID: uuid.New(), Written: b.written}
	if err != nil {
		return res, err
	}
	res.Phases = []build.Phase{build.PhaseDone}

	return res, nil
}

func (b *fakeBuilder) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls
}

type fakeReporter struct {
	mu       sync.Mutex
	complete int
	failed   []error
}

func (r *fakeReporter) BuildComplete(*build.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete++
}

func (r *fakeReporter) BuildFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *fakeReporter) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.complete, len(r.failed)
}

// start runs the coordinator and returns a function that stops it and
// returns Run's error.
func start(t *testing.T, c *Coordinator) (*shutdown.Signal, func() error) {
	t.Helper()
	sig := shutdown.New()
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), sig) }()

	return sig, func() error {
		sig.Trigger()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("coordinator did not stop")
			return nil
		}
	}
}

func TestCoalescesBurstIntoOneBuild(t *testing.T) {
	src := newFakeSource()
	b := &fakeBuilder{}
	c := NewCoordinator(b, src, WithDebounce(debounce), WithInitialBuild(false))
	_, stop := start(t, c)

	src.send("/src/app.css", "/src/app.css", "/src/app.css")

	require.Eventually(t, func() bool { return b.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(4 * debounce)
	assert.Equal(t, 1, b.Calls())

	stats := c.Stats()
	assert.Equal(t, 3, stats.Accepted)
	assert.Equal(t, 2, stats.Coalesced)
	assert.Equal(t, 1, stats.Builds)
	require.NoError(t, stop())
	assert.Equal(t, StateShuttingDown, c.State())
}

func TestSeparateBurstsBuildSeparately(t *testing.T) {
	src := newFakeSource()
	b := &fakeBuilder{}
	c := NewCoordinator(b, src, WithDebounce(debounce), WithInitialBuild(false))
	_, stop := start(t, c)
	defer stop()

	src.send("/src/a")
	require.Eventually(t, func() bool { return b.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)

	src.send("/src/b")
	require.Eventually(t, func() bool { return b.Calls() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestIgnoresOwnOutput(t *testing.T) {
	root := t.TempDir()
	dist := filepath.Join(root, "dist")
	stage := filepath.Join(root, ".dist-stage")

	src := newFakeSource()
	b := &fakeBuilder{written: []string{dist, stage}}
	c := NewCoordinator(b, src, WithDebounce(debounce), WithIgnored(filepath.Join(root, "vendor")))
	_, stop := start(t, c)
	defer stop()

	require.Eventually(t, func() bool { return b.Calls() == 1 }, 2*time.Second, 5*time.Millisecond, "initial build")

	src.send(
		filepath.Join(dist, "index.html"),
		filepath.Join(stage, "app.js"),
		dist,
		filepath.Join(root, "vendor", "lib.js"),
	)
	require.Eventually(t, func() bool { return c.Stats().Ignored == 4 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(4 * debounce)
	assert.Equal(t, 1, b.Calls())

	src.send(filepath.Join(root, "distinct.txt"))
	require.Eventually(t, func() bool { return b.Calls() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestIgnoreListFromPipelines(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "crate", "target")
	list := &IgnoreList{}

	src := newFakeSource()
	b := &fakeBuilder{during: func(int) { list.Ignore(target) }}
	c := NewCoordinator(b, src, WithDebounce(debounce), WithIgnoreList(list))
	_, stop := start(t, c)
	defer stop()

	require.Eventually(t, func() bool { return b.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	src.send(filepath.Join(target, "wasm32-unknown-unknown", "debug", "app.wasm"))
	require.Eventually(t, func() bool { return c.Stats().Ignored == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, b.Calls())
}

func TestBuildFailureKeepsLooping(t *testing.T) {
	src := newFakeSource()
	rep := &fakeReporter{}
	b := &fakeBuilder{fail: map[int]error{1: errors.New("sass exploded")}}
	c := NewCoordinator(b, src, WithDebounce(debounce), WithReporter(rep))
	_, stop := start(t, c)
	defer stop()

	require.Eventually(t, func() bool { _, f := rep.counts(); return f == 1 }, 2*time.Second, 5*time.Millisecond)

	src.send("/src/fixed.scss")
	require.Eventually(t, func() bool { ok, _ := rep.counts(); return ok == 1 }, 2*time.Second, 5*time.Millisecond)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Builds)
	assert.Equal(t, 1, stats.Failures)
}

func TestShutdownWaitsForBuildInFlight(t *testing.T) {
	src := newFakeSource()
	started := make(chan struct{})
	release := make(chan struct{})
	var finished bool
	var mu sync.Mutex

	b := &fakeBuilder{during: func(int) {
		close(started)
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
	}}
	c := NewCoordinator(b, src, WithDebounce(debounce), WithInitialBuild(false))
	sig, stop := start(t, c)

	src.send("/src/a")
	<-started
	assert.Equal(t, StateBuilding, c.State())
	sig.Trigger()

	time.AfterFunc(50*time.Millisecond, func() { close(release) })
	require.NoError(t, stop())

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished, "build in flight must complete before Run returns")
}

func TestNoBuildAfterShutdownDuringBuild(t *testing.T) {
	src := newFakeSource()
	sigs := make(chan *shutdown.Signal, 1)
	b := &fakeBuilder{during: func(call int) {
		if call == 1 {
			(<-sigs).Trigger()
			src.send("/src/b", "/src/c", "/src/d")
		}
	}}
	c := NewCoordinator(b, src, WithDebounce(time.Millisecond), WithInitialBuild(false))
	sig, stop := start(t, c)
	sigs <- sig

	src.send("/src/a")
	require.Eventually(t, func() bool { return c.State() == StateShuttingDown }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, stop())
	assert.Equal(t, 1, b.Calls())
}

func TestShutdownWhileIdle(t *testing.T) {
	c := NewCoordinator(&fakeBuilder{}, newFakeSource(), WithInitialBuild(false))
	_, stop := start(t, c)

	begin := time.Now()
	require.NoError(t, stop())
	assert.Less(t, time.Since(begin), time.Second)
}

func TestWatchErrorsDoNotStopLoop(t *testing.T) {
	src := newFakeSource()
	b := &fakeBuilder{}
	c := NewCoordinator(b, src, WithDebounce(debounce), WithInitialBuild(false))
	_, stop := start(t, c)
	defer stop()

	src.errs <- errors.New("watched path vanished")
	src.send("/src/a")
	require.Eventually(t, func() bool { return b.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSourceClosedEndsRun(t *testing.T) {
	src := newFakeSource()
	c := NewCoordinator(&fakeBuilder{}, src, WithInitialBuild(false))
	close(src.events)

	err := c.Run(context.Background(), shutdown.New())
	assert.NoError(t, err)
}

func TestContextCancelEndsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewCoordinator(&fakeBuilder{}, newFakeSource(), WithInitialBuild(false))

	err := c.Run(ctx, shutdown.New())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "debouncing", StateDebouncing.String())
	assert.Equal(t, "building", StateBuilding.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "unknown", State(9).String())
}
