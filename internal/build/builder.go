// Package build runs build cycles: it dispatches the asset pipelines declared
// in the HTML manifest, applies their outputs to the document, runs hooks and
// publishes the result from a staging directory into dist in one step.
package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/skiff/internal/config"
	"github.com/conneroisu/skiff/internal/dom"
	skifferrors "github.com/conneroisu/skiff/internal/errors"
	"github.com/conneroisu/skiff/internal/hooks"
	"github.com/conneroisu/skiff/internal/logging"
	"github.com/conneroisu/skiff/internal/metrics"
	"github.com/conneroisu/skiff/internal/pipelines"
	"github.com/conneroisu/skiff/internal/progress"
	"github.com/conneroisu/skiff/internal/tools"
)

// Result describes one finished cycle.
type Result struct {
	CycleID uuid.UUID
	// Artifacts are the published files, slash-separated and relative to
	// dist, sorted.
	Artifacts []string
	// HTMLPath is the published HTML document.
	HTMLPath string
	Duration time.Duration
	Phases   []Phase
	// Written lists the directories the cycle wrote to. Watchers ignore
	// events below them.
	Written []string
}

// Phase returns the last phase the cycle entered.
func (r *Result) Phase() Phase {
	if len(r.Phases) == 0 {
		return PhaseInit
	}

	return r.Phases[len(r.Phases)-1]
}

// Builder runs build cycles for one configuration. Cycles are serialized;
// a Builder may be reused across cycles.
type Builder struct {
	cfg      *config.Config
	registry *pipelines.Registry
	hooks    *hooks.Runner
	tools    *tools.Cache
	progress progress.Sink
	ignorer  pipelines.Ignorer
	metrics  metrics.Recorder
	logger   logging.Logger

	mu sync.Mutex
}

// Option configures a Builder.
type Option func(*Builder)

// WithRegistry replaces the default pipeline registry.
func WithRegistry(r *pipelines.Registry) Option {
	return func(b *Builder) { b.registry = r }
}

// WithTools shares a tool cache between builders.
func WithTools(c *tools.Cache) Option {
	return func(b *Builder) { b.tools = c }
}

// WithProgress sets the sink pipelines report progress to.
func WithProgress(s progress.Sink) Option {
	return func(b *Builder) { b.progress = s }
}

// WithIgnorer sets where pipelines announce paths they write outside
// staging.
func WithIgnorer(i pipelines.Ignorer) Option {
	return func(b *Builder) { b.ignorer = i }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(b *Builder) { b.metrics = m }
}

func WithLogger(l logging.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// New creates a builder for a resolved configuration.
func New(cfg *config.Config, opts ...Option) *Builder {
	b := &Builder{
		cfg:      cfg,
		registry: pipelines.DefaultRegistry(),
		progress: progress.Nop(),
		metrics:  metrics.NopRecorder{},
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.tools == nil {
		b.tools = tools.NewCache(cfg.Tools)
	}
	b.logger = b.logger.WithComponent("build")
	b.hooks = hooks.NewRunner(cfg.Hooks,
		hooks.WithDir(cfg.ManifestDir()),
		hooks.WithLogger(b.logger),
		hooks.WithMetrics(b.metrics),
	)

	return b
}

// Config returns the configuration the builder was created with.
func (b *Builder) Config() *config.Config { return b.cfg }

// Written returns the directories every cycle of b writes to.
func (b *Builder) Written() []string {
	dist := b.cfg.Build.Dist
	return []string{dist, b.cfg.Build.StagingDir, dist + ".prev"}
}

// Build runs one cycle. On failure dist is left as it was and the returned
// Result ends in PhaseErrored.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &cycle{
		b:      b,
		result: &Result{CycleID: uuid.New(), Written: b.Written()},
	}
	c.logger = b.logger.With("cycle", c.result.CycleID.String())
	c.staging = newStaging(b.cfg.Build.StagingDir, b.cfg.Build.Dist, c.logger, b.cfg.ManifestDir(), b.cfg.BaseDir)

	op := logging.StartOperation(c.logger, "build")
	err := c.run(ctx)
	c.result.Duration = op.Elapsed()

	if err != nil {
		c.enter(ctx, PhaseErrored)
		c.staging.abort(ctx)
		b.metrics.ObserveCycle(cycleOutcome(ctx, err), c.result.Duration)
		op.EndWithError(ctx, err)

		return c.result, err
	}

	c.enter(ctx, PhaseDone)
	b.metrics.ObserveCycle(metrics.OutcomeSuccess, c.result.Duration)
	op.End(ctx, "artifacts", len(c.result.Artifacts))

	return c.result, nil
}

// cycle is the state of one Build call.
type cycle struct {
	b       *Builder
	result  *Result
	logger  logging.Logger
	staging *staging
}

func (c *cycle) enter(ctx context.Context, p Phase) {
	c.result.Phases = append(c.result.Phases, p)
	c.logger.Debug(ctx, "Entering phase", "phase", p.String())
}

func (c *cycle) run(ctx context.Context) error {
	cfg := c.b.cfg
	hookEnv := hooks.EnvFor(cfg)

	c.enter(ctx, PhaseInit)
	if err := c.staging.begin(ctx); err != nil {
		return err
	}
	if err := c.b.hooks.Run(ctx, hooks.PreBuild, hookEnv); err != nil {
		return err
	}
	doc, err := dom.ParseFile(cfg.Build.Target)
	if err != nil {
		return skifferrors.NewConstructionError(skifferrors.ErrCodeManifest, err.Error()).WithPath(cfg.Build.Target)
	}

	env := &pipelines.Env{
		Config:     cfg,
		StagingDir: cfg.Build.StagingDir,
		Tools:      c.b.tools,
		Progress:   c.b.progress,
		Ignorer:    c.b.ignorer,
		Logger:     c.logger,
		Metrics:    c.b.metrics,
	}

	c.enter(ctx, PhaseDispatching)
	pl, err := pipelines.Construct(env, c.b.registry, doc, cfg.ManifestDir())
	if err != nil {
		return err
	}

	c.enter(ctx, PhaseAwaitingPipelines)
	outputs, err := pipelines.Run(ctx, env, pl, cfg.Build.Jobs)
	if err != nil {
		return err
	}

	c.enter(ctx, PhaseApplyingOutputs)
	artifacts, err := apply(doc, outputs)
	if err != nil {
		return err
	}
	doc.StripIDs()

	c.enter(ctx, PhaseRunningHooks)
	if err := c.b.hooks.Run(ctx, hooks.Asset, hookEnv); err != nil {
		return err
	}

	c.enter(ctx, PhaseStaging)
	name, err := c.writeHTML(doc)
	if err != nil {
		return err
	}
	artifacts = append(artifacts, name)
	if err := c.b.hooks.Run(ctx, hooks.PostBuild, hookEnv); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	c.enter(ctx, PhasePublishing)
	if err := c.staging.publish(ctx); err != nil {
		return err
	}

	c.result.Artifacts = dedupe(artifacts)
	c.result.HTMLPath = filepath.Join(cfg.Build.Dist, name)

	return nil
}

// apply finalizes outputs in order and collects their artifacts.
func apply(doc *dom.Document, outputs []pipelines.Output) ([]string, error) {
	var artifacts []string
	for _, out := range outputs {
		if err := out.Finalize(doc); err != nil {
			var se *skifferrors.Error
			if errors.As(err, &se) {
				return nil, err
			}

			return nil, skifferrors.NewPipelineError(skifferrors.ErrCodeUnexpectedOutput,
				"failed to apply output", err).WithAsset(out.AssetID())
		}
		artifacts = append(artifacts, out.Artifacts()...)
	}

	return artifacts, nil
}

func (c *cycle) writeHTML(doc *dom.Document) (string, error) {
	name := filepath.Base(c.b.cfg.Build.Target)
	content, err := doc.Bytes()
	if err != nil {
		return "", skifferrors.NewStagingError(skifferrors.ErrCodeIO, "failed to render HTML", err)
	}
	dst := filepath.Join(c.staging.dir, name)
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		return "", skifferrors.NewStagingError(skifferrors.ErrCodeIO, "failed to write HTML", err).WithPath(dst)
	}

	return name, nil
}

func dedupe(paths []string) []string {
	sort.Strings(paths)
	out := paths[:0]
	for i, p := range paths {
		if i == 0 || p != paths[i-1] {
			out = append(out, p)
		}
	}

	return out
}

func cycleOutcome(ctx context.Context, err error) metrics.Outcome {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return metrics.OutcomeCanceled
	}

	return metrics.OutcomeFailed
}
