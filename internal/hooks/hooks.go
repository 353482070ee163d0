// Package hooks runs the user-declared external commands attached to the
// stages of a build cycle.
package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/skiff/internal/config"
	skifferrors "github.com/conneroisu/skiff/internal/errors"
	"github.com/conneroisu/skiff/internal/logging"
	"github.com/conneroisu/skiff/internal/metrics"
)

// Stage is a build phase hooks can attach to.
type Stage string

const (
	PreBuild  Stage = config.StagePreBuild
	Asset     Stage = config.StageAsset
	PostBuild Stage = config.StagePostBuild
)

// Stages lists every stage in the order a cycle runs them.
var Stages = []Stage{PreBuild, Asset, PostBuild}

func (s Stage) String() string { return string(s) }

// ParseStage parses a stage name as written in the configuration.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if string(st) == strings.ToLower(strings.TrimSpace(s)) {
			return st, nil
		}
	}

	return "", fmt.Errorf("unknown hook stage %q", s)
}

// Env carries the cycle values exposed to hook processes.
type Env struct {
	StagingDir string
	DistDir    string
	SourceDir  string
	HTMLFile   string
	PublicURL  string
	Profile    string
}

// EnvFor derives the hook environment of a resolved configuration.
func EnvFor(cfg *config.Config) Env {
	return Env{
		StagingDir: cfg.Build.StagingDir,
		DistDir:    cfg.Build.Dist,
		SourceDir:  cfg.ManifestDir(),
		HTMLFile:   cfg.Build.Target,
		PublicURL:  cfg.Build.PublicURL,
		Profile:    cfg.Profile(),
	}
}

// Environ returns the process environment extended with the SKIFF_* values.
func (e Env) Environ(stage Stage) []string {
	return append(os.Environ(),
		"SKIFF_STAGING_DIR="+e.StagingDir,
		"SKIFF_DIST_DIR="+e.DistDir,
		"SKIFF_SOURCE_DIR="+e.SourceDir,
		"SKIFF_HTML_FILE="+e.HTMLFile,
		"SKIFF_PUBLIC_URL="+e.PublicURL,
		"SKIFF_PROFILE="+e.Profile,
		"SKIFF_STAGE="+string(stage),
	)
}

// Runner spawns the hooks of a stage.
type Runner struct {
	hooks   []config.HookConfig
	dir     string
	logger  logging.Logger
	metrics metrics.Recorder
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger hook output is streamed to.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics sets the recorder hook durations are reported to.
func WithMetrics(m metrics.Recorder) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithDir sets the working directory of hook processes.
func WithDir(dir string) Option {
	return func(r *Runner) { r.dir = dir }
}

// NewRunner creates a runner for the declared hooks.
func NewRunner(hooks []config.HookConfig, opts ...Option) *Runner {
	r := &Runner{
		hooks:   hooks,
		logger:  logging.NewNopLogger(),
		metrics: metrics.NopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("hooks")

	return r
}

// For returns the hooks declared for stage, in declaration order.
func (r *Runner) For(stage Stage) []config.HookConfig {
	var out []config.HookConfig
	for _, h := range r.hooks {
		if Stage(h.Stage) == stage {
			out = append(out, h)
		}
	}

	return out
}

// Run spawns every hook of stage concurrently and waits for all of them.
// A failing hook does not cancel its siblings; the first failure is
// returned once every spawned process has exited.
func (r *Runner) Run(ctx context.Context, stage Stage, env Env) error {
	hooks := r.For(stage)
	if len(hooks) == 0 {
		return nil
	}

	start := time.Now()
	environ := env.Environ(stage)

	var g errgroup.Group
	for i, h := range hooks {
		g.Go(func() error {
			return r.runOne(ctx, stage, i, h, environ)
		})
	}
	err := g.Wait()

	r.metrics.ObserveHook(string(stage), outcomeOf(ctx, err), time.Since(start))

	return err
}

func (r *Runner) runOne(ctx context.Context, stage Stage, index int, h config.HookConfig, environ []string) error {
	logger := r.logger.With("stage", string(stage), "hook", index, "command", h.Command)
	logger.Debug(ctx, "Starting hook", "args", h.Args)

	cmd := exec.CommandContext(ctx, h.Command, h.Args...)
	cmd.Dir = r.dir
	cmd.Env = environ
	cmd.WaitDelay = 2 * time.Second

	stdout := newLineWriter(ctx, logger, "stdout")
	stderr := newLineWriter(ctx, logger, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return skifferrors.NewHookError(skifferrors.ErrCodeHookSpawn,
			fmt.Sprintf("failed to start %s hook %q", stage, h.Command), err)
	}

	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s hook %q canceled: %w", stage, h.Command, ctx.Err())
		}
		msg := fmt.Sprintf("%s hook %q failed", stage, h.Command)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg = fmt.Sprintf("%s hook %q exited with status %d", stage, h.Command, exitErr.ExitCode())
		}
		if last := stderr.Last(); last != "" {
			msg += ": " + last
		}

		return skifferrors.NewHookError(skifferrors.ErrCodeHookFailed, msg, err)
	}
	logger.Debug(ctx, "Hook finished")

	return nil
}

func outcomeOf(ctx context.Context, err error) metrics.Outcome {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case ctx.Err() != nil:
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeFailed
	}
}

// lineWriter logs whatever a hook writes, one entry per line.
type lineWriter struct {
	ctx    context.Context
	logger logging.Logger
	stream string

	mu   sync.Mutex
	buf  bytes.Buffer
	last string
}

func newLineWriter(ctx context.Context, logger logging.Logger, stream string) *lineWriter {
	return &lineWriter{ctx: ctx, logger: logger, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.emit(strings.TrimRight(line, "\r\n"))
	}

	return len(p), nil
}

// Flush logs a trailing line without a newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

// Last returns the last non-empty line written.
func (w *lineWriter) Last() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.last
}

func (w *lineWriter) emit(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	w.last = line
	w.logger.Info(w.ctx, line, "stream", w.stream)
}
