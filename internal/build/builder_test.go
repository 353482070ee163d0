package build

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/skiff/internal/config"
	skifferrors "github.com/conneroisu/skiff/internal/errors"
	"github.com/conneroisu/skiff/internal/metrics"
)

const manifest = `<!DOCTYPE html><html><head>
<link data-skiff rel="copy-file" href="logo.png">
<link data-skiff rel="sass" href="style.scss">
</head><body><h1>hi</h1></body></html>`

// fakeSass copies its input to its output, ignoring flags.
const fakeSass = `#!/bin/sh
while [ $# -gt 2 ]; do shift; done
cp "$1" "$2"
`

type project struct {
	dir string
	cfg *config.Config
}

func newProject(t *testing.T, mutate func(*config.Config)) *project {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are shell scripts")
	}

	dir := t.TempDir()
	sass := filepath.Join(t.TempDir(), "sass")
	require.NoError(t, os.WriteFile(sass, []byte(fakeSass), 0o755))

	cfg := &config.Config{
		Build: config.BuildConfig{
			Target:    "index.html",
			Dist:      "dist",
			PublicURL: "/",
			Integrity: config.IntegrityNone,
		},
		Tools: config.ToolsConfig{Sass: sass},
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Resolve(dir))

	p := &project{dir: dir, cfg: cfg}
	p.write(t, "index.html", manifest)
	p.write(t, "logo.png", "png-bytes")
	p.write(t, "style.scss", "h1{color:blue}")

	return p
}

func (p *project) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(p.dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (p *project) dist(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(p.cfg.Build.Dist, filepath.FromSlash(rel)))
	require.NoError(t, err)

	return string(data)
}

func TestBuildPublishesArtifacts(t *testing.T) {
	p := newProject(t, nil)

	res, err := New(p.cfg).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"index.html", "logo.png", "style.css"}, res.Artifacts)
	assert.Equal(t, filepath.Join(p.cfg.Build.Dist, "index.html"), res.HTMLPath)
	assert.Equal(t, []Phase{
		PhaseInit, PhaseDispatching, PhaseAwaitingPipelines, PhaseApplyingOutputs,
		PhaseRunningHooks, PhaseStaging, PhasePublishing, PhaseDone,
	}, res.Phases)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", res.CycleID.String())

	assert.Equal(t, "png-bytes", p.dist(t, "logo.png"))
	assert.Equal(t, "h1{color:blue}", p.dist(t, "style.css"))

	html := p.dist(t, "index.html")
	assert.Contains(t, html, `<link rel="copy-file" href="/logo.png"/>`)
	assert.Contains(t, html, `<link rel="stylesheet" href="/style.css"/>`)
	assert.NotContains(t, html, "data-skiff")

	_, err = os.Stat(p.cfg.Build.StagingDir)
	assert.True(t, os.IsNotExist(err), "staging is promoted, not left behind")
	_, err = os.Stat(p.cfg.Build.Dist + ".prev")
	assert.True(t, os.IsNotExist(err))
}

func TestBuildHashingIsStable(t *testing.T) {
	p := newProject(t, func(c *config.Config) { c.Build.Hash = true })
	b := New(p.cfg)

	first, err := b.Build(context.Background())
	require.NoError(t, err)
	firstHTML := p.dist(t, "index.html")

	second, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Artifacts, second.Artifacts)
	assert.Equal(t, firstHTML, p.dist(t, "index.html"))
	assert.NotEqual(t, first.CycleID, second.CycleID)

	p.write(t, "style.scss", "h1{color:green}")
	third, err := b.Build(context.Background())
	require.NoError(t, err)

	logo := func(r *Result) string { return find(r.Artifacts, "logo-") }
	style := func(r *Result) string { return find(r.Artifacts, "style-") }
	assert.Equal(t, logo(first), logo(third), "unchanged asset keeps its name")
	assert.NotEqual(t, style(first), style(third))
	assert.True(t, strings.HasSuffix(style(third), ".css"))
}

func find(list []string, prefix string) string {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return s
		}
	}

	return ""
}

func TestBuildFailureLeavesDistUntouched(t *testing.T) {
	p := newProject(t, nil)
	b := New(p.cfg)

	_, err := b.Build(context.Background())
	require.NoError(t, err)
	before := p.dist(t, "index.html")

	tests := []struct {
		name     string
		manifest string
		check    func(t *testing.T, err error)
	}{
		{
			name:     "missing href",
			manifest: `<html><head><link data-skiff rel="copy-file"></head></html>`,
			check: func(t *testing.T, err error) {
				assert.True(t, skifferrors.IsConstruction(err))
				assert.Contains(t, err.Error(), `rel="copy-file"`)
			},
		},
		{
			name:     "missing source",
			manifest: `<html><head><link data-skiff rel="copy-file" href="gone.png"></head></html>`,
			check: func(t *testing.T, err error) {
				assert.True(t, skifferrors.IsConstruction(err))
			},
		},
		{
			name:     "pipeline failure",
			manifest: `<html><head><link data-skiff rel="tailwind-css" href="style.scss"></head></html>`,
			check: func(t *testing.T, err error) {
				assert.True(t, skifferrors.IsPipeline(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.cfg.Tools.TailwindCSS = filepath.Join(t.TempDir(), "missing-tailwind")
			p.write(t, "index.html", tt.manifest)

			res, err := New(p.cfg).Build(context.Background())
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, PhaseErrored, res.Phase())
			assert.Equal(t, before, p.dist(t, "index.html"))

			_, statErr := os.Stat(p.cfg.Build.StagingDir)
			assert.True(t, os.IsNotExist(statErr), "staging is discarded")
		})
	}
}

func TestBuildRefusesDistOverSources(t *testing.T) {
	p := newProject(t, func(c *config.Config) {
		c.Build.Target = "web/index.html"
		c.Build.Dist = "."
	})
	p.write(t, "web/index.html", manifest)
	p.write(t, "web/keep.txt", "keep")

	res, err := New(p.cfg).Build(context.Background())
	require.Error(t, err)
	assert.True(t, skifferrors.IsStaging(err))
	assert.Equal(t, PhaseErrored, res.Phase())
	assert.FileExists(t, filepath.Join(p.dir, "web", "keep.txt"))
	assert.FileExists(t, filepath.Join(p.dir, "logo.png"))
}

func TestBuildRefusesDistInsideStaging(t *testing.T) {
	p := newProject(t, func(c *config.Config) {
		c.Build.StagingDir = "out"
		c.Build.Dist = "out/site"
	})
	p.write(t, "out/site/index.html", "published")

	_, err := New(p.cfg).Build(context.Background())
	require.Error(t, err)
	assert.True(t, skifferrors.IsStaging(err))
	assert.Equal(t, "published", p.dist(t, "index.html"))
}

func TestBuildMissingManifest(t *testing.T) {
	p := newProject(t, nil)
	require.NoError(t, os.Remove(filepath.Join(p.dir, "index.html")))

	res, err := New(p.cfg).Build(context.Background())
	require.Error(t, err)
	assert.Equal(t, skifferrors.ErrorTypeConstruction, skifferrors.TypeOf(err))
	assert.Equal(t, []Phase{PhaseInit, PhaseErrored}, res.Phases)

	_, statErr := os.Stat(p.cfg.Build.Dist)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildRunsHooks(t *testing.T) {
	p := newProject(t, func(c *config.Config) {
		c.Hooks = []config.HookConfig{
			{Stage: config.StagePreBuild, Command: "sh", Args: []string{"-c", `printf '<html><body><p>generated</p></body></html>' > index.html`}},
			{Stage: config.StageAsset, Command: "sh", Args: []string{"-c", `echo extra > "$SKIFF_STAGING_DIR/extra.txt"`}},
			{Stage: config.StagePostBuild, Command: "sh", Args: []string{"-c", `test -f "$SKIFF_STAGING_DIR/index.html" && test "$SKIFF_STAGE" = post_build`}},
		}
	})

	res, err := New(p.cfg).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html"}, res.Artifacts)
	assert.Contains(t, p.dist(t, "index.html"), "<p>generated</p>")
	assert.Equal(t, "extra\n", p.dist(t, "extra.txt"))
}

func TestBuildHookFailureIsFatal(t *testing.T) {
	p := newProject(t, func(c *config.Config) {
		c.Hooks = []config.HookConfig{
			{Stage: config.StageAsset, Command: "sh", Args: []string{"-c", "exit 2"}},
		}
	})

	res, err := New(p.cfg).Build(context.Background())
	require.Error(t, err)
	assert.True(t, skifferrors.IsHook(err))
	assert.Contains(t, res.Phases, PhaseRunningHooks)
	assert.NotContains(t, res.Phases, PhasePublishing)

	_, statErr := os.Stat(p.cfg.Build.Dist)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildCanceled(t *testing.T) {
	p := newProject(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &cycleRecorder{}
	_, err := New(p.cfg, WithMetrics(rec)).Build(ctx)
	require.Error(t, err)
	assert.Equal(t, []metrics.Outcome{metrics.OutcomeCanceled}, rec.outcomes)

	_, statErr := os.Stat(p.cfg.Build.Dist)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildRecordsMetrics(t *testing.T) {
	p := newProject(t, nil)
	rec := &cycleRecorder{}
	b := New(p.cfg, WithMetrics(rec))

	_, err := b.Build(context.Background())
	require.NoError(t, err)
	p.write(t, "index.html", `<link data-skiff rel="copy-file">`)
	_, err = b.Build(context.Background())
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []metrics.Outcome{metrics.OutcomeSuccess, metrics.OutcomeFailed}, rec.outcomes)
	assert.ElementsMatch(t, []string{"copy-file", "sass"}, rec.pipelines)
}

func TestWritten(t *testing.T) {
	p := newProject(t, nil)
	dist := p.cfg.Build.Dist
	assert.Equal(t, []string{dist, p.cfg.Build.StagingDir, dist + ".prev"}, New(p.cfg).Written())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "awaiting_pipelines", PhaseAwaitingPipelines.String())
	assert.Equal(t, "errored", PhaseErrored.String())
	assert.Equal(t, "unknown", Phase(42).String())
	assert.True(t, PhaseDone.Terminal())
	assert.False(t, PhaseStaging.Terminal())
}

type cycleRecorder struct {
	metrics.NopRecorder
	mu        sync.Mutex
	outcomes  []metrics.Outcome
	pipelines []string
}

func (r *cycleRecorder) ObserveCycle(o metrics.Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *cycleRecorder) ObservePipeline(kind string, _ metrics.Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines = append(r.pipelines, kind)
}
