package pipelines

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/skiff/internal/config"
	"github.com/conneroisu/skiff/internal/dom"
	"github.com/conneroisu/skiff/internal/progress"
	"github.com/conneroisu/skiff/internal/tools"
)

// fixture is a manifest directory with a resolved configuration.
type fixture struct {
	dir string
	cfg *config.Config
	env *Env
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		Build: config.BuildConfig{
			Target:    "index.html",
			Dist:      "dist",
			PublicURL: "/",
			Hash:      false,
			Integrity: config.IntegrityNone,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Resolve(dir))

	staging := cfg.Build.StagingDir
	require.NoError(t, os.MkdirAll(staging, 0o755))

	return &fixture{
		dir: dir,
		cfg: cfg,
		env: &Env{
			Config:     cfg,
			StagingDir: staging,
			Tools:      tools.NewCache(cfg.Tools),
			Progress:   &progress.Recorder{},
		},
	}
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func (f *fixture) staged(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.env.StagingDir, filepath.FromSlash(rel)))
	require.NoError(t, err)

	return string(data)
}

// fakeTool writes an executable shell script and returns its path.
func fakeTool(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are shell scripts")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))

	return path
}

// fakeSass copies its input to its output, ignoring flags.
const fakeSass = `while [ $# -gt 2 ]; do shift; done
cp "$1" "$2"`

// fakeTailwind copies --input to --output.
const fakeTailwind = `while [ $# -gt 0 ]; do
  case "$1" in
    --input) in="$2"; shift;;
    --output) out="$2"; shift;;
  esac
  shift
done
cp "$in" "$out"`

func parseDoc(t *testing.T, body string) *dom.Document {
	t.Helper()
	doc, err := dom.Parse(strings.NewReader("<!DOCTYPE html><html><head></head><body>" + body + "</body></html>"))
	require.NoError(t, err)

	return doc
}

func finalizeAll(t *testing.T, doc *dom.Document, outputs []Output) string {
	t.Helper()
	for _, out := range outputs {
		require.NoError(t, out.Finalize(doc))
	}
	doc.StripIDs()
	html, err := doc.Bytes()
	require.NoError(t, err)

	return string(html)
}

// stubPipeline is a pipeline with scripted behavior for dispatcher tests.
type stubPipeline struct {
	id    int
	spawn func(ctx context.Context) error
}

func (s *stubPipeline) ID() int      { return s.id }
func (s *stubPipeline) Kind() string { return "stub" }

func (s *stubPipeline) Spawn(ctx context.Context) (Output, error) {
	if s.spawn != nil {
		if err := s.spawn(ctx); err != nil {
			return nil, err
		}
	}

	return &recordingOutput{id: s.id}, nil
}

// recordingOutput appends its ID to a shared log when finalized.
type recordingOutput struct {
	id  int
	log *[]int
	mu  *sync.Mutex
}

func (o *recordingOutput) AssetID() int { return o.id }
func (o *recordingOutput) Artifacts() []string { return nil }

func (o *recordingOutput) Finalize(*dom.Document) error {
	if o.log != nil {
		o.mu.Lock()
		*o.log = append(*o.log, o.id)
		o.mu.Unlock()
	}

	return nil
}
