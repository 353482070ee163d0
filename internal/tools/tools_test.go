package tools

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/skiff/internal/config"
	skifferrors "github.com/conneroisu/skiff/internal/errors"
)

func fakeTool(t *testing.T, name, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are shell scripts")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))

	return path
}

func TestResolveConfiguredPath(t *testing.T) {
	path := fakeTool(t, "my-sass", `echo "compiled $1"`)
	cache := NewCache(config.ToolsConfig{Sass: path})

	tool, err := cache.Resolve(Sass)
	require.NoError(t, err)
	assert.Equal(t, path, tool.Path)

	again, err := cache.Resolve(Sass)
	require.NoError(t, err)
	assert.Same(t, tool, again, "lookups are memoized")

	res, err := tool.Run(context.Background(), Invocation{Args: []string{"style.scss"}})
	require.NoError(t, err)
	assert.Equal(t, "compiled style.scss\n", string(res.Stdout))
	assert.Equal(t, 0, res.ExitCode)
}

func TestResolveMissingTool(t *testing.T) {
	cache := NewCache(config.ToolsConfig{WasmOpt: filepath.Join(t.TempDir(), "no-such-binary")})

	_, err := cache.Resolve(WasmOpt)
	require.Error(t, err)
	assert.True(t, skifferrors.IsPipeline(err))
	assert.Contains(t, err.Error(), skifferrors.ErrCodeToolNotFound)
}

func TestRunNonZeroExit(t *testing.T) {
	path := fakeTool(t, "broken", `echo "syntax error on line 3" >&2; exit 2`)
	tool := &Tool{Name: "broken", Path: path}

	res, err := tool.Run(context.Background(), Invocation{})
	require.Error(t, err)
	assert.True(t, skifferrors.IsPipeline(err))
	assert.Contains(t, err.Error(), "status 2")
	assert.Contains(t, err.Error(), "syntax error on line 3")
	assert.Equal(t, 2, res.ExitCode)
}

func TestRunEnvAndDir(t *testing.T) {
	path := fakeTool(t, "env", `echo "$SKIFF_TEST_VALUE $(pwd)"`)
	tool := &Tool{Name: "env", Path: path}
	dir := t.TempDir()

	res, err := tool.Run(context.Background(), Invocation{Dir: dir, Env: []string{"SKIFF_TEST_VALUE=42"}})
	require.NoError(t, err)
	assert.Contains(t, string(res.Stdout), "42 ")
}

func TestRunCanceled(t *testing.T) {
	path := fakeTool(t, "slow", `exec sleep 5`)
	tool := &Tool{Name: "slow", Path: path}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tool.Run(ctx, Invocation{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestVersionCached(t *testing.T) {
	path := fakeTool(t, "tailwindcss", `echo "tailwindcss v3.4.1"`)
	tool := &Tool{Name: TailwindCSS, Path: path}

	v, err := tool.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.4.1", v)

	require.NoError(t, os.Remove(path))
	v, err = tool.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.4.1", v)
}

func TestParseVersion(t *testing.T) {
	assert.Equal(t, "1.77.8", parseVersion("1.77.8 compiled with dart2js 3.4.0"))
	assert.Equal(t, "0.2.92", parseVersion("wasm-bindgen 0.2.92"))
	assert.Equal(t, "version_116", parseVersion("version_116\nmore"))
}

func TestNames(t *testing.T) {
	cache := NewCache(config.ToolsConfig{})
	assert.Equal(t, []string{Cargo, Sass, TailwindCSS, WasmBindgen, WasmOpt}, cache.Names())
}
