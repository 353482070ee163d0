// Package tools resolves and runs the external toolchain binaries pipelines
// shell out to. A Cache is created once per process and threaded through the
// pipeline environment; each tool is looked up lazily on first use.
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/skiff/internal/config"
	skifferrors "github.com/conneroisu/skiff/internal/errors"
)

// Known tool names.
const (
	Sass        = "sass"
	TailwindCSS = "tailwindcss"
	Cargo       = "cargo"
	WasmBindgen = "wasm-bindgen"
	WasmOpt     = "wasm-opt"
)

// Cache memoizes tool lookups. It is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	configured map[string]string
	entries    map[string]*entry
}

type entry struct {
	once sync.Once
	tool *Tool
	err  error
}

// NewCache creates a cache honoring explicitly configured binaries.
func NewCache(cfg config.ToolsConfig) *Cache {
	return &Cache{
		configured: map[string]string{
			Sass:        cfg.Sass,
			TailwindCSS: cfg.TailwindCSS,
			Cargo:       cfg.Cargo,
			WasmBindgen: cfg.WasmBindgen,
			WasmOpt:     cfg.WasmOpt,
		},
		entries: make(map[string]*entry),
	}
}

// Names returns the known tool names, sorted.
func (c *Cache) Names() []string {
	names := make([]string, 0, len(c.configured))
	for name := range c.configured {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Resolve returns the tool called name, looking it up on first use. A
// configured path takes precedence over PATH.
func (c *Cache) Resolve(name string) (*Tool, error) {
	c.mu.Lock()
	e, ok := c.entries[name]
	if !ok {
		e = &entry{}
		c.entries[name] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.tool, e.err = c.lookup(name)
	})

	return e.tool, e.err
}

func (c *Cache) lookup(name string) (*Tool, error) {
	bin := name
	if p := c.configured[name]; p != "" {
		bin = p
	}

	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, skifferrors.NewPipelineError(skifferrors.ErrCodeToolNotFound,
			fmt.Sprintf("%s not found; install it or set its path under tools in .skiff.yml", name), err)
	}

	return &Tool{Name: name, Path: path}, nil
}

// Invocation describes one run of a tool.
type Invocation struct {
	Args []string
	Dir  string
	// Env entries ("KEY=value") are appended to the process environment.
	Env []string
}

// Result holds the captured output of a finished run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// waitDelay bounds how long Run waits for output pipes after the process
// was killed, since grandchildren may keep them open.
const waitDelay = 2 * time.Second

// Tool is a resolved external binary.
type Tool struct {
	Name string
	Path string

	versionOnce sync.Once
	version     string
	versionErr  error
}

// Run executes the tool and waits for it. The process is killed when ctx is
// canceled. A non-zero exit returns the captured result together with a
// pipeline error carrying stderr.
func (t *Tool) Run(ctx context.Context, inv Invocation) (*Result, error) {
	// #nosec G204 -- the binary was resolved through exec.LookPath
	cmd := exec.CommandContext(ctx, t.Path, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.WaitDelay = waitDelay
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s canceled: %w", t.Name, ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, skifferrors.NewPipelineError(skifferrors.ErrCodeToolFailed,
				fmt.Sprintf("failed to start %s", t.Name), err)
		}
		result.ExitCode = exitErr.ExitCode()

		return result, skifferrors.NewPipelineError(skifferrors.ErrCodeToolFailed,
			fmt.Sprintf("%s exited with status %d: %s", t.Name, result.ExitCode, summarize(result.Stderr)), nil)
	}

	return result, nil
}

// Version runs "<tool> --version" once and caches the answer.
func (t *Tool) Version(ctx context.Context) (string, error) {
	t.versionOnce.Do(func() {
		res, err := t.Run(ctx, Invocation{Args: []string{"--version"}})
		if err != nil {
			t.versionErr = err

			return
		}
		t.version = parseVersion(string(res.Stdout) + string(res.Stderr))
	})

	return t.version, t.versionErr
}

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+\.\d+)`)

func parseVersion(output string) string {
	if m := versionPattern.FindStringSubmatch(output); len(m) >= 2 {
		return m[1]
	}

	return firstLine(output)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}

	return s
}

// summarize keeps stderr readable in a single error line.
func summarize(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if s == "" {
		return "no output"
	}
	const limit = 2048
	if len(s) > limit {
		s = s[len(s)-limit:]
	}

	return s
}
