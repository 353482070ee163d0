// Package config provides configuration management for skiff using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration is loaded once, resolved to absolute paths and validated.
// After that it is treated as immutable and shared read-only by every
// pipeline and hook of a build cycle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	skifferrors "github.com/conneroisu/skiff/internal/errors"
)

// Config is the resolved build configuration.
type Config struct {
	Build BuildConfig  `mapstructure:"build" yaml:"build"`
	Watch WatchConfig  `mapstructure:"watch" yaml:"watch"`
	Serve ServeConfig  `mapstructure:"serve" yaml:"serve"`
	Hooks []HookConfig `mapstructure:"hooks" yaml:"hooks"`
	Tools ToolsConfig  `mapstructure:"tools" yaml:"tools"`
	Rust  RustConfig   `mapstructure:"rust"  yaml:"rust"`
	Log   LogConfig    `mapstructure:"log"   yaml:"log"`

	// BaseDir is the directory relative paths were resolved against.
	BaseDir string `mapstructure:"-" yaml:"-"`
}

type BuildConfig struct {
	Target     string `mapstructure:"target"      yaml:"target"`
	Dist       string `mapstructure:"dist"        yaml:"dist"`
	StagingDir string `mapstructure:"staging_dir" yaml:"staging_dir"`
	PublicURL  string `mapstructure:"public_url"  yaml:"public_url"`
	Release    bool   `mapstructure:"release"     yaml:"release"`
	Hash       bool   `mapstructure:"hash"        yaml:"hash"`
	Optimize   bool   `mapstructure:"optimize"    yaml:"optimize"`
	Integrity  string `mapstructure:"integrity"   yaml:"integrity"`
	Jobs       int    `mapstructure:"jobs"        yaml:"jobs"`
}

type WatchConfig struct {
	Paths    []string      `mapstructure:"paths"    yaml:"paths"`
	Ignore   []string      `mapstructure:"ignore"   yaml:"ignore"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type ServeConfig struct {
	Address    string `mapstructure:"address"    yaml:"address"`
	Port       int    `mapstructure:"port"       yaml:"port"`
	Open       bool   `mapstructure:"open"       yaml:"open"`
	AutoReload bool   `mapstructure:"autoreload" yaml:"autoreload"`
	SPA        bool   `mapstructure:"spa"        yaml:"spa"`
}

// HookConfig declares one external command run at a build stage.
type HookConfig struct {
	Stage   string   `mapstructure:"stage"   yaml:"stage"`
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args"    yaml:"args"`
}

// ToolsConfig holds explicit binary paths. Empty values are looked up on PATH.
type ToolsConfig struct {
	Sass        string `mapstructure:"sass"         yaml:"sass"`
	TailwindCSS string `mapstructure:"tailwindcss"  yaml:"tailwindcss"`
	Cargo       string `mapstructure:"cargo"        yaml:"cargo"`
	WasmBindgen string `mapstructure:"wasm_bindgen" yaml:"wasm_bindgen"`
	WasmOpt     string `mapstructure:"wasm_opt"     yaml:"wasm_opt"`
}

// RustConfig carries text/template overrides for the HTML emitted by the
// rust pipeline.
type RustConfig struct {
	ScriptTemplate  string `mapstructure:"script_template"  yaml:"script_template"`
	PreloadTemplate string `mapstructure:"preload_template" yaml:"preload_template"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Integrity kinds accepted by build.integrity and data-integrity.
const (
	IntegrityNone   = "none"
	IntegritySHA256 = "sha256"
	IntegritySHA384 = "sha384"
	IntegritySHA512 = "sha512"
)

// Hook stage names.
const (
	StagePreBuild  = "pre_build"
	StageAsset     = "asset"
	StagePostBuild = "post_build"
)

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("build.target", "index.html")
	v.SetDefault("build.dist", "dist")
	v.SetDefault("build.staging_dir", "")
	v.SetDefault("build.public_url", "/")
	v.SetDefault("build.release", false)
	v.SetDefault("build.hash", true)
	v.SetDefault("build.integrity", IntegrityNone)
	v.SetDefault("build.jobs", 0)

	v.SetDefault("watch.paths", []string{})
	v.SetDefault("watch.ignore", []string{})
	v.SetDefault("watch.debounce", 250*time.Millisecond)

	v.SetDefault("serve.address", "127.0.0.1")
	v.SetDefault("serve.port", 8080)
	v.SetDefault("serve.open", false)
	v.SetDefault("serve.autoreload", true)
	v.SetDefault("serve.spa", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals, resolves and validates the configuration held by v.
// Relative paths resolve against the directory of the config file in use,
// or the working directory when no file was read.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, skifferrors.NewConfigError(skifferrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to decode configuration: %v", err))
	}

	// optimize follows release unless explicitly set
	if !v.IsSet("build.optimize") {
		cfg.Build.Optimize = cfg.Build.Release
	}

	baseDir := ""
	if file := v.ConfigFileUsed(); file != "" {
		baseDir = filepath.Dir(file)
	}
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		baseDir = wd
	}

	if err := cfg.Resolve(baseDir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Resolve makes every path absolute relative to baseDir and fills derived
// defaults.
func (c *Config) Resolve(baseDir string) error {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	c.BaseDir = abs

	if c.Build.Target == "" {
		c.Build.Target = "index.html"
	}
	if c.Build.Dist == "" {
		c.Build.Dist = "dist"
	}
	c.Build.Target = c.resolvePath(c.Build.Target)
	c.Build.Dist = c.resolvePath(c.Build.Dist)

	if c.Build.StagingDir == "" {
		c.Build.StagingDir = DefaultStagingDir(c.Build.Dist)
	} else {
		c.Build.StagingDir = c.resolvePath(c.Build.StagingDir)
	}

	c.Build.PublicURL = NormalizePublicURL(c.Build.PublicURL)
	if c.Build.Integrity == "" {
		c.Build.Integrity = IntegrityNone
	}

	if len(c.Watch.Paths) == 0 {
		c.Watch.Paths = []string{c.ManifestDir()}
	} else {
		for i, p := range c.Watch.Paths {
			c.Watch.Paths[i] = c.resolvePath(p)
		}
	}
	for i, p := range c.Watch.Ignore {
		c.Watch.Ignore[i] = c.resolvePath(p)
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 250 * time.Millisecond
	}

	c.Tools.Sass = c.resolveToolPath(c.Tools.Sass)
	c.Tools.TailwindCSS = c.resolveToolPath(c.Tools.TailwindCSS)
	c.Tools.Cargo = c.resolveToolPath(c.Tools.Cargo)
	c.Tools.WasmBindgen = c.resolveToolPath(c.Tools.WasmBindgen)
	c.Tools.WasmOpt = c.resolveToolPath(c.Tools.WasmOpt)

	return nil
}

func (c *Config) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	return filepath.Join(c.BaseDir, p)
}

// resolveToolPath only anchors values that look like paths; bare names
// stay as PATH lookups.
func (c *Config) resolveToolPath(p string) string {
	if p == "" || !strings.ContainsRune(p, filepath.Separator) && !strings.ContainsRune(p, '/') {
		return p
	}

	return c.resolvePath(p)
}

// DefaultStagingDir returns the sibling ".<dist>-stage" directory.
func DefaultStagingDir(dist string) string {
	return filepath.Join(filepath.Dir(dist), "."+filepath.Base(dist)+"-stage")
}

// NormalizePublicURL ensures the public URL ends with a slash and, unless it
// is an absolute URL, starts with one.
func NormalizePublicURL(u string) string {
	if u == "" {
		return "/"
	}
	isAbsolute := strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "//")
	if !isAbsolute && !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}

	return u
}

// ManifestDir returns the directory containing the HTML manifest.
func (c *Config) ManifestDir() string {
	return filepath.Dir(c.Build.Target)
}

// Profile returns "release" or "debug".
func (c *Config) Profile() string {
	if c.Build.Release {
		return "release"
	}

	return "debug"
}

// HooksFor returns the hooks declared for stage in declaration order.
func (c *Config) HooksFor(stage string) []HookConfig {
	var out []HookConfig
	for _, h := range c.Hooks {
		if h.Stage == stage {
			out = append(out, h)
		}
	}

	return out
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if err := validateBuildConfig(&c.Build, c.BaseDir); err != nil {
		return skifferrors.NewConfigError(skifferrors.ErrCodeConfigInvalid, "build config: "+err.Error())
	}
	if err := validateServeConfig(&c.Serve); err != nil {
		return skifferrors.NewConfigError(skifferrors.ErrCodeConfigInvalid, "serve config: "+err.Error())
	}
	for i, h := range c.Hooks {
		if err := validateHook(h); err != nil {
			return skifferrors.NewConfigError(skifferrors.ErrCodeConfigInvalid,
				fmt.Sprintf("hooks[%d]: %v", i, err))
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return skifferrors.NewConfigError(skifferrors.ErrCodeConfigInvalid,
			fmt.Sprintf("log format %q is not one of text, json", c.Log.Format))
	}

	return nil
}

func validateBuildConfig(b *BuildConfig, baseDir string) error {
	if !IsIntegrityKind(b.Integrity) {
		return fmt.Errorf("integrity %q is not one of none, sha256, sha384, sha512", b.Integrity)
	}
	if b.Jobs < 0 {
		return fmt.Errorf("jobs must not be negative, got %d", b.Jobs)
	}
	if b.StagingDir == b.Dist {
		return fmt.Errorf("staging_dir must differ from dist")
	}
	if isWithin(b.StagingDir, b.Dist) {
		return fmt.Errorf("staging_dir %s must not be inside dist %s", b.StagingDir, b.Dist)
	}
	if isWithin(b.Dist, b.StagingDir) {
		return fmt.Errorf("dist %s must not be inside staging_dir %s", b.Dist, b.StagingDir)
	}
	// publish replaces dist and begin clears staging, so neither may hold sources
	sources := []string{filepath.Dir(b.Target)}
	if baseDir != "" {
		sources = append(sources, baseDir)
	}
	for _, src := range sources {
		if b.Dist == src || isWithin(src, b.Dist) {
			return fmt.Errorf("dist %s must not be or contain the manifest directory or project directory %s", b.Dist, src)
		}
		if b.StagingDir == src || isWithin(src, b.StagingDir) {
			return fmt.Errorf("staging_dir %s must not be or contain the manifest directory or project directory %s", b.StagingDir, src)
		}
	}

	return nil
}

func validateServeConfig(s *ServeConfig) error {
	// allow 0 for system-assigned ports in testing
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", s.Port)
	}

	return nil
}

func validateHook(h HookConfig) error {
	switch h.Stage {
	case StagePreBuild, StageAsset, StagePostBuild:
	default:
		return fmt.Errorf("unknown stage %q", h.Stage)
	}
	if strings.TrimSpace(h.Command) == "" {
		return fmt.Errorf("command is required")
	}

	return nil
}

// IsIntegrityKind reports whether kind names a supported SRI digest or none.
func IsIntegrityKind(kind string) bool {
	switch kind {
	case IntegrityNone, IntegritySHA256, IntegritySHA384, IntegritySHA512:
		return true
	}

	return false
}

// isWithin reports whether path lies inside dir.
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
