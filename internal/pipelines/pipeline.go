// Package pipelines implements the asset pipeline engine: one typed pipeline
// per asset declaration in the HTML manifest, a registry that maps a
// declaration's role to the constructors able to build it, and a dispatcher
// that constructs every pipeline, runs them concurrently and returns their
// outputs ordered by asset ID.
package pipelines

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/conneroisu/skiff/internal/config"
	"github.com/conneroisu/skiff/internal/dom"
	skifferrors "github.com/conneroisu/skiff/internal/errors"
	"github.com/conneroisu/skiff/internal/logging"
	"github.com/conneroisu/skiff/internal/metrics"
	"github.com/conneroisu/skiff/internal/progress"
	"github.com/conneroisu/skiff/internal/tools"
)

// Input is one recognized asset declaration. It is consumed by exactly one
// pipeline.
type Input struct {
	ManifestDir string
	// Tag is a short rendering of the declaring element, used in errors.
	Tag     string
	Element string
	Role    string
	Attrs   map[string]string
	ID      int
}

// Attr returns the trimmed value of key.
func (in Input) Attr(key string) (string, bool) {
	v, ok := in.Attrs[key]

	return strings.TrimSpace(v), ok
}

// Has reports whether the declaration carries key, with any value.
func (in Input) Has(key string) bool {
	_, ok := in.Attrs[key]

	return ok
}

// Flag reports whether a boolean attribute is set. Present with an empty
// value counts as true; "false" and "0" count as false.
func (in Input) Flag(key string) bool {
	v, ok := in.Attr(key)
	if !ok {
		return false
	}

	return v != "false" && v != "0"
}

// Ignorer accepts paths a pipeline is about to write outside the staging
// directory so the watch loop does not react to them.
type Ignorer interface {
	Ignore(paths ...string)
}

// Env is shared by every pipeline of a cycle and must not be mutated while
// the cycle runs.
type Env struct {
	Config     *config.Config
	StagingDir string
	Tools      *tools.Cache
	Progress   progress.Sink
	Ignorer    Ignorer
	Logger     logging.Logger
	Metrics    metrics.Recorder
}

func (env *Env) ignore(paths ...string) {
	if env.Ignorer != nil {
		env.Ignorer.Ignore(paths...)
	}
}

func (env *Env) report(in Input, msg string) {
	if env.Progress == nil {
		return
	}
	env.Progress.SetMessage(fmt.Sprintf("[%s #%d] %s", in.Role, in.ID, msg))
}

func (env *Env) logger() logging.Logger {
	if env.Logger == nil {
		return logging.NewNopLogger()
	}

	return env.Logger
}

func (env *Env) recorder() metrics.Recorder {
	if env.Metrics == nil {
		return metrics.NopRecorder{}
	}

	return env.Metrics
}

// hashing reports whether output names of in get a content hash.
func (env *Env) hashing(in Input) bool {
	return env.Config.Build.Hash && !in.Flag("data-no-hash")
}

// publicPath maps a staging-relative, slash-separated path to the URL the
// published HTML references.
func (env *Env) publicPath(rel string) string {
	return env.Config.Build.PublicURL + strings.TrimPrefix(rel, "/")
}

// stagedPath returns the absolute staging location of rel.
func (env *Env) stagedPath(rel string) string {
	return filepath.Join(env.StagingDir, filepath.FromSlash(rel))
}

// Pipeline builds one asset.
type Pipeline interface {
	ID() int
	Kind() string
	Spawn(ctx context.Context) (Output, error)
}

// Output is the terminal value of a pipeline. Finalize applies it to the
// document exactly once.
type Output interface {
	AssetID() int
	Finalize(doc *dom.Document) error
	// Artifacts lists the files written, relative to the staging directory.
	Artifacts() []string
}

// Constructor builds a pipeline for in. Returning a nil pipeline together
// with the input declines it without failing, so the next constructor
// registered for the role may claim it.
type Constructor func(env *Env, in Input) (Pipeline, *Input, error)

// declined is the forwarding result.
func declined(in Input) (Pipeline, *Input, error) {
	return nil, &in, nil
}

// targetDir validates data-target-path, a directory relative to the
// output root.
func targetDir(in Input) (string, error) {
	raw, ok := in.Attr("data-target-path")
	if !ok || raw == "" {
		return "", nil
	}

	cleaned := path.Clean(filepath.ToSlash(raw))
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", skifferrors.NewConstructionError(skifferrors.ErrCodeInvalidAttribute,
			fmt.Sprintf("data-target-path %q must stay inside the output directory", raw)).WithTag(in.Tag)
	}
	if cleaned == "." {
		return "", nil
	}

	return cleaned, nil
}

// integrityKind returns the SRI digest for in: data-integrity when present,
// the configured default otherwise.
func integrityKind(env *Env, in Input) (string, error) {
	kind, ok := in.Attr("data-integrity")
	if !ok || kind == "" {
		return env.Config.Build.Integrity, nil
	}
	if !config.IsIntegrityKind(kind) {
		return "", skifferrors.NewConstructionError(skifferrors.ErrCodeInvalidAttribute,
			fmt.Sprintf("data-integrity %q is not one of none, sha256, sha384, sha512", kind)).WithTag(in.Tag)
	}

	return kind, nil
}

// requireAttr returns the value of a required, non-empty attribute.
func requireAttr(in Input, key string) (string, error) {
	v, ok := in.Attr(key)
	if !ok || v == "" {
		return "", skifferrors.ErrMissingAttribute(in.Tag, key)
	}

	return v, nil
}

// annotate attaches asset context to a structured error, or wraps a plain
// one with the given type.
func annotate(err error, in Input, wrap func(error) *skifferrors.Error) error {
	if err == nil {
		return nil
	}
	var e *skifferrors.Error
	if !errors.As(err, &e) {
		e = wrap(err)
		err = e
	}
	if e.Tag == "" {
		e.Tag = in.Tag
	}
	if e.AssetID < 0 {
		e.AssetID = in.ID
	}

	return err
}

func wrapConstruction(err error) *skifferrors.Error {
	e := skifferrors.NewConstructionError(skifferrors.ErrCodeInvalidAttribute, "invalid asset declaration")
	e.Cause = err

	return e
}

func wrapPipeline(err error) *skifferrors.Error {
	return skifferrors.NewPipelineError(skifferrors.ErrCodeIO, "asset pipeline failed", err)
}
