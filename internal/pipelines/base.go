package pipelines

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"

	"github.com/conneroisu/skiff/internal/asset"
	"github.com/conneroisu/skiff/internal/dom"
	skifferrors "github.com/conneroisu/skiff/internal/errors"
	"github.com/conneroisu/skiff/internal/tools"
)

// base carries what every pipeline owns: its input and the shared env.
type base struct {
	env  *Env
	in   Input
	kind string
}

func (b *base) ID() int      { return b.in.ID }
func (b *base) Kind() string { return b.kind }

func (b *base) report(msg string) { b.env.report(b.in, msg) }

// fail annotates err with the asset's tag and ID.
func (b *base) fail(err error) error {
	return annotate(err, b.in, wrapPipeline)
}

// writeArtifact writes content to the staging directory at dir/name and
// returns the staging-relative path.
func (b *base) writeArtifact(dir, name string, content []byte) (string, error) {
	rel := path.Join(dir, name)
	dst := b.env.stagedPath(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", skifferrors.NewPipelineError(skifferrors.ErrCodeIO, "failed to create staging directory", err).WithPath(dst)
	}
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		return "", skifferrors.NewPipelineError(skifferrors.ErrCodeIO, "failed to write artifact", err).WithPath(dst)
	}

	return rel, nil
}

// copyArtifact copies f into the staging directory under dir, hashing the
// name when enabled, and returns the staging-relative path.
func (b *base) copyArtifact(f *asset.File, dir string) (string, error) {
	name, err := f.OutputName(b.env.hashing(b.in))
	if err != nil {
		return "", skifferrors.NewPipelineError(skifferrors.ErrCodeIO, "failed to hash asset", err).WithPath(f.Path)
	}
	rel := path.Join(dir, name)
	if _, err := f.CopyTo(filepath.Dir(b.env.stagedPath(rel)), name); err != nil {
		return "", skifferrors.NewPipelineError(skifferrors.ErrCodeIO, "failed to copy asset", err).WithPath(f.Path)
	}

	return rel, nil
}

func (b *base) integrity(kind string, content []byte) (string, error) {
	sri, err := asset.Integrity(kind, content)
	if err != nil {
		return "", skifferrors.NewPipelineError(skifferrors.ErrCodeIO, "failed to compute integrity", err)
	}

	return sri, nil
}

func (b *base) resolveTool(name string) (*tools.Tool, error) {
	if b.env.Tools == nil {
		return nil, skifferrors.NewPipelineError(skifferrors.ErrCodeToolNotFound, "no tool cache configured for "+name, nil)
	}

	return b.env.Tools.Resolve(name)
}

// resolveFile resolves a required href-like attribute to an existing file.
func resolveFile(in Input, attr string) (*asset.File, error) {
	href, err := requireAttr(in, attr)
	if err != nil {
		return nil, err
	}
	f, err := asset.NewFile(in.ManifestDir, href)
	if err != nil {
		return nil, annotate(err, in, wrapConstruction)
	}

	return f, nil
}

var (
	minifierOnce sync.Once
	minifier     *minify.M
)

const (
	mediaCSS = "text/css"
	mediaJS  = "application/javascript"
)

// minifyBytes minifies content of the given media type.
func minifyBytes(mediatype string, content []byte) ([]byte, error) {
	minifierOnce.Do(func() {
		minifier = minify.New()
		minifier.AddFunc(mediaCSS, css.Minify)
		minifier.AddFunc(mediaJS, js.Minify)
	})

	out, err := minifier.Bytes(mediatype, content)
	if err != nil {
		return nil, skifferrors.NewPipelineError(skifferrors.ErrCodeUnexpectedOutput,
			fmt.Sprintf("failed to minify %s", mediatype), err)
	}

	return out, nil
}

// attrOutput rewrites attributes of the declaring element and strips the
// engine markers and pipeline options.
type attrOutput struct {
	id        int
	set       [][2]string
	options   []string
	artifacts []string
}

func (o *attrOutput) AssetID() int { return o.id }
func (o *attrOutput) Artifacts() []string { return o.artifacts }

func (o *attrOutput) Finalize(doc *dom.Document) error {
	for _, kv := range o.set {
		if err := doc.SetAttr(o.id, kv[0], kv[1]); err != nil {
			return err
		}
	}

	return doc.Clean(o.id, o.options...)
}

// replaceOutput swaps the declaring element for an HTML fragment, or
// removes it when the fragment is empty. Head and body fragments are
// appended after the swap.
type replaceOutput struct {
	id        int
	html      string
	head      []string
	body      []string
	artifacts []string
}

func (o *replaceOutput) AssetID() int { return o.id }
func (o *replaceOutput) Artifacts() []string { return o.artifacts }

func (o *replaceOutput) Finalize(doc *dom.Document) error {
	var err error
	if o.html == "" {
		err = doc.Remove(o.id)
	} else {
		err = doc.ReplaceWithHTML(o.id, o.html)
	}
	if err != nil {
		return err
	}
	for _, frag := range o.head {
		if err := doc.InsertHeadHTML(frag); err != nil {
			return err
		}
	}
	for _, frag := range o.body {
		if err := doc.AppendBodyHTML(frag); err != nil {
			return err
		}
	}

	return nil
}
