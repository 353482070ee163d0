package pipelines

import (
	"context"
	"path"

	"github.com/conneroisu/skiff/internal/asset"
	skifferrors "github.com/conneroisu/skiff/internal/errors"
)

// CopyFile copies a single file into the output and points the element's
// href at the copy.
type CopyFile struct {
	base
	file   *asset.File
	target string
}

// NewCopyFile constructs a copy-file pipeline.
func NewCopyFile(env *Env, in Input) (Pipeline, *Input, error) {
	file, err := resolveFile(in, "href")
	if err != nil {
		return nil, nil, err
	}
	target, err := targetDir(in)
	if err != nil {
		return nil, nil, err
	}

	return &CopyFile{base: base{env: env, in: in, kind: RoleCopyFile}, file: file, target: target}, nil, nil
}

func (p *CopyFile) Spawn(ctx context.Context) (Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, p.fail(err)
	}
	p.report("copying " + p.file.Name)

	rel, err := p.copyArtifact(p.file, p.target)
	if err != nil {
		return nil, p.fail(err)
	}

	return &attrOutput{
		id:        p.ID(),
		set:       [][2]string{{"href", p.env.publicPath(rel)}},
		options:   []string{"data-target-path", "data-no-hash"},
		artifacts: []string{rel},
	}, nil
}

// CopyDir copies a directory tree into the output. The declaring element is
// removed.
type CopyDir struct {
	base
	dir    *asset.File
	target string
}

// NewCopyDir constructs a copy-dir pipeline. The tree lands under
// data-target-path, or the source directory's name when unset.
func NewCopyDir(env *Env, in Input) (Pipeline, *Input, error) {
	href, err := requireAttr(in, "href")
	if err != nil {
		return nil, nil, err
	}
	dir, err := asset.NewDir(in.ManifestDir, href)
	if err != nil {
		return nil, nil, annotate(err, in, wrapConstruction)
	}
	target, err := targetDir(in)
	if err != nil {
		return nil, nil, err
	}
	if target == "" {
		target = dir.Name
	}

	return &CopyDir{base: base{env: env, in: in, kind: RoleCopyDir}, dir: dir, target: target}, nil, nil
}

func (p *CopyDir) Spawn(ctx context.Context) (Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, p.fail(err)
	}
	p.report("copying directory " + p.dir.Name)

	copied, err := asset.CopyDir(p.dir.Path, p.env.stagedPath(p.target))
	if err != nil {
		return nil, p.fail(skifferrors.NewPipelineError(skifferrors.ErrCodeIO, "failed to copy directory", err).WithPath(p.dir.Path))
	}

	artifacts := make([]string, len(copied))
	for i, rel := range copied {
		artifacts[i] = path.Join(p.target, rel)
	}

	return &replaceOutput{id: p.ID(), artifacts: artifacts}, nil
}

// Icon copies an icon file and rewrites the element's href. The element
// keeps its rel, sizes and type so browsers pick it up.
type Icon struct {
	base
	file   *asset.File
	target string
}

// NewIcon constructs an icon pipeline.
func NewIcon(env *Env, in Input) (Pipeline, *Input, error) {
	file, err := resolveFile(in, "href")
	if err != nil {
		return nil, nil, err
	}
	target, err := targetDir(in)
	if err != nil {
		return nil, nil, err
	}

	return &Icon{base: base{env: env, in: in, kind: RoleIcon}, file: file, target: target}, nil, nil
}

func (p *Icon) Spawn(ctx context.Context) (Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, p.fail(err)
	}
	p.report("copying icon " + p.file.Name)

	rel, err := p.copyArtifact(p.file, p.target)
	if err != nil {
		return nil, p.fail(err)
	}

	return &attrOutput{
		id:        p.ID(),
		set:       [][2]string{{"href", p.env.publicPath(rel)}},
		options:   []string{"data-target-path", "data-no-hash"},
		artifacts: []string{rel},
	}, nil
}
