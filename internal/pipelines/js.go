package pipelines

import (
	"context"

	"github.com/conneroisu/skiff/internal/asset"
)

var jsOptions = []string{"data-integrity", "data-no-hash", "data-target-path"}

// JS copies a script, minifying it when optimizing, and rewrites the
// element's src. type, defer and async are left as declared.
type JS struct {
	base
	file    *asset.File
	target  string
	sriKind string
}

// NewJS constructs a js pipeline for <script data-skiff src=...>. A script
// without src is declined so a later constructor may claim it.
func NewJS(env *Env, in Input) (Pipeline, *Input, error) {
	if src, ok := in.Attr("src"); !ok || src == "" {
		return declined(in)
	}
	file, err := resolveFile(in, "src")
	if err != nil {
		return nil, nil, err
	}
	target, err := targetDir(in)
	if err != nil {
		return nil, nil, err
	}
	kind, err := integrityKind(env, in)
	if err != nil {
		return nil, nil, err
	}

	return &JS{base: base{env: env, in: in, kind: RoleJS}, file: file, target: target, sriKind: kind}, nil, nil
}

func (p *JS) Spawn(ctx context.Context) (Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, p.fail(err)
	}
	p.report("reading " + p.file.Name)

	content, err := p.file.Read()
	if err != nil {
		return nil, p.fail(err)
	}
	if p.env.Config.Build.Optimize {
		p.report("minifying " + p.file.Name)
		if content, err = minifyBytes(mediaJS, content); err != nil {
			return nil, p.fail(err)
		}
	}

	name := asset.HashedName(p.file.Name, content, p.env.hashing(p.in))
	rel, err := p.writeArtifact(p.target, name, content)
	if err != nil {
		return nil, p.fail(err)
	}

	set := [][2]string{{"src", p.env.publicPath(rel)}}
	sri, err := p.integrity(p.sriKind, content)
	if err != nil {
		return nil, p.fail(err)
	}
	if sri != "" {
		set = append(set, [2]string{"integrity", sri})
	}

	return &attrOutput{id: p.ID(), set: set, options: jsOptions, artifacts: []string{rel}}, nil
}
