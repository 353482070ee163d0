package pipelines

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/skiff/internal/asset"
	skifferrors "github.com/conneroisu/skiff/internal/errors"
	"github.com/conneroisu/skiff/internal/tools"
)

type cssMode int

const (
	cssPlain cssMode = iota
	cssSass
	cssTailwind
)

var cssOptions = []string{"data-inline", "data-integrity", "data-no-hash", "data-target-path", "data-config"}

// CSS builds a stylesheet: plain CSS is copied, Sass sources are compiled
// through the sass tool and Tailwind inputs through the tailwindcss tool.
// The result is minified when optimizing and either linked or inlined.
type CSS struct {
	base
	file      *asset.File
	target    string
	mode      cssMode
	inline    bool
	sriKind   string
	// tailwindConfig is an absolute path, empty when unset.
	tailwindConfig string
}

// NewCSS constructs a css pipeline. Sources ending in .scss or .sass are
// compiled.
func NewCSS(env *Env, in Input) (Pipeline, *Input, error) {
	p, err := newCSS(env, in, RoleCSS, cssPlain)
	if err != nil {
		return nil, nil, err
	}
	if ext := strings.ToLower(p.file.Ext); ext == ".scss" || ext == ".sass" {
		p.mode = cssSass
	}

	return p, nil, nil
}

// NewSass constructs a pipeline that always compiles its source with sass.
func NewSass(env *Env, in Input) (Pipeline, *Input, error) {
	p, err := newCSS(env, in, RoleSass, cssSass)
	if err != nil {
		return nil, nil, err
	}

	return p, nil, nil
}

// NewTailwindCSS constructs a tailwind-css pipeline. data-config names an
// optional tailwind config file.
func NewTailwindCSS(env *Env, in Input) (Pipeline, *Input, error) {
	p, err := newCSS(env, in, RoleTailwindCSS, cssTailwind)
	if err != nil {
		return nil, nil, err
	}
	if cfg, ok := in.Attr("data-config"); ok && cfg != "" {
		f, err := asset.NewFile(in.ManifestDir, cfg)
		if err != nil {
			return nil, nil, annotate(err, in, wrapConstruction)
		}
		p.tailwindConfig = f.Path
	}

	return p, nil, nil
}

func newCSS(env *Env, in Input, kind string, mode cssMode) (*CSS, error) {
	file, err := resolveFile(in, "href")
	if err != nil {
		return nil, err
	}
	target, err := targetDir(in)
	if err != nil {
		return nil, err
	}
	integrity, err := integrityKind(env, in)
	if err != nil {
		return nil, err
	}

	return &CSS{
		base:      base{env: env, in: in, kind: kind},
		file:      file,
		target:    target,
		mode:      mode,
		inline:    in.Flag("data-inline"),
		sriKind:   integrity,
	}, nil
}

func (p *CSS) Spawn(ctx context.Context) (Output, error) {
	content, err := p.compile(ctx)
	if err != nil {
		return nil, p.fail(err)
	}

	if p.env.Config.Build.Optimize {
		p.report("minifying " + p.file.Name)
		if content, err = minifyBytes(mediaCSS, content); err != nil {
			return nil, p.fail(err)
		}
	}

	if p.inline {
		return &replaceOutput{id: p.ID(), html: "<style>" + string(content) + "</style>"}, nil
	}

	name := asset.HashedName(p.file.Stem+".css", content, p.env.hashing(p.in))
	rel, err := p.writeArtifact(p.target, name, content)
	if err != nil {
		return nil, p.fail(err)
	}

	set := [][2]string{{"rel", "stylesheet"}, {"href", p.env.publicPath(rel)}}
	sri, err := p.integrity(p.sriKind, content)
	if err != nil {
		return nil, p.fail(err)
	}
	if sri != "" {
		set = append(set, [2]string{"integrity", sri})
	}

	return &attrOutput{id: p.ID(), set: set, options: cssOptions, artifacts: []string{rel}}, nil
}

func (p *CSS) compile(ctx context.Context) ([]byte, error) {
	if p.mode == cssPlain {
		p.report("reading " + p.file.Name)

		return p.file.Read()
	}

	name := tools.Sass
	if p.mode == cssTailwind {
		name = tools.TailwindCSS
	}
	tool, err := p.resolveTool(name)
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "skiff-css-*")
	if err != nil {
		return nil, skifferrors.NewPipelineError(skifferrors.ErrCodeIO, "failed to create temp directory", err)
	}
	defer os.RemoveAll(tmp)
	out := filepath.Join(tmp, p.file.Stem+".css")

	var args []string
	optimize := p.env.Config.Build.Optimize
	if p.mode == cssSass {
		args = append(args, "--no-source-map")
		if optimize {
			args = append(args, "--style=compressed")
		}
		args = append(args, p.file.Path, out)
	} else {
		args = append(args, "--input", p.file.Path, "--output", out)
		if optimize {
			args = append(args, "--minify")
		}
		if p.tailwindConfig != "" {
			args = append(args, "--config", p.tailwindConfig)
		}
	}

	p.report("compiling " + p.file.Name + " with " + name)
	if _, err := tool.Run(ctx, tools.Invocation{Args: args, Dir: p.in.ManifestDir}); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(out)
	if err != nil {
		return nil, skifferrors.NewPipelineError(skifferrors.ErrCodeUnexpectedOutput,
			name+" did not produce the expected output", err).WithPath(out)
	}

	return content, nil
}
