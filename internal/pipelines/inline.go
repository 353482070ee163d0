package pipelines

import (
	"context"
	"fmt"
	"strings"

	"github.com/conneroisu/skiff/internal/asset"
	skifferrors "github.com/conneroisu/skiff/internal/errors"
)

// Inline content types.
const (
	inlineCSS    = "css"
	inlineJS     = "js"
	inlineModule = "module"
	inlineHTML   = "html"
	inlineSVG    = "svg"
)

// Inline replaces the declaring element with the content of its source.
type Inline struct {
	base
	file        *asset.File
	contentType string
}

// NewInline constructs an inline pipeline. The content type comes from the
// type attribute, or the source extension when absent.
func NewInline(env *Env, in Input) (Pipeline, *Input, error) {
	file, err := resolveFile(in, "href")
	if err != nil {
		return nil, nil, err
	}

	typ, ok := in.Attr("type")
	if !ok || typ == "" {
		typ = inlineTypeFromExt(file.Ext)
	}
	typ = strings.ToLower(typ)

	switch typ {
	case inlineCSS, inlineJS, inlineModule, inlineHTML, inlineSVG:
	default:
		return nil, nil, skifferrors.NewConstructionError(skifferrors.ErrCodeInvalidAttribute,
			fmt.Sprintf("unknown inline type %q (expected css, js, module, html or svg)", typ)).WithTag(in.Tag)
	}

	return &Inline{base: base{env: env, in: in, kind: RoleInline}, file: file, contentType: typ}, nil, nil
}

func inlineTypeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".css":
		return inlineCSS
	case ".js":
		return inlineJS
	case ".mjs":
		return inlineModule
	case ".html", ".htm":
		return inlineHTML
	case ".svg":
		return inlineSVG
	default:
		return strings.TrimPrefix(ext, ".")
	}
}

func (p *Inline) Spawn(ctx context.Context) (Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, p.fail(err)
	}
	p.report("inlining " + p.file.Name)

	content, err := p.file.Read()
	if err != nil {
		return nil, p.fail(err)
	}

	var fragment string
	switch p.contentType {
	case inlineCSS:
		fragment = "<style>" + string(content) + "</style>"
	case inlineJS:
		fragment = "<script>" + string(content) + "</script>"
	case inlineModule:
		fragment = `<script type="module">` + string(content) + "</script>"
	default:
		fragment = string(content)
	}

	return &replaceOutput{id: p.ID(), html: fragment}, nil
}
