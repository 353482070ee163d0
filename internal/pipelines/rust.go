package pipelines

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/template"

	"github.com/conneroisu/skiff/internal/asset"
	skifferrors "github.com/conneroisu/skiff/internal/errors"
	"github.com/conneroisu/skiff/internal/tools"
)

const wasmTarget = "wasm32-unknown-unknown"

// Rust application roles.
const (
	rustMain   = "main"
	rustWorker = "worker"
)

const defaultPreloadTemplate = `<link rel="modulepreload" href="{{.JS}}" crossorigin="anonymous"{{with .JSIntegrity}} integrity="{{.}}"{{end}}>
<link rel="preload" href="{{.Wasm}}" as="fetch" type="application/wasm" crossorigin="anonymous"{{with .WasmIntegrity}} integrity="{{.}}"{{end}}>`

const defaultScriptTemplate = `<script type="module">
import init, * as bindings from '{{.JS}}';
const wasm = await init({ module_or_path: '{{.Wasm}}' });
window.wasmBindings = bindings;
dispatchEvent(new CustomEvent("SkiffApplicationStarted", {detail: {wasm}}));
</script>`

// RustTemplateData is passed to the script and preload templates.
type RustTemplateData struct {
	ID            int
	Name          string
	JS            string
	Wasm          string
	JSIntegrity   string
	WasmIntegrity string
}

// Rust compiles a cargo project to WebAssembly, generates JS bindings and
// emits the loader plus the binary. The main role injects preload links and
// a module script into <head>. The worker role only emits artifacts, with an
// optional importScripts loader shim.
type Rust struct {
	base
	manifest      string
	crateDir      string
	bin           string
	role          string
	features      string
	noDefault     bool
	allFeatures   bool
	wasmOpt       string
	bindgenTarget string
	loaderShim    bool
	target        string
	sriKind       string
	scriptTmpl    *template.Template
	preloadTmpl   *template.Template
}

// NewRust constructs a rust pipeline. href names a Cargo.toml or the
// directory holding one; it defaults to the manifest directory.
func NewRust(env *Env, in Input) (Pipeline, *Input, error) {
	href, ok := in.Attr("href")
	if !ok || href == "" {
		href = "."
	}
	src, err := asset.NewPath(in.ManifestDir, href)
	if err != nil {
		return nil, nil, annotate(err, in, wrapConstruction)
	}
	manifest := src.Path
	if src.IsDir() {
		f, err := asset.NewFile(src.Path, "Cargo.toml")
		if err != nil {
			return nil, nil, annotate(err, in, wrapConstruction)
		}
		manifest = f.Path
	}

	p := &Rust{
		base:     base{env: env, in: in, kind: RoleRust},
		manifest: manifest,
		crateDir: filepath.Dir(manifest),
		role:     rustMain,
	}
	p.bin, _ = in.Attr("data-bin")
	p.features, _ = in.Attr("data-cargo-features")
	p.noDefault = in.Flag("data-cargo-no-default-features")
	p.allFeatures = in.Flag("data-cargo-all-features")
	p.loaderShim = in.Flag("data-loader-shim")

	if role, ok := in.Attr("data-type"); ok && role != "" {
		if role != rustMain && role != rustWorker {
			return nil, nil, invalidAttr(in, "data-type", role, "main or worker")
		}
		p.role = role
	}

	if level, ok := in.Attr("data-wasm-opt"); ok && level != "" {
		switch level {
		case "0":
		case "1", "2", "3", "4", "s", "z":
			p.wasmOpt = level
		default:
			return nil, nil, invalidAttr(in, "data-wasm-opt", level, "0, 1, 2, 3, 4, s or z")
		}
	}

	p.bindgenTarget = "web"
	if p.role == rustWorker {
		p.bindgenTarget = "no-modules"
	}
	if bt, ok := in.Attr("data-bindgen-target"); ok && bt != "" {
		if bt != "web" && bt != "no-modules" {
			return nil, nil, invalidAttr(in, "data-bindgen-target", bt, "web or no-modules")
		}
		p.bindgenTarget = bt
	}

	if p.target, err = targetDir(in); err != nil {
		return nil, nil, err
	}
	if p.sriKind, err = integrityKind(env, in); err != nil {
		return nil, nil, err
	}

	rustCfg := env.Config.Rust
	if p.scriptTmpl, err = parseTemplate(in, "script", rustCfg.ScriptTemplate, defaultScriptTemplate); err != nil {
		return nil, nil, err
	}
	if p.preloadTmpl, err = parseTemplate(in, "preload", rustCfg.PreloadTemplate, defaultPreloadTemplate); err != nil {
		return nil, nil, err
	}

	return p, nil, nil
}

func invalidAttr(in Input, attr, val, expected string) error {
	return skifferrors.NewConstructionError(skifferrors.ErrCodeInvalidAttribute,
		fmt.Sprintf("%s %q is not one of %s", attr, val, expected)).WithTag(in.Tag)
}

func parseTemplate(in Input, name, custom, fallback string) (*template.Template, error) {
	text := fallback
	if strings.TrimSpace(custom) != "" {
		text = custom
	}
	t, err := template.New(name).Parse(text)
	if err != nil {
		return nil, skifferrors.NewConstructionError(skifferrors.ErrCodeInvalidAttribute,
			fmt.Sprintf("invalid rust %s template: %v", name, err)).WithTag(in.Tag)
	}

	return t, nil
}

type cargoMetadata struct {
	Packages        []cargoPackage `json:"packages"`
	TargetDirectory string         `json:"target_directory"`
}

type cargoPackage struct {
	Name         string        `json:"name"`
	ManifestPath string        `json:"manifest_path"`
	Targets      []cargoTarget `json:"targets"`
}

type cargoTarget struct {
	Name       string   `json:"name"`
	Kind       []string `json:"kind"`
	CrateTypes []string `json:"crate_types"`
}

// cargoMessage is one line of `cargo build --message-format=json`.
type cargoMessage struct {
	Reason    string      `json:"reason"`
	Target    cargoTarget `json:"target"`
	Filenames []string    `json:"filenames"`
}

func (p *Rust) Spawn(ctx context.Context) (Output, error) {
	cargo, err := p.resolveTool(tools.Cargo)
	if err != nil {
		return nil, p.fail(err)
	}

	p.report("reading cargo metadata")
	meta, err := p.metadata(ctx, cargo)
	if err != nil {
		return nil, p.fail(err)
	}
	target, err := p.selectTarget(meta)
	if err != nil {
		return nil, p.fail(err)
	}

	// cargo writes its target dir and lock file next to the sources
	p.env.ignore(meta.TargetDirectory, filepath.Join(p.crateDir, "Cargo.lock"))

	p.report("compiling " + target.Name)
	wasmPath, err := p.build(ctx, cargo, meta, target)
	if err != nil {
		return nil, p.fail(err)
	}

	tmp, err := os.MkdirTemp("", "skiff-rust-*")
	if err != nil {
		return nil, p.fail(skifferrors.NewPipelineError(skifferrors.ErrCodeIO, "failed to create temp directory", err))
	}
	defer os.RemoveAll(tmp)

	p.report("generating bindings for " + target.Name)
	jsPath, bgPath, err := p.bindgen(ctx, wasmPath, target.Name, tmp)
	if err != nil {
		return nil, p.fail(err)
	}

	if p.wasmOpt != "" && p.env.Config.Build.Release {
		p.report("optimizing " + filepath.Base(bgPath))
		if bgPath, err = p.optimize(ctx, bgPath, tmp); err != nil {
			return nil, p.fail(err)
		}
	}

	out, err := p.emit(target.Name, jsPath, bgPath)
	if err != nil {
		return nil, p.fail(err)
	}

	return out, nil
}

func (p *Rust) metadata(ctx context.Context, cargo *tools.Tool) (*cargoMetadata, error) {
	res, err := cargo.Run(ctx, tools.Invocation{
		Args: []string{"metadata", "--format-version", "1", "--no-deps", "--manifest-path", p.manifest},
		Dir:  p.crateDir,
	})
	if err != nil {
		return nil, err
	}

	var meta cargoMetadata
	if err := json.Unmarshal(res.Stdout, &meta); err != nil {
		return nil, skifferrors.NewPipelineError(skifferrors.ErrCodeUnexpectedOutput, "failed to parse cargo metadata", err)
	}
	if meta.TargetDirectory == "" {
		meta.TargetDirectory = filepath.Join(p.crateDir, "target")
	}

	return &meta, nil
}

func (p *Rust) selectTarget(meta *cargoMetadata) (cargoTarget, error) {
	pkg, err := p.selectPackage(meta)
	if err != nil {
		return cargoTarget{}, err
	}

	if p.bin != "" {
		for _, t := range pkg.Targets {
			if t.Name == p.bin && slices.Contains(t.Kind, "bin") {
				return t, nil
			}
		}

		return cargoTarget{}, skifferrors.NewPipelineError(skifferrors.ErrCodeUnexpectedOutput,
			fmt.Sprintf("package %s has no binary named %s", pkg.Name, p.bin), nil)
	}

	var bins []cargoTarget
	for _, t := range pkg.Targets {
		if slices.Contains(t.Kind, "cdylib") {
			return t, nil
		}
		if slices.Contains(t.Kind, "bin") {
			bins = append(bins, t)
		}
	}
	if len(bins) == 1 {
		return bins[0], nil
	}

	return cargoTarget{}, skifferrors.NewPipelineError(skifferrors.ErrCodeUnexpectedOutput,
		fmt.Sprintf("package %s has %d binaries and no cdylib; set data-bin", pkg.Name, len(bins)), nil)
}

func (p *Rust) selectPackage(meta *cargoMetadata) (*cargoPackage, error) {
	for i := range meta.Packages {
		if filepath.Clean(meta.Packages[i].ManifestPath) == p.manifest {
			return &meta.Packages[i], nil
		}
	}
	if len(meta.Packages) == 1 {
		return &meta.Packages[0], nil
	}

	return nil, skifferrors.NewPipelineError(skifferrors.ErrCodeUnexpectedOutput,
		"cargo metadata does not list a package for "+p.manifest, nil)
}

func (p *Rust) build(ctx context.Context, cargo *tools.Tool, meta *cargoMetadata, target cargoTarget) (string, error) {
	args := []string{"build", "--target=" + wasmTarget, "--manifest-path", p.manifest, "--message-format=json"}
	profile := "debug"
	if p.env.Config.Build.Release {
		args = append(args, "--release")
		profile = "release"
	}
	if slices.Contains(target.Kind, "bin") {
		args = append(args, "--bin", target.Name)
	} else {
		args = append(args, "--lib")
	}
	switch {
	case p.allFeatures:
		args = append(args, "--all-features")
	case p.features != "":
		args = append(args, "--features", p.features)
	}
	if p.noDefault {
		args = append(args, "--no-default-features")
	}

	res, err := cargo.Run(ctx, tools.Invocation{Args: args, Dir: p.crateDir})
	if err != nil {
		return "", err
	}

	if wasm := wasmFromMessages(res.Stdout, target.Name); wasm != "" {
		return wasm, nil
	}

	// libraries are emitted with underscores
	name := target.Name
	if !slices.Contains(target.Kind, "bin") {
		name = strings.ReplaceAll(name, "-", "_")
	}
	wasm := filepath.Join(meta.TargetDirectory, wasmTarget, profile, name+".wasm")
	if _, err := os.Stat(wasm); err != nil {
		return "", skifferrors.NewPipelineError(skifferrors.ErrCodeUnexpectedOutput,
			"cargo did not produce a wasm artifact", err).WithPath(wasm)
	}

	return wasm, nil
}

func wasmFromMessages(stdout []byte, name string) string {
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	found := ""
	for scanner.Scan() {
		var msg cargoMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Reason != "compiler-artifact" || msg.Target.Name != name {
			continue
		}
		for _, f := range msg.Filenames {
			if strings.HasSuffix(f, ".wasm") {
				found = f
			}
		}
	}

	return found
}

func (p *Rust) bindgen(ctx context.Context, wasm, name, outDir string) (string, string, error) {
	tool, err := p.resolveTool(tools.WasmBindgen)
	if err != nil {
		return "", "", err
	}
	args := []string{"--target", p.bindgenTarget, "--out-dir", outDir, "--out-name", name, "--no-typescript", wasm}
	if _, err := tool.Run(ctx, tools.Invocation{Args: args, Dir: p.crateDir}); err != nil {
		return "", "", err
	}

	jsPath := filepath.Join(outDir, name+".js")
	bgPath := filepath.Join(outDir, name+"_bg.wasm")
	for _, f := range []string{jsPath, bgPath} {
		if _, err := os.Stat(f); err != nil {
			return "", "", skifferrors.NewPipelineError(skifferrors.ErrCodeUnexpectedOutput,
				"wasm-bindgen did not produce "+filepath.Base(f), err).WithPath(f)
		}
	}

	return jsPath, bgPath, nil
}

func (p *Rust) optimize(ctx context.Context, wasm, outDir string) (string, error) {
	tool, err := p.resolveTool(tools.WasmOpt)
	if err != nil {
		return "", err
	}
	out := filepath.Join(outDir, "opt_"+filepath.Base(wasm))
	if _, err := tool.Run(ctx, tools.Invocation{Args: []string{"-O" + p.wasmOpt, "-o", out, wasm}, Dir: p.crateDir}); err != nil {
		return "", err
	}

	return out, nil
}

func (p *Rust) emit(name, jsPath, bgPath string) (Output, error) {
	js, err := os.ReadFile(jsPath)
	if err != nil {
		return nil, skifferrors.NewPipelineError(skifferrors.ErrCodeIO, "failed to read bindings", err).WithPath(jsPath)
	}
	wasm, err := os.ReadFile(bgPath)
	if err != nil {
		return nil, skifferrors.NewPipelineError(skifferrors.ErrCodeIO, "failed to read wasm", err).WithPath(bgPath)
	}

	hashing := p.env.hashing(p.in)
	jsName := asset.HashedName(name+".js", js, hashing)
	wasmName := asset.HashedName(name+"_bg.wasm", wasm, hashing)

	jsRel, err := p.writeArtifact(p.target, jsName, js)
	if err != nil {
		return nil, err
	}
	wasmRel, err := p.writeArtifact(p.target, wasmName, wasm)
	if err != nil {
		return nil, err
	}
	artifacts := []string{jsRel, wasmRel}

	if p.role == rustWorker {
		if p.loaderShim {
			shim := fmt.Sprintf("importScripts('./%s');\nwasm_bindgen('./%s');\n", jsName, wasmName)
			shimRel, err := p.writeArtifact(p.target, name+"_loader.js", []byte(shim))
			if err != nil {
				return nil, err
			}
			artifacts = append(artifacts, shimRel)
		}

		return &replaceOutput{id: p.ID(), artifacts: artifacts}, nil
	}

	data := RustTemplateData{ID: p.ID(), Name: name, JS: p.env.publicPath(jsRel), Wasm: p.env.publicPath(wasmRel)}
	if data.JSIntegrity, err = p.integrity(p.sriKind, js); err != nil {
		return nil, err
	}
	if data.WasmIntegrity, err = p.integrity(p.sriKind, wasm); err != nil {
		return nil, err
	}

	preload, err := execTemplate(p.preloadTmpl, data)
	if err != nil {
		return nil, err
	}
	script, err := execTemplate(p.scriptTmpl, data)
	if err != nil {
		return nil, err
	}

	return &replaceOutput{id: p.ID(), head: []string{preload, script}, artifacts: artifacts}, nil
}

func execTemplate(t *template.Template, data RustTemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", skifferrors.NewPipelineError(skifferrors.ErrCodeUnexpectedOutput,
			"failed to render rust "+t.Name()+" template", err)
	}

	return buf.String(), nil
}
