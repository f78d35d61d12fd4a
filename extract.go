package nativebind

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
)

// BindingArtifact is the generated Go source and the model it was rendered
// from.
type BindingArtifact struct {
	Source []byte
	Model  *BindingModel
}

// Extractor reads the public surface of the library through clang's JSON
// AST, applies the symbol policy and renders the cgo binding.
type Extractor struct{}

func (e *Extractor) Name() StageName {
	return StageExtract
}

func (e *Extractor) RequiredTools(config *Config) []ToolRequirement {
	return []ToolRequirement{
		{Name: config.Extract.Clang, Purpose: "dump the library's public declarations"},
	}
}

func (e *Extractor) Run(ctx context.Context, run *Run) error {
	cfg := run.Config
	if run.Build == nil {
		return fmt.Errorf("no build configuration; the compile stage must run first")
	}

	policy, err := NewSymbolPolicy(cfg.Policy.Allow, cfg.Policy.Opaque)
	if err != nil {
		return err
	}

	header := run.Staging.Path(cfg.Extract.Header)
	ast, err := run.Runner.Run(ctx, Command{
		Name:       cfg.Extract.Clang,
		Args:       clangArgs(run.Build, run.expandAll(cfg.Extract.ExtraArgs), header),
		Dir:        run.Staging.SourceDir(),
		StdoutOnly: true,
	})
	if err != nil {
		return err
	}

	decls, err := ParseClangAST(ast)
	if err != nil {
		return err
	}

	probeDir := filepath.Join(run.Staging.BuildDir(), "probe")
	model, err := BindHeader(decls, policy, cfg.Extract.Prefix, runtime.GOOS, func(reqs []LayoutRequest) (map[string]*Layout, error) {
		run.Logger.Debug().Int("types", len(reqs)).Msg("Probing native layouts")
		return ProbeLayouts(ctx, run.Runner, run.Build, header, reqs, probeDir)
	})
	if err != nil {
		return err
	}

	for _, t := range model.Types {
		if o, ok := t.Repr.(Opaque); ok && o.Size > 0 {
			run.Logger.Debug().Str("type", t.Native).Str("reason", o.Reason).Msg("Type emitted opaque")
		}
	}
	for _, s := range model.Skipped {
		run.Logger.Debug().Str("symbol", s.Native).Str("reason", s.Reason).Msg("Symbol skipped")
	}

	ldflags, err := linkFlags(cfg)
	if err != nil {
		return err
	}
	src, err := RenderBinding(model, RenderOptions{
		Package:  cfg.Extract.Package,
		Source:   cfg.Source.URL,
		Revision: run.Revision,
		LDFlags:  ldflags,
		Filename: filepath.Base(cfg.Output.BindingFile),
	})
	if err != nil {
		return err
	}

	run.Binding = &BindingArtifact{Source: src, Model: model}
	run.Logger.Info().
		Int("types", len(model.Types)).
		Int("enums", len(model.Enums)).
		Int("functions", len(model.Functions)).
		Int("skipped", len(model.Skipped)).
		Msg("Binding generated")
	return nil
}

// clangArgs builds the AST dump invocation with the dialect, include paths
// and defines the library was compiled with.
func clangArgs(build *BuildConfiguration, extra []string, header string) []string {
	args := []string{"-x", "c++"}
	if dialect := build.Dialect(); dialect != "" {
		args = append(args, dialect)
	}
	for _, inc := range build.Includes {
		args = append(args, "-I"+inc)
	}
	for _, def := range build.Defines {
		args = append(args, "-D"+def)
	}
	args = append(args, extra...)
	return append(args, "-fsyntax-only", "-Xclang", "-ast-dump=json", header)
}

// linkFlags points the binding at the published archive, relative to the
// binding's own directory.
func linkFlags(cfg *Config) ([]string, error) {
	rel, err := filepath.Rel(filepath.Dir(cfg.Output.BindingFile), cfg.Output.LibDir)
	if err != nil {
		return nil, fmt.Errorf("locate %s from %s: %w", cfg.Output.LibDir, cfg.Output.BindingFile, err)
	}
	flags := []string{"-L${SRCDIR}/" + filepath.ToSlash(rel), "-l" + cfg.Compile.Library}
	if cfg.Output.CXXRuntime != "" {
		flags = append(flags, "-l"+cfg.Output.CXXRuntime)
	}
	flags = append(flags, "-lm")
	return append(flags, cfg.Output.LDFlags...), nil
}
