package nativebind

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Archive is the static library produced from the compilation units.
type Archive struct {
	Path    string   // <build>/lib/lib<name>.a
	Name    string   // library name without prefix or suffix
	Objects []string // object files in archive order
}

// CompilerDriver probes compiler flags, compiles every unit into an object
// file and bundles the objects into a static archive.
type CompilerDriver struct{}

func (d *CompilerDriver) Name() StageName {
	return StageCompile
}

func (d *CompilerDriver) RequiredTools(config *Config) []ToolRequirement {
	return []ToolRequirement{
		{Name: config.Compile.Compiler, Alternatives: config.Compile.Alternatives, Purpose: "compile the vendored sources"},
		{Name: config.Compile.Archiver, Purpose: "bundle objects into a static archive"},
	}
}

func (d *CompilerDriver) Run(ctx context.Context, run *Run) error {
	cfg := run.Config.Compile
	buildDir := run.Staging.BuildDir()

	compiler := resolveTool(cfg.Compiler, cfg.Alternatives)
	if compiler != cfg.Compiler {
		run.Logger.Info().Str("configured", cfg.Compiler).Str("compiler", compiler).Msg("Using alternative compiler")
	}

	prober := NewFlagProber(run.Runner, filepath.Join(buildDir, "flags"))
	accepted, rejected, err := prober.Filter(ctx, compiler, run.expandAll(cfg.Flags))
	if err != nil {
		return err
	}
	for _, flag := range rejected {
		run.Logger.Debug().Str("flag", flag).Str("compiler", compiler).Msg("Compiler flag not supported, dropped")
	}

	includes := make([]string, 0, len(cfg.Includes))
	for _, inc := range cfg.Includes {
		includes = append(includes, run.Staging.Path(inc))
	}

	build := &BuildConfiguration{
		Compiler: compiler,
		Base:     run.expandAll(cfg.Base),
		Flags:    accepted,
		Rejected: rejected,
		Includes: uniqueStrings(includes),
		Defines:  cfg.Defines,
	}
	run.Build = build
	run.Logger.Info().
		Strs("flags", accepted).
		Strs("rejected", rejected).
		Msg("Build configuration resolved")

	jobs := cfg.Jobs
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}

	archive, err := CompileArchive(ctx, CompileRequest{
		Runner:     run.Runner,
		Build:      build,
		Units:      run.Units,
		SourceRoot: run.Staging.SourceDir(),
		ObjectDir:  filepath.Join(buildDir, "obj"),
		LibDir:     filepath.Join(buildDir, "lib"),
		Library:    cfg.Library,
		Archiver:   cfg.Archiver,
		Jobs:       jobs,
		Output:     run.appendOutput,
	})
	if err != nil {
		return err
	}

	run.Archive = archive
	run.Logger.Info().
		Str("archive", archive.Path).
		Int("objects", len(archive.Objects)).
		Msg("Static archive built")
	return nil
}

// CompileRequest is the input of CompileArchive.
type CompileRequest struct {
	Runner     Runner
	Build      *BuildConfiguration
	Units      []string
	SourceRoot string // object names are derived from paths relative to it
	ObjectDir  string
	LibDir     string
	Library    string
	Archiver   string
	Jobs       int
	Output     func([]byte) // receives compiler and archiver output, may be nil
}

// CompileArchive compiles every unit with at most Jobs compilers running at
// once, then archives the objects in sorted order. The first failure cancels
// the remaining compilations. Object and archive member names depend only on
// the unit paths relative to SourceRoot, so the archive content does not
// depend on where the staging tree lives.
func CompileArchive(ctx context.Context, req CompileRequest) (*Archive, error) {
	if len(req.Units) == 0 {
		return nil, errors.New("no compilation units")
	}
	if err := os.MkdirAll(req.ObjectDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(req.LibDir, 0o755); err != nil {
		return nil, err
	}

	output := req.Output
	if output == nil {
		output = func([]byte) {}
	}

	names := objectNames(req.SourceRoot, req.Units)
	objects := make([]string, len(req.Units))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(req.Jobs, 1))

	for i, unit := range req.Units {
		obj := filepath.Join(req.ObjectDir, names[i])
		objects[i] = obj

		g.Go(func() error {
			args := append(req.Build.Args(), "-c", unit, "-o", obj)
			out, err := req.Runner.Run(gctx, Command{Name: req.Build.Compiler, Args: args, Dir: req.SourceRoot})

			mu.Lock()
			output(out)
			mu.Unlock()

			if err != nil {
				return fmt.Errorf("compile %s: %w", unit, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sorted := append([]string{}, objects...)
	sort.Strings(sorted)

	archivePath := filepath.Join(req.LibDir, "lib"+req.Library+".a")
	if err := os.Remove(archivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	args := append([]string{archiveMode(), archivePath}, sorted...)
	out, err := req.Runner.Run(ctx, Command{
		Name: req.Archiver,
		Args: args,
		Dir:  req.LibDir,
		Env:  map[string]string{"ZERO_AR_DATE": "1"},
	})
	output(out)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", archivePath, err)
	}

	return &Archive{Path: archivePath, Name: req.Library, Objects: sorted}, nil
}

// archiveMode returns the ar operation: create, insert and index, plus
// deterministic mode (zeroed timestamps and ids) where ar supports it. The
// macOS ar has no D modifier and honours ZERO_AR_DATE instead.
func archiveMode() string {
	if runtime.GOOS == "darwin" {
		return "crs"
	}
	return "crsD"
}

// objectNames maps each unit to a unique object file name derived from its
// path relative to root, e.g. "src/seal/util/ntt.cpp" -> "src_seal_util_ntt.o".
// Units outside root are named from their absolute path. Collisions get a
// numeric suffix in unit order.
func objectNames(root string, units []string) []string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "up")
	names := make([]string, len(units))
	used := make(map[string]int, len(units))

	for i, unit := range units {
		rel, err := filepath.Rel(root, unit)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = "ext" + filepath.ToSlash(unit)
		}
		rel = filepath.ToSlash(rel)
		base := replacer.Replace(strings.TrimSuffix(rel, filepath.Ext(rel)))

		name := base + ".o"
		if n := used[base]; n > 0 {
			name = base + "-" + strconv.Itoa(n) + ".o"
		}
		used[base]++
		names[i] = name
	}
	return names
}
