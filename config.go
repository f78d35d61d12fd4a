package nativebind

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the static description of one vendoring run: which revision to
// fetch, how to build it, what to bind and where the results go.
type Config struct {
	Source    SourceConfig    `toml:"source" yaml:"source"`
	Staging   StagingConfig   `toml:"staging" yaml:"staging"`
	Configure ConfigureConfig `toml:"configure" yaml:"configure"`
	Collect   CollectConfig   `toml:"collect" yaml:"collect"`
	Compile   CompileConfig   `toml:"compile" yaml:"compile"`
	Extract   ExtractConfig   `toml:"extract" yaml:"extract"`
	Policy    PolicyConfig    `toml:"policy" yaml:"policy"`
	Patch     PatchConfig     `toml:"patch" yaml:"patch"`
	Output    OutputConfig    `toml:"output" yaml:"output"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	GitHub    GitHubConfig    `toml:"github" yaml:"github"`
}

// SourceConfig pins the upstream repository. Commit wins over Branch.
type SourceConfig struct {
	URL        string `toml:"url" yaml:"url" validate:"required"`
	Commit     string `toml:"commit" yaml:"commit" validate:"omitempty,hexadecimal,min=7,max=40"`
	Branch     string `toml:"branch" yaml:"branch" validate:"required_without=Commit"`
	Submodules bool   `toml:"submodules" yaml:"submodules"`
	Depth      int    `toml:"depth" yaml:"depth" validate:"gte=0"` // 0 clones the full history
}

// StagingConfig controls the private working tree. An empty Root selects a
// fresh <tmp>/nativebind-<uuid> directory per run.
type StagingConfig struct {
	Root string `toml:"root" yaml:"root"`
}

// ConfigurePolicy decides whether a failing configure step stops the run.
type ConfigurePolicy string

const (
	ConfigureAdvisory ConfigurePolicy = "advisory"
	ConfigureStrict   ConfigurePolicy = "strict"
)

type ConfigureConfig struct {
	Command []string          `toml:"command" yaml:"command"` // empty skips the step
	Dir     string            `toml:"dir" yaml:"dir"`         // defaults to {{source}}
	Env     map[string]string `toml:"env" yaml:"env"`
	Policy  ConfigurePolicy   `toml:"policy" yaml:"policy" validate:"oneof=advisory strict"`
}

type CollectConfig struct {
	Roots        []string `toml:"roots" yaml:"roots" validate:"required,min=1,dive,required"` // relative to the source tree
	Extensions   []string `toml:"extensions" yaml:"extensions" validate:"required,min=1,dive,required"`
	ExtraSources []string `toml:"extra_sources" yaml:"extra_sources"` // outside the source tree, e.g. a C shim
}

type CompileConfig struct {
	Compiler     string   `toml:"compiler" yaml:"compiler" validate:"required"`
	Alternatives []string `toml:"compiler_alternatives" yaml:"compiler_alternatives" validate:"dive,required"` // tried in order when Compiler is not on PATH
	Archiver     string   `toml:"archiver" yaml:"archiver" validate:"required"`
	Library      string   `toml:"library" yaml:"library" validate:"required,excludesall=/"`
	Flags        []string `toml:"flags" yaml:"flags"` // candidates, probed before use
	Base         []string `toml:"base" yaml:"base"`   // always passed, never probed
	Includes     []string `toml:"includes" yaml:"includes"`
	Defines      []string `toml:"defines" yaml:"defines"`
	Jobs         int      `toml:"jobs" yaml:"jobs" validate:"gte=1"`
}

type ExtractConfig struct {
	Clang     string   `toml:"clang" yaml:"clang" validate:"required"`
	Header    string   `toml:"header" yaml:"header" validate:"required"` // in the source tree; ./ or ../ is config-relative
	ExtraArgs []string `toml:"extra_args" yaml:"extra_args"`
	Package   string   `toml:"package" yaml:"package" validate:"required"`
	Prefix    string   `toml:"prefix" yaml:"prefix"` // prefix for C-side identifiers
}

type PolicyConfig struct {
	Allow  []string `toml:"allow" yaml:"allow" validate:"required,min=1,dive,required"`
	Opaque []string `toml:"opaque" yaml:"opaque" validate:"dive,required"`
}

type PatchConfig struct {
	StrictCounts bool        `toml:"strict_counts" yaml:"strict_counts"`
	Rules        []PatchRule `toml:"rules" yaml:"rules" validate:"dive"`
}

type OutputConfig struct {
	LibDir      string   `toml:"lib_dir" yaml:"lib_dir" validate:"required"`
	BindingFile string   `toml:"binding_file" yaml:"binding_file" validate:"required"`
	LDFlags     []string `toml:"ldflags" yaml:"ldflags"`
	CXXRuntime  string   `toml:"cxx_runtime" yaml:"cxx_runtime"` // stdc++ or c++
}

type LoggingConfig struct {
	Level string `toml:"level" yaml:"level" validate:"oneof=debug info warn error"`
	File  string `toml:"file" yaml:"file"` // empty logs to the console only
}

// GitHubConfig enables revision resolution through the GitHub API for
// github.com URLs. Without it the resolver falls back to git ls-remote.
type GitHubConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Token   string `toml:"token" yaml:"token"`
}

// NewDefaultConfig returns the defaults every loaded file is merged over.
func NewDefaultConfig() *Config {
	cxxRuntime := "stdc++"
	if runtime.GOOS == "darwin" {
		cxxRuntime = "c++"
	}

	return &Config{
		Configure: ConfigureConfig{
			Command: []string{"cmake", "-S", "{{source}}", "-B", "{{build}}/cmake", "-DCMAKE_BUILD_TYPE=Release"},
			Policy:  ConfigureAdvisory,
		},
		Collect: CollectConfig{
			Roots:      []string{"."},
			Extensions: []string{".cpp"},
		},
		Compile: CompileConfig{
			Compiler:     "c++",
			Alternatives: []string{"g++", "clang++"},
			Archiver:     "ar",
			Library:      "native",
			Flags: []string{
				"-std=c++17",
				"-march=native",
				"-msse4.1",
				"-finline-functions",
				"-ffile-prefix-map={{staging}}=.",
				"-fdebug-prefix-map={{staging}}=.",
			},
			Base:     []string{"-fPIC", "-O2"},
			Includes: []string{"{{source}}"},
			Jobs:     runtime.NumCPU(),
		},
		Extract: ExtractConfig{
			Clang:   "clang++",
			Package: "native",
			Prefix:  "nb",
		},
		Output: OutputConfig{
			LibDir:      "lib",
			BindingFile: "native/binding.go",
			CXXRuntime:  cxxRuntime,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig merges the given files over the defaults, later files
// overriding earlier ones, then applies NATIVEBIND_* environment overrides.
// Files ending in .yaml or .yml are read as YAML, everything else as TOML.
// Relative output and extra-source paths, and an extract header written as
// ./ or ../, are resolved against the directory of the last file loaded.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	baseDir := ""
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		default:
			err = toml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
		baseDir = filepath.Dir(path)
	}

	applyEnvOverrides(config)

	if baseDir != "" {
		config.resolvePaths(baseDir)
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if url := os.Getenv("NATIVEBIND_SOURCE_URL"); url != "" {
		config.Source.URL = url
	}
	if commit := os.Getenv("NATIVEBIND_SOURCE_COMMIT"); commit != "" {
		config.Source.Commit = commit
	}
	if branch := os.Getenv("NATIVEBIND_SOURCE_BRANCH"); branch != "" {
		config.Source.Branch = branch
	}
	if root := os.Getenv("NATIVEBIND_STAGING_ROOT"); root != "" {
		config.Staging.Root = root
	}
	if policy := os.Getenv("NATIVEBIND_CONFIGURE_POLICY"); policy != "" {
		config.Configure.Policy = ConfigurePolicy(policy)
	}
	if compiler := os.Getenv("NATIVEBIND_COMPILER"); compiler != "" {
		config.Compile.Compiler = compiler
	}
	if jobs := os.Getenv("NATIVEBIND_JOBS"); jobs != "" {
		if j, err := strconv.Atoi(jobs); err == nil {
			config.Compile.Jobs = j
		}
	}
	if clang := os.Getenv("NATIVEBIND_CLANG"); clang != "" {
		config.Extract.Clang = clang
	}
	if level := os.Getenv("NATIVEBIND_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if strict := os.Getenv("NATIVEBIND_PATCH_STRICT_COUNTS"); strict != "" {
		if b, err := strconv.ParseBool(strict); err == nil {
			config.Patch.StrictCounts = b
		}
	}
	if token := os.Getenv("NATIVEBIND_GITHUB_TOKEN"); token != "" {
		config.GitHub.Token = token
	} else if token := os.Getenv("GITHUB_TOKEN"); token != "" && config.GitHub.Token == "" {
		config.GitHub.Token = token
	}
}

func (c *Config) resolvePaths(baseDir string) {
	abs := func(path string) string {
		if path == "" || filepath.IsAbs(path) || strings.Contains(path, "{{") {
			return path
		}
		return filepath.Join(baseDir, path)
	}

	c.Output.LibDir = abs(c.Output.LibDir)
	c.Output.BindingFile = abs(c.Output.BindingFile)
	c.Logging.File = abs(c.Logging.File)
	// Relative headers are looked up in the source tree, so a
	// config-relative one has to become absolute.
	if strings.HasPrefix(c.Extract.Header, "./") || strings.HasPrefix(c.Extract.Header, "../") {
		if header, err := filepath.Abs(filepath.Join(baseDir, c.Extract.Header)); err == nil {
			c.Extract.Header = header
		}
	}
	for i, extra := range c.Collect.ExtraSources {
		c.Collect.ExtraSources[i] = abs(extra)
	}
}

// Validate checks field constraints and the patch rules.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := ValidatePatchRules(c.Patch.Rules); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := NewSymbolPolicy(c.Policy.Allow, c.Policy.Opaque); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}
