package nativebind

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// upstream scripts every tool the standard stages drive. fail, when set, is
// consulted first and can make any command fail.
type upstream struct {
	ast  []byte
	fail func(Command) error
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	ast, err := os.ReadFile(filepath.Join("testdata", "lib_ast.json"))
	require.NoError(t, err)
	return &upstream{ast: ast}
}

func (u *upstream) handle(cmd Command) ([]byte, error) {
	if u.fail != nil {
		if err := u.fail(cmd); err != nil {
			return []byte("boom"), err
		}
	}

	switch {
	case cmd.Name == "git" && cmd.Args[0] == "clone":
		dir := cmd.Args[len(cmd.Args)-1]
		for name, content := range map[string]string{
			"a.cpp":         "int a() { return 1; }\n",
			"b.cpp":         "int b() { return 2; }\n",
			"include/lib.h": "namespace lib { int add(int, int); }\n",
		} {
			path := filepath.Join(dir, name)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return nil, err
			}
		}
	case cmd.Name == "git" && cmd.Args[0] == "rev-parse":
		return []byte(testRevision + "\n"), nil
	case cmd.Name == "ar":
		return nil, os.WriteFile(cmd.Args[1], []byte("!<arch>\n"), 0o644)
	case cmd.Name == "clang++":
		return u.ast, nil
	case strings.HasSuffix(cmd.Name, "layout_probe"):
		return []byte(fixtureLayouts), nil
	}
	return nil, nil
}

func newTestPipeline(t *testing.T, u *upstream, opts ...Option) (*Pipeline, *Config) {
	t.Helper()
	config := testConfig(t)
	opts = append([]Option{
		WithRunner(&fakeRunner{handle: u.handle}),
		WithLogger(arbor.NewLogger()),
	}, opts...)
	return NewPipeline(config, opts...), config
}

func stageNames(result *RunResult) []StageName {
	var names []StageName
	for _, s := range result.Stages {
		names = append(names, s.Stage)
	}
	return names
}

func TestPipelineRun(t *testing.T) {
	p, config := newTestPipeline(t, newUpstream(t))

	result := p.Run(t.Context())
	require.NoError(t, result.Error)
	assert.True(t, result.Success())
	assert.Equal(t, StateCleaned, result.State)
	assert.Equal(t, testRevision, result.Revision)
	assert.NotEmpty(t, result.RunID)

	assert.Equal(t, []StageName{
		StageFetch, StageConfigure, StageCollect, StageCompile,
		StageExtract, StagePatch, StagePublish, StageClean,
	}, stageNames(result))

	assert.Equal(t, filepath.Join(config.Output.LibDir, "liblib.a"), result.Archive)
	assert.Equal(t, config.Output.BindingFile, result.Binding)
	binding, err := os.ReadFile(result.Binding)
	require.NoError(t, err)
	assert.Contains(t, string(binding), "func Add(a int32, b int32) int32 {")

	assert.NoDirExists(t, config.Staging.Root)
}

func TestPipelineCleansAfterLaterFailure(t *testing.T) {
	u := newUpstream(t)
	u.fail = func(cmd Command) error {
		if slices.ContainsFunc(cmd.Args, func(arg string) bool { return strings.HasSuffix(arg, "a.cpp") }) {
			return &CommandError{Command: cmd, ExitCode: 1, Err: errors.New("exit status 1")}
		}
		return nil
	}
	p, config := newTestPipeline(t, u)

	result := p.Run(t.Context())
	require.Error(t, result.Error)
	assert.False(t, result.Success())
	assert.Equal(t, StateAborted, result.State)
	assert.ErrorIs(t, result.Error, ErrCompile)
	assert.NotErrorIs(t, result.Error, ErrCleanup)

	assert.Equal(t, []StageName{StageFetch, StageConfigure, StageCollect, StageCompile, StageClean}, stageNames(result))
	compile := result.Stages[3]
	require.Error(t, compile.Err)
	assert.Contains(t, compile.Output, "boom")
	assert.NoError(t, result.Stages[4].Err)

	assert.NoDirExists(t, config.Staging.Root, "the staging root is removed after a failure")
	assert.NoFileExists(t, config.Output.BindingFile)
	assert.Empty(t, result.Archive)
}

func TestPipelineFetchFailure(t *testing.T) {
	u := newUpstream(t)
	u.fail = func(cmd Command) error {
		if cmd.Name == "git" {
			return &CommandError{Command: cmd, ExitCode: 128, Err: errors.New("exit status 128")}
		}
		return nil
	}
	p, config := newTestPipeline(t, u)

	result := p.Run(t.Context())
	assert.ErrorIs(t, result.Error, ErrFetch)
	assert.Equal(t, StateAborted, result.State)
	assert.Equal(t, []StageName{StageFetch, StageClean}, stageNames(result))
	assert.Contains(t, result.Stages[0].Output, "boom")

	assert.NoDirExists(t, config.Staging.Root)
	assert.NoFileExists(t, config.Output.BindingFile)
	archives, err := filepath.Glob(filepath.Join(config.Output.LibDir, "lib*.a"))
	require.NoError(t, err)
	assert.Empty(t, archives)
	assert.Empty(t, result.Archive)
	assert.Empty(t, result.Binding)
}

func TestPipelineLeavesForeignRoot(t *testing.T) {
	p, config := newTestPipeline(t, newUpstream(t))
	require.NoError(t, os.MkdirAll(config.Staging.Root, 0o755))
	keep := filepath.Join(config.Staging.Root, "keep.txt")
	require.NoError(t, os.WriteFile(keep, []byte("mine"), 0o644))

	result := p.Run(t.Context())
	assert.ErrorIs(t, result.Error, ErrFetch)
	assert.ErrorIs(t, result.Error, ErrStagingExists)
	assert.Equal(t, StateAborted, result.State)
	assert.Equal(t, []StageName{StageFetch}, stageNames(result), "no cleanup for a root the run does not own")
	assert.FileExists(t, keep)
}

func TestPipelineRemovesStaleRoot(t *testing.T) {
	p, config := newTestPipeline(t, newUpstream(t))
	require.NoError(t, os.MkdirAll(config.Staging.Root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(config.Staging.Root, stagingMarker), []byte("crashed-run\n"), 0o644))

	result := p.Run(t.Context())
	assert.ErrorIs(t, result.Error, ErrStaleStaging)
	assert.Equal(t, []StageName{StageFetch, StageClean}, stageNames(result))
	assert.NoDirExists(t, config.Staging.Root)
}

func TestPipelineConfigurePolicy(t *testing.T) {
	failCmake := func(cmd Command) error {
		if cmd.Name == "cmake" {
			return &CommandError{Command: cmd, ExitCode: 1, Err: errors.New("exit status 1")}
		}
		return nil
	}

	t.Run("advisory", func(t *testing.T) {
		u := newUpstream(t)
		u.fail = failCmake
		p, _ := newTestPipeline(t, u)

		result := p.Run(t.Context())
		require.NoError(t, result.Error)
		assert.True(t, result.Success())
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], "configure failed")
	})

	t.Run("strict", func(t *testing.T) {
		u := newUpstream(t)
		u.fail = failCmake
		p, config := newTestPipeline(t, u)
		config.Configure.Policy = ConfigureStrict

		result := p.Run(t.Context())
		assert.ErrorIs(t, result.Error, ErrConfigure)
		assert.Equal(t, StateAborted, result.State)
		assert.NoDirExists(t, config.Staging.Root)
	})
}

func TestPipelineCancelled(t *testing.T) {
	p, config := newTestPipeline(t, newUpstream(t))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	result := p.Run(ctx)
	assert.ErrorIs(t, result.Error, context.Canceled)
	assert.ErrorIs(t, result.Error, ErrFetch)
	assert.Equal(t, StateAborted, result.State)
	assert.NoDirExists(t, config.Staging.Root)
}

// cancelAfter cancels the run's context once it has run.
type cancelAfter struct {
	cancel context.CancelFunc
}

func (c *cancelAfter) Name() StageName { return "cancel" }

func (c *cancelAfter) Run(ctx context.Context, run *Run) error {
	c.cancel()
	return nil
}

func TestPipelineCancelledMidRunStillCleans(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	p, config := newTestPipeline(t, newUpstream(t), WithStages(&Fetcher{}, &cancelAfter{cancel: cancel}, &Configurator{}))

	result := p.Run(ctx)
	assert.ErrorIs(t, result.Error, context.Canceled)
	assert.ErrorIs(t, result.Error, ErrConfigure)
	assert.Equal(t, []StageName{StageFetch, "cancel", StageConfigure, StageClean}, stageNames(result))
	assert.NoDirExists(t, config.Staging.Root)
}

func TestPipelineStages(t *testing.T) {
	p, _ := newTestPipeline(t, newUpstream(t), WithStages(&Fetcher{}))
	p.Register(&Collector{})

	stages := p.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, StageCollect, stages[1].Name())

	stages[0] = nil
	assert.NotNil(t, p.Stages()[0], "Stages returns a copy")
}

func TestPipelineCheckTools(t *testing.T) {
	p, _ := newTestPipeline(t, newUpstream(t))

	stubLookPath(t, "git", "cmake", "c++", "ar", "clang++")
	assert.NoError(t, p.CheckTools())

	stubLookPath(t, "git", "c++", "ar", "clang++")
	assert.NoError(t, p.CheckTools(), "configure is optional under the advisory policy")

	stubLookPath(t, "git", "cmake", "c++", "ar")
	assert.ErrorIs(t, p.CheckTools(), ErrToolMissing)
}

func TestPipelineResolverFromConfig(t *testing.T) {
	config := testConfig(t)
	config.GitHub.Enabled = true

	p := NewPipeline(config, WithRunner(&fakeRunner{}))
	_, ok := p.resolver.(*GitHubResolver)
	assert.True(t, ok)

	config.GitHub.Enabled = false
	p = NewPipeline(config)
	assert.Nil(t, p.resolver)
}
