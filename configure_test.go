package nativebind

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingConfigure(cmd Command) ([]byte, error) {
	return []byte("CMake Error: could not find compiler"), &CommandError{Command: cmd, ExitCode: 1, Err: errors.New("exit status 1")}
}

func TestConfiguratorExpandsPlaceholders(t *testing.T) {
	staging, run := newTestRun(t)
	runner := &fakeRunner{}
	run.Runner = runner
	run.Config.Configure.Env = map[string]string{"OUT": "{{build}}/gen"}

	require.NoError(t, (&Configurator{}).Run(t.Context(), run))

	calls := runner.CallsTo("cmake")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"-S", staging.SourceDir(), "-B", filepath.Join(staging.BuildDir(), "cmake"), "-DCMAKE_BUILD_TYPE=Release"}, calls[0].Args)
	assert.Equal(t, staging.SourceDir(), calls[0].Dir)
	assert.Equal(t, filepath.Join(staging.BuildDir(), "gen"), calls[0].Env["OUT"])
}

func TestConfiguratorDir(t *testing.T) {
	staging, run := newTestRun(t)
	runner := &fakeRunner{}
	run.Runner = runner
	run.Config.Configure.Dir = "native"

	require.NoError(t, (&Configurator{}).Run(t.Context(), run))
	assert.Equal(t, filepath.Join(staging.SourceDir(), "native"), runner.Calls()[0].Dir)
}

func TestConfiguratorAdvisoryFailure(t *testing.T) {
	_, run := newTestRun(t)
	run.Runner = &fakeRunner{handle: failingConfigure}
	run.Config.Configure.Policy = ConfigureAdvisory

	require.NoError(t, (&Configurator{}).Run(t.Context(), run))
	require.Len(t, run.warnings, 1)
	assert.Contains(t, run.warnings[0], "configure failed (advisory)")
	assert.Equal(t, []string{"CMake Error: could not find compiler"}, run.takeOutput())
}

func TestConfiguratorStrictFailure(t *testing.T) {
	_, run := newTestRun(t)
	run.Runner = &fakeRunner{handle: failingConfigure}
	run.Config.Configure.Policy = ConfigureStrict

	err := (&Configurator{}).Run(t.Context(), run)
	require.Error(t, err)
	assert.Empty(t, run.warnings)
}

func TestConfiguratorSkipsEmptyCommand(t *testing.T) {
	_, run := newTestRun(t)
	runner := &fakeRunner{}
	run.Runner = runner
	run.Config.Configure.Command = nil

	require.NoError(t, (&Configurator{}).Run(t.Context(), run))
	assert.Empty(t, runner.Calls())
	assert.Nil(t, (&Configurator{}).RequiredTools(run.Config))
}

func TestConfiguratorRequiredTools(t *testing.T) {
	config := testConfig(t)

	tools := (&Configurator{}).RequiredTools(config)
	require.Len(t, tools, 1)
	assert.Equal(t, "cmake", tools[0].Name)
	assert.True(t, tools[0].Optional)

	config.Configure.Policy = ConfigureStrict
	assert.False(t, (&Configurator{}).RequiredTools(config)[0].Optional)
}
