package nativebind

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

const testRevision = "0123456789abcdef0123456789abcdef01234567"

// fakeRunner records every command and answers through handle.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []Command
	handle func(cmd Command) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	handle := f.handle
	f.mu.Unlock()

	if handle == nil {
		return nil, nil
	}
	return handle(cmd)
}

func (f *fakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command{}, f.calls...)
}

func (f *fakeRunner) CallsTo(name string) []Command {
	var out []Command
	for _, c := range f.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	out := t.TempDir()

	config := NewDefaultConfig()
	config.Source.URL = "https://example.com/lib.git"
	config.Source.Commit = testRevision
	config.Staging.Root = filepath.Join(t.TempDir(), "staging")
	config.Compile.Library = "lib"
	config.Compile.Jobs = 2
	config.Compile.Alternatives = nil
	config.Extract.Header = "include/lib.h"
	config.Extract.Package = "lib"
	config.Policy.Allow = []string{"lib::*"}
	config.Policy.Opaque = []string{"std::*"}
	config.Output.LibDir = filepath.Join(out, "lib")
	config.Output.BindingFile = filepath.Join(out, "binding", "lib.go")
	return config
}

// newTestRun returns a run that already owns a freshly created staging root.
func newTestRun(t *testing.T) (*Staging, *Run) {
	t.Helper()
	config := testConfig(t)

	staging, err := createStaging(config.Staging.Root, "test-run")
	require.NoError(t, err)

	run := &Run{
		ID:      "test-run",
		Config:  config,
		Runner:  &fakeRunner{},
		Logger:  arbor.NewLogger(),
		Staging: staging,
	}
	return staging, run
}
