package nativebind

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// gitRunner answers rev-parse with head and succeeds everything else.
func gitRunner(head string) *fakeRunner {
	return &fakeRunner{handle: func(cmd Command) ([]byte, error) {
		if len(cmd.Args) > 0 && cmd.Args[0] == "rev-parse" {
			return []byte(head + "\n"), nil
		}
		return nil, nil
	}}
}

func newFetchRun(t *testing.T, runner Runner) *Run {
	t.Helper()
	return &Run{
		ID:     "fetch-run",
		Config: testConfig(t),
		Runner: runner,
		Logger: arbor.NewLogger(),
	}
}

func gitArgs(calls []Command) [][]string {
	var out [][]string
	for _, c := range calls {
		out = append(out, c.Args)
	}
	return out
}

func TestFetcherClonesPinnedCommit(t *testing.T) {
	runner := gitRunner(testRevision)
	run := newFetchRun(t, runner)

	require.NoError(t, (&Fetcher{}).Run(t.Context(), run))

	assert.Equal(t, testRevision, run.Revision)
	require.NotNil(t, run.Staging)
	assert.True(t, run.Staging.Owned())
	assert.FileExists(t, run.Staging.MarkerPath())

	source := run.Staging.SourceDir()
	assert.Equal(t, [][]string{
		{"clone", "--quiet", "--no-checkout", "https://example.com/lib.git", source},
		{"checkout", "--quiet", "--detach", testRevision},
		{"rev-parse", "HEAD"},
	}, gitArgs(runner.CallsTo("git")))

	calls := runner.CallsTo("git")
	assert.Equal(t, run.Staging.Root, calls[0].Dir)
	assert.Equal(t, source, calls[1].Dir)
}

func TestFetcherShallow(t *testing.T) {
	runner := gitRunner(testRevision)
	run := newFetchRun(t, runner)
	run.Config.Source.Depth = 1
	run.Config.Source.Submodules = true

	require.NoError(t, (&Fetcher{}).Run(t.Context(), run))

	source := run.Staging.SourceDir()
	assert.Equal(t, [][]string{
		{"init", "--quiet", source},
		{"-C", source, "remote", "add", "origin", "https://example.com/lib.git"},
		{"-C", source, "fetch", "--quiet", "--depth", "1", "origin", testRevision},
		{"-C", source, "checkout", "--quiet", "--detach", "FETCH_HEAD"},
		{"submodule", "update", "--init", "--recursive", "--quiet", "--depth", "1"},
		{"rev-parse", "HEAD"},
	}, gitArgs(runner.CallsTo("git")))
}

func TestFetcherAbbreviatedCommit(t *testing.T) {
	runner := gitRunner(testRevision)
	run := newFetchRun(t, runner)
	run.Config.Source.Commit = testRevision[:10]
	run.Config.Source.Depth = 1

	require.NoError(t, (&Fetcher{}).Run(t.Context(), run))
	assert.Equal(t, testRevision, run.Revision, "the full SHA is recorded")

	// An abbreviated SHA cannot be fetched shallowly.
	assert.Equal(t, "clone", runner.CallsTo("git")[0].Args[0])
}

func TestFetcherHeadMismatch(t *testing.T) {
	runner := gitRunner("ffffffffffffffffffffffffffffffffffffffff")
	run := newFetchRun(t, runner)

	err := (&Fetcher{}).Run(t.Context(), run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want "+testRevision)
	assert.Empty(t, run.Revision)
	assert.True(t, run.Staging.Owned(), "the root is still handed to the finalizer")
}

func TestFetcherCloneFailureKeepsStaging(t *testing.T) {
	runner := &fakeRunner{handle: func(cmd Command) ([]byte, error) {
		return []byte("fatal: unable to access"), &CommandError{Command: cmd, ExitCode: 128, Err: errors.New("exit status 128")}
	}}
	run := newFetchRun(t, runner)

	err := (&Fetcher{}).Run(t.Context(), run)
	require.Error(t, err)
	require.NotNil(t, run.Staging)
	assert.True(t, run.Staging.Owned())
	assert.Equal(t, []string{"fatal: unable to access"}, run.takeOutput())
}

func TestFetcherExistingRoot(t *testing.T) {
	runner := gitRunner(testRevision)
	run := newFetchRun(t, runner)
	require.NoError(t, os.MkdirAll(run.Config.Staging.Root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(run.Config.Staging.Root, "keep.txt"), []byte("mine"), 0o644))

	err := (&Fetcher{}).Run(t.Context(), run)
	require.ErrorIs(t, err, ErrStagingExists)
	assert.Nil(t, run.Staging)
	assert.FileExists(t, filepath.Join(run.Config.Staging.Root, "keep.txt"))
	assert.Empty(t, runner.Calls(), "a pinned commit resolves without git")
}

func TestFetcherStaleRoot(t *testing.T) {
	runner := gitRunner(testRevision)
	run := newFetchRun(t, runner)
	require.NoError(t, os.MkdirAll(run.Config.Staging.Root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(run.Config.Staging.Root, stagingMarker), []byte("old-run\n"), 0o644))

	err := (&Fetcher{}).Run(t.Context(), run)
	require.ErrorIs(t, err, ErrStaleStaging)
	assert.Contains(t, err.Error(), "old-run")
	require.NotNil(t, run.Staging)
	assert.True(t, run.Staging.Owned(), "a stale root is removed by the finalizer")
}

func TestFetcherUsesResolver(t *testing.T) {
	runner := gitRunner(testRevision)
	run := newFetchRun(t, runner)
	run.Config.Source.Commit = ""
	run.Config.Source.Branch = "main"
	resolver := &stubResolver{sha: testRevision}

	require.NoError(t, (&Fetcher{Resolver: resolver}).Run(t.Context(), run))
	assert.True(t, resolver.called)
	for _, c := range runner.CallsTo("git") {
		assert.NotEqual(t, "ls-remote", c.Args[0])
	}
}
