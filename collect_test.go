package nativebind

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("// "+f+"\n"), 0o644))
	}
}

func TestCollectUnitsIsNonRecursive(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"src/seal/a.cpp",
		"src/seal/b.cpp",
		"src/seal/c.h",
		"src/seal/sub/d.cpp",
		"src/seal/util/e.cpp",
	)

	units, err := CollectUnits([]string{
		filepath.Join(root, "src/seal"),
		filepath.Join(root, "src/seal/util"),
	}, ".cpp")
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(root, "src/seal/a.cpp"),
		filepath.Join(root, "src/seal/b.cpp"),
		filepath.Join(root, "src/seal/util/e.cpp"),
	}, units)
}

func TestCollectUnitsSortedAndDeduplicated(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "z.cpp", "m.cc", "a.cpp", "notes.txt")

	units, err := CollectUnits([]string{root, root}, "cpp", ".CC")
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(root, "a.cpp"),
		filepath.Join(root, "m.cc"),
		filepath.Join(root, "z.cpp"),
	}, units)
}

func TestCollectUnitsSkipsDirectoriesNamedLikeSources(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "real.cpp", "fake.cpp/inner.cpp")

	units, err := CollectUnits([]string{root}, ".cpp")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "real.cpp")}, units)
}

func TestCollectUnitsUnreadableRootIsFatal(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.cpp")

	_, err := CollectUnits([]string{root, filepath.Join(root, "missing")}, ".cpp")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCollectorAppendsExtraSources(t *testing.T) {
	staging, run := newTestRun(t)
	writeFiles(t, staging.SourceDir(), "src/a.cpp", "src/b.cpp")

	shimDir := t.TempDir()
	writeFiles(t, shimDir, "shim.cpp")

	run.Config.Collect.Roots = []string{"src"}
	run.Config.Collect.ExtraSources = []string{filepath.Join(shimDir, "shim.cpp")}

	require.NoError(t, (&Collector{}).Run(t.Context(), run))
	assert.Equal(t, []string{
		filepath.Join(staging.SourceDir(), "src/a.cpp"),
		filepath.Join(staging.SourceDir(), "src/b.cpp"),
		filepath.Join(shimDir, "shim.cpp"),
	}, run.Units)
}

func TestCollectorEmptySetIsFatal(t *testing.T) {
	staging, run := newTestRun(t)
	require.NoError(t, os.MkdirAll(filepath.Join(staging.SourceDir(), "src"), 0o755))
	run.Config.Collect.Roots = []string{"src"}

	err := (&Collector{}).Run(t.Context(), run)
	require.Error(t, err)
}
