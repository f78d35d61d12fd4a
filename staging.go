package nativebind

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const stagingMarker = ".nativebind-staging"

// Staging is the private working tree of one run:
//
//	<root>/.nativebind-staging   run ID of the owner
//	<root>/source                upstream checkout
//	<root>/build                 objects, probes, archive, configure output
//
// The path is passed explicitly to every stage. Nothing else refers to it.
type Staging struct {
	Root  string
	owned bool
}

// DefaultStagingRoot returns a fresh directory name under the system temp
// directory. Distinct runs never share one.
func DefaultStagingRoot() string {
	return filepath.Join(os.TempDir(), "nativebind-"+uuid.NewString())
}

// SourceDir is where the upstream checkout lives.
func (s *Staging) SourceDir() string { return filepath.Join(s.Root, "source") }

// BuildDir holds every intermediate build product.
func (s *Staging) BuildDir() string { return filepath.Join(s.Root, "build") }

// MarkerPath is the ownership marker.
func (s *Staging) MarkerPath() string { return filepath.Join(s.Root, stagingMarker) }

// Owned reports whether this run is responsible for removing the root.
func (s *Staging) Owned() bool { return s != nil && s.owned }

// Expand substitutes {{staging}}, {{source}} and {{build}} in value.
func (s *Staging) Expand(value string) string {
	if !strings.Contains(value, "{{") {
		return value
	}
	value = strings.ReplaceAll(value, "{{source}}", s.SourceDir())
	value = strings.ReplaceAll(value, "{{build}}", s.BuildDir())
	value = strings.ReplaceAll(value, "{{staging}}", s.Root)
	return value
}

// Path resolves a path relative to the source tree after placeholder
// expansion. Absolute paths are returned cleaned.
func (s *Staging) Path(value string) string {
	value = s.Expand(value)
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Join(s.SourceDir(), value)
}

// createStaging creates root exclusively and stamps it with runID. The
// parent of root must exist; nothing outside root is created.
//
// A root that already exists is never reused. When it carries a marker it is
// the leftover of an earlier run: the returned Staging is owned, so the
// finalizer removes it, and the error is ErrStaleStaging. Any other existing
// path yields ErrStagingExists and a nil Staging.
func createStaging(root, runID string) (*Staging, error) {
	if root == "" {
		root = DefaultStagingRoot()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	staging := &Staging{Root: root}
	if err := os.Mkdir(root, 0o755); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("staging parent %s does not exist", filepath.Dir(root))
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		owner, readErr := os.ReadFile(staging.MarkerPath())
		if readErr == nil {
			staging.owned = true
			return staging, fmt.Errorf("%w: %s (run %s)", ErrStaleStaging, root, strings.TrimSpace(string(owner)))
		}
		return nil, fmt.Errorf("%w: %s", ErrStagingExists, root)
	}
	staging.owned = true

	if err := os.WriteFile(staging.MarkerPath(), []byte(runID+"\n"), 0o644); err != nil {
		return staging, err
	}
	if err := os.MkdirAll(staging.BuildDir(), 0o755); err != nil {
		return staging, err
	}

	return staging, nil
}
