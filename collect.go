package nativebind

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Collector gathers the compilation units from the configured source roots.
type Collector struct{}

func (c *Collector) Name() StageName {
	return StageCollect
}

func (c *Collector) Run(ctx context.Context, run *Run) error {
	cfg := run.Config.Collect

	roots := make([]string, len(cfg.Roots))
	for i, root := range cfg.Roots {
		roots[i] = run.Staging.Path(root)
	}

	units, err := CollectUnits(roots, cfg.Extensions...)
	if err != nil {
		return err
	}

	for _, extra := range cfg.ExtraSources {
		path, err := filepath.Abs(run.expand(extra))
		if err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("extra source: %w", err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("extra source %s is not a regular file", path)
		}
		units = append(units, path)
	}
	units = uniqueStrings(units)

	if len(units) == 0 {
		return fmt.Errorf("no compilation units found under %v", cfg.Roots)
	}

	run.Units = units
	run.Logger.Info().
		Int("units", len(units)).
		Int("roots", len(roots)).
		Msg("Collected compilation units")
	return nil
}

// CollectUnits lists the regular files directly inside each root whose
// extension is one of extensions. Subdirectories are never descended into;
// every root that must contribute units is listed explicitly. The result is
// absolute, sorted and free of duplicates. An unreadable root is an error,
// never a silently smaller set.
func CollectUnits(roots []string, extensions ...string) ([]string, error) {
	var units []string

	for _, root := range roots {
		root, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}

		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("read source root: %w", err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !MatchesExtension(entry.Name(), extensions...) {
				continue
			}

			path := filepath.Join(root, entry.Name())
			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", path, err)
			}
			if !info.Mode().IsRegular() {
				continue
			}
			units = append(units, path)
		}
	}

	sort.Strings(units)
	return uniqueStrings(units), nil
}
