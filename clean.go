package nativebind

import (
	"context"
	"fmt"

	"github.com/magefile/mage/sh"
)

// Cleaner removes the staging root. The pipeline runs it as a finalizer
// after every run that owns a staging root, successful or not.
type Cleaner struct{}

func (c *Cleaner) Name() StageName {
	return StageClean
}

func (c *Cleaner) Run(ctx context.Context, run *Run) error {
	if !run.Staging.Owned() {
		run.Logger.Debug().Msg("No staging root owned by this run")
		return nil
	}
	root := run.Staging.Root
	if err := sh.Rm(root); err != nil {
		return fmt.Errorf("remove staging root %s: %w", root, err)
	}
	run.Logger.Info().Str("staging", root).Msg("Staging root removed")
	return nil
}
