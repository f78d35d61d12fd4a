package nativebind

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/sh"
)

// rename is replaced in tests to simulate a failing move.
var rename = os.Rename

// Published lists the files the publisher placed.
type Published struct {
	Archive string
	Binding string
}

// Publisher moves the archive and the patched binding into their output
// locations. Either both land or neither does.
type Publisher struct{}

func (p *Publisher) Name() StageName {
	return StagePublish
}

func (p *Publisher) Run(ctx context.Context, run *Run) error {
	if run.Archive == nil || run.Binding == nil {
		return fmt.Errorf("nothing to publish; compile and extract must run first")
	}
	out := run.Config.Output

	published, err := PublishOutputs(run.ID, run.Archive.Path, filepath.Join(out.LibDir, filepath.Base(run.Archive.Path)), run.Binding.Source, out.BindingFile)
	if err != nil {
		return err
	}
	run.Published = published
	run.Logger.Info().
		Str("archive", published.Archive).
		Str("binding", published.Binding).
		Msg("Outputs published")
	return nil
}

// placement is one file being moved into place.
type placement struct {
	tmp    string
	dest   string
	backup string // previous content of dest, if any
	placed bool
}

// PublishOutputs copies the archive and writes the binding next to their
// destinations, then renames both into place. If the second rename fails
// the first destination is restored.
func PublishOutputs(runID, archive, archiveDest string, binding []byte, bindingDest string) (*Published, error) {
	suffix := ".nativebind-" + runID
	files := []*placement{
		{tmp: archiveDest + suffix + ".tmp", dest: archiveDest},
		{tmp: bindingDest + suffix + ".tmp", dest: bindingDest},
	}
	defer func() {
		for _, f := range files {
			_ = sh.Rm(f.tmp)
		}
	}()

	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.dest), 0o755); err != nil {
			return nil, err
		}
	}
	if err := sh.Copy(files[0].tmp, archive); err != nil {
		return nil, fmt.Errorf("stage archive: %w", err)
	}
	if err := os.WriteFile(files[1].tmp, binding, 0o644); err != nil {
		return nil, fmt.Errorf("stage binding: %w", err)
	}

	for _, f := range files {
		if err := place(f, suffix); err != nil {
			return nil, errors.Join(err, rollback(files))
		}
	}

	for _, f := range files {
		if f.backup != "" {
			_ = sh.Rm(f.backup)
		}
	}
	return &Published{Archive: archiveDest, Binding: bindingDest}, nil
}

// place moves an existing destination aside, then renames the staged file
// over it.
func place(f *placement, suffix string) error {
	if _, err := os.Lstat(f.dest); err == nil {
		backup := f.dest + suffix + ".prev"
		if err := rename(f.dest, backup); err != nil {
			return fmt.Errorf("move %s aside: %w", f.dest, err)
		}
		f.backup = backup
	}
	if err := rename(f.tmp, f.dest); err != nil {
		if f.backup != "" {
			_ = os.Rename(f.backup, f.dest)
			f.backup = ""
		}
		return fmt.Errorf("publish %s: %w", f.dest, err)
	}
	f.placed = true
	return nil
}

// rollback undoes every placement that already happened.
func rollback(files []*placement) error {
	var errs []error
	for _, f := range files {
		if !f.placed {
			continue
		}
		if f.backup != "" {
			if err := os.Rename(f.backup, f.dest); err != nil {
				errs = append(errs, fmt.Errorf("restore %s: %w", f.dest, err))
			}
			continue
		}
		if err := sh.Rm(f.dest); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", f.dest, err))
		}
	}
	return errors.Join(errs...)
}
