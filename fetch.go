package nativebind

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Fetcher resolves the configured pin, creates the staging root and checks
// out exactly the resolved commit into its source directory.
type Fetcher struct {
	Resolver Resolver
}

func (f *Fetcher) Name() StageName {
	return StageFetch
}

func (f *Fetcher) RequiredTools(*Config) []ToolRequirement {
	return []ToolRequirement{
		{Name: "git", Purpose: "fetch the pinned upstream revision"},
	}
}

// Run fetches the source. The staging root is recorded on the run as soon as
// it is owned so that the finalizer can remove it whatever happens next.
func (f *Fetcher) Run(ctx context.Context, run *Run) error {
	source := run.Config.Source

	resolver := f.Resolver
	if resolver == nil {
		resolver = &GitResolver{Runner: run.Runner}
	}

	revision, err := resolver.Resolve(ctx, source)
	if err != nil {
		return err
	}
	run.Logger.Info().
		Str("url", source.URL).
		Str("branch", source.Branch).
		Str("revision", revision).
		Msg("Resolved source pin")

	staging, err := createStaging(run.Config.Staging.Root, run.ID)
	if staging != nil {
		run.Staging = staging
	}
	if err != nil {
		return err
	}
	run.Logger.Debug().Str("staging", staging.Root).Msg("Created staging root")

	if err := f.checkout(ctx, run, source, revision); err != nil {
		return err
	}

	if source.Submodules {
		args := []string{"submodule", "update", "--init", "--recursive", "--quiet"}
		if source.Depth > 0 {
			args = append(args, "--depth", strconv.Itoa(source.Depth))
		}
		if err := f.git(ctx, run, staging.SourceDir(), args...); err != nil {
			return err
		}
	}

	out, err := run.Runner.Run(ctx, Command{
		Name:       "git",
		Args:       []string{"rev-parse", "HEAD"},
		Dir:        staging.SourceDir(),
		StdoutOnly: true,
	})
	if err != nil {
		run.appendOutput(commandOutputBytes(err))
		return err
	}
	head := strings.ToLower(strings.TrimSpace(string(out)))
	if !fullSHA.MatchString(head) || !strings.HasPrefix(head, revision) {
		return fmt.Errorf("checked out %q, want %s", head, revision)
	}

	run.Revision = head
	run.Logger.Info().Str("revision", head).Str("source", staging.SourceDir()).Msg("Source checked out")
	return nil
}

func (f *Fetcher) checkout(ctx context.Context, run *Run, source SourceConfig, revision string) error {
	root := run.Staging.Root
	dir := run.Staging.SourceDir()

	if source.Depth > 0 && fullSHA.MatchString(revision) {
		steps := [][]string{
			{"init", "--quiet", dir},
			{"-C", dir, "remote", "add", "origin", source.URL},
			{"-C", dir, "fetch", "--quiet", "--depth", strconv.Itoa(source.Depth), "origin", revision},
			{"-C", dir, "checkout", "--quiet", "--detach", "FETCH_HEAD"},
		}
		for _, args := range steps {
			if err := f.git(ctx, run, root, args...); err != nil {
				return err
			}
		}
		return nil
	}

	if err := f.git(ctx, run, root, "clone", "--quiet", "--no-checkout", source.URL, dir); err != nil {
		return err
	}
	return f.git(ctx, run, dir, "checkout", "--quiet", "--detach", revision)
}

func (f *Fetcher) git(ctx context.Context, run *Run, dir string, args ...string) error {
	out, err := run.Runner.Run(ctx, Command{Name: "git", Args: args, Dir: dir})
	run.appendOutput(out)
	return err
}

func commandOutputBytes(err error) []byte {
	if lines := commandOutput(err); len(lines) > 0 {
		return []byte(strings.Join(lines, "\n"))
	}
	return nil
}
