package nativebind

import (
	"context"
	"strings"
)

// Configurator runs the upstream configure tool inside the staging source
// tree. Its only purpose is to produce generated headers the compilation
// units need; the upstream build system itself is never used to compile.
type Configurator struct{}

func (c *Configurator) Name() StageName {
	return StageConfigure
}

// RequiredTools reports the configure executable. It is optional under the
// advisory policy because a failing configure does not stop the run.
func (c *Configurator) RequiredTools(config *Config) []ToolRequirement {
	cfg := config.Configure
	if len(cfg.Command) == 0 {
		return nil
	}
	return []ToolRequirement{{
		Name:     cfg.Command[0],
		Optional: cfg.Policy != ConfigureStrict,
		Purpose:  "configure the upstream source tree",
	}}
}

// Run executes the configure command with its working directory set for the
// child process only. Under ConfigureAdvisory a failure is logged and
// recorded as a warning; under ConfigureStrict it fails the stage.
func (c *Configurator) Run(ctx context.Context, run *Run) error {
	cfg := run.Config.Configure
	if len(cfg.Command) == 0 {
		run.Logger.Info().Msg("No configure command, skipping")
		return nil
	}

	args := run.expandAll(cfg.Command[1:])

	dir := run.Staging.SourceDir()
	if cfg.Dir != "" {
		dir = run.Staging.Path(cfg.Dir)
	}

	env := make(map[string]string, len(cfg.Env))
	for key, value := range cfg.Env {
		env[key] = run.expand(value)
	}

	cmd := Command{Name: cfg.Command[0], Args: args, Dir: dir, Env: env}
	run.Logger.Debug().
		Str("command", cmd.String()).
		Str("dir", dir).
		Msg("Running configure")

	out, err := run.Runner.Run(ctx, cmd)
	run.appendOutput(out)
	if err == nil {
		return nil
	}

	if cfg.Policy == ConfigureStrict {
		return err
	}

	run.Logger.Warn().
		Err(err).
		Str("policy", string(cfg.Policy)).
		Msg("Configure failed, continuing")
	run.warn("configure failed (%s): %s", cfg.Policy, strings.TrimSpace(err.Error()))
	return nil
}
