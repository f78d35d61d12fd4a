package nativebind

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// Pipeline runs the vendoring stages in order and the staging cleaner after
// them.
//
// # Usage
//
// Create a pipeline with the standard stages:
//
//	pipeline := nativebind.NewPipeline(config)
//	result := pipeline.Run(ctx)
//
// Or replace the stage list, e.g. to stop after extraction:
//
//	pipeline := nativebind.NewPipeline(config, nativebind.WithStages(
//	    &nativebind.Fetcher{}, &nativebind.Configurator{}, &nativebind.Collector{},
//	    &nativebind.CompilerDriver{}, &nativebind.Extractor{},
//	))
//
// # Control Flow
//
// For each stage the pipeline:
//  1. Checks for context cancellation
//  2. Runs the stage and records its duration and output
//  3. Stops at the first failure, wrapping it in a StageError
//
// The Cleaner then runs whenever the run owns a staging root, whether the
// stages succeeded, failed or were cancelled. A cleanup failure is joined
// with the stage error.
//
// # Thread Safety
//
// Register is not thread-safe. Distinct Run calls are independent: every run
// gets its own ID and, by default, its own staging root.
type Pipeline struct {
	config   *Config
	runner   Runner
	logger   arbor.ILogger
	resolver Resolver
	stages   []Stage
	cleaner  Stage
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithRunner sets the process runner used by every stage.
func WithRunner(runner Runner) Option {
	return func(p *Pipeline) { p.runner = runner }
}

// WithLogger sets the base logger. Every run derives a logger carrying its ID.
func WithLogger(logger arbor.ILogger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithResolver sets how the fetcher turns the configured pin into a commit.
func WithResolver(resolver Resolver) Option {
	return func(p *Pipeline) { p.resolver = resolver }
}

// WithStages replaces the standard stage list.
func WithStages(stages ...Stage) Option {
	return func(p *Pipeline) { p.stages = append([]Stage{}, stages...) }
}

// NewPipeline creates a pipeline for config. Without WithStages the
// standard stages are registered in this order:
//  1. Fetcher
//  2. Configurator
//  3. Collector
//  4. CompilerDriver
//  5. Extractor
//  6. Patcher
//  7. Publisher
func NewPipeline(config *Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		config:  config,
		runner:  ExecRunner{},
		cleaner: &Cleaner{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = GetLogger()
	}
	if p.resolver == nil && config.GitHub.Enabled {
		p.resolver = NewGitHubResolver(context.Background(), config.GitHub.Token, &GitResolver{Runner: p.runner})
	}
	if p.stages == nil {
		p.stages = []Stage{
			&Fetcher{Resolver: p.resolver},
			&Configurator{},
			&Collector{},
			&CompilerDriver{},
			&Extractor{},
			&Patcher{},
			&Publisher{},
		}
	}
	return p
}

// Register appends a stage after the registered ones.
func (p *Pipeline) Register(stage Stage) {
	p.stages = append(p.stages, stage)
}

// Stages returns a copy of the registered stages.
func (p *Pipeline) Stages() []Stage {
	return append([]Stage{}, p.stages...)
}

// CheckTools checks the tools of every stage that declares them, including
// the cleaner.
func (p *Pipeline) CheckTools() error {
	var requirements []ToolRequirement
	for _, stage := range append(p.Stages(), p.cleaner) {
		if checker, ok := stage.(ToolChecker); ok {
			requirements = append(requirements, checker.RequiredTools(p.config)...)
		}
	}
	return CheckRequiredTools(requirements)
}

// Run executes one pipeline run.
//
// The returned RunResult is never nil. Its State is StateCleaned when every
// stage and the cleanup succeeded and StateAborted otherwise; Error matches
// the sentinel of the first failed stage (and ErrCleanup when removing the
// staging root failed too).
func (p *Pipeline) Run(ctx context.Context) *RunResult {
	id := uuid.NewString()
	logger := p.logger.WithCorrelationId(id)

	run := &Run{
		ID:     id,
		Config: p.config,
		Runner: p.runner,
		Logger: logger,
	}
	result := &RunResult{RunID: id, State: StateInit}

	logger.Info().Str("url", p.config.Source.URL).Int("stages", len(p.stages)).Msg("Pipeline started")

	var runErr error
	for _, stage := range p.stages {
		if ctxErr := ctx.Err(); ctxErr != nil {
			runErr = stageError(stage.Name(), nil, ctxErr)
			result.Stages = append(result.Stages, StageRecord{Stage: stage.Name(), Err: runErr})
			break
		}

		record, err := p.runStage(ctx, stage, run)
		result.Stages = append(result.Stages, record)
		if err != nil {
			runErr = err
			break
		}
		result.State = stateAfter[stage.Name()]
	}

	if runErr != nil {
		result.State = StateAborted
		logger.Error().Err(runErr).Msg("Pipeline aborted")
	}

	if run.Staging.Owned() {
		// Cleanup must happen even when ctx was cancelled.
		record, err := p.runStage(context.WithoutCancel(ctx), p.cleaner, run)
		result.Stages = append(result.Stages, record)
		switch {
		case err != nil:
			result.State = StateAborted
			runErr = errors.Join(runErr, err)
			logger.Error().Err(err).Str("staging", run.Staging.Root).Msg("Failed to remove staging root")
		case runErr == nil:
			result.State = StateCleaned
		}
	} else if runErr == nil {
		result.State = StateCleaned
	}

	result.Revision = run.Revision
	if run.Published != nil {
		result.Archive = run.Published.Archive
		result.Binding = run.Published.Binding
	}
	result.Warnings = run.warnings
	result.Error = runErr

	if result.Success() {
		logger.Info().
			Str("revision", result.Revision).
			Str("archive", result.Archive).
			Str("binding", result.Binding).
			Int("warnings", len(result.Warnings)).
			Msg("Pipeline finished")
	}
	return result
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, run *Run) (StageRecord, error) {
	name := stage.Name()
	run.Logger.Debug().Str("stage", string(name)).Msg("Stage started")

	start := time.Now()
	err := stage.Run(ctx, run)
	record := StageRecord{
		Stage:    name,
		Duration: time.Since(start),
		Output:   run.takeOutput(),
	}

	if err != nil {
		output := record.Output
		if len(output) == 0 {
			output = commandOutput(err)
		}
		err = stageError(name, output, err)
		record.Err = err
		return record, err
	}

	run.Logger.Info().
		Str("stage", string(name)).
		Str("duration", record.Duration.Round(time.Millisecond).String()).
		Msg("Stage completed")
	return record, nil
}
