package nativebind

import "context"

// Stage is one step of the vendoring pipeline.
//
// Each stage reads what it needs from the Run (configuration, the staging
// root, outputs of earlier stages) and records its own outputs there. Stages
// never change the process working directory; every child process gets its
// directory through Command.Dir.
//
// # Stage Lifecycle
//
//  1. RequiredTools()/CheckTools() - optional preflight, see ToolChecker
//  2. Run() - the pipeline calls this once, in registration order
//
// A stage that returns an error stops the pipeline. Output recorded through
// the Run while the stage executed is attached to the resulting StageError.
//
// # Example Implementation
//
//	type Stamp struct{}
//
//	func (s *Stamp) Name() StageName {
//	    return "stamp"
//	}
//
//	func (s *Stamp) Run(ctx context.Context, run *Run) error {
//	    return os.WriteFile(filepath.Join(run.Staging.BuildDir(), "REVISION"), []byte(run.Revision), 0o644)
//	}
//
// # Thread Safety
//
// Stages run sequentially. A stage may use goroutines internally but must not
// return before they finish.
type Stage interface {
	// Name returns the stage identifier used in logs, records and errors.
	Name() StageName

	// Run performs the stage.
	Run(ctx context.Context, run *Run) error
}
