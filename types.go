package nativebind

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// StageName identifies one pipeline stage.
type StageName string

const (
	StageFetch     StageName = "fetch"
	StageConfigure StageName = "configure"
	StageCollect   StageName = "collect"
	StageCompile   StageName = "compile"
	StageExtract   StageName = "extract"
	StagePatch     StageName = "patch"
	StagePublish   StageName = "publish"
	StageClean     StageName = "clean"
)

// State is the position of a run in the pipeline state machine:
//
//	init → fetched → configured → collected → compiled → extracted →
//	patched → published → cleaned
//
// Any stage failure moves the run to aborted. The staging cleaner is still
// attempted from aborted whenever the run owns a staging root.
type State string

const (
	StateInit       State = "init"
	StateFetched    State = "fetched"
	StateConfigured State = "configured"
	StateCollected  State = "collected"
	StateCompiled   State = "compiled"
	StateExtracted  State = "extracted"
	StatePatched    State = "patched"
	StatePublished  State = "published"
	StateCleaned    State = "cleaned"
	StateAborted    State = "aborted"
)

var stateAfter = map[StageName]State{
	StageFetch:     StateFetched,
	StageConfigure: StateConfigured,
	StageCollect:   StateCollected,
	StageCompile:   StateCompiled,
	StageExtract:   StateExtracted,
	StagePatch:     StatePatched,
	StagePublish:   StatePublished,
	StageClean:     StateCleaned,
}

// StageRecord describes how one stage went.
type StageRecord struct {
	Stage    StageName     // Stage that ran
	Duration time.Duration // Wall time spent in the stage
	Output   []string      // Lines of output collected from child processes
	Err      error         // Error if the stage failed, nil otherwise
}

// RunResult contains the outcome of one pipeline run.
//
// After a run completes, this structure provides:
//   - The final state (cleaned on success, aborted otherwise)
//   - The commit that was actually built
//   - One record per stage that was attempted, in order
//   - The published archive and binding paths on success
//   - Non-fatal warnings (advisory configure failures, patch over-matches)
type RunResult struct {
	RunID    string        // Identifier carried by every log line of the run
	State    State         // Final state
	Revision string        // Full commit SHA that was checked out
	Stages   []StageRecord // Per-stage records in execution order
	Archive  string        // Published static archive
	Binding  string        // Published binding source
	Warnings []string      // Non-fatal problems
	Error    error         // Error if the run failed, nil otherwise
}

// Success reports whether every stage including cleanup completed.
func (r *RunResult) Success() bool {
	return r.State == StateCleaned && r.Error == nil
}

// Run is the mutable context threaded through every stage of one pipeline
// run. Stages read the configuration and the outputs of earlier stages from
// it and record their own outputs on it.
type Run struct {
	ID      string
	Config  *Config
	Runner  Runner
	Logger  arbor.ILogger
	Staging *Staging

	Revision  string              // set by the fetcher
	Units     []string            // set by the collector
	Build     *BuildConfiguration // set by the compiler driver
	Archive   *Archive            // set by the compiler driver
	Binding   *BindingArtifact    // set by the extractor, rewritten by the patcher
	Published *Published          // set by the publisher

	mu       sync.Mutex
	output   []string
	warnings []string
}

// appendOutput records child-process output for the current stage.
func (r *Run) appendOutput(output []byte) {
	lines := outputLines(output)
	if len(lines) == 0 {
		return
	}
	r.mu.Lock()
	r.output = append(r.output, lines...)
	r.mu.Unlock()
}

// warn records a non-fatal problem on the run result.
func (r *Run) warn(format string, args ...any) {
	r.mu.Lock()
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

// takeOutput returns and resets the output collected for the current stage.
func (r *Run) takeOutput() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.output
	r.output = nil
	return out
}

// expand substitutes the staging placeholders in value.
func (r *Run) expand(value string) string {
	if r.Staging == nil {
		return value
	}
	return r.Staging.Expand(value)
}

func (r *Run) expandAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = r.expand(v)
	}
	return out
}
