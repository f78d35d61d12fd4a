package nativebind

import (
	"errors"
	"fmt"
	"strings"
)

// Stage sentinels. Every error returned by Pipeline.Run matches exactly one of
// them through errors.Is.
var (
	ErrFetch     = errors.New("fetch failed")
	ErrConfigure = errors.New("configure failed")
	ErrCollect   = errors.New("collect failed")
	ErrCompile   = errors.New("compile failed")
	ErrExtract   = errors.New("extract failed")
	ErrPatch     = errors.New("patch failed")
	ErrPublish   = errors.New("publish failed")
	ErrCleanup   = errors.New("cleanup failed")
)

var (
	// ErrStagingExists is returned when the staging root already exists and
	// was not created by a previous run.
	ErrStagingExists = errors.New("staging root already exists")

	// ErrStaleStaging is returned when the staging root carries the marker of
	// an earlier run that was never cleaned. The finalizer removes it.
	ErrStaleStaging = errors.New("stale staging root from an earlier run")

	// ErrToolMissing is returned when a required executable is not on PATH.
	ErrToolMissing = errors.New("required tool not found")
)

var stageSentinels = map[StageName]error{
	StageFetch:     ErrFetch,
	StageConfigure: ErrConfigure,
	StageCollect:   ErrCollect,
	StageCompile:   ErrCompile,
	StageExtract:   ErrExtract,
	StagePatch:     ErrPatch,
	StagePublish:   ErrPublish,
	StageClean:     ErrCleanup,
}

// StageError reports the failure of one pipeline stage together with the
// output the stage collected before failing.
type StageError struct {
	Stage  StageName
	Output []string
	Err    error
}

// Error formats the failure the same way for every stage:
//
//	compile failed: exit status 1
//
//	Output:
//	src/seal/context.cpp:12:1: error: ...
func (e *StageError) Error() string {
	prefix := fmt.Sprintf("%s failed", e.Stage)
	if e.Err != nil {
		prefix = fmt.Sprintf("%s: %v", prefix, e.Err)
	}

	output := strings.TrimSpace(strings.Join(e.Output, "\n"))
	if output == "" {
		return prefix
	}
	return fmt.Sprintf("%s\n\nOutput:\n%s", prefix, output)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of the failed stage.
func (e *StageError) Is(target error) bool {
	sentinel, ok := stageSentinels[e.Stage]
	return ok && target == sentinel
}

func stageError(stage StageName, output []string, err error) error {
	var se *StageError
	if errors.As(err, &se) && se.Stage == stage {
		return err
	}
	return &StageError{Stage: stage, Output: output, Err: err}
}

// CommandError is returned by a Runner when a child process cannot be started
// or exits unsuccessfully.
type CommandError struct {
	Command  Command
	Output   []byte
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// outputLines splits raw process output into lines, dropping the trailing
// empty line left by a final newline.
func outputLines(output []byte) []string {
	text := strings.TrimRight(string(output), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
