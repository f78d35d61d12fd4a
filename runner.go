package nativebind

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Command describes one child process. Dir scopes the working directory to
// that process only; the caller's working directory is never changed.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  map[string]string

	// StdoutOnly captures standard output alone. Standard error is still
	// reported through CommandError.Output when the process fails.
	StdoutOnly bool
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner executes child processes. Every external tool the pipeline drives
// (git, cmake, the compiler, ar, clang, probe binaries) goes through it, which
// lets tests script their behaviour.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts the command and waits for it. The returned output is the
// combined stdout/stderr unless StdoutOnly is set. A non-zero exit or a
// failure to start yields a *CommandError.
func (ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir

	if len(c.Env) > 0 {
		cmd.Env = os.Environ()
		keys := make([]string, 0, len(c.Env))
		for key := range c.Env {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, c.Env[key]))
		}
	}

	if mg.Verbose() {
		if c.Dir != "" {
			fmt.Fprintf(os.Stderr, "exec: %s (in %s)\n", c, c.Dir)
		} else {
			fmt.Fprintf(os.Stderr, "exec: %s\n", c)
		}
	}

	var (
		output []byte
		stderr bytes.Buffer
		err    error
	)
	if c.StdoutOnly {
		cmd.Stderr = &stderr
		output, err = cmd.Output()
	} else {
		output, err = cmd.CombinedOutput()
	}
	if err == nil {
		return output, nil
	}

	cmdErr := &CommandError{Command: c, Output: output, Err: err}
	if c.StdoutOnly {
		cmdErr.Output = stderr.Bytes()
	}
	if errors.Is(err, exec.ErrNotFound) {
		cmdErr.Err = fmt.Errorf("%w: %s", ErrToolMissing, c.Name)
		return output, cmdErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = sh.ExitStatus(err)
	}
	return output, cmdErr
}

func isToolMissing(err error) bool {
	return errors.Is(err, ErrToolMissing) || errors.Is(err, exec.ErrNotFound)
}

// commandOutput returns the captured output of a failed command, if any.
func commandOutput(err error) []string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return outputLines(cmdErr.Output)
	}
	return nil
}
