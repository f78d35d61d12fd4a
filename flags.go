package nativebind

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// BuildConfiguration is the compiler invocation shared by every compilation
// unit and by the interface extractor.
type BuildConfiguration struct {
	Compiler string
	Base     []string // always passed
	Flags    []string // candidates the compiler accepted, in candidate order
	Rejected []string // candidates the compiler refused, dropped
	Includes []string // absolute include directories
	Defines  []string // NAME or NAME=VALUE
}

// Args returns the compiler arguments common to every invocation.
func (b *BuildConfiguration) Args() []string {
	args := make([]string, 0, len(b.Base)+len(b.Flags)+len(b.Includes)+len(b.Defines))
	args = append(args, b.Base...)
	args = append(args, b.Flags...)
	for _, inc := range b.Includes {
		args = append(args, "-I"+inc)
	}
	for _, def := range b.Defines {
		args = append(args, "-D"+def)
	}
	return args
}

// Dialect returns the accepted -std= flag, or "" when none was accepted.
func (b *BuildConfiguration) Dialect() string {
	for _, flag := range b.Flags {
		if strings.HasPrefix(flag, "-std=") {
			return flag
		}
	}
	return ""
}

const flagProbeSource = "int main(void) { return 0; }\n"

// FlagProber decides whether a compiler accepts a flag by compiling a
// trivial translation unit with -Werror. Answers are cached per compiler and
// flag for the lifetime of the prober.
type FlagProber struct {
	runner Runner
	dir    string

	mu    sync.Mutex
	cache map[string]bool
}

// NewFlagProber creates a prober that writes its scratch files into dir.
func NewFlagProber(runner Runner, dir string) *FlagProber {
	return &FlagProber{runner: runner, dir: dir, cache: make(map[string]bool)}
}

// Supported reports whether compiler accepts flag. The only error is a
// compiler that cannot be run at all; a rejected flag is (false, nil).
func (p *FlagProber) Supported(ctx context.Context, compiler, flag string) (bool, error) {
	key := compiler + "\x00" + flag

	p.mu.Lock()
	ok, cached := p.cache[key]
	p.mu.Unlock()
	if cached {
		return ok, nil
	}

	src := filepath.Join(p.dir, "flag_check.cpp")
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(src, []byte(flagProbeSource), 0o644); err != nil {
		return false, err
	}

	_, err := p.runner.Run(ctx, Command{
		Name: compiler,
		Args: []string{"-Werror", flag, "-c", src, "-o", filepath.Join(p.dir, "flag_check.o")},
		Dir:  p.dir,
	})
	if err != nil && isToolMissing(err) {
		return false, fmt.Errorf("%w: %s", ErrToolMissing, compiler)
	}
	if err != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}
	ok = err == nil

	p.mu.Lock()
	p.cache[key] = ok
	p.mu.Unlock()
	return ok, nil
}

// Filter splits candidates into accepted and rejected, preserving order.
func (p *FlagProber) Filter(ctx context.Context, compiler string, candidates []string) (accepted, rejected []string, err error) {
	for _, flag := range uniqueStrings(candidates) {
		ok, err := p.Supported(ctx, compiler, flag)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			accepted = append(accepted, flag)
		} else {
			rejected = append(rejected, flag)
		}
	}
	return accepted, rejected, nil
}
