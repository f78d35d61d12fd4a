//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var Default = Build

// Build compiles the nativebind CLI into bin/.
func Build() error {
	if err := os.MkdirAll("bin", 0o755); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-o", "bin/nativebind", "./cmd/nativebind")
}

// Test runs the unit tests.
func Test() error {
	return sh.RunV("go", "test", "-short", "./...")
}

// Integration runs the tests that drive the real toolchain.
func Integration() error {
	return sh.RunWith(map[string]string{"NATIVEBIND_INTEGRATION": "1"}, "go", "test", "-run", "Integration", "-v", ".")
}

// Bind regenerates the binding described by configs/seal.toml.
func Bind() error {
	mg.Deps(Build)
	config := os.Getenv("NATIVEBIND_CONFIG")
	if config == "" {
		config = "configs/seal.toml"
	}
	fmt.Println("binding with", config)
	return sh.RunV("bin/nativebind", "-config", config)
}

// Check validates the config and the toolchain without running.
func Check() error {
	mg.Deps(Build)
	return sh.RunV("bin/nativebind", "-config", "configs/seal.toml", "-check")
}

// Clean removes build outputs.
func Clean() error {
	return sh.Rm("bin")
}
