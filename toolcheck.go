package nativebind

import (
	"fmt"
	"os/exec"
	"strings"
)

// execLookPath is replaced in tests.
var execLookPath = exec.LookPath

// ToolChecker is an optional interface for stages that drive external tools.
//
// Stages implement it to declare their tool dependencies so that a run can
// fail fast, before any staging directory exists, when a tool is missing.
// Stages that don't implement it are simply not checked.
//
// # Example Implementation
//
//	func (d *CompilerDriver) RequiredTools(config *Config) []ToolRequirement {
//	    return []ToolRequirement{
//	        {Name: config.Compile.Compiler, Alternatives: []string{"g++", "clang++"}, Purpose: "C++ compiler"},
//	        {Name: config.Compile.Archiver, Purpose: "static archiver"},
//	    }
//	}
//
// # Consumer Usage
//
//	if err := pipeline.CheckTools(); err != nil {
//	    return fmt.Errorf("build tools missing: %w", err)
//	}
type ToolChecker interface {
	// RequiredTools returns the tools the stage needs under config,
	// including optional tools and alternatives.
	RequiredTools(config *Config) []ToolRequirement
}

// ToolRequirement describes a tool dependency.
//
// # Examples
//
// Required tool:
//
//	ToolRequirement{
//	    Name: "git",
//	    Purpose: "fetch the pinned upstream revision",
//	}
//
// Optional tool:
//
//	ToolRequirement{
//	    Name: "cmake",
//	    Optional: true,
//	    Purpose: "configure the upstream source tree",
//	}
//
// Tool with alternatives:
//
//	ToolRequirement{
//	    Name: "c++",
//	    Alternatives: []string{"g++", "clang++"},
//	    Purpose: "C++ compiler",
//	}
type ToolRequirement struct {
	// Name is the primary tool binary name (e.g., "git", "clang++").
	Name string

	// Alternatives are alternative tool names that can satisfy this requirement.
	// If any tool in Alternatives is found, the requirement is satisfied.
	Alternatives []string

	// Optional indicates this tool is optional and won't cause an error if missing.
	Optional bool

	// Purpose is a human-readable description of why this tool is needed.
	Purpose string
}

// CheckToolAvailable checks if a tool is available in the system PATH.
//
// The returned error matches ErrToolMissing.
func CheckToolAvailable(tool string) error {
	_, err := execLookPath(tool)
	if err != nil {
		return fmt.Errorf("%w: %s not found in PATH", ErrToolMissing, tool)
	}
	return nil
}

// resolveTool returns name when it is on PATH, otherwise the first
// alternative that is. Without alternatives name is returned unchecked.
func resolveTool(name string, alternatives []string) string {
	if len(alternatives) == 0 {
		return name
	}
	if _, err := execLookPath(name); err == nil {
		return name
	}
	for _, alt := range alternatives {
		if _, err := execLookPath(alt); err == nil {
			return alt
		}
	}
	return name
}

// CheckRequiredTools verifies all required tools are available.
//
// # Behavior
//
//   - Checks the primary tool name first
//   - If not found, tries each alternative tool in order
//   - Optional tools are checked but don't cause errors
//   - Returns all missing required tools in a single error
//
// # Error Format
//
// Single missing tool:
//
//	required tool not found: git (fetch the pinned upstream revision)
//
// Multiple missing tools:
//
//	required tool not found: git (fetch the pinned upstream revision), ar (static archiver)
//
// The error matches ErrToolMissing.
func CheckRequiredTools(requirements []ToolRequirement) error {
	var missingTools []string

	for _, req := range requirements {
		found := CheckToolAvailable(req.Name) == nil

		if !found && len(req.Alternatives) > 0 {
			for _, alt := range req.Alternatives {
				if CheckToolAvailable(alt) == nil {
					found = true
					break
				}
			}
		}

		if !found && !req.Optional {
			if req.Purpose != "" {
				missingTools = append(missingTools, fmt.Sprintf("%s (%s)", req.Name, req.Purpose))
			} else {
				missingTools = append(missingTools, req.Name)
			}
		}
	}

	if len(missingTools) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrToolMissing, strings.Join(missingTools, ", "))
}
