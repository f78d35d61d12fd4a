package nativebind

import (
	"path/filepath"
	"strings"
)

// MatchesExtension checks if a filename has any of the given extensions.
//
// This is a case-insensitive check on the final extension of the name, so
// ".cpp" matches "context.cpp" and "CONTEXT.CPP" but not "context.cpp.in".
//
// # Parameters
//
//   - filename: The file to check
//   - extensions: One or more extensions to check (with or without leading dot)
//
// # Example
//
//	// Collect C++ translation units
//	if MatchesExtension(name, ".cpp", ".cc") {
//	    units = append(units, name)
//	}
//
// # Thread Safety
//
// This function is thread-safe and can be called concurrently.
func MatchesExtension(filename string, extensions ...string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, want := range extensions {
		if ext == normalizeExtension(want) {
			return true
		}
	}
	return false
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// uniqueStrings drops empty values and repeats, keeping first occurrences.
func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	var result []string

	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}

	return result
}
