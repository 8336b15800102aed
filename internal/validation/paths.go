// Package validation provides input validation for names and paths that come
// from uploads and case files.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// ValidateFilename validates a filename (not a full path) to prevent path traversal.
//
// Returns an error if the filename:
//   - Is empty
//   - Contains path separators (/ or \)
//   - Is "." or ".."
//   - Contains null bytes
func ValidateFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	if strings.ContainsRune(filename, 0) {
		return fmt.Errorf("filename contains null byte: %q", filename)
	}

	if strings.ContainsRune(filename, '/') || strings.ContainsRune(filename, '\\') {
		return fmt.Errorf("filename cannot contain path separators: %s", filename)
	}

	// Separators are already rejected, so "foo..bar.stl" is fine.
	if filename == ".." || filename == "." {
		return fmt.Errorf("filename cannot be %q", filename)
	}

	return nil
}

// ValidateGeometryName applies ValidateFilename and the extra rules a surface
// file needs to be usable inside OpenFOAM dictionaries: the stem becomes a
// patch name, so it must be a single word without quotes or braces.
func ValidateGeometryName(name string) error {
	if err := ValidateFilename(name); err != nil {
		return err
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" || strings.HasPrefix(name, ".") {
		return fmt.Errorf("geometry file %q has no base name", name)
	}

	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("geometry file name cannot contain whitespace: %q", name)
		}
		switch r {
		case '"', '\'', ';', '{', '}', '(', ')', '$', '#':
			return fmt.Errorf("geometry file name cannot contain %q: %s", r, name)
		}
	}

	return nil
}

// ValidatePathInDirectory validates that a path, when resolved, stays within baseDir.
//
// Both path and baseDir are cleaned and made absolute before comparison.
//
// Example:
//
//	ValidatePathInDirectory("../../etc/passwd", "/tmp/case") // Error: escapes base dir
//	ValidatePathInDirectory("system/controlDict", "/tmp/case") // OK
func ValidatePathInDirectory(path string, baseDir string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	cleanBase := filepath.Clean(baseDir)

	var err error
	if !filepath.IsAbs(cleanBase) {
		cleanBase, err = filepath.Abs(cleanBase)
		if err != nil {
			return fmt.Errorf("failed to resolve base directory: %w", err)
		}
	}

	var resolvedPath string
	if filepath.IsAbs(cleanPath) {
		resolvedPath = cleanPath
	} else {
		resolvedPath = filepath.Join(cleanBase, cleanPath)
	}
	resolvedPath = filepath.Clean(resolvedPath)

	relPath, err := filepath.Rel(cleanBase, resolvedPath)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}

	if strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || relPath == ".." {
		return fmt.Errorf("path escapes base directory: %s (base: %s)", path, baseDir)
	}

	return nil
}
