// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for request values
// that reach the filesystem.
//
// This package contains validators for user-provided path fragments and
// filenames used when storing or serving images. Using these validators
// prevents path traversal out of a serving root and uploads of non-image
// file types.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ImageExts lists the accepted chat-image extensions, lowercase with the
// leading dot.
var ImageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// SanitizeImageExt extracts, lowercases, and validates the extension of an
// uploaded filename against ImageExts.
// Returns the normalized extension if accepted, or an error if not.
//
// Example:
//
//	ext, err := validation.SanitizeImageExt(fh.Filename)
//	if err != nil {
//	    return // 400: unsupported file type
//	}
//	name := randomName() + ext
func SanitizeImageExt(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename cannot be empty")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !ImageExts[ext] {
		return "", fmt.Errorf("unsupported image extension: %q", ext)
	}
	return ext, nil
}

// ValidateRelPath validates a cleaned path fragment for joining below a
// serving root. The input must already be in filepath.Clean form; use
// SanitizeRelPath on raw request values.
//
// Valid paths:
//   - non-empty and not "."
//   - relative (no leading separator)
//   - no upward escape ("..", "../...")
//
// Returns an error if the path is invalid.
func ValidateRelPath(path string) error {
	if path == "" || path == "." {
		return fmt.Errorf("path cannot be empty")
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("path must be relative: %q", path)
	}
	if path == ".." || strings.HasPrefix(path, "../") {
		return fmt.Errorf("path escapes the serving root: %q", path)
	}
	return nil
}

// SanitizeRelPath normalizes a request-supplied path and validates it.
// Returns the cleaned relative path if valid, or an error if invalid.
//
// Use this on wildcard route parameters before joining them to a
// directory:
//
//	clean, err := validation.SanitizeRelPath(c.Param("filepath"))
//	if err != nil {
//	    return // 400: invalid path
//	}
//	full := filepath.Join(root, clean)
func SanitizeRelPath(raw string) (string, error) {
	clean := filepath.Clean(strings.TrimPrefix(raw, "/"))
	if err := ValidateRelPath(clean); err != nil {
		return "", err
	}
	return clean, nil
}
