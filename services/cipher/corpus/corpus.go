// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package corpus enumerates the shared image library that key mappings are
// built from.
//
// The corpus is a flat, read-only directory both peers deploy identically.
// Enumeration order is part of the cipher contract: mappings list bucket
// members in corpus order, so List always sorts by filename.
package corpus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrMissing is returned when the corpus root does not exist or is not a
// directory. Unlike a fingerprint failure this is fatal: without a corpus
// no mapping can be built.
var ErrMissing = errors.New("corpus: directory missing")

// imageExts are the corpus file types, matched case-insensitively.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// IsImage reports whether name has a corpus image extension.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// Library is a handle on the corpus directory. It holds no state beyond
// the root path; every List call re-reads the directory.
type Library struct {
	root string
}

// NewLibrary returns a Library rooted at dir. The directory is not
// required to exist yet; List reports ErrMissing when it doesn't.
func NewLibrary(dir string) *Library {
	return &Library{root: dir}
}

// Root returns the corpus directory path.
func (l *Library) Root() string {
	return l.root
}

// Path returns the absolute path of a corpus file by name.
func (l *Library) Path(name string) string {
	return filepath.Join(l.root, name)
}

// List returns the corpus image filenames sorted lexicographically.
//
// Subdirectories and non-image files are skipped. An existing but empty
// corpus returns an empty slice and no error; indexing decides whether
// that is acceptable.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, l.root)
		}
		return nil, fmt.Errorf("corpus: reading %s: %w", l.root, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Read returns the raw bytes of a corpus file by name.
func (l *Library) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(l.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, l.Path(name))
		}
		return nil, err
	}
	return data, nil
}
