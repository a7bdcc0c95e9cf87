// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/rebus-chat/rebus/services/cipher/keyspace"
)

const (
	mappingFile = "mapping.json"
	metaFile    = "mapping.meta.json"
)

// ErrNotIndexed is returned by Load when no committed mapping exists for
// the key.
var ErrNotIndexed = errors.New("index: key not indexed")

// Store persists key mappings under a root directory (one subdirectory
// per safe key name). It owns mapping.json and the meta sidecar; the
// Indexer writes the bucket image copies around it.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir (typically <data>/keys).
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory holding one key's mapping and bucket copies.
func (s *Store) Dir(key string) string {
	return filepath.Join(s.root, keyspace.SafeName(key))
}

// BucketDir returns the directory for one bucket of one key.
func (s *Store) BucketDir(key string, bucket int) string {
	return filepath.Join(s.Dir(key), fmt.Sprintf("%d", bucket))
}

// ExistsFor reports whether a committed mapping exists for key.
func (s *Store) ExistsFor(key string) bool {
	_, err := os.Stat(filepath.Join(s.Dir(key), mappingFile))
	return err == nil
}

// Load reads the committed mapping for key.
//
// Description:
//
//	Returns ErrNotIndexed when mapping.json is absent. A present but
//	unparsable mapping is surfaced as an error rather than silently
//	rebuilt; rebuilding would reassign ciphertext images already in
//	flight, which is worse than failing loudly.
//
//	When the meta sidecar records a different raw key than the one asked
//	for, two raw keys have collided onto one safe name; the collision is
//	logged and the stored mapping is returned as-is, because that is the
//	mapping any historical ciphertext under this directory was built with.
func (s *Store) Load(key string) (*KeyMapping, error) {
	safe := keyspace.SafeName(key)
	dir := filepath.Join(s.root, safe)

	data, err := os.ReadFile(filepath.Join(dir, mappingFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotIndexed, safe)
		}
		return nil, fmt.Errorf("index: reading mapping for %s: %w", safe, err)
	}

	buckets, err := decodeBuckets(data)
	if err != nil {
		return nil, fmt.Errorf("index: mapping for %s: %w", safe, err)
	}

	m := &KeyMapping{Key: key, SafeName: safe, Buckets: buckets}
	if meta, ok := s.readMeta(dir); ok {
		m.CorpusSize = meta.CorpusSize
		m.BuiltAt = meta.BuiltAt
		if meta.Key != "" {
			if meta.Key != key {
				slog.Warn("safe-name collision: serving mapping built under a different raw key",
					"safe_name", safe,
					"built_under_len", len(meta.Key),
					"requested_len", len(key))
			}
			m.Key = meta.Key
		}
	}
	return m, nil
}

// Save commits a mapping: meta first, then mapping.json atomically (temp
// file + rename). Callers must have finished the bucket copies before
// calling Save.
func (s *Store) Save(m *KeyMapping) error {
	dir := filepath.Join(s.root, m.SafeName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("index: creating %s: %w", dir, err)
	}

	meta := mappingMeta{Key: m.Key, CorpusSize: m.CorpusSize, BuiltAt: m.BuiltAt}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), metaData, 0o644); err != nil {
		return fmt.Errorf("index: writing meta for %s: %w", m.SafeName, err)
	}

	data, err := encodeBuckets(m.Buckets)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, mappingFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("index: staging mapping for %s: %w", m.SafeName, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("index: staging mapping for %s: %w", m.SafeName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("index: staging mapping for %s: %w", m.SafeName, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, mappingFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("index: committing mapping for %s: %w", m.SafeName, err)
	}
	return nil
}

// ListKeys returns the keys with committed mappings, sorted. Directories
// with a meta sidecar report their raw key; legacy directories report the
// safe name, which for generated keys is the key itself.
func (s *Store) ListKeys() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("index: reading store root: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, mappingFile)); err != nil {
			continue
		}
		key := e.Name()
		if meta, ok := s.readMeta(dir); ok && meta.Key != "" {
			key = meta.Key
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) readMeta(dir string) (mappingMeta, bool) {
	var meta mappingMeta
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return meta, false
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		slog.Warn("ignoring unparsable mapping meta", "dir", dir, "error", err)
		return mappingMeta{}, false
	}
	return meta, true
}
