// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package index builds and persists per-key bucket mappings over the
// corpus.
//
// A key's mapping assigns every corpus image to one of the 29 alphabet
// buckets via the keyed fingerprint hash, and materializes a byte-exact
// copy of each image under the key's directory:
//
//	<data>/keys/<safe-name>/<bucket>/<filename>
//	<data>/keys/<safe-name>/mapping.json
//	<data>/keys/<safe-name>/mapping.meta.json
//
// mapping.json is the commit point: it is written atomically after all
// copies land, so a directory either has a complete mapping or none.
// Mappings are immutable once built; a changed corpus does not rewrite
// them (see the corpus watcher for how drift is surfaced).
package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rebus-chat/rebus/services/cipher/alphabet"
)

// KeyMapping is one key's bucket assignment.
type KeyMapping struct {
	// Key is the raw key the mapping was built under. For directories
	// produced by older tooling without metadata this falls back to the
	// safe name.
	Key string

	// SafeName is the sanitized directory name.
	SafeName string

	// Buckets lists member filenames per bucket index, in corpus
	// enumeration order. Every bucket exists; empty ones are empty slices.
	Buckets [alphabet.Size][]string

	// CorpusSize is how many corpus images were fingerprinted during the
	// build (zero when unknown).
	CorpusSize int

	// BuiltAt is when the mapping was committed (zero when unknown).
	BuiltAt time.Time
}

// Bucket returns the filenames assigned to bucket i, nil when i is out of
// range.
func (m *KeyMapping) Bucket(i int) []string {
	if i < 0 || i >= alphabet.Size {
		return nil
	}
	return m.Buckets[i]
}

// Total returns the number of images across all buckets.
func (m *KeyMapping) Total() int {
	n := 0
	for _, b := range m.Buckets {
		n += len(b)
	}
	return n
}

// Occupancy returns the per-bucket member counts.
func (m *KeyMapping) Occupancy() [alphabet.Size]int {
	var occ [alphabet.Size]int
	for i, b := range m.Buckets {
		occ[i] = len(b)
	}
	return occ
}

// encodeBuckets serializes buckets to the on-disk format: a JSON object
// with string bucket indices "0".."28" in numeric order, every bucket
// present. The numeric ordering keeps the file stable across builds.
func encodeBuckets(buckets [alphabet.Size][]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, files := range buckets {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%q: ", strconv.Itoa(i))
		if files == nil {
			files = []string{}
		}
		member, err := json.Marshal(files)
		if err != nil {
			return nil, err
		}
		buf.Write(member)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeBuckets parses the on-disk format. Absent bucket indices load as
// empty (tolerated for files written by older tooling); keys that are not
// integers in [0, 29) mean the file is not a mapping at all.
func decodeBuckets(data []byte) ([alphabet.Size][]string, error) {
	var buckets [alphabet.Size][]string
	raw := map[string][]string{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return buckets, fmt.Errorf("index: parsing mapping: %w", err)
	}
	for k, files := range raw {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= alphabet.Size {
			return buckets, fmt.Errorf("index: mapping has invalid bucket %q", k)
		}
		buckets[i] = files
	}
	for i := range buckets {
		if buckets[i] == nil {
			buckets[i] = []string{}
		}
	}
	return buckets, nil
}

// mappingMeta is the sidecar written next to mapping.json. It records the
// raw key (safe names are lossy) and build provenance. It takes no part
// in cipher semantics, and its absence is tolerated on load.
type mappingMeta struct {
	Key        string    `json:"key"`
	CorpusSize int       `json:"corpus_size"`
	BuiltAt    time.Time `json:"built_at"`
}
