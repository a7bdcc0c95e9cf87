// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package keyspace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebus-chat/rebus/services/cipher/alphabet"
)

// Known-answer vectors pinned against the reference construction
// sha256(key + ":" + code)[:4] big-endian mod 29. Any drift here corrupts
// every persisted mapping.
func TestBucketIndexKnownAnswers(t *testing.T) {
	tests := []struct {
		name string
		code string
		key  string
		want int
	}{
		{"alternating 01", strings.Repeat("01", 16), "SECRET", 12},
		{"all zeros", strings.Repeat("0", 32), "SECRET", 22},
		{"all ones", strings.Repeat("1", 32), "SECRET", 1},
		{"single-char key", strings.Repeat("0", 32), "k", 9},
		{"alternating 10", strings.Repeat("10", 16), "HUNTER2Q", 5},
		{"patterned", strings.Repeat("00011011", 4), "ABCD2345", 23},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BucketIndex(tt.code, tt.key))
		})
	}
}

func TestBucketIndexRange(t *testing.T) {
	for _, key := range []string{"A", "zz", "with space", ""} {
		got := BucketIndex(strings.Repeat("1", 32), key)
		require.GreaterOrEqual(t, got, 0)
		require.Less(t, got, alphabet.Size)
	}
}

func TestBucketIndexKeySensitivity(t *testing.T) {
	// Single-letter keys A..H over one code land on seven distinct buckets;
	// pinned spread proves the key participates in the hash.
	code := strings.Repeat("10", 16)
	seen := map[int]bool{}
	for _, key := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		seen[BucketIndex(code, key)] = true
	}
	assert.Equal(t, map[int]bool{9: true, 10: true, 14: true, 15: true, 18: true, 19: true, 20: true}, seen)
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean key unchanged", "ABCD2345", "ABCD2345"},
		{"dots and dashes kept", "a-b_c.d", "a-b_c.d"},
		{"slash replaced", "a/b", "a_b"},
		{"spaces replaced", "my key", "my_key"},
		{"traversal neutralized", "../../etc", ".._.._etc"},
		{"empty becomes default", "", "default"},
		{"all symbols become underscores", "!!!", "___"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeName(tt.in))
		})
	}
}

func TestSafeNameCollision(t *testing.T) {
	// Documented non-injectivity: distinct raw keys, one safe name.
	assert.Equal(t, SafeName("a/b"), SafeName("a_b"))
}

func TestNewRandomKey(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		key, err := NewRandomKey()
		require.NoError(t, err)
		require.Len(t, key, KeyLength)
		for _, r := range key {
			assert.Contains(t, KeyCharset, string(r))
		}
		seen[key] = true
	}
	// 64 draws from a 32^8 space colliding would be astonishing.
	assert.Len(t, seen, 64)
}

func TestKeyCharsetExcludesConfusables(t *testing.T) {
	require.Len(t, KeyCharset, 32)
	for _, r := range "IO01" {
		assert.NotContains(t, KeyCharset, string(r))
	}
}
