// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package keyspace implements the keyed bucket-index function, key minting,
// and the filesystem-safe key naming used by the mapping store.
//
// The bucket index is the heart of the cipher: two peers holding the same
// key derive identical character assignments for identical image bytes,
// without the mapping itself ever crossing the wire.
package keyspace

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"unicode"

	"github.com/rebus-chat/rebus/services/cipher/alphabet"
)

// KeyCharset is the mint alphabet for generated keys. Exactly 32 symbols:
// the confusable glyphs I, O, 0 and 1 are excluded so keys survive being
// read aloud or retyped.
const KeyCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// KeyLength is the length of generated keys.
const KeyLength = 8

// DefaultName is the safe name substituted for keys that sanitize to the
// empty string.
const DefaultName = "default"

// BucketIndex derives the alphabet bucket for a fingerprint code under key.
//
// Description:
//
//	Computes sha256(key + ":" + code), takes the first four digest bytes as
//	a big-endian unsigned integer, and reduces modulo the alphabet size.
//	The construction is fixed: persisted mappings depend on it byte for
//	byte, so it must never change.
//
// Inputs:
//
//	code - 32-character binary fingerprint string
//	key  - shared secret, used verbatim (no trimming or case folding)
//
// Outputs:
//
//	int - bucket index in [0, alphabet.Size)
func BucketIndex(code, key string) int {
	sum := sha256.Sum256([]byte(key + ":" + code))
	return int(binary.BigEndian.Uint32(sum[:4]) % uint32(alphabet.Size))
}

// SafeName reduces a raw key to a directory-safe name.
//
// Letters, digits, and the characters '-', '_', '.' pass through; every
// other rune becomes '_'. An empty result becomes DefaultName. The map is
// not injective ("a/b" and "a_b" share a name), which is why the mapping
// store records the raw key it was built under (see the index package).
func SafeName(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return DefaultName
	}
	return b.String()
}

// NewRandomKey mints a fresh KeyLength-character key from KeyCharset using
// crypto/rand. KeyCharset has 32 symbols, so masking each random byte to
// five bits selects uniformly with no rejection loop.
func NewRandomKey() (string, error) {
	buf := make([]byte, KeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, KeyLength)
	for i, c := range buf {
		out[i] = KeyCharset[c&0x1f]
	}
	return string(out), nil
}
