// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package alphabet defines the 29-symbol cipher alphabet shared by every
// component that maps characters to bucket indices and back.
//
// The alphabet is a process-wide constant:
//
//	"ABCDEFGHIJKLMNOPQRSTUVWXYZ ,."
//
// 26 letters, space, comma, period, in that order. Its size (29, a prime)
// is baked into persisted key mappings; changing it invalidates every
// mapping already on disk.
package alphabet

import "strings"

// Chars is the cipher alphabet. Index order is load-bearing: position in
// this string IS the bucket index.
const Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ ,."

// Size is the number of symbols in the alphabet (and the number of buckets
// in every key mapping).
const Size = len(Chars)

// SpaceIndex is the bucket index of the space symbol. Characters outside
// the alphabet collapse onto it.
const SpaceIndex = 26

// CharIndex maps a rune to its bucket index.
//
// Description:
//
//	Lower-case letters are folded to upper case before lookup. Runes not in
//	the alphabet (digits, punctuation other than comma/period, non-ASCII)
//	map to SpaceIndex. Total: every rune yields a valid index in [0, Size).
func CharIndex(r rune) int {
	if r >= 'a' && r <= 'z' {
		r -= 'a' - 'A'
	}
	if i := strings.IndexRune(Chars, r); i >= 0 {
		return i
	}
	return SpaceIndex
}

// Symbol maps a bucket index back to its rune. Out-of-range indices are
// reduced modulo Size, so any non-negative int is safe.
func Symbol(i int) rune {
	i %= Size
	if i < 0 {
		i += Size
	}
	return rune(Chars[i])
}

// Normalize returns the alphabet-normalized form of s: each rune replaced
// by the symbol of its own index. Encoding preserves exactly this form, so
// Normalize(plaintext) is what a decode of the encoded images yields.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(Symbol(CharIndex(r)))
	}
	return b.String()
}
