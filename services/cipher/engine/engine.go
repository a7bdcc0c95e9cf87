// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine implements the cipher itself: text to image references
// and uploaded image bytes back to text.
//
// Encryption is a per-character bucket lookup (a character's bucket
// index is simply its alphabet position) followed by a random pick from
// that bucket's images. Decryption recomputes each image's fingerprint,
// re-derives its keyed bucket, and reads the alphabet symbol at that
// position. The mapping never travels: both directions only work because
// peers derive the same buckets from the same key and corpus.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rebus-chat/rebus/services/cipher/alphabet"
	"github.com/rebus-chat/rebus/services/cipher/fingerprint"
	"github.com/rebus-chat/rebus/services/cipher/index"
	"github.com/rebus-chat/rebus/services/cipher/keyspace"
)

var engineTracer = otel.Tracer("rebus.cipher.engine")

var (
	// ErrEmptyKey rejects encode/decode calls without a key.
	ErrEmptyKey = errors.New("engine: key must not be empty")

	// ErrEmptyText rejects encode calls without text.
	ErrEmptyText = errors.New("engine: text must not be empty")

	// ErrNoImages rejects decode calls without any images.
	ErrNoImages = errors.New("engine: no images to decode")
)

// ImageRef points at one materialized bucket image. Refs preserve the
// character order of the encoded text.
type ImageRef struct {
	Bucket   int    `json:"bucket"`
	Filename string `json:"filename"`
}

// EncryptResult is the outcome of one encode call.
type EncryptResult struct {
	// Refs lists the chosen images in plaintext character order.
	// Characters whose bucket was empty contribute no ref.
	Refs []ImageRef

	// SafeName is the key's directory name, for building serving URLs.
	SafeName string

	// BuiltNow reports whether this call triggered the key's first
	// indexing pass.
	BuiltNow bool
}

// FingerprintFunc mirrors index.FingerprintFunc for decode-side
// injection.
type FingerprintFunc func(data []byte) (string, error)

// Options configures an Engine.
type Options struct {
	// Fingerprint overrides decode-side extraction. Default:
	// fingerprint.Extract.
	Fingerprint FingerprintFunc

	// IntN overrides the selection randomness; it must return a uniform
	// value in [0, n). Default: math/rand/v2 IntN, which is safe for
	// concurrent use.
	IntN func(n int) int
}

// Engine performs encode and decode against one Indexer.
type Engine struct {
	ix   *index.Indexer
	fp   FingerprintFunc
	intN func(n int) int
}

// New creates an Engine. opts may be nil.
func New(ix *index.Indexer, opts *Options) *Engine {
	e := &Engine{
		ix:   ix,
		fp:   fingerprint.Extract,
		intN: rand.IntN,
	}
	if opts != nil {
		if opts.Fingerprint != nil {
			e.fp = opts.Fingerprint
		}
		if opts.IntN != nil {
			e.intN = opts.IntN
		}
	}
	return e
}

// Encrypt encodes text into an ordered list of image references under
// key, building the key's mapping on first use.
//
// Description:
//
//	Each character maps to the bucket at its alphabet index. Selection
//	within a bucket avoids repeats: every image in the bucket is used
//	once (uniformly, in random order) before any repeats, scoped to this
//	single call. Characters whose bucket is empty are skipped silently:
//	lossy by contract, not an error.
//
// Outputs:
//
//	EncryptResult - refs in character order, plus build provenance
//	error         - ErrEmptyKey/ErrEmptyText, corpus or store failures
func (e *Engine) Encrypt(ctx context.Context, key, text string) (EncryptResult, error) {
	ctx, span := engineTracer.Start(ctx, "engine.Encrypt")
	defer span.End()

	if key == "" {
		return EncryptResult{}, ErrEmptyKey
	}
	if text == "" {
		return EncryptResult{}, ErrEmptyText
	}

	m, built, err := e.ix.GetOrBuild(ctx, key)
	if err != nil {
		span.RecordError(err)
		return EncryptResult{}, err
	}

	sel := newSelector(e.intN)
	result := EncryptResult{SafeName: m.SafeName, BuiltNow: built}
	skipped := 0
	for _, r := range text {
		b := alphabet.CharIndex(r)
		name, ok := sel.pick(b, m.Bucket(b))
		if !ok {
			skipped++
			continue
		}
		result.Refs = append(result.Refs, ImageRef{Bucket: b, Filename: name})
	}
	if skipped > 0 {
		slog.Warn("characters dropped by empty buckets",
			"safe_name", m.SafeName, "dropped", skipped, "encoded", len(result.Refs))
	}

	span.SetAttributes(
		attribute.Int("rebus.chars", len([]rune(text))),
		attribute.Int("rebus.refs", len(result.Refs)),
		attribute.Bool("rebus.built_now", built),
	)
	return result, nil
}

// Decrypt recovers text from ordered image bytes under key.
//
// Images that fail to fingerprint are skipped and the result is simply
// shorter than the input, so a batch with one corrupt upload still
// decodes the rest. Decoding needs no mapping: the fingerprint and the
// key alone determine each symbol.
func (e *Engine) Decrypt(ctx context.Context, key string, images [][]byte) (string, error) {
	_, span := engineTracer.Start(ctx, "engine.Decrypt")
	defer span.End()

	if key == "" {
		return "", ErrEmptyKey
	}
	if len(images) == 0 {
		return "", ErrNoImages
	}

	out := make([]rune, 0, len(images))
	skipped := 0
	for i, data := range images {
		code, err := e.fp(data)
		if err != nil {
			slog.Warn("skipping undecodable image during decode", "position", i, "error", err)
			skipped++
			continue
		}
		out = append(out, alphabet.Symbol(keyspace.BucketIndex(code, key)))
	}

	span.SetAttributes(
		attribute.Int("rebus.images", len(images)),
		attribute.Int("rebus.skipped", skipped),
	)
	return string(out), nil
}

// selector holds the per-call anti-repetition state: for each bucket, the
// set of member indices already chosen. It lives for exactly one Encrypt
// call and never leaks into the mapping.
type selector struct {
	intN func(n int) int
	used map[int]map[int]struct{}
}

func newSelector(intN func(n int) int) *selector {
	return &selector{intN: intN, used: make(map[int]map[int]struct{})}
}

// pick chooses a filename from candidates for bucket b: uniformly among
// the not-yet-used members while any remain, then uniformly among all
// (repetition allowed only after exhaustion). Returns false for an empty
// bucket.
func (s *selector) pick(b int, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	usedSet := s.used[b]
	if usedSet == nil {
		usedSet = make(map[int]struct{})
		s.used[b] = usedSet
	}

	if len(usedSet) < len(candidates) {
		unused := make([]int, 0, len(candidates)-len(usedSet))
		for i := range candidates {
			if _, ok := usedSet[i]; !ok {
				unused = append(unused, i)
			}
		}
		choice := unused[s.intN(len(unused))]
		usedSet[choice] = struct{}{}
		return candidates[choice], true
	}

	choice := s.intN(len(candidates))
	usedSet[choice] = struct{}{}
	return candidates[choice], true
}
