// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rebus-chat/rebus/services/cipher/alphabet"
	"github.com/rebus-chat/rebus/services/cipher/corpus"
	"github.com/rebus-chat/rebus/services/cipher/fingerprint"
	"github.com/rebus-chat/rebus/services/cipher/keyspace"
)

// FingerprintFunc computes the 32-character code for raw image bytes.
// Production wiring uses fingerprint.Extract; tests substitute cheap
// deterministic functions.
type FingerprintFunc func(data []byte) (string, error)

// Options configures an Indexer.
type Options struct {
	// Parallelism bounds concurrent fingerprint extraction during a
	// build. Default: GOMAXPROCS.
	Parallelism int

	// Fingerprint overrides the extraction function. Default:
	// fingerprint.Extract.
	Fingerprint FingerprintFunc
}

// Indexer builds key mappings lazily and memoizes them.
//
// # Description
//
// GetOrBuild is the single entry point: the first use of a key pays for a
// full corpus pass (fingerprint every image, bucket, copy), and every
// later use loads the committed mapping. An in-memory cache fronts the
// store so steady-state lookups touch no disk.
//
// # Concurrency
//
// Concurrent first uses of the same key are collapsed into one build via
// singleflight, keyed by safe name. Different keys build independently.
// The build itself fans fingerprint extraction out over an errgroup with
// bounded parallelism and honors context cancellation between images.
//
// # Thread Safety
//
// Safe for concurrent use.
type Indexer struct {
	lib         *corpus.Library
	store       *Store
	fp          FingerprintFunc
	parallelism int

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*KeyMapping
}

// New creates an Indexer over the given corpus and store. opts may be nil.
func New(lib *corpus.Library, store *Store, opts *Options) *Indexer {
	ix := &Indexer{
		lib:         lib,
		store:       store,
		fp:          fingerprint.Extract,
		parallelism: runtime.GOMAXPROCS(0),
		cache:       make(map[string]*KeyMapping),
	}
	if opts != nil {
		if opts.Parallelism > 0 {
			ix.parallelism = opts.Parallelism
		}
		if opts.Fingerprint != nil {
			ix.fp = opts.Fingerprint
		}
	}
	return ix
}

// GetOrBuild returns the mapping for key, building it on first use.
//
// Outputs:
//
//	*KeyMapping - the committed mapping
//	bool        - true when this call (or the build it joined) built it
//	error       - corpus.ErrMissing when the corpus is absent; store errors
func (ix *Indexer) GetOrBuild(ctx context.Context, key string) (*KeyMapping, bool, error) {
	safe := keyspace.SafeName(key)

	ix.mu.RLock()
	cached := ix.cache[safe]
	ix.mu.RUnlock()
	if cached != nil {
		return cached, false, nil
	}

	if m, err := ix.store.Load(key); err == nil {
		ix.memoize(safe, m)
		return m, false, nil
	} else if !errors.Is(err, ErrNotIndexed) {
		return nil, false, err
	}

	type buildResult struct {
		mapping *KeyMapping
		built   bool
	}
	v, err, _ := ix.group.Do(safe, func() (interface{}, error) {
		// A flight that finished while this caller queued may already
		// have committed the mapping.
		if m, err := ix.store.Load(key); err == nil {
			return buildResult{mapping: m}, nil
		} else if !errors.Is(err, ErrNotIndexed) {
			return nil, err
		}
		m, err := ix.build(ctx, key)
		if err != nil {
			return nil, err
		}
		return buildResult{mapping: m, built: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(buildResult)
	ix.memoize(safe, res.mapping)
	return res.mapping, res.built, nil
}

// Cached returns the memoized mapping for key without touching the store,
// or nil.
func (ix *Indexer) Cached(key string) *KeyMapping {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.cache[keyspace.SafeName(key)]
}

func (ix *Indexer) memoize(safe string, m *KeyMapping) {
	ix.mu.Lock()
	ix.cache[safe] = m
	ix.mu.Unlock()
}

// build runs the full corpus pass for one key and commits the result.
//
// Per-image fingerprint failures are logged and skipped; the image simply
// joins no bucket. A missing corpus aborts before anything is persisted.
func (ix *Indexer) build(ctx context.Context, key string) (*KeyMapping, error) {
	start := time.Now()
	safe := keyspace.SafeName(key)

	names, err := ix.lib.List()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		slog.Warn("building mapping over an empty corpus; every bucket will be empty",
			"safe_name", safe, "corpus_dir", ix.lib.Root())
	}

	slog.Info("building key mapping", "safe_name", safe, "corpus_size", len(names))

	// Fingerprint the corpus with bounded parallelism. Failed images are
	// recorded as empty codes and dropped at bucketing.
	codes := make([]string, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.parallelism)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := ix.lib.Read(name)
			if err != nil {
				slog.Warn("skipping unreadable corpus image", "image", name, "error", err)
				return nil
			}
			code, err := ix.fp(data)
			if err != nil {
				slog.Warn("skipping unfingerprintable corpus image", "image", name, "error", err)
				return nil
			}
			codes[i] = code
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := &KeyMapping{Key: key, SafeName: safe, CorpusSize: len(names), BuiltAt: time.Now().UTC()}
	for i := range m.Buckets {
		m.Buckets[i] = []string{}
	}
	for i, code := range codes {
		if code == "" {
			continue
		}
		b := keyspace.BucketIndex(code, key)
		m.Buckets[b] = append(m.Buckets[b], names[i])
	}

	if err := ix.materialize(ctx, m); err != nil {
		return nil, err
	}
	if err := ix.store.Save(m); err != nil {
		return nil, err
	}

	slog.Info("key mapping committed",
		"safe_name", safe,
		"images", m.Total(),
		"skipped", len(names)-m.Total(),
		"duration", time.Since(start))
	return m, nil
}

// materialize copies every assigned image byte-for-byte into its bucket
// directory. All 29 bucket directories are created even when empty, so
// the on-disk shape is uniform. Copies are overwrite-idempotent: a crashed
// earlier build leaves nothing that a rerun can't fix, because the commit
// point (mapping.json) only lands after this returns.
func (ix *Indexer) materialize(ctx context.Context, m *KeyMapping) error {
	for b := 0; b < alphabet.Size; b++ {
		dir := ix.store.BucketDir(m.Key, b)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("index: creating bucket dir: %w", err)
		}
		for _, name := range m.Buckets[b] {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := copyFile(ix.lib.Path(name), filepath.Join(dir, name)); err != nil {
				return fmt.Errorf("index: copying %s to bucket %d: %w", name, b, err)
			}
		}
	}
	return nil
}

// copyFile is a byte-exact copy. No image re-encode, ever: decoding and
// re-encoding would alter bytes and with them the fingerprint, breaking
// decryption of images served from the bucket tree.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
