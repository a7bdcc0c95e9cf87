// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rebus-chat/rebus/services/cipher/corpus"
	"github.com/rebus-chat/rebus/services/cipher/index"
)

// =============================================================================
// INDEX COMMAND
// =============================================================================

// runIndex is the CLI handler for "rebus index".
//
// First use of a key fingerprints the whole corpus, buckets every image
// under the key, and copies members into the key's directory; later runs
// load the committed mapping. Either way the per-bucket occupancy table
// is printed, which is the quickest way to see whether a corpus is big
// enough for readable ciphertext (empty buckets drop characters).
func runIndex(cmd *cobra.Command, args []string) {
	if cipherKey == "" {
		exitErr("missing --key", nil)
	}

	ix := newIndexer()
	start := time.Now()
	m, built, err := ix.GetOrBuild(context.Background(), cipherKey)
	if err != nil {
		if errors.Is(err, corpus.ErrMissing) {
			exitErr(fmt.Sprintf("corpus directory %s does not exist", resolveCorpusDir()), nil)
		}
		exitErr("index build failed", err)
	}

	if built {
		cliLog.Info("mapping built",
			"key", m.SafeName,
			"images", m.CorpusSize,
			"elapsed", time.Since(start).Round(time.Millisecond).String(),
		)
		fmt.Println(Styles.Success.Render(
			fmt.Sprintf("Built a new mapping for %s (%d images)", m.Key, m.CorpusSize)))
	} else {
		fmt.Println(Styles.Muted.Render(
			fmt.Sprintf("Loaded the existing mapping for %s", m.Key)))
	}
	fmt.Print(occupancyTable(m))
}

// =============================================================================
// BUCKETS COMMAND
// =============================================================================

// runBuckets is the CLI handler for "rebus buckets".
//
// Unlike "rebus index" this never builds: it shows what is persisted on
// disk, or says the key has no mapping yet. Safe to run against a
// gateway's live data directory.
func runBuckets(cmd *cobra.Command, args []string) {
	if cipherKey == "" {
		exitErr("missing --key", nil)
	}

	store := index.NewStore(resolveKeysDir())
	m, err := store.Load(cipherKey)
	if err != nil {
		if errors.Is(err, index.ErrNotIndexed) {
			exitErr(fmt.Sprintf("key %s is not indexed yet; run: rebus index --key %s",
				cipherKey, cipherKey), nil)
		}
		exitErr("load mapping failed", err)
	}
	fmt.Print(occupancyTable(m))
}
