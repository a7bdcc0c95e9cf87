// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rebus-chat/rebus/cmd/rebus/config"
	"github.com/rebus-chat/rebus/services/cipher/corpus"
	"github.com/rebus-chat/rebus/services/cipher/engine"
	"github.com/rebus-chat/rebus/services/cipher/index"
)

// resolveCorpusDir returns the corpus directory, preferring the --corpus
// flag over the config file.
func resolveCorpusDir() string {
	if corpusDir != "" {
		return corpusDir
	}
	return config.Global.Corpus.Dir
}

// resolveKeysDir returns the per-key mapping directory. The layout under
// it is owned by the index store and must match what the gateway serves.
func resolveKeysDir() string {
	if dataDir != "" {
		return filepath.Join(dataDir, "keys")
	}
	return config.Global.KeysDir()
}

// newIndexer assembles the same corpus/store/indexer stack the gateway
// runs, pointed at the CLI's directories.
func newIndexer() *index.Indexer {
	lib := corpus.NewLibrary(resolveCorpusDir())
	store := index.NewStore(resolveKeysDir())
	return index.New(lib, store, &index.Options{
		Parallelism: config.Global.Corpus.Parallelism,
	})
}

func newEngine() *engine.Engine {
	return engine.New(newIndexer(), nil)
}

// readImageFiles loads each path fully into memory, preserving argument
// order; decode output depends on it.
func readImageFiles(paths []string) ([][]byte, error) {
	blobs := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		blobs = append(blobs, data)
	}
	return blobs, nil
}
