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

	"github.com/spf13/cobra"

	"github.com/rebus-chat/rebus/services/cipher/alphabet"
	"github.com/rebus-chat/rebus/services/cipher/corpus"
	"github.com/rebus-chat/rebus/services/cipher/engine"
)

// =============================================================================
// ENCODE COMMAND
// =============================================================================

// encodeReport is the --json shape of an encode run.
type encodeReport struct {
	Key      string            `json:"key"`
	SafeName string            `json:"safeName"`
	BuiltNow bool              `json:"builtNow"`
	Refs     []engine.ImageRef `json:"refs"`
}

// runEncode is the CLI handler for "rebus encode".
//
// Encodes --text under --key and prints one "bucket  filename" line per
// character, in plaintext order. Characters whose bucket is empty
// contribute nothing; a warning reports how many were dropped. With
// --json the refs are printed as a single JSON object instead.
func runEncode(cmd *cobra.Command, args []string) {
	if cipherKey == "" || plainText == "" {
		exitErr("both --key and --text are required", nil)
	}

	eng := newEngine()
	res, err := eng.Encrypt(context.Background(), cipherKey, plainText)
	if err != nil {
		if errors.Is(err, corpus.ErrMissing) {
			exitErr(fmt.Sprintf("corpus directory %s does not exist", resolveCorpusDir()), nil)
		}
		exitErr("encode failed", err)
	}

	if encodeJSON {
		report := encodeReport{
			Key:      cipherKey,
			SafeName: res.SafeName,
			BuiltNow: res.BuiltNow,
			Refs:     res.Refs,
		}
		if err := OutputJSON(report, false); err != nil {
			exitErr("encoding output failed", err)
		}
		return
	}

	if res.BuiltNow {
		fmt.Println(Styles.Muted.Render("First use of this key: mapping built from the corpus."))
	}
	for _, ref := range res.Refs {
		fmt.Printf("%2d  %s\n", ref.Bucket, ref.Filename)
	}
	if dropped := len([]rune(alphabet.Normalize(plainText))) - len(res.Refs); dropped > 0 {
		fmt.Println(Styles.Warning.Render(
			fmt.Sprintf("%d character(s) fell in empty buckets and were dropped", dropped)))
	}
}

// =============================================================================
// DECODE COMMAND
// =============================================================================

// runDecode is the CLI handler for "rebus decode".
//
// Reads the image files in argument order and prints the decoded text.
// Order matters: each image is one character. Undecodable images are
// skipped with a warning from the engine rather than failing the whole
// message.
func runDecode(cmd *cobra.Command, args []string) {
	if cipherKey == "" {
		exitErr("missing --key", nil)
	}

	blobs, err := readImageFiles(args)
	if err != nil {
		exitErr("decode failed", err)
	}
	text, err := newEngine().Decrypt(context.Background(), cipherKey, blobs)
	if err != nil {
		exitErr("decode failed", err)
	}
	fmt.Println(text)
}
