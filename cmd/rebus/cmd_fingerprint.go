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

	"github.com/spf13/cobra"

	"github.com/rebus-chat/rebus/services/cipher/fingerprint"
)

// runFingerprint is the CLI handler for "rebus fingerprint".
//
// It prints one line per image argument: the path, two spaces, the
// 32-character fingerprint code. The code is deterministic for a given
// file, so the output can be diffed across runs to spot corpus changes.
//
// Unreadable or undecodable files are reported on stderr and skipped;
// the rest still print.
//
// # Exit Codes
//
//   - 0: Every image produced a code
//   - 1: One or more images failed
func runFingerprint(cmd *cobra.Command, args []string) {
	failed := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: read %s: %v\n", path, err)
			failed++
			continue
		}
		code, err := fingerprint.Extract(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: fingerprint %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("%s  %s\n", path, code)
	}
	if failed > 0 {
		os.Exit(CLIExitError)
	}
}
