// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rebus-chat/rebus/services/cipher/keyspace"
)

// runKeygen is the CLI handler for "rebus keygen".
//
// Prints one minted key per line. Keys use the confusable-free charset
// (no I, O, 0, 1), so they can be read out loud between chat partners.
func runKeygen(cmd *cobra.Command, args []string) {
	if keygenCount < 1 {
		exitErr("--count must be at least 1", nil)
	}
	for i := 0; i < keygenCount; i++ {
		key, err := keyspace.NewRandomKey()
		if err != nil {
			exitErr("key generation failed", err)
		}
		fmt.Println(key)
	}
}
