// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	cipherKey   string // shared secret for index/buckets/encode/decode
	plainText   string // text to encode
	encodeJSON  bool   // machine-readable encode output
	keygenCount int    // number of keys to mint
	corpusDir   string // CLI override for corpus.dir
	dataDir     string // CLI override for data.dir
	logDir      string // CLI override for log.dir (adds a JSON file sink)
	logLevel    string // CLI override for log.level

	rootCmd = &cobra.Command{
		Use:   "rebus",
		Short: "A cli to manage the Rebus picture-cipher corpus and keys",
		Long: `Rebus maps text to images: every corpus image is fingerprinted and
				bucketed per key, and encoding a character picks an image from its
				bucket. This tool runs those steps offline, against the same
				directories the gateway serves from.`,
	}

	// --- Corpus Inspection ---
	fingerprintCmd = &cobra.Command{
		Use:   "fingerprint [image...]",
		Short: "Print the visual fingerprint code of each image",
		Args:  cobra.MinimumNArgs(1),
		Run:   runFingerprint, // Defined in cmd_fingerprint.go
	}

	// --- Key Mappings ---
	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Build (or load) a key's image mapping and show bucket occupancy",
		Run:   runIndex, // Defined in cmd_index.go
	}
	bucketsCmd = &cobra.Command{
		Use:   "buckets",
		Short: "Show a key's persisted mapping without triggering a build",
		Run:   runBuckets, // Defined in cmd_index.go
	}

	// --- Keys ---
	keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Mint random cipher keys",
		Run:   runKeygen, // Defined in cmd_keygen.go
	}

	// --- Offline Codec ---
	encodeCmd = &cobra.Command{
		Use:   "encode",
		Short: "Encode text into image references under a key",
		Run:   runEncode, // Defined in cmd_codec.go
	}
	decodeCmd = &cobra.Command{
		Use:   "decode [image...]",
		Short: "Decode image files back to text, in argument order",
		Args:  cobra.MinimumNArgs(1),
		Run:   runDecode, // Defined in cmd_codec.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&corpusDir, "corpus", "",
		"Corpus image directory (overrides corpus.dir from the config)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "",
		"Data directory holding per-key mappings (overrides data.dir)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "",
		"Also write JSON logs to this directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, or error (overrides log.level)")

	rootCmd.AddCommand(fingerprintCmd)

	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVar(&cipherKey, "key", "", "Cipher key to index under")

	rootCmd.AddCommand(bucketsCmd)
	bucketsCmd.Flags().StringVar(&cipherKey, "key", "", "Cipher key to inspect")

	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().IntVarP(&keygenCount, "count", "n", 1, "Number of keys to mint")

	rootCmd.AddCommand(encodeCmd)
	encodeCmd.Flags().StringVar(&cipherKey, "key", "", "Cipher key to encode under")
	encodeCmd.Flags().StringVar(&plainText, "text", "", "Text to encode")
	encodeCmd.Flags().BoolVar(&encodeJSON, "json", false, "Output the refs as JSON")

	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVar(&cipherKey, "key", "", "Cipher key to decode under")
}
