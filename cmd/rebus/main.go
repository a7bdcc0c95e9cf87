// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/rebus-chat/rebus/cmd/rebus/config"
	"github.com/rebus-chat/rebus/pkg/logging"
)

// cliLog is the shared CLI logger. PersistentPreRun replaces it once the
// config file and global flags have been read.
var cliLog = logging.Default()

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if err := config.Load(); err != nil {
			log.Fatalf("Error loading ~/.rebus/rebus.yaml: %v", err)
		}

		level := config.Global.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		dir := config.Global.Log.Dir
		if logDir != "" {
			dir = logDir
		}
		cliLog = logging.New(logging.Config{
			Level:   logging.ParseLevel(level),
			LogDir:  dir,
			Service: "cli",
		})
	}
}
