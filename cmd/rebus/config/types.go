// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import "path/filepath"

type RebusConfig struct {
	// Corpus: where the raw cipher images live
	Corpus CorpusConfig `yaml:"corpus"`

	// Data: where per-key mappings and bucket copies are written
	Data DataConfig `yaml:"data"`

	// Log: CLI logging behavior
	Log LogConfig `yaml:"log"`
}

type CorpusConfig struct {
	Dir string `yaml:"dir"` // e.g. ./RawImg

	// Parallelism bounds concurrent fingerprint workers during index
	// builds. Zero means one worker per CPU.
	Parallelism int `yaml:"parallelism,omitempty"`
}

type DataConfig struct {
	Dir string `yaml:"dir"` // e.g. ./data
}

type LogConfig struct {
	// Level can be "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Dir enables an additional JSON log file sink when set.
	Dir string `yaml:"dir,omitempty"`
}

// KeysDir is where the gateway and CLI persist per-key mappings.
func (c RebusConfig) KeysDir() string {
	return filepath.Join(c.Data.Dir, "keys")
}

func DefaultConfig() RebusConfig {
	return RebusConfig{
		Corpus: CorpusConfig{Dir: "./RawImg"},
		Data:   DataConfig{Dir: "./data"},
		Log:    LogConfig{Level: "info"},
	}
}
