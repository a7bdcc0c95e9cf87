// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/rebus-chat/rebus/services/cipher/index"
)

// captureStdout redirects os.Stdout around fn and returns what it wrote.
// With stdout on a pipe the table renderers take their plain, scriptable
// path, which keeps these assertions deterministic.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// writeTestImage writes a small PNG whose pixels vary with seed, so
// different seeds give different fingerprints.
func writeTestImage(t *testing.T, path string, seed uint8) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x*4) ^ seed,
				G: uint8(y*4) + seed,
				B: seed,
				A: 255,
			})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// setCLIFlags points the package flag variables at test values and
// restores everything when the test ends.
func setCLIFlags(t *testing.T, key, corpus, data string) {
	t.Helper()

	oldKey, oldCorpus, oldData := cipherKey, corpusDir, dataDir
	oldText, oldJSON := plainText, encodeJSON
	cipherKey, corpusDir, dataDir = key, corpus, data
	t.Cleanup(func() {
		cipherKey, corpusDir, dataDir = oldKey, oldCorpus, oldData
		plainText, encodeJSON = oldText, oldJSON
	})
}

func TestOccupancyTablePlainOutput(t *testing.T) {
	m := &index.KeyMapping{Key: "TESTKEY2", SafeName: "TESTKEY2"}
	m.Buckets[0] = []string{"a.png", "b.png"}
	m.Buckets[26] = []string{"c.png"}

	out := captureStdout(t, func() {
		os.Stdout.WriteString(occupancyTable(m))
	})

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 29 {
		t.Fatalf("expected 29 bucket rows, got %d:\n%s", len(lines), out)
	}
	if lines[0] != "A\t0\t2" {
		t.Errorf("bucket 0 row = %q, want A\\t0\\t2", lines[0])
	}
	if lines[26] != "SP\t26\t1" {
		t.Errorf("bucket 26 row = %q, want SP\\t26\\t1", lines[26])
	}
	if lines[28] != ".\t28\t0" {
		t.Errorf("bucket 28 row = %q, want .\\t28\\t0", lines[28])
	}
}

func TestDisplaySymbol(t *testing.T) {
	tests := []struct {
		bucket int
		want   string
	}{
		{0, "A"},
		{25, "Z"},
		{26, "SP"},
		{27, ","},
		{28, "."},
	}
	for _, tt := range tests {
		if got := displaySymbol(tt.bucket); got != tt.want {
			t.Errorf("displaySymbol(%d) = %q, want %q", tt.bucket, got, tt.want)
		}
	}
}

func TestRepeatChar(t *testing.T) {
	if got := repeatChar('x', 3); got != "xxx" {
		t.Errorf("repeatChar('x', 3) = %q", got)
	}
	if got := repeatChar('x', 0); got != "" {
		t.Errorf("repeatChar('x', 0) = %q, want empty", got)
	}
	if got := repeatChar('x', -2); got != "" {
		t.Errorf("repeatChar('x', -2) = %q, want empty", got)
	}
}

func TestOutputJSON(t *testing.T) {
	payload := struct {
		Name string `json:"name"`
	}{Name: "rebus"}

	indented := captureStdout(t, func() {
		if err := OutputJSON(payload, false); err != nil {
			t.Errorf("OutputJSON: %v", err)
		}
	})
	if !strings.Contains(indented, "  \"name\": \"rebus\"") {
		t.Errorf("indented output missing two-space indent: %q", indented)
	}

	compact := captureStdout(t, func() {
		if err := OutputJSON(payload, true); err != nil {
			t.Errorf("OutputJSON compact: %v", err)
		}
	})
	if strings.TrimSpace(compact) != `{"name":"rebus"}` {
		t.Errorf("compact output = %q", compact)
	}
}
