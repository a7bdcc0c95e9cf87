// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fingerprint derives a deterministic 32-character binary code from
// image bytes.
//
// The pipeline:
//
//	decode → grayscale → 4×4 grid → per-block keypoint detection →
//	filter by size → circular mean of orientations → 2-bit quadrant code
//
// Sixteen blocks × 2 bits = 32 characters of "0"/"1", row-major. The code
// is a pure function of the image bytes: both cipher peers recompute it
// independently, so any change to this package's constants or math is a
// breaking change for every persisted key mapping.
//
// Visual similarity is irrelevant on purpose. Two photographs of the same
// scene usually produce different codes; only byte-identical files are
// guaranteed to collide.
package fingerprint

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	// Corpus and chat images arrive in these formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

// Grid geometry and code shape. Fixed by the code space.
const (
	GridRows = 4
	GridCols = 4

	// CodeLength is the fingerprint length: 2 bits per block.
	CodeLength = 2 * GridRows * GridCols

	// MinKeypointSize is the significance threshold: detected keypoints
	// smaller than this diameter (input pixels) do not vote.
	MinKeypointSize = 6.0

	// axisTolerance is the degree tolerance for treating a mean angle as
	// axis-aligned before quadrant mapping.
	axisTolerance = 1e-6

	// degenerateResultant is the vector length below which a circular mean
	// is considered undefined (opposing votes cancelled out).
	degenerateResultant = 1e-9
)

var (
	// ErrEmptyImage is returned for zero-length input.
	ErrEmptyImage = errors.New("fingerprint: empty image data")

	// ErrUndecodable wraps decode failures for unsupported or corrupt
	// image bytes. Callers treat it as "skip this image", not fatal.
	ErrUndecodable = errors.New("fingerprint: undecodable image")
)

// quadrantCodes maps quadrant number to its 2-bit code: [0°,90°) opens
// quadrant 0, [90°,180°) quadrant 1, and so on.
var quadrantCodes = [4]string{"00", "01", "10", "11"}

// BlockStat describes one grid cell of an extracted fingerprint, for
// inspection tooling. MeanAngle is meaningful only when Survivors > 0.
type BlockStat struct {
	Row, Col  int
	Keypoints int
	Survivors int
	MeanAngle float64
	Code      string
}

// Extract computes the fingerprint code for raw image bytes.
//
// Description:
//
//	Decodes the bytes (jpeg, png, gif, bmp), converts to luminance, and
//	derives the 32-character code. Deterministic: identical bytes always
//	produce identical codes, across processes and hosts.
//
// Inputs:
//
//	data - raw encoded image bytes
//
// Outputs:
//
//	string - 32-character code over "0"/"1"
//	error  - ErrEmptyImage or ErrUndecodable; never both a code and an error
func Extract(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return FromImage(img), nil
}

// FromImage computes the fingerprint code for an already-decoded image.
func FromImage(img image.Image) string {
	code, _ := analyze(toLuma(img), false)
	return code
}

// Inspect computes the code together with per-block detection statistics.
// Used by offline tooling to show why an image landed where it did.
func Inspect(img image.Image) (string, []BlockStat) {
	return analyze(toLuma(img), true)
}

// analyze walks the 4×4 grid and assembles the code. Block bounds come
// from integer division with the last row and column absorbing the
// remainder, so the grid covers the raster exactly with no overlap.
func analyze(r *raster, withStats bool) (string, []BlockStat) {
	blockH := r.h / GridRows
	blockW := r.w / GridCols

	var sb strings.Builder
	sb.Grow(CodeLength)
	var stats []BlockStat
	if withStats {
		stats = make([]BlockStat, 0, GridRows*GridCols)
	}

	for row := 0; row < GridRows; row++ {
		y1 := row * blockH
		y2 := y1 + blockH
		if row == GridRows-1 {
			y2 = r.h
		}
		for col := 0; col < GridCols; col++ {
			x1 := col * blockW
			x2 := x1 + blockW
			if col == GridCols-1 {
				x2 = r.w
			}

			stat := blockCode(r.sub(x1, y1, x2, y2))
			sb.WriteString(stat.Code)
			if withStats {
				stat.Row, stat.Col = row, col
				stats = append(stats, stat)
			}
		}
	}
	return sb.String(), stats
}

// blockCode reduces one block to its 2-bit code.
func blockCode(block *raster) BlockStat {
	return voteCode(detectKeypoints(block))
}

// voteCode turns a block's keypoints into its 2-bit code.
//
// Keypoints under MinKeypointSize are discarded. No survivors yields "00".
// Survivor orientations are combined by circular mean (summing unit
// vectors), which handles the 359°/1° wraparound correctly; a resultant
// near zero means the votes cancelled and also yields "00".
func voteCode(kps []keypoint) BlockStat {
	var sumSin, sumCos float64
	survivors := 0
	for _, kp := range kps {
		if kp.Size < MinKeypointSize {
			continue
		}
		rad := kp.Angle * math.Pi / 180
		sumSin += math.Sin(rad)
		sumCos += math.Cos(rad)
		survivors++
	}

	stat := BlockStat{Keypoints: len(kps), Survivors: survivors}
	if survivors == 0 || math.Hypot(sumSin, sumCos) < degenerateResultant {
		stat.Code = quadrantCodes[0]
		return stat
	}

	mean := math.Atan2(sumSin, sumCos) * 180 / math.Pi
	if mean < 0 {
		mean += 360
	}
	stat.MeanAngle = mean
	stat.Code = quadrantCode(mean)
	return stat
}

// quadrantCode maps an angle in degrees to its 2-bit quadrant code.
//
// Angles within axisTolerance of 0°, 90°, 180°, 270° or 360° are snapped
// to the axis first; an axis belongs to the quadrant it opens (0°→"00",
// 90°→"01", 180°→"10", 270°→"11"). The snap keeps the mapping total and
// deterministic where float noise would otherwise flip a boundary angle
// either way.
func quadrantCode(angleDeg float64) string {
	a := math.Mod(angleDeg, 360)
	if a < 0 {
		a += 360
	}
	for k := 0; k <= 4; k++ {
		if math.Abs(a-float64(k*90)) < axisTolerance {
			a = float64((k % 4) * 90)
			break
		}
	}
	return quadrantCodes[int(a/90)%4]
}

// Valid reports whether s is a well-formed fingerprint code.
func Valid(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '0' && s[i] != '1' {
			return false
		}
	}
	return true
}
