// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fingerprint

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatRaster(w, h int, v float64) *raster {
	r := newRaster(w, h)
	for i := range r.pix {
		r.pix[i] = v
	}
	return r
}

func texturedRaster(w, h int) *raster {
	r := newRaster(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx, fy := float64(x), float64(y)
			r.set(x, y, 0.5+0.3*math.Sin(fx/5)*math.Cos(fy/7)+0.15*math.Sin((fx+fy)/11))
		}
	}
	return r
}

func TestGaussKernel(t *testing.T) {
	for _, sigma := range []float64{0.8, 1.6, 3.2} {
		k := gaussKernel(sigma)
		require.Equal(t, 1, len(k)%2, "kernel must have odd length")
		var sum float64
		for i, v := range k {
			sum += v
			assert.Equal(t, k[len(k)-1-i], v, "kernel must be symmetric")
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
}

func TestBlurPreservesConstant(t *testing.T) {
	out := blur(flatRaster(40, 30, 0.75), 1.6)
	for _, v := range out.pix {
		assert.InDelta(t, 0.75, v, 1e-12)
	}
}

func TestBlurStaysInRange(t *testing.T) {
	out := blur(texturedRaster(64, 64), 2.0)
	for _, v := range out.pix {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestDownsampleDims(t *testing.T) {
	out := downsample(flatRaster(65, 33, 0.2))
	assert.Equal(t, 32, out.w)
	assert.Equal(t, 16, out.h)
}

func TestSubRasterCopies(t *testing.T) {
	src := texturedRaster(32, 32)
	sub := src.sub(8, 8, 24, 24)
	require.Equal(t, 16, sub.w)
	require.Equal(t, 16, sub.h)
	assert.Equal(t, src.at(8, 8), sub.at(0, 0))
	// Writes to the block must not leak back.
	sub.set(0, 0, -1)
	assert.NotEqual(t, -1.0, src.at(8, 8))
}

func TestToLuma(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	img.Set(1, 0, color.RGBA{R: 255, A: 255})
	r := toLuma(img)
	assert.InDelta(t, 1.0, r.at(0, 0), 1e-6)
	assert.InDelta(t, 0.299, r.at(1, 0), 1e-3)
}

func TestDetectKeypointsFlatImage(t *testing.T) {
	assert.Empty(t, detectKeypoints(flatRaster(96, 96, 0.4)))
}

func TestDetectKeypointsTooSmall(t *testing.T) {
	assert.Nil(t, detectKeypoints(texturedRaster(12, 12)))
}

func TestDetectKeypointsDeterministic(t *testing.T) {
	a := detectKeypoints(texturedRaster(80, 80))
	b := detectKeypoints(texturedRaster(80, 80))
	assert.Equal(t, a, b)
}

func TestDetectKeypointsGeometry(t *testing.T) {
	kps := detectKeypoints(texturedRaster(96, 96))
	minSize := 2 * baseSigma * math.Pow(2, 1/float64(intervals))
	for _, kp := range kps {
		assert.GreaterOrEqual(t, kp.X, 0.0)
		assert.Less(t, kp.X, 96.0)
		assert.GreaterOrEqual(t, kp.Y, 0.0)
		assert.Less(t, kp.Y, 96.0)
		assert.GreaterOrEqual(t, kp.Size, minSize-1e-9)
		assert.GreaterOrEqual(t, kp.Angle, 0.0)
		assert.Less(t, kp.Angle, 360.0)
		assert.Greater(t, kp.Response, 0.0)
	}
}

func TestOrientationAngleFlatWindow(t *testing.T) {
	assert.Zero(t, orientationAngle(flatRaster(32, 32, 0.5), 16, 16, baseSigma))
}
