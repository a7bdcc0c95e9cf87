// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fingerprint

import (
	"image"
	"math"
)

// raster is a grayscale image as float64 luminance in [0, 1], row-major.
// All detector math runs on rasters; the conversion from image.Image
// happens exactly once per Extract call.
type raster struct {
	w, h int
	pix  []float64
}

func newRaster(w, h int) *raster {
	return &raster{w: w, h: h, pix: make([]float64, w*h)}
}

func (r *raster) at(x, y int) float64 {
	return r.pix[y*r.w+x]
}

func (r *raster) set(x, y int, v float64) {
	r.pix[y*r.w+x] = v
}

// sub copies the half-open window [x0,x1)×[y0,y1) into a fresh raster.
// Blocks are copied rather than aliased so per-block detection can never
// read across a block boundary.
func (r *raster) sub(x0, y0, x1, y1 int) *raster {
	out := newRaster(x1-x0, y1-y0)
	for y := y0; y < y1; y++ {
		copy(out.pix[(y-y0)*out.w:(y-y0+1)*out.w], r.pix[y*r.w+x0:y*r.w+x1])
	}
	return out
}

// toLuma converts any decoded image to BT.601 luminance. The exact
// weighting is part of the code format: change it and every stored
// fingerprint shifts.
func toLuma(img image.Image) *raster {
	b := img.Bounds()
	out := newRaster(b.Dx(), b.Dy())
	for y := 0; y < out.h; y++ {
		for x := 0; x < out.w; x++ {
			cr, cg, cb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.pix[y*out.w+x] = (0.299*float64(cr) + 0.587*float64(cg) + 0.114*float64(cb)) / 65535.0
		}
	}
	return out
}

// gaussKernel builds a normalized 1-D Gaussian kernel with radius 3σ.
func gaussKernel(sigma float64) []float64 {
	radius := int(3*sigma + 0.5)
	if radius < 1 {
		radius = 1
	}
	k := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// blur applies a separable Gaussian with replicated borders. Two passes
// (horizontal then vertical) keep it O(w·h·radius).
func blur(src *raster, sigma float64) *raster {
	k := gaussKernel(sigma)
	radius := len(k) / 2

	tmp := newRaster(src.w, src.h)
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			var acc float64
			for i := -radius; i <= radius; i++ {
				xx := x + i
				if xx < 0 {
					xx = 0
				} else if xx >= src.w {
					xx = src.w - 1
				}
				acc += src.at(xx, y) * k[i+radius]
			}
			tmp.set(x, y, acc)
		}
	}

	dst := newRaster(src.w, src.h)
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			var acc float64
			for i := -radius; i <= radius; i++ {
				yy := y + i
				if yy < 0 {
					yy = 0
				} else if yy >= src.h {
					yy = src.h - 1
				}
				acc += tmp.at(x, yy) * k[i+radius]
			}
			dst.set(x, y, acc)
		}
	}
	return dst
}

// downsample halves both dimensions by taking every second pixel, matching
// the nearest-neighbor decimation used between pyramid octaves.
func downsample(src *raster) *raster {
	out := newRaster(src.w/2, src.h/2)
	for y := 0; y < out.h; y++ {
		for x := 0; x < out.w; x++ {
			out.set(x, y, src.at(x*2, y*2))
		}
	}
	return out
}

// subtract returns a−b pixelwise. Both rasters must share dimensions.
func subtract(a, b *raster) *raster {
	out := newRaster(a.w, a.h)
	for i := range out.pix {
		out.pix[i] = a.pix[i] - b.pix[i]
	}
	return out
}
