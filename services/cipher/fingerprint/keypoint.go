// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fingerprint

import (
	"math"
	"sort"
)

// Detector tuning. These constants define the code space: changing any of
// them changes fingerprints, which invalidates every persisted key mapping.
const (
	// baseSigma is the blur of the first pyramid layer.
	baseSigma = 1.6

	// assumedBlur is the blur attributed to the raw input image.
	assumedBlur = 0.5

	// intervals is the number of scales sampled per octave.
	intervals = 3

	// maxOctaves caps pyramid depth; blocks are small, so detections past
	// the fourth octave do not occur in practice.
	maxOctaves = 4

	// minOctaveSize is the smallest dimension an octave may have. Blocks
	// below it produce no keypoints at all.
	minOctaveSize = 16

	// contrastThreshold rejects weak difference-of-Gaussians responses
	// (pixels are in unit range).
	contrastThreshold = 0.015

	// edgeRatio is the maximum principal-curvature ratio; responses along
	// edges are rejected (Lowe's r=10 edge test).
	edgeRatio = 10.0

	// orientationBins is the resolution of the gradient direction
	// histogram used to assign keypoint angles.
	orientationBins = 36
)

// keypoint is a scale-space feature detected inside a single block.
//
// Size is the feature diameter in input pixels (twice the detection σ,
// scaled back through the octave), directly comparable with the 6.0
// significance threshold applied by the extractor. Angle is the dominant
// gradient direction in degrees, [0, 360), measured in image coordinates
// (y grows downward).
type keypoint struct {
	X, Y     float64
	Size     float64
	Angle    float64
	Response float64
}

// detectKeypoints runs the scale-space detector over one block raster.
//
// Description:
//
//	Builds a Gaussian pyramid (intervals scales per octave, doubling σ per
//	octave), takes differences of adjacent scales, and scans the interior
//	DoG layers for 3×3×3 extrema. Candidates below contrastThreshold or
//	failing the edge-ratio test are dropped. Survivors get an orientation
//	from a Gaussian-weighted gradient histogram and are reported in input
//	pixel coordinates.
//
//	The function is a pure function of the raster: no randomness, no
//	shared state. Identical bytes always yield identical keypoints, which
//	is what makes fingerprints stable across peers.
func detectKeypoints(img *raster) []keypoint {
	if img.w < minOctaveSize || img.h < minOctaveSize {
		return nil
	}

	firstBlur := math.Sqrt(baseSigma*baseSigma - assumedBlur*assumedBlur)
	oct := blur(img, firstBlur)

	var kps []keypoint
	for o := 0; o < maxOctaves && oct.w >= minOctaveSize && oct.h >= minOctaveSize; o++ {
		gauss := buildGaussians(oct)
		dogs := make([]*raster, len(gauss)-1)
		for i := range dogs {
			dogs[i] = subtract(gauss[i+1], gauss[i])
		}
		kps = append(kps, scanExtrema(o, gauss, dogs)...)

		// The layer with σ = 2·baseSigma seeds the next octave.
		oct = downsample(gauss[intervals])
	}

	// Deterministic order regardless of discovery order.
	sort.Slice(kps, func(i, j int) bool {
		if kps[i].Y != kps[j].Y {
			return kps[i].Y < kps[j].Y
		}
		if kps[i].X != kps[j].X {
			return kps[i].X < kps[j].X
		}
		return kps[i].Size < kps[j].Size
	})
	return kps
}

// buildGaussians produces intervals+3 progressively blurred layers so that
// intervals+2 DoG layers exist and the interior ones have both neighbors.
func buildGaussians(base *raster) []*raster {
	k := math.Pow(2, 1/float64(intervals))
	layers := make([]*raster, intervals+3)
	layers[0] = base
	for i := 1; i < len(layers); i++ {
		sigmaPrev := baseSigma * math.Pow(k, float64(i-1))
		sigmaDiff := sigmaPrev * math.Sqrt(k*k-1)
		layers[i] = blur(layers[i-1], sigmaDiff)
	}
	return layers
}

// scanExtrema finds 26-neighbor extrema in the interior DoG layers of one
// octave and converts survivors to keypoints in input coordinates.
func scanExtrema(octave int, gauss, dogs []*raster) []keypoint {
	var out []keypoint
	scale := float64(int(1) << octave)

	for d := 1; d <= intervals; d++ {
		cur := dogs[d]
		w, h := cur.w, cur.h
		for y := 1; y < h-1; y++ {
			for x := 1; x < w-1; x++ {
				v := cur.at(x, y)
				if math.Abs(v) < contrastThreshold {
					continue
				}
				if !isExtremum(dogs, d, x, y, v) {
					continue
				}
				if edgeLike(cur, x, y) {
					continue
				}

				layerSigma := baseSigma * math.Pow(2, float64(d)/float64(intervals))
				out = append(out, keypoint{
					X:        float64(x) * scale,
					Y:        float64(y) * scale,
					Size:     2 * layerSigma * scale,
					Angle:    orientationAngle(gauss[d], x, y, layerSigma),
					Response: math.Abs(v),
				})
			}
		}
	}
	return out
}

// isExtremum reports whether v at (x, y) in layer d strictly dominates all
// 26 neighbors across layers d−1, d, d+1. Ties disqualify.
func isExtremum(dogs []*raster, d, x, y int, v float64) bool {
	if v > 0 {
		for l := d - 1; l <= d+1; l++ {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if l == d && dx == 0 && dy == 0 {
						continue
					}
					if dogs[l].at(x+dx, y+dy) >= v {
						return false
					}
				}
			}
		}
		return true
	}
	for l := d - 1; l <= d+1; l++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if l == d && dx == 0 && dy == 0 {
					continue
				}
				if dogs[l].at(x+dx, y+dy) <= v {
					return false
				}
			}
		}
	}
	return true
}

// edgeLike applies the Hessian principal-curvature ratio test: responses
// whose curvature is strongly one-directional sit on edges, not blobs.
func edgeLike(dog *raster, x, y int) bool {
	dxx := dog.at(x+1, y) - 2*dog.at(x, y) + dog.at(x-1, y)
	dyy := dog.at(x, y+1) - 2*dog.at(x, y) + dog.at(x, y-1)
	dxy := (dog.at(x+1, y+1) - dog.at(x-1, y+1) - dog.at(x+1, y-1) + dog.at(x-1, y-1)) / 4

	tr := dxx + dyy
	det := dxx*dyy - dxy*dxy
	if det <= 0 {
		return true
	}
	limit := (edgeRatio + 1) * (edgeRatio + 1) / edgeRatio
	return tr*tr/det >= limit
}

// orientationAngle assigns the dominant gradient direction around (x, y)
// on the Gaussian layer the keypoint was detected in.
//
// A 36-bin magnitude histogram is accumulated over a window of radius 3σ
// with Gaussian distance weighting (σ = 1.5 × the layer scale), smoothed
// once with a 5-tap binomial kernel, and the peak bin is refined by
// parabolic interpolation. Returns degrees in [0, 360); a flat window
// (every gradient zero) returns 0.
func orientationAngle(g *raster, x, y int, layerSigma float64) float64 {
	sigma := 1.5 * layerSigma
	radius := int(3*sigma + 0.5)

	var hist [orientationBins]float64
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			px, py := x+dx, y+dy
			if px < 1 || px >= g.w-1 || py < 1 || py >= g.h-1 {
				continue
			}
			gx := g.at(px+1, py) - g.at(px-1, py)
			gy := g.at(px, py+1) - g.at(px, py-1)
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}
			ang := math.Atan2(gy, gx) * 180 / math.Pi
			if ang < 0 {
				ang += 360
			}
			weight := math.Exp(-float64(dx*dx+dy*dy) / (2 * sigma * sigma))
			bin := int(ang/(360/orientationBins)) % orientationBins
			hist[bin] += mag * weight
		}
	}

	var smooth [orientationBins]float64
	for i := 0; i < orientationBins; i++ {
		smooth[i] = (hist[(i+orientationBins-2)%orientationBins]+hist[(i+2)%orientationBins])/16 +
			4*(hist[(i+orientationBins-1)%orientationBins]+hist[(i+1)%orientationBins])/16 +
			6*hist[i]/16
	}

	peak := 0
	for i := 1; i < orientationBins; i++ {
		if smooth[i] > smooth[peak] {
			peak = i
		}
	}
	if smooth[peak] == 0 {
		return 0
	}

	left := smooth[(peak+orientationBins-1)%orientationBins]
	right := smooth[(peak+1)%orientationBins]
	denom := left - 2*smooth[peak] + right
	offset := 0.0
	if denom != 0 {
		offset = 0.5 * (left - right) / denom
		if offset > 0.5 {
			offset = 0.5
		} else if offset < -0.5 {
			offset = -0.5
		}
	}

	binWidth := 360.0 / orientationBins
	angle := (float64(peak) + 0.5 + offset) * binWidth
	angle = math.Mod(angle, 360)
	if angle < 0 {
		angle += 360
	}
	return angle
}
