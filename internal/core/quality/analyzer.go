// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package quality scores the visual quality of a video from a sample of its
// frames.
//
// Logic Flow:
//  1. The resolution tier and score come from the video's dimensions.
//  2. Each sampled frame is decoded, scaled to at most MaxAnalysisWidth
//     pixels wide and scored for sharpness (variance of the Laplacian),
//     colour (channel balance and saturation) and lighting (brightness,
//     dynamic range and clipping).
//  3. Summarize averages the frame scores and weights them into an overall
//     quality that leans on sharpness and lighting.
//
// Every score is in [0,1]. The curves are strict: a clean 720p clip lands in
// the middle of the range.
package quality

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/scenes"
)

const (
	DefaultMaxFrames = 15
	MaxAnalysisWidth = 1280
)

// FrameScores are the per frame measurements.
type FrameScores struct {
	Sharpness         float64
	ColorBalance      float64
	Saturation        float64
	SaturationScore   float64
	Color             float64
	Brightness        float64
	BrightnessScore   float64
	DynamicRange      float64
	DynamicRangeScore float64
	Overexposed       float64
	Underexposed      float64
	Lighting          float64
}

// Decode reads an encoded image into a packed RGB frame no wider than
// maxWidth. A non-positive maxWidth keeps the original size.
func Decode(data []byte, maxWidth int) (scenes.Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return scenes.Frame{}, fmt.Errorf("%w: %v", model.ErrCorruptInput, err)
	}
	src := img.Bounds()
	w, h := src.Dx(), src.Dy()
	if w == 0 || h == 0 {
		return scenes.Frame{}, fmt.Errorf("%w: empty image", model.ErrCorruptInput)
	}
	if maxWidth > 0 && w > maxWidth {
		h = max(1, h*maxWidth/w)
		w = maxWidth
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)

	pix := make([]byte, w*h*3)
	for i, j := 0, 0; i < len(dst.Pix); i, j = i+4, j+3 {
		pix[j], pix[j+1], pix[j+2] = dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2]
	}
	return scenes.Frame{Width: w, Height: h, Pix: pix}, nil
}

// ResolutionTier names the tier of a width x height video.
func ResolutionTier(width, height int) string {
	switch pixels := width * height; {
	case pixels >= 8_000_000:
		return model.Resolution4K
	case pixels >= 2_000_000:
		return model.Resolution1080p
	case pixels >= 900_000:
		return model.Resolution720p
	case pixels >= 300_000:
		return model.Resolution480p
	}
	return model.ResolutionSD
}

// ResolutionScore rises within each tier; only 1080p and above score well.
func ResolutionScore(width, height int) float64 {
	pixels := float64(width * height)
	switch {
	case pixels >= 8_000_000:
		return 1
	case pixels >= 2_000_000:
		return 0.7 + (pixels-2_000_000)/6_000_000*0.3
	case pixels >= 900_000:
		return 0.3 + (pixels-900_000)/1_100_000*0.4
	case pixels >= 300_000:
		return 0.1 + (pixels-300_000)/600_000*0.2
	}
	return pixels / 300_000 * 0.1
}

// ScoreFrame measures one frame.
func ScoreFrame(f scenes.Frame) (FrameScores, error) {
	if err := f.Validate(); err != nil {
		return FrameScores{}, err
	}
	gray := luma(f)
	var s FrameScores
	s.Sharpness = sharpness(gray, f.Width, f.Height)
	if err := s.color(f); err != nil {
		return FrameScores{}, err
	}
	s.lighting(gray)
	return s, nil
}

// luma converts to 8 bit gray with the BT.601 weights.
func luma(f scenes.Frame) []float64 {
	out := make([]float64, f.Width*f.Height)
	for i, j := 0, 0; j < len(out); i, j = i+3, j+1 {
		y := 0.299*float64(f.Pix[i]) + 0.587*float64(f.Pix[i+1]) + 0.114*float64(f.Pix[i+2])
		out[j] = math.Round(y)
	}
	return out
}

// reflect maps an out of range index back into [0,n) mirroring around the
// edge pixel.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	if i < 0 {
		return -i
	}
	if i >= n {
		return 2*n - 2 - i
	}
	return i
}

// sharpness scores the variance of the 4-neighbour Laplacian.
func sharpness(gray []float64, w, h int) float64 {
	at := func(x, y int) float64 { return gray[reflect(y, h)*w+reflect(x, w)] }
	var sum, sumSq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += l
			sumSq += l * l
		}
	}
	n := float64(w * h)
	mean := sum / n
	variance := math.Max(0, sumSq/n-mean*mean)
	return math.Pow(math.Tanh(variance/300), 0.8)
}

// band scores 1 inside [lo,hi] and falls off as a 1.5 power outside.
func band(v, lo, hi, upperSpan float64) float64 {
	var base float64
	switch {
	case v < lo:
		base = v / lo
	case v > hi:
		base = 1 - (v-hi)/upperSpan
	default:
		return 1
	}
	return math.Pow(clamp(base), 1.5)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func (s *FrameScores) color(f scenes.Frame) error {
	hsv, err := scenes.ToHSV(f)
	if err != nil {
		return err
	}
	var r, g, b, sat float64
	for i := 0; i < len(f.Pix); i += 3 {
		r += float64(f.Pix[i])
		g += float64(f.Pix[i+1])
		b += float64(f.Pix[i+2])
		sat += float64(hsv.Pix[i+1])
	}
	n := float64(f.Width * f.Height)
	r, g, b = r/n, g/n, b/n

	mean := (r + g + b) / 3
	std := math.Sqrt(((r-mean)*(r-mean) + (g-mean)*(g-mean) + (b-mean)*(b-mean)) / 3)
	s.ColorBalance = math.Pow(1-math.Tanh(std/(mean+1e-8)*3), 1.2)
	s.Saturation = sat / n / 255
	s.SaturationScore = band(s.Saturation, 0.35, 0.65, 0.35)
	s.Color = s.ColorBalance*0.65 + s.SaturationScore*0.35
	return nil
}

func (s *FrameScores) lighting(gray []float64) {
	lo, hi, sum := 255.0, 0.0, 0.0
	var over, under int
	for _, y := range gray {
		sum += y
		lo = math.Min(lo, y)
		hi = math.Max(hi, y)
		if y >= 240 {
			over++
		}
		if y < 16 {
			under++
		}
	}
	n := float64(len(gray))
	s.Brightness = sum / n / 255
	s.BrightnessScore = band(s.Brightness, 0.42, 0.58, 0.42)
	s.DynamicRange = (hi - lo) / 255
	s.DynamicRangeScore = band(s.DynamicRange, 0.75, 0.92, 0.08)
	s.Overexposed = float64(over) / n
	s.Underexposed = float64(under) / n

	clipping := math.Pow(s.Overexposed+s.Underexposed, 1.5) * 0.8
	s.Lighting = math.Pow(s.BrightnessScore*0.45+s.DynamicRangeScore*0.45+(1-clipping)*0.1, 0.9)
}

// Summarize averages the frame scores of a width x height video. Without
// frames every score is zero.
func Summarize(width, height int, frames []FrameScores) model.QualityReport {
	report := model.QualityReport{
		Width:          width,
		Height:         height,
		ResolutionTier: ResolutionTier(width, height),
		FramesAnalyzed: len(frames),
	}
	if len(frames) == 0 {
		return report
	}
	for _, f := range frames {
		report.SharpnessScore += f.Sharpness
		report.ColorScore += f.Color
		report.ColorBalance += f.ColorBalance
		report.Saturation += f.Saturation
		report.LightingScore += f.Lighting
		report.Brightness += f.Brightness
		report.DynamicRange += f.DynamicRange
	}
	n := float64(len(frames))
	report.SharpnessScore /= n
	report.ColorScore /= n
	report.ColorBalance /= n
	report.Saturation /= n
	report.LightingScore /= n
	report.Brightness /= n
	report.DynamicRange /= n
	report.ResolutionScore = ResolutionScore(width, height)

	overall := report.ResolutionScore*0.15 + report.SharpnessScore*0.35 + report.ColorScore*0.20 + report.LightingScore*0.30
	report.OverallQuality = math.Pow(overall, 0.85)
	return report
}
