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

package scenes

import (
	"fmt"
	"math"
)

// Frame is one decoded, downscaled video frame in packed RGB24 order.
type Frame struct {
	Width  int
	Height int
	Pix    []byte // len == Width*Height*3
}

// Validate checks that the pixel buffer matches the frame dimensions.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if len(f.Pix) != f.Width*f.Height*3 {
		return fmt.Errorf("frame buffer holds %d bytes, want %d", len(f.Pix), f.Width*f.Height*3)
	}
	return nil
}

// HSVFrame holds a frame converted to 8 bit HSV. Hue is in [0,180), saturation
// and value in [0,255].
type HSVFrame struct {
	Width  int
	Height int
	Pix    []byte
}

// ToHSV converts f pixel by pixel.
func ToHSV(f Frame) (HSVFrame, error) {
	if err := f.Validate(); err != nil {
		return HSVFrame{}, err
	}
	out := make([]byte, len(f.Pix))
	for i := 0; i < len(f.Pix); i += 3 {
		out[i], out[i+1], out[i+2] = rgbToHSV(f.Pix[i], f.Pix[i+1], f.Pix[i+2])
	}
	return HSVFrame{Width: f.Width, Height: f.Height, Pix: out}, nil
}

func rgbToHSV(r, g, b uint8) (h, s, v uint8) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	hi := math.Max(rf, math.Max(gf, bf))
	lo := math.Min(rf, math.Min(gf, bf))
	diff := hi - lo

	v = r
	if g > v {
		v = g
	}
	if b > v {
		v = b
	}
	if hi == 0 {
		return 0, 0, v
	}
	s = uint8(math.Round(diff / hi * 255))
	if diff == 0 {
		return 0, s, v
	}

	var deg float64
	switch hi {
	case rf:
		deg = 60 * (gf - bf) / diff
	case gf:
		deg = 120 + 60*(bf-rf)/diff
	default:
		deg = 240 + 60*(rf-gf)/diff
	}
	if deg < 0 {
		deg += 360
	}
	half := math.Round(deg / 2)
	if half >= 180 {
		half = 0
	}
	return uint8(half), s, v
}

// ContentDelta is the mean absolute difference between two HSV frames,
// averaged over the hue, saturation and value channels. Identical frames score
// zero; a hard cut between unrelated shots typically scores well above 27.
func ContentDelta(a, b HSVFrame) (float64, error) {
	if a.Width != b.Width || a.Height != b.Height || len(a.Pix) != len(b.Pix) {
		return 0, fmt.Errorf("frame size changed from %dx%d to %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	if len(a.Pix) == 0 {
		return 0, fmt.Errorf("empty frame")
	}
	var sums [3]int64
	for i := 0; i < len(a.Pix); i++ {
		d := int64(a.Pix[i]) - int64(b.Pix[i])
		if d < 0 {
			d = -d
		}
		sums[i%3] += d
	}
	pixels := float64(len(a.Pix) / 3)
	return (float64(sums[0])/pixels + float64(sums[1])/pixels + float64(sums[2])/pixels) / 3, nil
}
