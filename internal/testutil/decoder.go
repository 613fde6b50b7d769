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

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/scenes"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/media"
)

// FakeVideo describes a synthetic clip. Its JSON encoding is the "video
// file" the FakeDecoder understands: solid red frames that flip to solid
// blue (and back) at every frame listed in Cuts.
type FakeVideo struct {
	Duration  float64 `json:"duration"`
	FrameRate float64 `json:"frame_rate"`
	HasAudio  bool    `json:"has_audio"`
	Cuts      []int   `json:"cuts,omitempty"`
	Label     string  `json:"label,omitempty"` // Makes otherwise equal clips distinct.
}

// FrameCount is the number of frames the decoder yields.
func (v FakeVideo) FrameCount() int {
	return int(math.Round(v.Duration * v.FrameRate))
}

// Bytes is the file content of the clip.
func (v FakeVideo) Bytes() []byte {
	b, _ := json.Marshal(v)
	return b
}

// WriteFakeVideo writes the clip into dir and returns its path.
func WriteFakeVideo(t testing.TB, dir string, name string, v FakeVideo) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, v.Bytes(), 0o600); err != nil {
		t.Fatalf("failed to write fake video: %v", err)
	}
	return path
}

// FakeDecoder implements the pipeline's decoder over FakeVideo files and
// counts every call.
type FakeDecoder struct {
	Probes           atomic.Int64
	FrameDecodes     atomic.Int64
	FrameExtractions atomic.Int64
	AudioExtractions atomic.Int64
	AudioTrims       atomic.Int64
}

const fakeFrameWidth, fakeFrameHeight = 8, 6

func readFake(path string) (FakeVideo, error) {
	var v FakeVideo
	b, err := os.ReadFile(path)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, model.NewInputError("undecodable video", fmt.Errorf("%w: %v", model.ErrCorruptInput, err))
	}
	return v, nil
}

func (d *FakeDecoder) Probe(_ context.Context, path string) (*media.Info, error) {
	d.Probes.Add(1)
	v, err := readFake(path)
	if err != nil {
		return nil, err
	}
	if v.Duration <= 0 {
		return nil, model.NewInputError("zero-duration asset", model.ErrCorruptInput)
	}
	return &media.Info{
		MIMEType:   "video/mp4",
		Format:     "mov,mp4,m4a,3gp,3g2,mj2",
		Duration:   v.Duration,
		FrameRate:  v.FrameRate,
		FrameCount: v.FrameCount(),
		Width:      1280,
		Height:     720,
		HasAudio:   v.HasAudio,
	}, nil
}

func (d *FakeDecoder) Frames(ctx context.Context, path string, _ *media.Info, _ int, fn func(scenes.Frame) error) (int, error) {
	d.FrameDecodes.Add(1)
	v, err := readFake(path)
	if err != nil {
		return 0, err
	}
	cuts := make(map[int]bool, len(v.Cuts))
	for _, c := range v.Cuts {
		cuts[c] = true
	}
	blue := false
	n := v.FrameCount()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if cuts[i] {
			blue = !blue
		}
		if err := fn(SolidFrame(blue)); err != nil {
			return i, err
		}
	}
	return n, nil
}

// SolidFrame returns a small solid red or blue frame.
func SolidFrame(blue bool) scenes.Frame {
	pix := make([]byte, fakeFrameWidth*fakeFrameHeight*3)
	for i := 0; i < len(pix); i += 3 {
		if blue {
			pix[i+2] = 255
		} else {
			pix[i] = 255
		}
	}
	return scenes.Frame{Width: fakeFrameWidth, Height: fakeFrameHeight, Pix: pix}
}

func (d *FakeDecoder) ExtractFrame(_ context.Context, path string, timestamp float64) ([]byte, error) {
	d.FrameExtractions.Add(1)
	if _, err := readFake(path); err != nil {
		return nil, err
	}
	return KeyframeJPEG(timestamp)
}

// KeyframeJPEG renders a small gradient whose tint follows timestamp, so
// every extracted frame is a distinct, decodable JPEG.
func KeyframeJPEG(timestamp float64) ([]byte, error) {
	const w, h = 16, 12
	tint := uint8(int(math.Round(timestamp*10)) % 128)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 20), B: 64 + tint, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *FakeDecoder) ExtractAudio(_ context.Context, src, dest string) error {
	d.AudioExtractions.Add(1)
	v, err := readFake(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(fmt.Sprintf("mp3[0.000,%.3f]", v.Duration)), 0o600)
}

func (d *FakeDecoder) TrimAudio(_ context.Context, src, dest string, start, end float64) error {
	d.AudioTrims.Add(1)
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(fmt.Sprintf("%s[%.3f,%.3f]", b, start, end)), 0o600)
}
