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

package scenes_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/scenes"
)

func solid(r, g, b byte) scenes.Frame {
	const w, h = 8, 6
	pix := make([]byte, w*h*3)
	for i := 0; i < len(pix); i += 3 {
		pix[i], pix[i+1], pix[i+2] = r, g, b
	}
	return scenes.Frame{Width: w, Height: h, Pix: pix}
}

var (
	red   = solid(255, 0, 0)
	green = solid(0, 255, 0)
	blue  = solid(0, 0, 255)
)

// shots renders runs of solid frames, e.g. shots(red, 30, blue, 30).
func shots(runs ...any) []scenes.Frame {
	var out []scenes.Frame
	for i := 0; i < len(runs); i += 2 {
		f := runs[i].(scenes.Frame)
		for n := 0; n < runs[i+1].(int); n++ {
			out = append(out, f)
		}
	}
	return out
}

func detect(t *testing.T, d *scenes.Detector, frames []scenes.Frame) []int {
	t.Helper()
	for _, f := range frames {
		_, err := d.Push(f)
		require.NoError(t, err)
	}
	return d.Cuts()
}

func TestToHSV(t *testing.T) {
	cases := []struct {
		name    string
		in      scenes.Frame
		h, s, v byte
	}{
		{"red", red, 0, 255, 255},
		{"green", green, 60, 255, 255},
		{"blue", blue, 120, 255, 255},
		{"black", solid(0, 0, 0), 0, 0, 0},
		{"white", solid(255, 255, 255), 0, 0, 255},
		{"grey", solid(128, 128, 128), 0, 0, 128},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hsv, err := scenes.ToHSV(tc.in)
			require.NoError(t, err)
			assert.Equal(t, []byte{tc.h, tc.s, tc.v}, hsv.Pix[:3])
		})
	}

	_, err := scenes.ToHSV(scenes.Frame{Width: 2, Height: 2, Pix: []byte{1, 2, 3}})
	assert.Error(t, err)
}

func TestContentDelta(t *testing.T) {
	r, _ := scenes.ToHSV(red)
	b, _ := scenes.ToHSV(blue)
	g, _ := scenes.ToHSV(green)

	d, err := scenes.ContentDelta(r, r)
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = scenes.ContentDelta(r, b)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, d, 1e-9)

	d, err = scenes.ContentDelta(r, g)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, d, 1e-9)

	small, _ := scenes.ToHSV(scenes.Frame{Width: 1, Height: 1, Pix: []byte{0, 0, 0}})
	_, err = scenes.ContentDelta(r, small)
	assert.Error(t, err)
}

func TestDetectorFindsHardCuts(t *testing.T) {
	d := scenes.NewDetector(scenes.DefaultThreshold, scenes.DefaultMinSceneFrames)
	cuts := detect(t, d, shots(red, 30, blue, 30, red, 20))
	assert.Equal(t, []int{30, 60}, cuts)
	assert.Equal(t, 80, d.Frames())
	assert.Len(t, d.Scores(), 79)
}

func TestDetectorThresholdControlsSensitivity(t *testing.T) {
	frames := shots(red, 20, green, 20)

	assert.Empty(t, detect(t, scenes.NewDetector(27, 15), frames), "a 20 point delta is below 27")
	assert.Equal(t, []int{20}, detect(t, scenes.NewDetector(15, 15), frames))
}

func TestDetectorSuppressesSlivers(t *testing.T) {
	// A flash shorter than the minimum scene length never becomes a scene.
	frames := shots(red, 30, blue, 4, red, 30)
	cuts := detect(t, scenes.NewDetector(27, 15), frames)
	assert.Equal(t, []int{30}, cuts)

	// Cuts within the first MinSceneFrames frames are suppressed too.
	cuts = detect(t, scenes.NewDetector(27, 15), shots(red, 5, blue, 40))
	assert.Empty(t, cuts)
}

func TestDetectionIsDeterministic(t *testing.T) {
	frames := shots(red, 48, blue, 72, green, 10, red, 110, blue, 360)
	run := func() []model.Scene {
		d := scenes.NewDetector(27, 15)
		cuts := detect(t, d, frames)
		list, err := scenes.Segment("abc", cuts, d.Frames(), 24, 25)
		require.NoError(t, err)
		return list
	}
	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("scene lists differ (-first +second):\n%s", diff)
	}
}

func TestSegmentCoversWholeDuration(t *testing.T) {
	// A 25 second clip at 24 fps with two cuts.
	list, err := scenes.Segment("abc", []int{120, 360}, 600, 24, 25)
	require.NoError(t, err)

	want := []model.Scene{
		{VideoHash: "abc", Index: 0, Start: 0, End: 5, StartFrame: 0, EndFrame: 120},
		{VideoHash: "abc", Index: 1, Start: 5, End: 15, StartFrame: 120, EndFrame: 360},
		{VideoHash: "abc", Index: 2, Start: 15, End: 25, StartFrame: 360, EndFrame: 600},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Errorf("unexpected scenes (-want +got):\n%s", diff)
	}

	var total float64
	for i, s := range list {
		assert.Equal(t, i, s.Index)
		if i > 0 {
			assert.Equal(t, list[i-1].End, s.Start, "scenes must be contiguous")
		}
		total += s.Duration()
	}
	assert.InDelta(t, 25.0, total, 1e-9)
}

func TestSegmentWithoutCutsIsOneScene(t *testing.T) {
	list, err := scenes.Segment("abc", nil, 301, 29.97, 10.043)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 0.0, list[0].Start)
	assert.Equal(t, 10.043, list[0].End)
}

func TestSegmentClampsToDecodedDuration(t *testing.T) {
	// The container reports more frames than the decoded duration covers.
	list, err := scenes.Segment("abc", []int{150, 305}, 310, 30, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 10.0, list[1].End)
	assert.Equal(t, 310, list[1].EndFrame)
}

func TestSegmentDerivesFrameRate(t *testing.T) {
	list, err := scenes.Segment("abc", []int{50}, 100, 0, 4)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.InDelta(t, 2.0, list[1].Start, 1e-9)
}

func TestSegmentRejectsEmptyInput(t *testing.T) {
	for _, tc := range []struct {
		frames   int
		duration float64
	}{{100, 0}, {100, -1}, {100, math.NaN()}, {0, 10}} {
		_, err := scenes.Segment("abc", nil, tc.frames, 25, tc.duration)
		assert.True(t, model.IsInput(err), "frames=%d duration=%v", tc.frames, tc.duration)
	}
}
