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

// Package keyframes decides which frames of a scene are sampled as keyframes.
// Extraction and persistence happen in the services package; this package
// only resolves positions to frames.
package keyframes

import (
	"fmt"
	"math"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// Positions are the fractions of a scene's local span that are sampled.
var Positions = [model.KeyframesPerScene]float64{0, 0.25, 0.5, 0.75, 1}

// NearestFrame resolves a timestamp to the closest addressable frame in
// [first, last]. A timestamp exactly between two frames resolves to the
// earlier one.
func NearestFrame(timestamp, frameRate float64, first, last int) int {
	exact := timestamp * frameRate
	frame := int(math.Ceil(exact - 0.5))
	if frame < first {
		return first
	}
	if frame > last {
		return last
	}
	return frame
}

// Plan returns the keyframes of a scene with FrameIndex and Timestamp set.
// Image is left for the caller to fill once the frame has been extracted.
func Plan(scene model.Scene, frameRate float64) ([]model.Keyframe, error) {
	if frameRate <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", frameRate)
	}
	if scene.End < scene.Start {
		return nil, fmt.Errorf("scene %d ends before it starts", scene.Index)
	}
	first := scene.StartFrame
	last := scene.EndFrame - 1
	if last < first {
		last = first
	}

	out := make([]model.Keyframe, len(Positions))
	for i, pos := range Positions {
		ts := scene.Start + pos*scene.Duration()
		frame := NearestFrame(ts, frameRate, first, last)
		out[i] = model.Keyframe{
			VideoHash:  scene.VideoHash,
			SceneIndex: scene.Index,
			Ordinal:    i,
			Position:   pos,
			FrameIndex: frame,
			Timestamp:  float64(frame) / frameRate,
		}
	}
	return out, nil
}
