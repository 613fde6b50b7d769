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

// Package scenes detects content driven cut points in a decoded video and
// turns them into an ordered, gap free list of scenes.
//
// Logic Flow:
//  1. Every decoded frame is pushed, in order, into a Detector.
//  2. The Detector converts the frame to HSV and scores it against the
//     previous frame with ContentDelta.
//  3. A score at or above the threshold declares a cut at that frame, unless
//     fewer than MinSceneFrames frames have passed since the previous cut (or
//     the start of the video).
//  4. Segment turns the cut frames into scenes. The last scene always ends at
//     the decoded duration.
//
// The detector holds no state beyond the previous frame and the cut list, so
// the same frames and threshold always produce the same scenes.
package scenes

import (
	"fmt"
	"math"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

const (
	DefaultThreshold      = 27.0
	DefaultMinSceneFrames = 15
)

// Detector accumulates cut points over a stream of frames.
type Detector struct {
	threshold      float64
	minSceneFrames int

	prev    *HSVFrame
	frames  int
	lastCut int
	cuts    []int
	scores  []float64
}

// NewDetector creates a detector. A non-positive threshold or minimum scene
// length selects the defaults.
func NewDetector(threshold float64, minSceneFrames int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if minSceneFrames <= 0 {
		minSceneFrames = DefaultMinSceneFrames
	}
	return &Detector{threshold: threshold, minSceneFrames: minSceneFrames}
}

// Threshold returns the effective cut threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// MinSceneFrames returns the effective minimum scene length.
func (d *Detector) MinSceneFrames() int { return d.minSceneFrames }

// Push scores the next frame. It reports whether a cut was declared at it.
func (d *Detector) Push(f Frame) (bool, error) {
	hsv, err := ToHSV(f)
	if err != nil {
		return false, fmt.Errorf("frame %d: %w", d.frames, err)
	}
	idx := d.frames
	d.frames++

	if d.prev == nil {
		d.prev = &hsv
		return false, nil
	}
	score, err := ContentDelta(*d.prev, hsv)
	if err != nil {
		return false, fmt.Errorf("frame %d: %w", idx, err)
	}
	d.prev = &hsv
	d.scores = append(d.scores, score)

	if score >= d.threshold && idx-d.lastCut >= d.minSceneFrames {
		d.cuts = append(d.cuts, idx)
		d.lastCut = idx
		return true, nil
	}
	return false, nil
}

// Frames returns the number of frames pushed so far.
func (d *Detector) Frames() int { return d.frames }

// Cuts returns the frame indices at which new scenes start, excluding frame 0.
func (d *Detector) Cuts() []int {
	return append([]int(nil), d.cuts...)
}

// Scores returns the delta of every frame against its predecessor.
func (d *Detector) Scores() []float64 {
	return append([]float64(nil), d.scores...)
}

// Segment builds the scene list for a video from its cut frames.
//
// Inputs:
//   - videoHash: The owning asset.
//   - cuts: Strictly increasing frame indices where a new scene starts.
//   - frameCount: The number of decoded frames.
//   - frameRate: Frames per second; when not positive it is derived from
//     frameCount and duration.
//   - duration: The decoded duration in seconds.
//
// Outputs:
//   - The scenes, contiguous from 0 to duration. With no usable cut the list
//     holds exactly one scene covering the whole video.
//   - An InputError for a zero duration or an empty frame stream.
func Segment(videoHash string, cuts []int, frameCount int, frameRate float64, duration float64) ([]model.Scene, error) {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil, model.NewInputError("zero-duration asset", model.ErrCorruptInput)
	}
	if frameCount <= 0 {
		return nil, model.NewInputError("no decodable frames", model.ErrCorruptInput)
	}
	if frameRate <= 0 {
		frameRate = float64(frameCount) / duration
	}

	starts := []int{0}
	for _, c := range cuts {
		if c <= starts[len(starts)-1] || c >= frameCount {
			continue
		}
		if float64(c)/frameRate >= duration {
			break
		}
		starts = append(starts, c)
	}

	scenes := make([]model.Scene, len(starts))
	for i, sf := range starts {
		s := model.Scene{
			VideoHash:  videoHash,
			Index:      i,
			StartFrame: sf,
			Start:      float64(sf) / frameRate,
		}
		if i+1 < len(starts) {
			s.EndFrame = starts[i+1]
			s.End = float64(starts[i+1]) / frameRate
		} else {
			s.EndFrame = frameCount
			s.End = duration
		}
		scenes[i] = s
	}
	return scenes, nil
}
