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

// Package model defines the data structures shared by every stage of the
// media pipeline. This file contains the structures derived directly from the
// decoded video: the asset itself, its scenes, keyframes and audio slices.
//
// Every structure is keyed by the video's content hash, never by its file name
// or upload order, so the same bytes uploaded twice resolve to the same records.
package model

import "time"

// ArtifactRef points at one file held by the artifact store.
type ArtifactRef struct {
	Name     string `json:"name"`               // Name of the file inside its cache entry (e.g. "keyframe_2.jpg").
	Location string `json:"location,omitempty"` // Store specific location: a local path or a gs:// URI.
	Size     int64  `json:"size,omitempty"`     // Number of bytes in the artifact.
}

// VideoAsset is the record published the first time a set of video bytes is
// ingested. It is never mutated afterwards.
type VideoAsset struct {
	Hash         string       `json:"hash"`                    // Content hash of the raw bytes.
	OriginalName string       `json:"original_name,omitempty"` // The file name of the first upload; informational only.
	MIMEType     string       `json:"mime_type,omitempty"`     // Sniffed MIME type of the source.
	Size         int64        `json:"size"`                    // Size of the source in bytes.
	Duration     float64      `json:"duration"`                // Decoded duration in seconds.
	FrameRate    float64      `json:"frame_rate"`              // Average frames per second.
	FrameCount   int          `json:"frame_count"`             // Number of addressable frames.
	Width        int          `json:"width,omitempty"`
	Height       int          `json:"height,omitempty"`
	HasAudio     bool         `json:"has_audio"`
	Source       *ArtifactRef `json:"source,omitempty"` // Filled from the cache entry on every read.
	IngestedAt   time.Time    `json:"ingested_at"`
}

// Scene is one temporally contiguous segment of a video. Within a video the
// scenes are ordered by Index, gap free, and their union is [0, duration].
type Scene struct {
	VideoHash  string  `json:"video_hash"`
	Index      int     `json:"index"`
	Start      float64 `json:"start"`       // Seconds from the start of the video.
	End        float64 `json:"end"`         // Seconds from the start of the video; exclusive except for the last scene.
	StartFrame int     `json:"start_frame"` // First frame of the scene.
	EndFrame   int     `json:"end_frame"`   // First frame of the next scene, or the frame count for the last one.
}

// Duration returns the scene length in seconds.
func (s Scene) Duration() float64 {
	return s.End - s.Start
}

// SceneList is the record published by the scene detection stage.
type SceneList struct {
	VideoHash      string  `json:"video_hash"`
	Threshold      float64 `json:"threshold"`
	MinSceneFrames int     `json:"min_scene_frames"`
	Duration       float64 `json:"duration"`
	FramesAnalyzed int     `json:"frames_analyzed"`
	Scenes         []Scene `json:"scenes"`
}

// KeyframesPerScene is the fixed number of keyframes sampled from every scene.
const KeyframesPerScene = 5

// Keyframe is one still image sampled from a scene.
type Keyframe struct {
	VideoHash  string       `json:"video_hash"`
	SceneIndex int          `json:"scene_index"`
	Ordinal    int          `json:"ordinal"`     // 0..4
	Position   float64      `json:"position"`    // Fraction of the scene's local span: 0, .25, .5, .75 or 1.
	FrameIndex int          `json:"frame_index"` // The decoder frame the position resolved to.
	Timestamp  float64      `json:"timestamp"`   // Seconds from the start of the video.
	Image      *ArtifactRef `json:"image,omitempty"`
}

// KeyframeSet is the record published by the keyframes stage for one scene.
type KeyframeSet struct {
	VideoHash  string     `json:"video_hash"`
	SceneIndex int        `json:"scene_index"`
	Keyframes  []Keyframe `json:"keyframes"`
}

// AudioSlice is a range of a video's audio track. A whole-track slice has a
// nil SceneIndex.
type AudioSlice struct {
	VideoHash  string       `json:"video_hash"`
	SceneIndex *int         `json:"scene_index,omitempty"`
	Start      float64      `json:"start"`
	End        float64      `json:"end"`
	Format     string       `json:"format"`
	Audio      *ArtifactRef `json:"audio,omitempty"`
}

// IsWholeTrack reports whether the slice covers the full audio track.
func (a AudioSlice) IsWholeTrack() bool {
	return a.SceneIndex == nil
}
