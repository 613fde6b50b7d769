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

package model

import "time"

// JobStatus is the lifecycle state of one enhancement job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobGenerated JobStatus = "generated"
	JobFailed    JobStatus = "failed"
)

// GenerationParams are the explicit knobs passed to the video generation engine.
type GenerationParams struct {
	AspectRatio     string `json:"aspect_ratio"`
	DurationSeconds int    `json:"duration_seconds"`
	Variants        int    `json:"variants"`
}

// GeneratedVideo is one variant returned by the generation engine. Exactly
// one of Data or URI is set.
type GeneratedVideo struct {
	Data     []byte
	URI      string
	MIMEType string
}

// GenerationRequest is one call to the video generation engine. Image, when
// set, is the still the generated clip starts from.
type GenerationRequest struct {
	Prompt        string
	Image         []byte
	ImageMIMEType string
	Params        GenerationParams
}

// EnhancementJob is one generation request for one scene of a video.
type EnhancementJob struct {
	VideoHash  string           `json:"video_hash"`
	SceneIndex int              `json:"scene_index"`
	Params     GenerationParams `json:"params"`
	Status     JobStatus        `json:"status"`
	Prompt     string           `json:"prompt,omitempty"`
	Outputs    []ArtifactRef    `json:"outputs,omitempty"`
	Error      string           `json:"error,omitempty"`
	FromCache  bool             `json:"from_cache"`
}

// EnhancementBatch is the record of one batch run over the leading scenes of
// a video. Failed jobs are recorded here rather than failing the batch.
type EnhancementBatch struct {
	RunID          string           `json:"run_id"`
	VideoHash      string           `json:"video_hash"`
	Model          string           `json:"model"`
	Params         GenerationParams `json:"params"`
	FollowUpPrompt string           `json:"follow_up_prompt"`
	Total          int              `json:"total"`
	Successful     int              `json:"successful"`
	Failed         int              `json:"failed"`
	Success        bool             `json:"success"`
	Jobs           []EnhancementJob `json:"jobs"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    time.Time        `json:"completed_at"`
}
