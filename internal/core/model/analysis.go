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
// media pipeline. This file holds the records produced by the analysis
// stages: transcripts, safety reports, visual quality reports and editing
// recommendations.
package model

import "time"

// TranscriptResult is the validated response of a transcription engine.
type TranscriptResult struct {
	Text      string   `json:"transcript"`
	Language  string   `json:"language"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// Transcript is the cached record of a video's transcription. It is produced
// once per video hash and never changes afterwards.
type Transcript struct {
	VideoHash string       `json:"video_hash"`
	Text      string       `json:"text"`
	Summary   string       `json:"summary"`
	KeyPoints []string     `json:"key_points"`
	Language  string       `json:"language"`
	WordCount int          `json:"word_count"`
	Model     string       `json:"model,omitempty"`
	Artifact  *ArtifactRef `json:"artifact,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Severity is the categorical band derived from a safety score.
type Severity string

const (
	SeveritySafe    Severity = "safe"
	SeverityWarning Severity = "warning"
	SeverityUnsafe  Severity = "unsafe"
)

// Names of the three independent safety checks.
const (
	CheckVisual = "nsfw_violence"
	CheckBias   = "bias_stereotypes"
	CheckClaims = "misleading_claims"
)

// ClassifierResult is the validated response of a safety classifier.
type ClassifierResult struct {
	Score   int      `json:"score"`
	Issues  []string `json:"issues"`
	Details string   `json:"details"`
}

// CheckResult is the outcome of one safety check.
type CheckResult struct {
	Name     string   `json:"name"`
	Score    int      `json:"score"`
	Flag     Severity `json:"flag"`
	Details  string   `json:"details"`
	Issues   []string `json:"issues"`
	Keywords []string `json:"keywords,omitempty"` // Only set by the claims check.
}

// SafetyReport aggregates the three checks for one video.
type SafetyReport struct {
	VideoHash       string        `json:"video_hash"`
	Checks          []CheckResult `json:"checks"`
	OverallScore    int           `json:"overall_score"`
	OverallSeverity Severity      `json:"overall_severity"`
	FramesAnalyzed  int           `json:"frames_analyzed"`
	CheckedAt       time.Time     `json:"checked_at"`
}

// Check returns the named check result, if present.
func (r *SafetyReport) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Resolution tiers of a QualityReport.
const (
	Resolution4K    = "4k"
	Resolution1080p = "1080p"
	Resolution720p  = "720p"
	Resolution480p  = "480p"
	ResolutionSD    = "sd"
)

// QualityReport scores the visual quality of a video from a sample of its
// keyframes. Every score is in [0,1], higher is better. Brightness,
// Saturation and DynamicRange are the measured means the scores derive from.
type QualityReport struct {
	VideoHash       string    `json:"video_hash"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	ResolutionTier  string    `json:"resolution_tier"`
	ResolutionScore float64   `json:"resolution_score"`
	SharpnessScore  float64   `json:"sharpness_score"`
	ColorScore      float64   `json:"color_score"`
	ColorBalance    float64   `json:"color_balance"`
	Saturation      float64   `json:"saturation"`
	LightingScore   float64   `json:"lighting_score"`
	Brightness      float64   `json:"brightness"`
	DynamicRange    float64   `json:"dynamic_range"`
	OverallQuality  float64   `json:"overall_quality"`
	FramesAnalyzed  int       `json:"frames_analyzed"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// Recommendation is the editing feedback produced from a transcript. The
// FollowUpPrompt is the text the enhancement stage feeds to video generation.
type Recommendation struct {
	VideoHash       string    `json:"video_hash"`
	Summary         string    `json:"summary"`
	Strengths       []string  `json:"strengths"`
	Weaknesses      []string  `json:"weaknesses"`
	Recommendations []string  `json:"recommendations"`
	FollowUpPrompt  string    `json:"follow_up_prompt"`
	Model           string    `json:"model,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// AnalysisRow is the flattened record streamed to BigQuery once a video has
// been fully analysed.
type AnalysisRow struct {
	VideoHash       string    `json:"video_hash" bigquery:"video_hash"`
	OriginalName    string    `json:"original_name" bigquery:"original_name"`
	Duration        float64   `json:"duration" bigquery:"duration"`
	SceneCount      int       `json:"scene_count" bigquery:"scene_count"`
	KeyframeCount   int       `json:"keyframe_count" bigquery:"keyframe_count"`
	Language        string    `json:"language" bigquery:"language"`
	WordCount       int       `json:"word_count" bigquery:"word_count"`
	Summary         string    `json:"summary" bigquery:"summary"`
	OverallScore    int       `json:"overall_score" bigquery:"overall_score"`
	OverallSeverity string    `json:"overall_severity" bigquery:"overall_severity"`
	AnalysedAt      time.Time `json:"analysed_at" bigquery:"analysed_at"`
}
