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

// Package enhance holds the pure parts of the enhancement batch runner:
// parameter validation, scene prompt construction and batch accounting. The
// batch itself is driven by services.Pipeline.Enhance.
package enhance

import (
	"fmt"
	"strings"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

const (
	DefaultAspectRatio = "16:9"
	DefaultDuration    = 6
	DefaultVariants    = 1
	DefaultScenes      = 3

	MinDuration = 5
	MaxDuration = 8
	MaxVariants = 2

	// ConditioningOrdinal is the keyframe handed to the generator as the
	// starting image: the middle of the scene.
	ConditioningOrdinal = 2
)

// DefaultParams returns 16:9, six seconds, one variant.
func DefaultParams() model.GenerationParams {
	return model.GenerationParams{
		AspectRatio:     DefaultAspectRatio,
		DurationSeconds: DefaultDuration,
		Variants:        DefaultVariants,
	}
}

// Correction describes one parameter that was replaced by its default.
type Correction struct {
	Field string
	Given any
	Used  any
}

func (c Correction) String() string {
	return fmt.Sprintf("invalid %s %v, using %v", c.Field, c.Given, c.Used)
}

// NormalizeParams replaces every unsupported value in p with the default for
// that field. Zero values are treated as unset and silently defaulted.
func NormalizeParams(p model.GenerationParams) (model.GenerationParams, []Correction) {
	def := DefaultParams()
	var fixes []Correction

	switch p.AspectRatio {
	case "16:9", "9:16":
	case "":
		p.AspectRatio = def.AspectRatio
	default:
		fixes = append(fixes, Correction{Field: "aspect_ratio", Given: p.AspectRatio, Used: def.AspectRatio})
		p.AspectRatio = def.AspectRatio
	}

	if p.DurationSeconds == 0 {
		p.DurationSeconds = def.DurationSeconds
	} else if p.DurationSeconds < MinDuration || p.DurationSeconds > MaxDuration {
		fixes = append(fixes, Correction{Field: "duration_seconds", Given: p.DurationSeconds, Used: def.DurationSeconds})
		p.DurationSeconds = def.DurationSeconds
	}

	if p.Variants == 0 {
		p.Variants = def.Variants
	} else if p.Variants < 1 || p.Variants > MaxVariants {
		fixes = append(fixes, Correction{Field: "variants", Given: p.Variants, Used: def.Variants})
		p.Variants = def.Variants
	}
	return p, fixes
}

// BuildScenePrompt combines the recommendation text with one scene's temporal
// context into the generation prompt.
func BuildScenePrompt(scene model.Scene, keyframes []model.Keyframe, rec *model.Recommendation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scene %d Enhancement:\n\n", scene.Index)

	b.WriteString("Base improvements:\n")
	if rec != nil {
		b.WriteString(strings.TrimSpace(rec.FollowUpPrompt))
	}
	b.WriteString("\n\n")

	b.WriteString("Key recommendations:\n")
	if rec != nil {
		for i, r := range rec.Recommendations {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(r))
		}
	}
	b.WriteString("\n")

	stamps := make([]string, 0, len(keyframes))
	for _, kf := range keyframes {
		stamps = append(stamps, fmt.Sprintf("%.2fs", kf.Timestamp))
	}
	fmt.Fprintf(&b, "Temporal context: the scene runs from %.2fs to %.2fs (%.2fs long); keyframes were sampled at %s.\n\n",
		scene.Start, scene.End, scene.Duration(), strings.Join(stamps, ", "))

	b.WriteString("Apply these improvements to create a higher quality version of this scene. ")
	b.WriteString("A cinematic, high-quality commercial video with smooth, professional camera movement, ")
	b.WriteString("natural lighting, sharp focus and modern color grading.")
	return b.String()
}

// Tally fills the batch counters from its jobs. A batch succeeds when at
// least one job produced a video.
func Tally(batch *model.EnhancementBatch) {
	batch.Total = len(batch.Jobs)
	batch.Successful, batch.Failed = 0, 0
	for _, j := range batch.Jobs {
		switch j.Status {
		case model.JobGenerated:
			batch.Successful++
		case model.JobFailed:
			batch.Failed++
		}
	}
	batch.Success = batch.Successful > 0
}

// LeadingScenes returns the first n scenes, or all of them when n is not
// positive or exceeds the count.
func LeadingScenes(scenes []model.Scene, n int) []model.Scene {
	if n <= 0 || n > len(scenes) {
		return scenes
	}
	return scenes[:n]
}
