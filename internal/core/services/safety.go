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

package services

import (
	"context"
	"fmt"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/orchestrator"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/safety"
)

// safetyParams fingerprints a safety run.
type safetyParams struct {
	Bands      safety.Bands `json:"bands"`
	Keywords   []string     `json:"keywords"`
	MaxFrames  int          `json:"max_frames"`
	Scenes     sceneParams  `json:"scenes"`
	Transcript modelParams  `json:"transcript"`
}

func (p *Pipeline) safetyParams() (safetyParams, error) {
	if p.checker == nil {
		return safetyParams{}, fmt.Errorf("safety: %w", ErrNotConfigured)
	}
	transcript, err := p.transcriptParams()
	if err != nil {
		return safetyParams{}, err
	}
	return safetyParams{
		Bands:      p.checker.Bands,
		Keywords:   p.checker.Keywords,
		MaxFrames:  p.checker.MaxFrames,
		Scenes:     p.sceneParams(0),
		Transcript: transcript,
	}, nil
}

// Safety runs the three safety checks over the cached transcript and the
// keyframes of every scene. It never computes a transcript: without one it
// fails with InputError("transcript not found").
func (p *Pipeline) Safety(ctx context.Context, hash string) (*orchestrator.Result[model.SafetyReport], error) {
	params, err := p.safetyParams()
	if err != nil {
		return nil, err
	}
	transcript, err := p.Transcript(ctx, hash)
	if err != nil {
		return nil, err
	}
	videoHash := transcript.Value.VideoHash
	sets, err := p.AllKeyframes(ctx, videoHash, params.Scenes.Threshold)
	if err != nil {
		return nil, err
	}

	return orchestrator.Obtain(ctx, p.orch, StageSafety, videoHash, params, func(ctx context.Context) (*orchestrator.Output[model.SafetyReport], error) {
		type located struct {
			set     *orchestrator.Result[model.KeyframeSet]
			ordinal int
		}
		var all []located
		for _, set := range sets {
			for _, kf := range set.Value.Keyframes {
				all = append(all, located{set: set, ordinal: kf.Ordinal})
			}
		}
		sampled := safety.SampleFrames(all, params.MaxFrames)
		frames := make([]safety.Image, 0, len(sampled))
		for _, l := range sampled {
			img, err := p.keyframeImage(ctx, l.set, l.ordinal)
			if err != nil {
				return nil, err
			}
			frames = append(frames, safety.Image{Data: img, MIMEType: imageMIMEType})
		}

		report, err := p.checker.Run(ctx, videoHash, transcript.Value.Text, frames)
		if err != nil {
			return nil, err
		}
		p.log.InfoContext(ctx, "safety checked video", "hash", videoHash, "score", report.OverallScore, "severity", report.OverallSeverity)
		return &orchestrator.Output[model.SafetyReport]{Value: *report}, nil
	})
}

// cachedSafety returns the safety report without computing it.
func (p *Pipeline) cachedSafety(ctx context.Context, videoHash string) (*orchestrator.Result[model.SafetyReport], error) {
	params, err := p.safetyParams()
	if err != nil {
		return nil, err
	}
	return orchestrator.Lookup[model.SafetyReport](ctx, p.orch, StageSafety, videoHash, params)
}
