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
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/quality"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/safety"
)

// qualityParams fingerprints a quality run.
type qualityParams struct {
	MaxFrames     int         `json:"max_frames"`
	AnalysisWidth int         `json:"analysis_width"`
	Scenes        sceneParams `json:"scenes"`
}

func (p *Pipeline) qualityParams() qualityParams {
	return qualityParams{
		MaxFrames:     p.settings.QualityFrames,
		AnalysisWidth: quality.MaxAnalysisWidth,
		Scenes:        p.sceneParams(0),
	}
}

// Quality scores resolution, sharpness, colour and lighting over a sample
// of the keyframes of every scene, computing the keyframes it needs.
func (p *Pipeline) Quality(ctx context.Context, hash string) (*orchestrator.Result[model.QualityReport], error) {
	video, err := p.Video(ctx, hash)
	if err != nil {
		return nil, err
	}
	params := p.qualityParams()
	sets, err := p.AllKeyframes(ctx, hash, params.Scenes.Threshold)
	if err != nil {
		return nil, err
	}

	return orchestrator.Obtain(ctx, p.orch, StageQuality, video.Value.Hash, params, func(ctx context.Context) (*orchestrator.Output[model.QualityReport], error) {
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
		scores := make([]quality.FrameScores, 0, len(sampled))
		for _, l := range sampled {
			data, err := p.keyframeImage(ctx, l.set, l.ordinal)
			if err != nil {
				return nil, err
			}
			frame, err := quality.Decode(data, params.AnalysisWidth)
			if err != nil {
				return nil, model.NewInputError(fmt.Sprintf("undecodable keyframe %d of scene %d", l.ordinal, l.set.Value.SceneIndex), err)
			}
			s, err := quality.ScoreFrame(frame)
			if err != nil {
				return nil, err
			}
			scores = append(scores, s)
		}

		report := quality.Summarize(video.Value.Width, video.Value.Height, scores)
		report.VideoHash = video.Value.Hash
		report.AnalyzedAt = p.now().UTC()
		p.log.InfoContext(ctx, "scored video quality", "hash", video.Value.Hash, "tier", report.ResolutionTier, "overall", report.OverallQuality, "frames", report.FramesAnalyzed)
		return &orchestrator.Output[model.QualityReport]{Value: report}, nil
	})
}

// cachedQuality returns the quality report without computing it.
func (p *Pipeline) cachedQuality(ctx context.Context, videoHash string) (*orchestrator.Result[model.QualityReport], error) {
	return orchestrator.Lookup[model.QualityReport](ctx, p.orch, StageQuality, videoHash, p.qualityParams())
}
