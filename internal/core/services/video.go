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

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cache"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/identity"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/orchestrator"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/scenes"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/media"
)

// sceneParams fingerprints a segmentation.
type sceneParams struct {
	Threshold      float64 `json:"threshold"`
	MinSceneFrames int     `json:"min_scene_frames"`
	AnalysisWidth  int     `json:"analysis_width"`
}

// perScene fingerprints a stage computed for one scene of one segmentation.
type perScene struct {
	Scenes     sceneParams `json:"scenes"`
	SceneIndex int         `json:"scene_index"`
}

func (p *Pipeline) sceneParams(threshold float64) sceneParams {
	if threshold <= 0 {
		threshold = p.settings.SceneThreshold
	}
	return sceneParams{Threshold: threshold, MinSceneFrames: p.settings.MinSceneFrames, AnalysisWidth: p.settings.AnalysisWidth}
}

// Ingest hashes the file at path and publishes it as a video asset. The file
// is probed only the first time its bytes are seen; later uploads of the
// same bytes return the cached asset.
//
// Inputs:
//   - path: A local file the caller keeps until Ingest returns.
//   - originalName: Recorded on first ingest only.
//
// Outputs:
//   - The asset, with Source pointing at the published copy.
//   - An InputError for undecodable, unsupported or zero-duration input.
func (p *Pipeline) Ingest(ctx context.Context, path string, originalName string) (*orchestrator.Result[model.VideoAsset], error) {
	hash, size, err := identity.FromFile(path)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, model.NewInputError("empty upload", model.ErrCorruptInput)
	}
	owner := hash.String()
	res, err := orchestrator.Obtain(ctx, p.orch, StageVideo, owner, noParams, func(ctx context.Context) (*orchestrator.Output[model.VideoAsset], error) {
		info, err := p.decoder.Probe(ctx, path)
		if err != nil {
			return nil, err
		}
		asset := model.VideoAsset{
			Hash:         owner,
			OriginalName: originalName,
			MIMEType:     info.MIMEType,
			Size:         size,
			Duration:     info.Duration,
			FrameRate:    info.FrameRate,
			FrameCount:   info.FrameCount,
			Width:        info.Width,
			Height:       info.Height,
			HasAudio:     info.HasAudio,
			IngestedAt:   p.now().UTC(),
		}
		p.log.InfoContext(ctx, "ingested video", "hash", hash.Short(), "duration", info.Duration, "frame_rate", info.FrameRate)
		return &orchestrator.Output[model.VideoAsset]{Value: asset, Files: []cache.File{{Name: SourceFile, Path: path}}}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, withSource(res)
}

// Video returns a previously ingested asset.
func (p *Pipeline) Video(ctx context.Context, hash string) (*orchestrator.Result[model.VideoAsset], error) {
	owner, err := owner(hash)
	if err != nil {
		return nil, err
	}
	res, err := orchestrator.Lookup[model.VideoAsset](ctx, p.orch, StageVideo, owner, noParams)
	if err != nil {
		return nil, notFound(err, "video")
	}
	return res, withSource(res)
}

func withSource(res *orchestrator.Result[model.VideoAsset]) error {
	ref, err := fileRef(res.Entry, SourceFile)
	if err != nil {
		return err
	}
	res.Value.Source = ref.ArtifactRef()
	return nil
}

func probeInfo(a model.VideoAsset) *media.Info {
	return &media.Info{
		MIMEType:   a.MIMEType,
		Duration:   a.Duration,
		FrameRate:  a.FrameRate,
		FrameCount: a.FrameCount,
		Width:      a.Width,
		Height:     a.Height,
		HasAudio:   a.HasAudio,
	}
}

// Scenes segments the video with threshold; a non-positive threshold uses
// the configured default.
func (p *Pipeline) Scenes(ctx context.Context, hash string, threshold float64) (*orchestrator.Result[model.SceneList], error) {
	video, err := p.Video(ctx, hash)
	if err != nil {
		return nil, err
	}
	asset := video.Value
	params := p.sceneParams(threshold)

	return orchestrator.Obtain(ctx, p.orch, StageScenes, asset.Hash, params, func(ctx context.Context) (*orchestrator.Output[model.SceneList], error) {
		src, err := fileRef(video.Entry, SourceFile)
		if err != nil {
			return nil, err
		}
		path, cleanup, err := p.localize(ctx, src)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		detector := scenes.NewDetector(params.Threshold, params.MinSceneFrames)
		n, err := p.decoder.Frames(ctx, path, probeInfo(asset), params.AnalysisWidth, func(f scenes.Frame) error {
			_, err := detector.Push(f)
			return err
		})
		if err != nil {
			return nil, err
		}
		list, err := scenes.Segment(asset.Hash, detector.Cuts(), n, asset.FrameRate, asset.Duration)
		if err != nil {
			return nil, err
		}
		p.log.InfoContext(ctx, "segmented video", "hash", asset.Hash, "threshold", params.Threshold, "frames", n, "scenes", len(list))
		return &orchestrator.Output[model.SceneList]{Value: model.SceneList{
			VideoHash:      asset.Hash,
			Threshold:      params.Threshold,
			MinSceneFrames: params.MinSceneFrames,
			Duration:       asset.Duration,
			FramesAnalyzed: n,
			Scenes:         list,
		}}, nil
	})
}

// scene returns one scene of a segmentation.
func (p *Pipeline) scene(ctx context.Context, hash string, index int, threshold float64) (model.Scene, *orchestrator.Result[model.SceneList], error) {
	list, err := p.Scenes(ctx, hash, threshold)
	if err != nil {
		return model.Scene{}, nil, err
	}
	if index < 0 || index >= len(list.Value.Scenes) {
		return model.Scene{}, nil, model.NewInputError("scene not found", nil)
	}
	return list.Value.Scenes[index], list, nil
}
