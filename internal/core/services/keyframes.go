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

	"golang.org/x/sync/errgroup"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cache"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/keyframes"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/orchestrator"
)

// KeyframeFile is the published name of a keyframe image.
func KeyframeFile(ordinal int) string {
	return fmt.Sprintf("keyframe_%d.jpg", ordinal)
}

// Keyframes samples the five keyframes of one scene.
func (p *Pipeline) Keyframes(ctx context.Context, hash string, sceneIndex int, threshold float64) (*orchestrator.Result[model.KeyframeSet], error) {
	scene, list, err := p.scene(ctx, hash, sceneIndex, threshold)
	if err != nil {
		return nil, err
	}
	video, err := p.Video(ctx, hash)
	if err != nil {
		return nil, err
	}
	params := perScene{Scenes: p.sceneParams(list.Value.Threshold), SceneIndex: sceneIndex}

	res, err := orchestrator.Obtain(ctx, p.orch, StageKeyframes, video.Value.Hash, params, func(ctx context.Context) (*orchestrator.Output[model.KeyframeSet], error) {
		plan, err := keyframes.Plan(scene, video.Value.FrameRate)
		if err != nil {
			return nil, err
		}
		src, err := fileRef(video.Entry, SourceFile)
		if err != nil {
			return nil, err
		}
		path, cleanup, err := p.localize(ctx, src)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		files := make([]cache.File, 0, len(plan))
		for _, kf := range plan {
			img, err := p.decoder.ExtractFrame(ctx, path, kf.Timestamp)
			if err != nil {
				return nil, err
			}
			files = append(files, cache.File{Name: KeyframeFile(kf.Ordinal), Data: img})
		}
		return &orchestrator.Output[model.KeyframeSet]{
			Value: model.KeyframeSet{VideoHash: video.Value.Hash, SceneIndex: sceneIndex, Keyframes: plan},
			Files: files,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, withImages(res)
}

func withImages(res *orchestrator.Result[model.KeyframeSet]) error {
	if len(res.Value.Keyframes) != model.KeyframesPerScene {
		return fmt.Errorf("%w: %s holds %d keyframes", cache.ErrCorrupt, res.Entry.Key, len(res.Value.Keyframes))
	}
	for i := range res.Value.Keyframes {
		ref, err := fileRef(res.Entry, KeyframeFile(res.Value.Keyframes[i].Ordinal))
		if err != nil {
			return err
		}
		res.Value.Keyframes[i].Image = ref.ArtifactRef()
	}
	return nil
}

// AllKeyframes samples the keyframes of every scene, in scene order.
func (p *Pipeline) AllKeyframes(ctx context.Context, hash string, threshold float64) ([]*orchestrator.Result[model.KeyframeSet], error) {
	list, err := p.Scenes(ctx, hash, threshold)
	if err != nil {
		return nil, err
	}
	out := make([]*orchestrator.Result[model.KeyframeSet], len(list.Value.Scenes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.settings.Concurrency)
	for i := range list.Value.Scenes {
		g.Go(func() error {
			res, err := p.Keyframes(gctx, hash, i, list.Value.Threshold)
			if err != nil {
				return fmt.Errorf("scene %d: %w", i, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// keyframeImage reads the image of one keyframe.
func (p *Pipeline) keyframeImage(ctx context.Context, res *orchestrator.Result[model.KeyframeSet], ordinal int) ([]byte, error) {
	ref, err := fileRef(res.Entry, KeyframeFile(ordinal))
	if err != nil {
		return nil, err
	}
	return cache.ReadAll(ctx, p.store, ref)
}
