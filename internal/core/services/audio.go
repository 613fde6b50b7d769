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
	"os"
	"path/filepath"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cache"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/orchestrator"
)

// SceneAudioFile is the published name of a scene's audio slice.
func SceneAudioFile(sceneIndex int) string {
	return fmt.Sprintf("scene_%d.mp3", sceneIndex)
}

// WholeAudio extracts the audio track of the video once.
func (p *Pipeline) WholeAudio(ctx context.Context, hash string) (*orchestrator.Result[model.AudioSlice], error) {
	video, err := p.Video(ctx, hash)
	if err != nil {
		return nil, err
	}
	asset := video.Value
	if !asset.HasAudio {
		return nil, model.NewInputError("video has no audio track", nil)
	}

	res, err := orchestrator.Obtain(ctx, p.orch, StageAudio, asset.Hash, noParams, func(ctx context.Context) (*orchestrator.Output[model.AudioSlice], error) {
		src, err := fileRef(video.Entry, SourceFile)
		if err != nil {
			return nil, err
		}
		path, cleanup, err := p.localize(ctx, src)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		data, err := p.inScratch(AudioFile, func(dest string) error {
			return p.decoder.ExtractAudio(ctx, path, dest)
		})
		if err != nil {
			return nil, err
		}
		return &orchestrator.Output[model.AudioSlice]{
			Value: model.AudioSlice{VideoHash: asset.Hash, Start: 0, End: asset.Duration, Format: "mp3"},
			Files: []cache.File{{Name: AudioFile, Data: data}},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, withAudio(res, AudioFile)
}

// SceneAudio trims the whole-track audio to one scene, extracting the whole
// track first when it is not cached yet.
func (p *Pipeline) SceneAudio(ctx context.Context, hash string, sceneIndex int, threshold float64) (*orchestrator.Result[model.AudioSlice], error) {
	scene, list, err := p.scene(ctx, hash, sceneIndex, threshold)
	if err != nil {
		return nil, err
	}
	whole, err := p.WholeAudio(ctx, hash)
	if err != nil {
		return nil, err
	}
	params := perScene{Scenes: p.sceneParams(list.Value.Threshold), SceneIndex: sceneIndex}
	name := SceneAudioFile(sceneIndex)

	res, err := orchestrator.Obtain(ctx, p.orch, StageSceneAudio, whole.Value.VideoHash, params, func(ctx context.Context) (*orchestrator.Output[model.AudioSlice], error) {
		src, err := fileRef(whole.Entry, AudioFile)
		if err != nil {
			return nil, err
		}
		path, cleanup, err := p.localize(ctx, src)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		data, err := p.inScratch(name, func(dest string) error {
			return p.decoder.TrimAudio(ctx, path, dest, scene.Start, scene.End)
		})
		if err != nil {
			return nil, err
		}
		idx := sceneIndex
		return &orchestrator.Output[model.AudioSlice]{
			Value: model.AudioSlice{VideoHash: whole.Value.VideoHash, SceneIndex: &idx, Start: scene.Start, End: scene.End, Format: "mp3"},
			Files: []cache.File{{Name: name, Data: data}},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, withAudio(res, name)
}

func withAudio(res *orchestrator.Result[model.AudioSlice], name string) error {
	ref, err := fileRef(res.Entry, name)
	if err != nil {
		return err
	}
	res.Value.Audio = ref.ArtifactRef()
	return nil
}

// inScratch runs produce with a destination path inside a fresh scratch
// directory and returns the bytes it wrote. The directory is gone when
// inScratch returns, so nothing outlives the compute that created it.
func (p *Pipeline) inScratch(name string, produce func(dest string) error) ([]byte, error) {
	dir, cleanup, err := p.scratch()
	if err != nil {
		return nil, err
	}
	defer cleanup()
	dest := filepath.Join(dir, name)
	if err := produce(dest); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		return nil, fmt.Errorf("decoder produced no %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("decoder produced an empty %s", name)
	}
	return data, nil
}
