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

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cache"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/enhance"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/orchestrator"
)

// EnhanceRequest selects the scenes and parameters of a batch.
type EnhanceRequest struct {
	Scenes int                    // First N scenes; zero uses the configured default.
	Params model.GenerationParams // Invalid fields fall back to defaults.
}

// jobParams fingerprints one generation job.
type jobParams struct {
	Scenes     sceneParams            `json:"scenes"`
	SceneIndex int                    `json:"scene_index"`
	Params     model.GenerationParams `json:"params"`
	Model      string                 `json:"model"`
	Prompt     string                 `json:"prompt"`
}

// VariantFile is the published name of one generated video.
func VariantFile(variant int) string {
	return fmt.Sprintf("variant_%d.mp4", variant)
}

// Enhance generates improved versions of the leading scenes of a video. Each
// scene is an independent cached job: a failed job is recorded in the batch
// and does not stop the others. The batch summary is published under its own
// run id.
func (p *Pipeline) Enhance(ctx context.Context, hash string, req EnhanceRequest) (*model.EnhancementBatch, error) {
	if p.generator == nil {
		return nil, fmt.Errorf("enhancement: %w", ErrNotConfigured)
	}
	rec, err := p.Recommend(ctx, hash)
	if err != nil {
		return nil, err
	}
	if rec.Value.FollowUpPrompt == "" {
		return nil, model.NewInputError("recommendation has no follow-up prompt", nil)
	}
	videoHash := rec.Value.VideoHash

	base := req.Params
	if base == (model.GenerationParams{}) {
		base = p.settings.EnhancementParams
	}
	params, fixes := enhance.NormalizeParams(base)
	for _, fix := range fixes {
		p.log.WarnContext(ctx, "corrected enhancement parameter", "hash", videoHash, "correction", fix.String())
	}
	n := req.Scenes
	if n <= 0 {
		n = p.settings.EnhancementScenes
	}

	list, err := p.Scenes(ctx, videoHash, 0)
	if err != nil {
		return nil, err
	}
	targets := enhance.LeadingScenes(list.Value.Scenes, n)

	batch := &model.EnhancementBatch{
		RunID:          uuid.NewString(),
		VideoHash:      videoHash,
		Model:          p.generator.Model(),
		Params:         params,
		FollowUpPrompt: rec.Value.FollowUpPrompt,
		Jobs:           make([]model.EnhancementJob, len(targets)),
		StartedAt:      p.now().UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.settings.EnhancementJobs)
	for i, scene := range targets {
		g.Go(func() error {
			batch.Jobs[i] = p.runJob(gctx, videoHash, list.Value.Threshold, scene, params, &rec.Value)
			return nil
		})
	}
	_ = g.Wait()

	enhance.Tally(batch)
	batch.CompletedAt = p.now().UTC()
	if _, err := orchestrator.Put(ctx, p.orch, StageEnhancementBatch, videoHash, map[string]string{"run_id": batch.RunID}, batch); err != nil {
		return nil, fmt.Errorf("failed to publish batch %s: %w", batch.RunID, err)
	}
	p.log.InfoContext(ctx, "enhancement batch finished", "hash", videoHash, "run_id", batch.RunID, "successful", batch.Successful, "failed", batch.Failed)
	return batch, nil
}

// runJob obtains one scene's generated videos. Errors are folded into the
// returned job.
func (p *Pipeline) runJob(ctx context.Context, videoHash string, threshold float64, scene model.Scene, params model.GenerationParams, rec *model.Recommendation) model.EnhancementJob {
	job := model.EnhancementJob{VideoHash: videoHash, SceneIndex: scene.Index, Params: params, Status: model.JobPending}
	fail := func(err error) model.EnhancementJob {
		job.Status = model.JobFailed
		job.Error = err.Error()
		p.log.WarnContext(ctx, "enhancement job failed", "hash", videoHash, "scene", scene.Index, "error", err)
		return job
	}

	kf, err := p.Keyframes(ctx, videoHash, scene.Index, threshold)
	if err != nil {
		return fail(err)
	}
	job.Prompt = enhance.BuildScenePrompt(scene, kf.Value.Keyframes, rec)
	key := jobParams{
		Scenes:     p.sceneParams(threshold),
		SceneIndex: scene.Index,
		Params:     params,
		Model:      p.generator.Model(),
		Prompt:     job.Prompt,
	}

	res, err := orchestrator.Obtain(ctx, p.orch, StageEnhancement, videoHash, key, func(ctx context.Context) (*orchestrator.Output[model.EnhancementJob], error) {
		image, err := p.keyframeImage(ctx, kf, enhance.ConditioningOrdinal)
		if err != nil {
			return nil, err
		}
		videos, err := p.generator.Generate(ctx, model.GenerationRequest{
			Prompt:        job.Prompt,
			Image:         image,
			ImageMIMEType: imageMIMEType,
			Params:        params,
		})
		if err != nil {
			return nil, err
		}
		files := make([]cache.File, 0, len(videos))
		for i, v := range videos {
			if len(v.Data) == 0 {
				return nil, model.NewTransientError("generate video", fmt.Errorf("%w: variant %d is empty", model.ErrMalformedResponse, i))
			}
			files = append(files, cache.File{Name: VariantFile(i), Data: v.Data})
		}
		done := job
		done.Status = model.JobGenerated
		return &orchestrator.Output[model.EnhancementJob]{Value: done, Files: files}, nil
	})
	if err != nil {
		return fail(err)
	}

	out := res.Value
	out.FromCache = res.FromCache
	out.Outputs = make([]model.ArtifactRef, 0, len(res.Entry.Files))
	for _, f := range res.Entry.Files {
		out.Outputs = append(out.Outputs, *f.ArtifactRef())
	}
	return out
}
