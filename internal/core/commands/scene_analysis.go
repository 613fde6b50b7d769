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

// This file defines the command that segments a video and fans the per
// scene work out to a pool of workers.
//
// Logic Flow:
//  1. Scenes are detected once with the configured threshold.
//  2. One job per scene is queued on a buffered channel.
//  3. A fixed number of workers take jobs from the channel; each samples the
//     scene's keyframes and, when the video has sound, its audio slice.
//  4. Results are collected from a second channel once every worker has
//     finished. Failed scenes are joined into one error.
package commands

import (
	goctx "context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/services"
)

// SceneAnalysis detects scenes and samples every scene's keyframes and audio.
type SceneAnalysis struct {
	cor.BaseCommand
	pipeline        *services.Pipeline
	numberOfWorkers int
}

func NewSceneAnalysis(name string, pipeline *services.Pipeline, numberOfWorkers int) *SceneAnalysis {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	out := &SceneAnalysis{BaseCommand: *cor.NewBaseCommand(name), pipeline: pipeline, numberOfWorkers: numberOfWorkers}
	out.InputParamName = VideoParam
	return out
}

type sceneJob struct {
	ctx      goctx.Context
	span     trace.Span
	hash     string
	index    int
	audio    bool
	pipeline *services.Pipeline
}

type sceneResult struct {
	index     int
	keyframes int
	err       error
}

func (c *SceneAnalysis) Execute(context cor.Context) {
	asset, ok := cor.Value[*model.VideoAsset](context, c.GetInputParam())
	if !ok {
		c.Fail(context, model.NewInputError("no video to analyse", nil))
		return
	}
	ctx := context.GetContext()

	list, err := c.pipeline.Scenes(ctx, asset.Hash, 0)
	if err != nil {
		c.Fail(context, err)
		return
	}
	scenes := list.Value.Scenes

	jobs := make(chan *sceneJob, len(scenes))
	results := make(chan *sceneResult, len(scenes))
	var wg sync.WaitGroup
	for w := 0; w < c.numberOfWorkers; w++ {
		wg.Add(1)
		go sceneWorker(jobs, results, &wg)
	}
	for _, s := range scenes {
		jobCtx, span := c.Tracer.Start(ctx, fmt.Sprintf("%s_scene_%d", c.GetName(), s.Index))
		span.SetAttributes(
			attribute.Int("scene", s.Index),
			attribute.Float64("start", s.Start),
			attribute.Float64("end", s.End),
		)
		jobs <- &sceneJob{ctx: jobCtx, span: span, hash: asset.Hash, index: s.Index, audio: asset.HasAudio, pipeline: c.pipeline}
	}
	close(jobs)
	wg.Wait()
	close(results)

	var errs []error
	keyframes := 0
	for r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		keyframes += r.keyframes
	}
	if len(errs) > 0 {
		c.Fail(context, errors.Join(errs...))
		return
	}

	scenesOut := list.Value
	context.Add(ScenesParam, &scenesOut)
	context.Add(KeyframesParam, keyframes)
	c.Succeed(context, &scenesOut)
}

func sceneWorker(jobs <-chan *sceneJob, results chan<- *sceneResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range jobs {
		results <- j.run()
	}
}

func (j *sceneJob) run() *sceneResult {
	defer j.span.End()
	fail := func(err error) *sceneResult {
		j.span.RecordError(err)
		j.span.SetStatus(codes.Error, "scene failed")
		return &sceneResult{index: j.index, err: fmt.Errorf("scene %d: %w", j.index, err)}
	}

	set, err := j.pipeline.Keyframes(j.ctx, j.hash, j.index, 0)
	if err != nil {
		return fail(err)
	}
	if j.audio {
		if _, err := j.pipeline.SceneAudio(j.ctx, j.hash, j.index, 0); err != nil {
			return fail(err)
		}
	}
	j.span.SetStatus(codes.Ok, "scene analysed")
	return &sceneResult{index: j.index, keyframes: len(set.Value.Keyframes)}
}
