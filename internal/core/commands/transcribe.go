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

package commands

import (
	"log/slog"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/services"
)

// Transcribe transcribes the video's audio track. Silent videos pass through
// without a transcript.
type Transcribe struct {
	cor.BaseCommand
	pipeline *services.Pipeline
}

func NewTranscribe(name string, pipeline *services.Pipeline) *Transcribe {
	out := &Transcribe{BaseCommand: *cor.NewBaseCommand(name), pipeline: pipeline}
	out.InputParamName = VideoParam
	return out
}

func (c *Transcribe) Execute(context cor.Context) {
	asset, ok := cor.Value[*model.VideoAsset](context, c.GetInputParam())
	if !ok {
		c.Fail(context, model.NewInputError("no video to transcribe", nil))
		return
	}
	if !asset.HasAudio {
		slog.InfoContext(context.GetContext(), "video has no audio track, skipping transcription", "hash", asset.Hash)
		c.Succeed(context, nil)
		return
	}
	res, err := c.pipeline.Transcribe(context.GetContext(), asset.Hash)
	if err != nil {
		c.Fail(context, err)
		return
	}
	transcript := res.Value
	context.Add(TranscriptParam, &transcript)
	c.Succeed(context, &transcript)
}
