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

// SafetyCheck scores a transcribed video. Without a transcript in the
// context, as for silent videos, it does nothing.
type SafetyCheck struct {
	cor.BaseCommand
	pipeline *services.Pipeline
}

func NewSafetyCheck(name string, pipeline *services.Pipeline) *SafetyCheck {
	out := &SafetyCheck{BaseCommand: *cor.NewBaseCommand(name), pipeline: pipeline}
	out.InputParamName = VideoParam
	return out
}

func (c *SafetyCheck) Execute(context cor.Context) {
	asset, ok := cor.Value[*model.VideoAsset](context, c.GetInputParam())
	if !ok {
		c.Fail(context, model.NewInputError("no video to check", nil))
		return
	}
	if _, ok := cor.Value[*model.Transcript](context, TranscriptParam); !ok {
		slog.InfoContext(context.GetContext(), "no transcript, skipping safety check", "hash", asset.Hash)
		c.Succeed(context, nil)
		return
	}
	res, err := c.pipeline.Safety(context.GetContext(), asset.Hash)
	if err != nil {
		c.Fail(context, err)
		return
	}
	report := res.Value
	context.Add(SafetyParam, &report)
	c.Succeed(context, &report)
}
