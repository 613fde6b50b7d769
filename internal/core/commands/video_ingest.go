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
	"path"
	"path/filepath"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/services"
)

// VideoIngest hashes and publishes the local file it receives. The original
// name is taken from the storage object when the chain started from one.
type VideoIngest struct {
	cor.BaseCommand
	pipeline *services.Pipeline
}

func NewVideoIngest(name string, pipeline *services.Pipeline) *VideoIngest {
	return &VideoIngest{BaseCommand: *cor.NewBaseCommand(name), pipeline: pipeline}
}

func (c *VideoIngest) Execute(context cor.Context) {
	file, ok := cor.Value[string](context, c.GetInputParam())
	if !ok {
		c.Fail(context, model.NewInputError("no local file to ingest", nil))
		return
	}
	name := filepath.Base(file)
	if obj, ok := cor.Value[*cloud.GCSObject](context, cloud.GetGCSObjectName()); ok {
		name = path.Base(obj.Name)
	}

	res, err := c.pipeline.Ingest(context.GetContext(), file, name)
	if err != nil {
		c.Fail(context, err)
		return
	}
	asset := res.Value
	context.Add(VideoParam, &asset)
	c.Succeed(context, &asset)
}
