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

// This file defines the first command of the ingestion workflow.
//
// Logic Flow:
//  1. The command receives the raw Pub/Sub message data as a JSON string.
//  2. It parses it into a `cloud.GCSPubSubNotification`.
//  3. Folder placeholders and notifications without an object are rejected
//     as input errors, so the listener acknowledges them.
//  4. The simplified `cloud.GCSObject` is stored under
//     `cloud.GetGCSObjectName()` and handed to the next command.
package commands

import (
	"github.com/jaycherian/gcp-go-media-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// MediaTriggerToGCSObject parses a storage notification into a GCSObject.
type MediaTriggerToGCSObject struct {
	cor.BaseCommand
}

func NewMediaTriggerToGCSObject(name string) *MediaTriggerToGCSObject {
	return &MediaTriggerToGCSObject{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *MediaTriggerToGCSObject) Execute(context cor.Context) {
	in, ok := cor.Value[string](context, c.GetInputParam())
	if !ok {
		c.Fail(context, model.NewInputError("notification is not text", nil))
		return
	}
	n, err := cloud.ParseNotification([]byte(in))
	if err != nil {
		c.Fail(context, err)
		return
	}
	if n.IsFolder() {
		c.Fail(context, model.NewInputError("notification is for a folder placeholder", nil))
		return
	}
	obj := n.Object()
	context.Add(cloud.GetGCSObjectName(), &obj)
	c.Succeed(context, &obj)
}
