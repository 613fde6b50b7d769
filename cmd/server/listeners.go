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

// Package main contains the logic for setting up and starting the Pub/Sub message listeners.
// The upload listener runs the ingestion workflow for every object finalized in
// the upload bucket.
package main

import (
	"context"
	"fmt"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/services"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/workflow"
)

// UploadListener is the topic_subscriptions key of the upload notifications.
const UploadListener = "UploadTopic"

// SetupListeners attaches the ingestion workflow to the upload listener and
// starts it.
//
// Inputs:
//   - ctx: The application's root context; cancelling it stops the listener.
//   - config: The application's configuration.
//   - cloudClients: The clients, including the listeners built from the config.
//   - pipeline: The pipeline the workflow runs its stages through.
//
// Outputs:
//   - error: The upload listener is not configured.
func SetupListeners(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients, pipeline *services.Pipeline) error {
	listener, ok := cloudClients.PubSubListeners[UploadListener]
	if !ok {
		return fmt.Errorf("topic subscription %q is not configured", UploadListener)
	}
	mediaIngestion := workflow.NewMediaIngestionPipeline(config, cloudClients, pipeline)
	listener.SetCommand(mediaIngestion)
	listener.Listen(ctx)
	return nil
}
