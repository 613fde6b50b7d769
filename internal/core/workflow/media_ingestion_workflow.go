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

// Package workflow defines the high-level business logic orchestrations,
// combining various commands into coherent pipelines. This file implements the
// workflow that analyses a video uploaded to the watched bucket.
package workflow

import (
	"github.com/jaycherian/gcp-go-media-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/commands"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/services"
)

// MediaIngestionWorkflow runs every analysis stage for one upload
// notification. Each stage goes through the pipeline, so a video that was
// already analysed is answered from the artifact cache.
type MediaIngestionWorkflow struct {
	cor.BaseCommand
	download        commands.Downloader
	pipeline        *services.Pipeline
	inserter        commands.RowInserter // Nil skips the BigQuery step.
	tempDir         string
	numberOfWorkers int
	chain           cor.Chain
}

// Execute runs the workflow's chain.
//
// Inputs:
//   - context: Carries the raw notification text under cor.CtxIn.
func (m *MediaIngestionWorkflow) Execute(context cor.Context) {
	m.chain.Execute(context)
}

func (m *MediaIngestionWorkflow) initializeChain() {
	out := cor.NewBaseChain(m.GetName())

	// Step 1: Parse the notification into a storage object.
	out.AddCommand(commands.NewMediaTriggerToGCSObject("media-trigger-to-gcs-object"))

	// Step 2: Download the object to a temporary file, removed when the context closes.
	out.AddCommand(commands.NewGCSToTempFile("gcs-to-temp-file", m.download, m.tempDir, "media-ingest-"))

	// Step 3: Hash, probe and publish the video.
	out.AddCommand(commands.NewVideoIngest("video-ingest", m.pipeline))

	// Step 4: Scenes, then keyframes and audio slices per scene in parallel.
	out.AddCommand(commands.NewSceneAnalysis("scene-analysis", m.pipeline, m.numberOfWorkers))

	// Step 5: Transcribe the audio track, if there is one.
	out.AddCommand(commands.NewTranscribe("transcribe", m.pipeline))

	// Step 6: Score the keyframes and transcript.
	out.AddCommand(commands.NewSafetyCheck("safety-check", m.pipeline))

	// Step 7: Stream the flattened analysis to BigQuery.
	if m.inserter != nil {
		out.AddCommand(commands.NewReportPersistToBigQuery("write-to-bigquery", m.inserter))
	}

	m.chain = out
}

// NewMediaIngestionWorkflow builds the workflow from explicit collaborators.
//
// Inputs:
//   - download: Fetches the notified object to a local path.
//   - pipeline: Runs the cached stages.
//   - inserter: Receives the analysis row; nil disables the step.
//   - tempDir: Directory for downloads; empty uses the OS default.
//   - numberOfWorkers: Size of the per scene worker pool.
func NewMediaIngestionWorkflow(
	download commands.Downloader,
	pipeline *services.Pipeline,
	inserter commands.RowInserter,
	tempDir string,
	numberOfWorkers int) *MediaIngestionWorkflow {

	w := &MediaIngestionWorkflow{
		BaseCommand:     *cor.NewBaseCommand("media-ingestion-pipeline"),
		download:        download,
		pipeline:        pipeline,
		inserter:        inserter,
		tempDir:         tempDir,
		numberOfWorkers: numberOfWorkers,
	}
	w.initializeChain()
	return w
}

// NewMediaIngestionPipeline wires the workflow to the GCP clients.
func NewMediaIngestionPipeline(
	config *cloud.Config,
	serviceClients *cloud.ServiceClients,
	pipeline *services.Pipeline) *MediaIngestionWorkflow {

	var inserter commands.RowInserter
	if config.BigQueryDataSource.DatasetName != "" && serviceClients.BigQueryClient != nil {
		inserter = commands.BigQueryInserter(
			serviceClients.BigQueryClient,
			config.BigQueryDataSource.DatasetName,
			config.BigQueryDataSource.ReportTable)
	}
	return NewMediaIngestionWorkflow(
		commands.GCSDownloader(serviceClients.StorageClient),
		pipeline,
		inserter,
		pipeline.Settings().TempDir,
		config.Application.ThreadPoolSize)
}
