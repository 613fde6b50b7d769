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

// Package main contains the setup and initialization logic for the application's state.
// This file creates the state manager that holds every shared dependency: the
// configuration, the Google Cloud clients, the artifact store, the pipeline and
// the HTTP handler built over it.
//
// Functions:
//   - SetupOS: Points the configuration loader at the configs directory and runtime.
//   - GetConfig: Loads the configuration once.
//   - InitState: Creates the clients, the store, the orchestrator and the pipeline,
//     and starts the Pub/Sub listeners.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/api"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cache"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/orchestrator"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/safety"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/services"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/media"
)

// StateManager holds all the shared dependencies for the application.
type StateManager struct {
	config   *cloud.Config
	cloud    *cloud.ServiceClients
	pipeline *services.Pipeline
	handler  *api.Handler
}

var state = &StateManager{}

// SetupOS sets the environment variables the configuration loader reads,
// keeping values already present so deployments can override them.
func SetupOS() error {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err := os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		return os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return nil
}

// GetConfig loads the configuration on first use and caches it.
func GetConfig() (*cloud.Config, error) {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			return nil, fmt.Errorf("failed to setup os: %w", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			return nil, err
		}
		state.config = config
	}
	return state.config, nil
}

// newStore opens the artifact store named by the configuration.
func newStore(config *cloud.Config, clients *cloud.ServiceClients) (cache.Store, error) {
	switch config.Storage.Backend {
	case cloud.StorageLocal:
		return cache.NewLocalStore(config.Storage.LocalRoot,
			cache.WithChecksumVerification(config.Storage.VerifyChecksums),
			cache.WithLogger(slog.Default()))
	case cloud.StorageGCS:
		if config.Storage.Bucket == "" {
			return nil, fmt.Errorf("storage backend %q needs a bucket", config.Storage.Backend)
		}
		return cache.NewGCSStore(clients.StorageClient, config.Storage.Bucket, config.Storage.Prefix,
			cache.WithLeaseTTL(time.Duration(config.Storage.LeaseTTLSeconds)*time.Second),
			cache.WithGCSLogger(slog.Default())), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
}

// newSettings copies the stage tunables out of the configuration.
func newSettings(config *cloud.Config) services.Settings {
	settings := services.DefaultSettings()
	settings.SceneThreshold = config.Pipeline.SceneThreshold
	settings.MinSceneFrames = config.Pipeline.MinSceneFrames
	settings.AnalysisWidth = config.Pipeline.AnalysisWidth
	settings.Concurrency = config.Application.ThreadPoolSize
	settings.EnhancementScenes = config.Enhancement.DefaultScenes
	settings.EnhancementJobs = config.Enhancement.Concurrency
	settings.EnhancementParams.AspectRatio = config.Enhancement.AspectRatio
	settings.EnhancementParams.DurationSeconds = config.Enhancement.DurationSeconds
	settings.EnhancementParams.Variants = config.Enhancement.Variants
	return settings
}

// newChecker builds the safety checker over the configured classifier model.
func newChecker(config *cloud.Config, classifier safety.Classifier) *safety.Checker {
	checker := safety.NewChecker(classifier)
	checker.Bands = safety.Bands{Safe: config.Safety.SafeThreshold, Warning: config.Safety.WarningThreshold}
	checker.MaxFrames = config.Safety.MaxFrames
	if len(config.Safety.MisleadingKeywords) > 0 {
		checker.Keywords = config.Safety.MisleadingKeywords
	}
	return checker
}

// NewPipeline wires the pipeline to the decoder and the GenAI collaborators.
//
// Inputs:
//   - config: The loaded configuration.
//   - clients: The cloud clients; the agent models must include the ones the
//     transcription, safety and recommendation sections name.
//   - store: The artifact store.
//
// Outputs:
//   - *services.Pipeline: The pipeline.
//   - error: A missing agent model.
func NewPipeline(config *cloud.Config, clients *cloud.ServiceClients, store cache.Store) (*services.Pipeline, error) {
	log := slog.Default()

	policy := orchestrator.RetryPolicy{
		MaxAttempts:     config.Retry.MaxAttempts,
		InitialInterval: config.Retry.InitialInterval(),
		MaxInterval:     config.Retry.MaxInterval(),
		Multiplier:      config.Retry.Multiplier,
	}
	orch := orchestrator.New(store,
		orchestrator.WithRetryPolicy(policy),
		orchestrator.WithLogger(log),
		orchestrator.WithLockTimeout(time.Duration(config.Storage.LockTimeoutSeconds)*time.Second))

	transcriber, err := clients.Agent(config.Transcription.Model)
	if err != nil {
		return nil, err
	}
	classifier, err := clients.Agent(config.Safety.ClassifierModel)
	if err != nil {
		return nil, err
	}
	recommender, err := clients.Agent(config.Recommendation.Model)
	if err != nil {
		return nil, err
	}

	veoOpts := []cloud.VeoOption{
		cloud.WithPolling(
			time.Duration(config.Enhancement.PollIntervalSeconds)*time.Second,
			time.Duration(config.Enhancement.MaxWaitSeconds)*time.Second),
	}
	if config.Enhancement.OutputGCSURI != "" {
		veoOpts = append(veoOpts, cloud.WithOutputGCSURI(config.Enhancement.OutputGCSURI, cloud.GCSObjectReader(clients.StorageClient)))
	}
	generator := cloud.NewVeoGenerator(config.Enhancement.Model, clients.GenAIClient.Models, clients.GenAIClient.Operations, log, veoOpts...)

	decoder := media.NewFFmpegDecoder(config.Pipeline.FFmpegPath, config.Pipeline.FFprobePath, log)
	return services.NewPipeline(orch, decoder,
		services.WithTranscriber(cloud.NewGeminiTranscriber(transcriber, config.Transcription.Prompt)),
		services.WithSafetyChecker(newChecker(config, cloud.NewGeminiClassifier(classifier))),
		services.WithRecommender(cloud.NewGeminiRecommender(recommender)),
		services.WithGenerator(generator),
		services.WithSettings(newSettings(config)),
		services.WithLogger(log),
	), nil
}

// newHandler builds the HTTP handler. Signing is only offered for the GCS
// store, and reports only when a BigQuery dataset is configured.
func newHandler(config *cloud.Config, clients *cloud.ServiceClients, pipeline *services.Pipeline) *api.Handler {
	opts := []api.Option{api.WithUploadDir(pipeline.Settings().TempDir)}
	if config.Storage.Backend == cloud.StorageGCS && config.Application.SignerServiceAccountEmail != "" {
		opts = append(opts, api.WithSigner(services.NewIAMSigner(clients.IAMClient, config.Application.SignerServiceAccountEmail, 15*time.Minute)))
	}
	if config.BigQueryDataSource.DatasetName != "" {
		opts = append(opts, api.WithReports(&services.ReportService{
			BigqueryClient: clients.BigQueryClient,
			DatasetName:    config.BigQueryDataSource.DatasetName,
			ReportTable:    config.BigQueryDataSource.ReportTable,
		}))
	}
	return api.NewHandler(pipeline, opts...)
}

// InitState initializes the entire application state.
//
// This function performs the following steps:
//  1. Loads the application configuration.
//  2. Initializes all Google Cloud service clients.
//  3. Opens the artifact store and builds the pipeline over it.
//  4. Builds the HTTP handler.
//  5. Starts the Pub/Sub listeners that feed the ingestion workflow.
func InitState(ctx context.Context) error {
	config, err := GetConfig()
	if err != nil {
		return err
	}

	cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}
	state.cloud = cloudClients

	store, err := newStore(config, cloudClients)
	if err != nil {
		return err
	}
	pipeline, err := NewPipeline(config, cloudClients, store)
	if err != nil {
		return err
	}
	state.pipeline = pipeline
	state.handler = newHandler(config, cloudClients, pipeline)

	return SetupListeners(ctx, config, cloudClients, pipeline)
}
