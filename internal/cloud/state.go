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

// Package cloud provides components for interacting with Google Cloud services.
// This file initialises and holds every client the application needs. It acts
// as a dependency injection container: a single ServiceClients value is built
// at startup and handed to the pipeline, the workflows and the API.
//
// Logic Flow:
//  1. NewCloudServiceClients is called at application startup with the loaded Config.
//  2. It creates clients for Storage, Pub/Sub, GenAI (Vertex AI backend), BigQuery
//     and IAM credentials, closing the ones already made if a later one fails.
//  3. It builds a Pub/Sub listener per configured subscription and a rate
//     limited model wrapper per configured agent model.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"google.golang.org/genai"
)

// ServiceClients holds the shared Google Cloud clients.
type ServiceClients struct {
	StorageClient   *storage.Client
	PubsubClient    *pubsub.Client
	GenAIClient     *genai.Client
	BigQueryClient  *bigquery.Client
	IAMClient       *credentials.IamCredentialsClient // Signs GCS URLs for artifacts.
	PubSubListeners map[string]*PubSubListener        // Keyed by the logical name from the config.
	AgentModels     map[string]*QuotaAwareGenerativeAIModel
}

// Close releases every client. The genai client holds no resources of its own.
func (c *ServiceClients) Close() error {
	var errs []error
	if c.StorageClient != nil {
		errs = append(errs, c.StorageClient.Close())
	}
	if c.PubsubClient != nil {
		errs = append(errs, c.PubsubClient.Close())
	}
	if c.BigQueryClient != nil {
		errs = append(errs, c.BigQueryClient.Close())
	}
	if c.IAMClient != nil {
		errs = append(errs, c.IAMClient.Close())
	}
	return errors.Join(errs...)
}

// NewCloudServiceClients creates every client from config.
//
// Inputs:
//   - ctx: Used for client construction only.
//   - config: The loaded application configuration.
//
// Outputs:
//   - *ServiceClients: The clients; callers must Close them.
//   - error: The first construction failure.
func NewCloudServiceClients(ctx context.Context, config *Config) (_ *ServiceClients, err error) {
	cloud := &ServiceClients{}
	defer func() {
		if err != nil {
			_ = cloud.Close()
		}
	}()

	if cloud.StorageClient, err = storage.NewClient(ctx); err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if cloud.PubsubClient, err = pubsub.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	slog.InfoContext(ctx, "creating genai client", "project", config.Application.GoogleProjectId, "location", config.Application.GoogleLocation)
	if cloud.GenAIClient, err = genai.NewClient(ctx, &genai.ClientConfig{
		Project:  config.Application.GoogleProjectId,
		Location: config.Application.GoogleLocation,
		Backend:  genai.BackendVertexAI,
	}); err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if cloud.BigQueryClient, err = bigquery.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	if cloud.IAMClient, err = credentials.NewIamCredentialsClient(ctx); err != nil {
		return nil, fmt.Errorf("failed to create iam credentials client: %w", err)
	}

	cloud.PubSubListeners = make(map[string]*PubSubListener)
	for name, sub := range config.TopicSubscriptions {
		listener, lerr := NewPubSubListener(cloud.PubsubClient, sub.Name, time.Duration(sub.TimeoutInSeconds)*time.Second, nil)
		if lerr != nil {
			return nil, lerr
		}
		cloud.PubSubListeners[name] = listener
	}
	cloud.AgentModels = NewAgentModels(config, cloud.GenAIClient.Models)
	return cloud, nil
}

// NewAgentModels wraps every configured agent model around handle.
func NewAgentModels(config *Config, handle ContentGenerator) map[string]*QuotaAwareGenerativeAIModel {
	agents := make(map[string]*QuotaAwareGenerativeAIModel, len(config.AgentModels))
	for name, values := range config.AgentModels {
		gen := &genai.GenerateContentConfig{
			Temperature:      genai.Ptr(values.Temperature),
			TopP:             genai.Ptr(values.TopP),
			TopK:             genai.Ptr(values.TopK),
			MaxOutputTokens:  values.MaxTokens,
			SafetySettings:   DefaultSafetySettings,
			ResponseMIMEType: values.OutputFormat,
		}
		if values.SystemInstructions != "" {
			gen.SystemInstruction = &genai.Content{Parts: []*genai.Part{NewTextPart(values.SystemInstructions)}}
		}
		agents[name] = NewQuotaAwareModel(gen, values.Model, handle, values.RateLimit)
		slog.Debug("configured agent model", "name", name, "model", values.Model, "rate_limit", values.RateLimit)
	}
	return agents
}

// Agent returns the configured model named name.
func (c *ServiceClients) Agent(name string) (*QuotaAwareGenerativeAIModel, error) {
	agent, ok := c.AgentModels[name]
	if !ok {
		return nil, fmt.Errorf("agent model %q is not configured", name)
	}
	return agent, nil
}
