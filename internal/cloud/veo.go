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
// This file wraps the Veo video generation model.
//
// Logic Flow:
//  1. Generate starts a long running generation operation for one prompt,
//     optionally conditioned on a starting image.
//  2. It polls the operation at a fixed interval until it completes or the
//     maximum wait is reached. Running out of time is terminal, so the
//     orchestrator never retries it by starting another operation.
//  3. A completed operation carries either inline video bytes or gs:// URIs
//     (when an output location was configured). URIs are downloaded through
//     the provided reader so callers always receive bytes.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// VideoModels is the slice of *genai.Models the generator calls.
type VideoModels interface {
	GenerateVideos(ctx context.Context, model string, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
}

// VideoOperations is the slice of *genai.Operations the generator polls.
type VideoOperations interface {
	GetVideosOperation(ctx context.Context, operation *genai.GenerateVideosOperation, config *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error)
}

// ObjectReader downloads a gs:// URI.
type ObjectReader func(ctx context.Context, uri string) ([]byte, error)

// VeoGenerator implements the enhancement stage's generation engine.
type VeoGenerator struct {
	modelName    string
	models       VideoModels
	operations   VideoOperations
	readObject   ObjectReader
	outputGCSURI string
	pollInterval time.Duration
	maxWait      time.Duration
	limiter      *rate.Limiter
	log          *slog.Logger
	counters     genaiCounters
}

// VeoOption configures a VeoGenerator.
type VeoOption func(*VeoGenerator)

// WithOutputGCSURI makes the engine write its videos under uri instead of
// returning them inline.
func WithOutputGCSURI(uri string, reader ObjectReader) VeoOption {
	return func(v *VeoGenerator) {
		v.outputGCSURI = uri
		v.readObject = reader
	}
}

// WithPolling sets the poll interval and the maximum wait per operation.
func WithPolling(interval, maxWait time.Duration) VeoOption {
	return func(v *VeoGenerator) {
		if interval > 0 {
			v.pollInterval = interval
		}
		if maxWait > 0 {
			v.maxWait = maxWait
		}
	}
}

// NewVeoGenerator creates a generator for modelName.
func NewVeoGenerator(modelName string, models VideoModels, operations VideoOperations, log *slog.Logger, opts ...VeoOption) *VeoGenerator {
	if log == nil {
		log = slog.Default()
	}
	v := &VeoGenerator{
		modelName:    modelName,
		models:       models,
		operations:   operations,
		pollInterval: 10 * time.Second,
		maxWait:      10 * time.Minute,
		limiter:      rate.NewLimiter(rate.Every(time.Second), 1),
		log:          log,
		counters:     newGenAICounters("veo"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Model returns the generation model name.
func (v *VeoGenerator) Model() string { return v.modelName }

// Generate runs one generation request to completion.
func (v *VeoGenerator) Generate(ctx context.Context, req model.GenerationRequest) ([]model.GeneratedVideo, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	cfg := &genai.GenerateVideosConfig{
		NumberOfVideos:  int32(req.Params.Variants),
		AspectRatio:     req.Params.AspectRatio,
		DurationSeconds: genai.Ptr(int32(req.Params.DurationSeconds)),
		OutputGCSURI:    v.outputGCSURI,
	}
	var image *genai.Image
	if len(req.Image) > 0 {
		image = &genai.Image{ImageBytes: req.Image, MIMEType: req.ImageMIMEType}
	}

	op, err := v.models.GenerateVideos(ctx, v.modelName, req.Prompt, image, cfg)
	if err != nil {
		err = Classify(ctx, "generate video", err)
		if model.IsTransient(err) {
			v.counters.retry.Add(ctx, 1)
		}
		return nil, err
	}

	op, err = v.wait(ctx, op)
	if err != nil {
		return nil, err
	}
	return v.collect(ctx, op)
}

func (v *VeoGenerator) wait(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	deadline := time.Now().Add(v.maxWait)
	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for !op.Done {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("generate video: %w: operation %s still running after %s", model.ErrOperationTimeout, op.Name, v.maxWait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		next, err := v.operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, Classify(ctx, "poll video operation", err)
		}
		op = next
		v.log.DebugContext(ctx, "polled video operation", "operation", op.Name, "done", op.Done)
	}
	return op, nil
}

func (v *VeoGenerator) collect(ctx context.Context, op *genai.GenerateVideosOperation) ([]model.GeneratedVideo, error) {
	if len(op.Error) > 0 {
		return nil, operationError(ctx, op.Error)
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		if op.Response != nil && len(op.Response.RAIMediaFilteredReasons) > 0 {
			return nil, fmt.Errorf("generate video: %w: filtered: %v", model.ErrInvalidPrompt, op.Response.RAIMediaFilteredReasons)
		}
		return nil, model.NewTransientError("generate video", fmt.Errorf("%w: operation returned no videos", model.ErrMalformedResponse))
	}

	out := make([]model.GeneratedVideo, 0, len(op.Response.GeneratedVideos))
	for _, gv := range op.Response.GeneratedVideos {
		if gv == nil || gv.Video == nil {
			continue
		}
		video := model.GeneratedVideo{Data: gv.Video.VideoBytes, URI: gv.Video.URI, MIMEType: gv.Video.MIMEType}
		if video.MIMEType == "" {
			video.MIMEType = "video/mp4"
		}
		if len(video.Data) == 0 && video.URI != "" {
			if v.readObject == nil {
				return nil, errors.New("generate video: output written to GCS but no object reader configured")
			}
			data, err := v.readObject(ctx, video.URI)
			if err != nil {
				return nil, Classify(ctx, "download generated video", err)
			}
			video.Data = data
		}
		out = append(out, video)
	}
	if len(out) == 0 {
		return nil, model.NewTransientError("generate video", fmt.Errorf("%w: operation returned empty videos", model.ErrMalformedResponse))
	}
	return out, nil
}

// operationError turns the google.rpc.Status map of a failed operation into
// a classified error.
func operationError(ctx context.Context, status map[string]any) error {
	code := 0
	if c, ok := status["code"].(float64); ok {
		code = int(c)
	} else if c, ok := status["code"].(int); ok {
		code = c
	}
	msg, _ := status["message"].(string)
	err := fmt.Errorf("video operation failed (code %d): %s", code, msg)
	switch code {
	case 3: // INVALID_ARGUMENT
		return fmt.Errorf("generate video: %w: %v", model.ErrInvalidPrompt, err)
	case 4, 8, 13, 14: // DEADLINE_EXCEEDED, RESOURCE_EXHAUSTED, INTERNAL, UNAVAILABLE
		return model.NewTransientError("generate video", err)
	}
	return Classify(ctx, "generate video", err)
}
