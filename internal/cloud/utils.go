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
// This file contains general-purpose utility functions that support the cloud package.
// These helpers cover hierarchical configuration loading and calling the
// Generative AI API with telemetry and error classification.
//
// Functions:
//   - LoadConfig: Implements a hierarchical configuration loader. It first reads a base
//     configuration file and then overwrites values with a second, environment-specific
//     file (e.g., .env.local.toml, .env.test.toml). The environment is determined by
//     an environment variable.
//   - GenerateMultiModalResponse: Calls a GenAI model once, records token usage and
//     classifies failures. Retrying is left to the orchestrator.
//   - StripCodeFences, DecodeJSONResponse: Turn a model's text answer into a typed value.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// Cloud Constants define key strings and values used throughout the package,
// primarily for configuration loading.
const (
	ConfigFileBaseName  = ".env"              // The base name for configuration files (e.g., ".env.toml").
	ConfigFileExtension = ".toml"             // The file extension for configuration files.
	ConfigSeparator     = "."                 // The separator used in config file names (e.g., ".env.local.toml").
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX" // The environment variable for specifying the config directory.
	EnvConfigRuntime    = "GCP_RUNTIME"       // The environment variable for specifying the runtime context (e.g., "local", "test", "prod").
	DefaultRuntime      = "test"
)

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// ConfigFiles returns the base and runtime specific configuration paths,
// derived from GCP_CONFIG_PREFIX and GCP_RUNTIME.
func ConfigFiles() (base string, runtime string) {
	prefix := os.Getenv(EnvConfigFilePrefix)
	if len(prefix) > 0 && !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix = prefix + string(os.PathSeparator)
	}
	env := os.Getenv(EnvConfigRuntime)
	if env == "" {
		env = DefaultRuntime
	}
	base = prefix + ConfigFileBaseName + ConfigFileExtension
	runtime = prefix + ConfigFileBaseName + ConfigSeparator + env + ConfigFileExtension
	return base, runtime
}

// LoadConfig provides a hierarchical configuration loading mechanism. It first loads a
// base configuration file and then merges or overwrites its values with an environment-specific
// configuration file. Missing files are skipped; a file that does not parse is an error.
//
// Inputs:
//   - baseConfig: A pointer to the target configuration struct, usually from NewConfig
//     so that unset keys keep their defaults.
//
// Outputs:
//   - error: The first decoding failure, if any.
func LoadConfig(baseConfig any) error {
	baseFile, envFile := ConfigFiles()
	slog.Debug("loading configuration", "base", baseFile, "runtime", envFile)

	for _, name := range []string{baseFile, envFile} {
		if !fileExists(name) {
			continue
		}
		if _, err := toml.DecodeFile(name, baseConfig); err != nil {
			return fmt.Errorf("failed to decode configuration file %s: %w", name, err)
		}
	}
	return nil
}

// GenerateMultiModalResponse executes one request against a generative model.
//
// Inputs:
//   - ctx: The context for the request, which controls cancellation and tracing.
//   - inputTokenCounter: An OpenTelemetry counter for prompt tokens used.
//   - outputTokenCounter: An OpenTelemetry counter for response tokens generated.
//   - retryCounter: Incremented when the failure is worth retrying.
//   - agent: The rate-limited, quota-aware generative model to use.
//   - content: The prompt contents (text, images, audio).
//
// Outputs:
//   - string: The concatenated text of the response, with JSON code fences removed.
//   - error: A classified error; transient failures carry model.TransientError.
func GenerateMultiModalResponse(
	ctx context.Context,
	inputTokenCounter metric.Int64Counter,
	outputTokenCounter metric.Int64Counter,
	retryCounter metric.Int64Counter,
	agent *QuotaAwareGenerativeAIModel,
	content []*genai.Content) (string, error) {
	resp, err := agent.GenerateContent(ctx, content)
	if err != nil {
		err = Classify(ctx, "generate "+agent.ModelName, err)
		if model.IsTransient(err) && retryCounter != nil {
			retryCounter.Add(ctx, 1)
		}
		return "", err
	}
	if resp.UsageMetadata != nil {
		if inputTokenCounter != nil {
			inputTokenCounter.Add(ctx, int64(resp.UsageMetadata.PromptTokenCount))
		}
		if outputTokenCounter != nil {
			outputTokenCounter.Add(ctx, int64(resp.UsageMetadata.CandidatesTokenCount))
		}
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				b.WriteString(part.Text)
			}
		}
	}
	return StripCodeFences(b.String()), nil
}

// StripCodeFences removes a surrounding ```json (or bare ```) fence.
func StripCodeFences(in string) string {
	out := strings.TrimSpace(in)
	if strings.HasPrefix(out, "```") {
		out = strings.TrimPrefix(out, "```json")
		out = strings.TrimPrefix(out, "```JSON")
		out = strings.TrimPrefix(out, "```")
		out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	}
	return strings.TrimSpace(out)
}

// DecodeJSONResponse parses a model answer into T. A response that does not
// parse is a transient malformed response: the model is asked again.
func DecodeJSONResponse[T any](op string, text string) (*T, error) {
	var out T
	if err := json.Unmarshal([]byte(StripCodeFences(text)), &out); err != nil {
		return nil, model.NewTransientError(op, fmt.Errorf("%w: %v", model.ErrMalformedResponse, err))
	}
	return &out, nil
}

// NewTextPart creates a text part.
func NewTextPart(in string) *genai.Part {
	return &genai.Part{Text: in}
}

// NewInlinePart creates a part carrying raw bytes such as a JPEG keyframe or an mp3 slice.
func NewInlinePart(data []byte, mimeType string) *genai.Part {
	return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}}
}

// NewFileData creates a part referencing a file in GCS.
func NewFileData(in string, mimeType string) *genai.Part {
	return &genai.Part{FileData: &genai.FileData{FileURI: in, MIMEType: mimeType}}
}
