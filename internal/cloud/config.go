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

// Package cloud defines the data structures for application configuration,
// loaded from TOML files. It provides a structured way to manage settings
// for the artifact store, the pipeline stages, the generative models and the
// Google Cloud services they use.
//
// Structs:
//   - Storage: Where the artifact cache lives (local directory or GCS bucket).
//   - BigQueryDataSource: Dataset and table the analysis rows are streamed to.
//   - VertexAiLLMModel: Configuration for a Vertex AI Large Language Model (LLM).
//   - TopicSubscription: Configuration for a single Pub/Sub topic subscription.
//   - Pipeline, Retry, Safety, Transcription, Recommendation, Enhancement:
//     Per stage knobs.
//   - Config: The top-level struct that aggregates all other configuration structs.
//
// Functions:
//   - NewConfig: A constructor that returns a Config with every default applied.
package cloud

import (
	"time"

	"google.golang.org/genai"
)

// DefaultSafetySettings leaves every harm category unblocked. The safety
// stage has to see the content it is asked to score, so the model must not
// refuse it.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// Storage backends.
const (
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Storage is the artifact cache configuration.
type Storage struct {
	Backend            string `toml:"backend"`              // "local" or "gcs".
	LocalRoot          string `toml:"local_root"`           // Root directory of the local cache.
	Bucket             string `toml:"bucket"`               // Bucket holding the GCS cache.
	Prefix             string `toml:"prefix"`               // Object prefix inside Bucket.
	UploadBucket       string `toml:"upload_bucket"`        // Bucket watched for new uploads.
	VerifyChecksums    bool   `toml:"verify_checksums"`     // Re-hash local files on every fetch.
	LockTimeoutSeconds int    `toml:"lock_timeout_seconds"` // Upper bound on waiting for a stage lock.
	LeaseTTLSeconds    int    `toml:"lease_ttl_seconds"`    // How long a GCS stage lease is honoured before it is broken.
}

// BigQueryDataSource represents the configuration for a BigQuery data source.
type BigQueryDataSource struct {
	DatasetName string `toml:"dataset"`      // Empty disables the BigQuery step of the workflow.
	ReportTable string `toml:"report_table"` // Table receiving one AnalysisRow per analysed video.
}

// VertexAiLLMModel represents the configuration for a Vertex AI large language model (LLM).
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`               // The name of the Vertex AI LLM.
	SystemInstructions string  `toml:"system_instructions"` // The system instructions for the LLM.
	Temperature        float32 `toml:"temperature"`         // The temperature parameter for the LLM.
	TopP               float32 `toml:"top_p"`               // The top_p parameter for the LLM.
	TopK               float32 `toml:"top_k"`               // The top_k parameter for the LLM.
	MaxTokens          int32   `toml:"max_tokens"`          // The maximum number of tokens for the LLM output.
	OutputFormat       string  `toml:"output_format"`       // The desired output format for the LLM.
	RateLimit          int     `toml:"rate_limit"`          // The rate limit for the LLM in requests per second.
}

// TopicSubscription represents the configuration for a Pub/Sub topic subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`               // The name of the Pub/Sub subscription.
	DeadLetterTopic  string `toml:"dead_letter_topic"`  // The name of the dead-letter topic for the subscription.
	TimeoutInSeconds int    `toml:"timeout_in_seconds"` // Upper bound on processing one message.
}

// Pipeline holds the decoder and scene detection settings.
type Pipeline struct {
	SceneThreshold float64 `toml:"scene_threshold"`
	MinSceneFrames int     `toml:"min_scene_frames"`
	AnalysisWidth  int     `toml:"analysis_width"`
	FFmpegPath     string  `toml:"ffmpeg_path"`
	FFprobePath    string  `toml:"ffprobe_path"`
}

// Retry is the retry policy applied around every stage computation.
type Retry struct {
	MaxAttempts       uint    `toml:"max_attempts"`
	InitialIntervalMs int     `toml:"initial_interval_ms"`
	MaxIntervalMs     int     `toml:"max_interval_ms"`
	Multiplier        float64 `toml:"multiplier"`
}

// InitialInterval returns the first wait as a duration.
func (r Retry) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMs) * time.Millisecond
}

// MaxInterval returns the longest single wait as a duration.
func (r Retry) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMs) * time.Millisecond
}

// Safety configures the safety stage.
type Safety struct {
	SafeThreshold      int      `toml:"safe_threshold"`
	WarningThreshold   int      `toml:"warning_threshold"`
	MaxFrames          int      `toml:"max_frames"`
	MisleadingKeywords []string `toml:"misleading_keywords"` // Empty uses the built in list.
	ClassifierModel    string   `toml:"classifier_model"`    // Key into AgentModels.
}

// Transcription configures the transcription stage.
type Transcription struct {
	Model  string `toml:"model"`  // Key into AgentModels.
	Prompt string `toml:"prompt"` // Extra instructions appended to the built in prompt.
}

// Recommendation configures the recommendation stage.
type Recommendation struct {
	Model string `toml:"model"` // Key into AgentModels.
}

// Enhancement configures the enhancement batch runner.
type Enhancement struct {
	Model               string `toml:"model"` // Video generation model name.
	DefaultScenes       int    `toml:"default_scenes"`
	AspectRatio         string `toml:"aspect_ratio"`
	DurationSeconds     int    `toml:"duration_seconds"`
	Variants            int    `toml:"variants"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	MaxWaitSeconds      int    `toml:"max_wait_seconds"`
	Concurrency         int    `toml:"concurrency"`
	OutputGCSURI        string `toml:"output_gcs_uri"` // Where the generation engine writes its videos.
}

// Config represents the overall configuration for the application, loaded from TOML files.
// It acts as the root container for all other configuration structs.
type Config struct {
	// Application holds general application settings.
	Application struct {
		Name                      string `toml:"name"`                         // The name of the application.
		GoogleProjectId           string `toml:"google_project_id"`            // The Google Cloud project ID.
		GoogleLocation            string `toml:"location"`                     // The Google Cloud location.
		ThreadPoolSize            int    `toml:"thread_pool_size"`             // The size of the worker pool for parallel processing tasks.
		SignerServiceAccountEmail string `toml:"signer_service_account_email"` // The service account email used for signing GCS URLs.
		LogLevel                  string `toml:"log_level"`                    // debug, info, warn or error.
		LogFile                   string `toml:"log_file"`                     // Optional file the JSON log is copied to.
		ListenAddress             string `toml:"listen_address"`               // Address the HTTP server binds to.
	} `toml:"application"`
	Telemetry struct {
		Exporter string `toml:"exporter"` // "gcp" or "none".
	} `toml:"telemetry"`
	Storage            Storage                      `toml:"storage"`
	BigQueryDataSource BigQueryDataSource           `toml:"big_query_data_source"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"` // Keyed by a logical name (e.g., "UploadTopic").
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"`        // Keyed by a logical name (e.g., "transcriber").
	Pipeline           Pipeline                     `toml:"pipeline"`
	Retry              Retry                        `toml:"retry"`
	Safety             Safety                       `toml:"safety"`
	Transcription      Transcription                `toml:"transcription"`
	Recommendation     Recommendation               `toml:"recommendation"`
	Enhancement        Enhancement                  `toml:"enhancement"`
}

// NewConfig creates a Config with every default applied. The maps are
// initialised so the TOML decoder can populate them.
//
// Outputs:
//   - *Config: A pointer to a new Config struct ready to be overlaid by LoadConfig.
func NewConfig() *Config {
	c := &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
	}
	c.Application.Name = "media-pipeline"
	c.Application.GoogleLocation = "us-central1"
	c.Application.ThreadPoolSize = 4
	c.Application.LogLevel = "info"
	c.Application.ListenAddress = ":8080"
	c.Telemetry.Exporter = "gcp"

	c.Storage = Storage{Backend: StorageLocal, LocalRoot: "cache", LockTimeoutSeconds: 900, LeaseTTLSeconds: 2700}
	c.Pipeline = Pipeline{SceneThreshold: 27.0, MinSceneFrames: 15, AnalysisWidth: 256, FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
	c.Retry = Retry{MaxAttempts: 3, InitialIntervalMs: 2000, MaxIntervalMs: 30000, Multiplier: 2.0}
	c.Safety = Safety{SafeThreshold: 80, WarningThreshold: 60, MaxFrames: 10, ClassifierModel: "classifier"}
	c.Transcription = Transcription{Model: "transcriber"}
	c.Recommendation = Recommendation{Model: "recommender"}
	c.Enhancement = Enhancement{
		Model:               "veo-2.0-generate-001",
		DefaultScenes:       3,
		AspectRatio:         "16:9",
		DurationSeconds:     6,
		Variants:            1,
		PollIntervalSeconds: 10,
		MaxWaitSeconds:      600,
		Concurrency:         2,
	}
	return c
}
