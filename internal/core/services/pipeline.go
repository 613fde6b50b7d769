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

// Package services exposes the media pipeline as a set of stage operations.
// Every operation resolves its prerequisites by calling the operations it
// depends on, then asks the orchestrator for its own result, so a request for
// a late stage transparently computes (or reuses) everything before it.
//
// Stage graph:
//
//	video ─┬─ scenes ─┬─ keyframes ─────────┬─ quality ───────┐
//	       │          └─ scene_audio ─┐     ├─ safety ─┐      │
//	       └─ audio ──────────────────┴─ transcript ───┴─ recommendation ─ enhancement
//
// Logic Flow:
//  1. Ingest hashes the upload and publishes it, with its probe, under the
//     "video" stage. Identical bytes resolve to the existing entry.
//  2. Scenes decodes the source once per threshold and segments it.
//  3. Keyframes and SceneAudio are per scene; SceneAudio always trims the
//     cached whole-track audio rather than decoding the video again.
//  4. Transcribe, Safety, Recommend and Enhance call the GenAI collaborators
//     only on a cache miss. Quality scores the keyframes locally.
//  5. Recommend folds in whichever safety and quality reports are cached, and
//     its key names them, so a report computed later yields a new
//     recommendation instead of the stale one.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cache"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/identity"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/orchestrator"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/quality"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/safety"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/scenes"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/media"
)

// Stage names. They are part of every cache key.
const (
	StageVideo            = "video"
	StageScenes           = "scenes"
	StageKeyframes        = "keyframes"
	StageAudio            = "audio"
	StageSceneAudio       = "scene_audio"
	StageTranscript       = "transcript"
	StageSafety           = "safety"
	StageQuality          = "quality"
	StageRecommendation   = "recommendation"
	StageEnhancement      = "enhancement"
	StageEnhancementBatch = "enhancement_batch"
)

// Names of the files published with stage entries.
const (
	SourceFile     = "source"
	AudioFile      = "audio.mp3"
	TranscriptFile = "transcript.txt"
	audioMIMEType  = "audio/mpeg"
	imageMIMEType  = "image/jpeg"
)

// Decoder is the media decoding collaborator. Paths are local files.
type Decoder interface {
	Probe(ctx context.Context, path string) (*media.Info, error)
	Frames(ctx context.Context, path string, info *media.Info, width int, fn func(scenes.Frame) error) (int, error)
	ExtractFrame(ctx context.Context, path string, timestamp float64) ([]byte, error)
	ExtractAudio(ctx context.Context, src, dest string) error
	TrimAudio(ctx context.Context, src, dest string, start, end float64) error
}

// Transcriber is the speech to text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*model.TranscriptResult, error)
	Model() string
}

// Recommender produces editing feedback and the follow-up generation prompt.
type Recommender interface {
	// Recommend may receive a nil report or quality when those stages have
	// not run.
	Recommend(ctx context.Context, transcript *model.Transcript, report *model.SafetyReport, quality *model.QualityReport) (*model.Recommendation, error)
	Model() string
}

// Generator is the video generation collaborator.
type Generator interface {
	Generate(ctx context.Context, req model.GenerationRequest) ([]model.GeneratedVideo, error)
	Model() string
}

// Settings are the tunables of the pipeline.
type Settings struct {
	SceneThreshold    float64
	MinSceneFrames    int
	AnalysisWidth     int
	Concurrency       int // Parallel keyframe extraction per video.
	EnhancementScenes int
	EnhancementJobs   int // Parallel generation jobs per batch.
	EnhancementParams model.GenerationParams
	QualityFrames     int // Keyframes sampled by the quality stage.
	TempDir           string
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		SceneThreshold:    scenes.DefaultThreshold,
		MinSceneFrames:    scenes.DefaultMinSceneFrames,
		AnalysisWidth:     256,
		Concurrency:       4,
		EnhancementScenes: 3,
		EnhancementJobs:   2,
		EnhancementParams: model.GenerationParams{AspectRatio: "16:9", DurationSeconds: 6, Variants: 1},
		QualityFrames:     quality.DefaultMaxFrames,
	}
}

// Pipeline runs the stages of the media pipeline over one orchestrator.
type Pipeline struct {
	orch        *orchestrator.Orchestrator
	store       cache.Store
	decoder     Decoder
	transcriber Transcriber
	checker     *safety.Checker
	recommender Recommender
	generator   Generator
	settings    Settings
	log         *slog.Logger
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithTranscriber(t Transcriber) Option { return func(p *Pipeline) { p.transcriber = t } }

func WithSafetyChecker(c *safety.Checker) Option { return func(p *Pipeline) { p.checker = c } }

func WithRecommender(r Recommender) Option { return func(p *Pipeline) { p.recommender = r } }

func WithGenerator(g Generator) Option { return func(p *Pipeline) { p.generator = g } }

func WithSettings(s Settings) Option { return func(p *Pipeline) { p.settings = s } }

func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.log = l } }

// WithClock replaces time.Now for created_at fields.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// NewPipeline creates a pipeline. Collaborators that are not configured make
// the stages that need them fail with an error.
func NewPipeline(orch *orchestrator.Orchestrator, decoder Decoder, opts ...Option) *Pipeline {
	p := &Pipeline{
		orch:     orch,
		store:    orch.Store(),
		decoder:  decoder,
		settings: DefaultSettings(),
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	d := DefaultSettings()
	if p.settings.SceneThreshold <= 0 {
		p.settings.SceneThreshold = d.SceneThreshold
	}
	if p.settings.MinSceneFrames <= 0 {
		p.settings.MinSceneFrames = d.MinSceneFrames
	}
	if p.settings.AnalysisWidth <= 0 {
		p.settings.AnalysisWidth = d.AnalysisWidth
	}
	if p.settings.Concurrency <= 0 {
		p.settings.Concurrency = d.Concurrency
	}
	if p.settings.EnhancementScenes <= 0 {
		p.settings.EnhancementScenes = d.EnhancementScenes
	}
	if p.settings.EnhancementJobs <= 0 {
		p.settings.EnhancementJobs = d.EnhancementJobs
	}
	if p.settings.QualityFrames <= 0 {
		p.settings.QualityFrames = d.QualityFrames
	}
	return p
}

// Settings returns the effective settings.
func (p *Pipeline) Settings() Settings { return p.settings }

// Stats returns the per stage cache counters.
func (p *Pipeline) Stats() map[string]orchestrator.StageStats { return p.orch.Stats() }

var ErrNotConfigured = errors.New("collaborator not configured")

// noParams fingerprints stages that are fully determined by the video hash.
var noParams = struct{}{}

// owner validates a caller supplied hash.
func owner(hash string) (string, error) {
	h, err := identity.Parse(hash)
	if err != nil {
		return "", model.NewInputError("invalid video hash", err)
	}
	return h.String(), nil
}

// notFound converts a missing published prerequisite into an input error.
func notFound(err error, what string) error {
	if errors.Is(err, cache.ErrNotFound) {
		return model.NewInputError(what+" not found", nil)
	}
	return err
}

// fileRef returns the named file of an entry or reports the entry as corrupt.
func fileRef(entry *cache.Entry, name string) (cache.FileRef, error) {
	ref, ok := entry.File(name)
	if !ok {
		return cache.FileRef{}, fmt.Errorf("%w: %s has no file %s", cache.ErrCorrupt, entry.Key, name)
	}
	return ref, nil
}

// localize returns a local path for a published file. Stores on local disk
// hand out their own path; anything else is downloaded to a temporary file
// which the returned cleanup removes.
func (p *Pipeline) localize(ctx context.Context, ref cache.FileRef) (string, func(), error) {
	if lp, ok := p.store.(cache.LocalPather); ok {
		if path, ok := lp.LocalPath(ref); ok {
			return path, func() {}, nil
		}
	}
	rc, err := p.store.Open(ctx, ref)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	f, err := os.CreateTemp(p.settings.TempDir, "artifact-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to download %s: %w", ref.Location, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}

// scratch creates a temporary directory for one compute.
func (p *Pipeline) scratch() (string, func(), error) {
	dir, err := os.MkdirTemp(p.settings.TempDir, "stage-*")
	if err != nil {
		return "", nil, err
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}
