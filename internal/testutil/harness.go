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

package test

import (
	"context"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cache"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/orchestrator"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/safety"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/services"
)

// FastRetry keeps retry tests quick.
var FastRetry = orchestrator.RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	Multiplier:      1.5,
}

// Harness is a pipeline wired to fakes.
type Harness struct {
	Store       cache.Store
	Orch        *orchestrator.Orchestrator
	Decoder     *FakeDecoder
	Transcriber *FakeTranscriber
	Classifier  *FakeClassifier
	Recommender *FakeRecommender
	Generator   *FakeGenerator
	Pipeline    *services.Pipeline
	Dir         string // Scratch directory for fake uploads.
}

// NewHarness builds a pipeline over a LocalStore in a temporary directory.
func NewHarness(t testing.TB, opts ...services.Option) *Harness {
	t.Helper()
	store, err := cache.NewLocalStore(t.TempDir(), cache.WithLockPollInterval(2*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return NewHarnessWithStore(t, store, opts...)
}

// NewHarnessWithStore builds a pipeline over store.
func NewHarnessWithStore(t testing.TB, store cache.Store, opts ...services.Option) *Harness {
	t.Helper()
	h := &Harness{
		Store:       store,
		Orch:        orchestrator.New(store, orchestrator.WithRetryPolicy(FastRetry)),
		Decoder:     &FakeDecoder{},
		Transcriber: NewFakeTranscriber(),
		Classifier:  NewFakeClassifier(),
		Recommender: NewFakeRecommender(),
		Generator:   NewFakeGenerator(),
		Dir:         t.TempDir(),
	}
	settings := services.DefaultSettings()
	settings.TempDir = t.TempDir()
	all := append([]services.Option{
		services.WithTranscriber(h.Transcriber),
		services.WithSafetyChecker(safety.NewChecker(h.Classifier)),
		services.WithRecommender(h.Recommender),
		services.WithGenerator(h.Generator),
		services.WithSettings(settings),
	}, opts...)
	h.Pipeline = services.NewPipeline(h.Orch, h.Decoder, all...)
	return h
}

// Upload writes v into the harness directory and ingests it.
func (h *Harness) Upload(t testing.TB, name string, v FakeVideo) string {
	t.Helper()
	path := WriteFakeVideo(t, h.Dir, name, v)
	res, err := h.Pipeline.Ingest(context.Background(), path, name)
	if err != nil {
		t.Fatalf("failed to ingest %s: %v", name, err)
	}
	return res.Value.Hash
}

// TwentyFiveSecondClip is a 25 second, 24 fps clip with a hard cut at 10s
// and at 18s.
func TwentyFiveSecondClip() FakeVideo {
	return FakeVideo{Duration: 25, FrameRate: 24, HasAudio: true, Cuts: []int{240, 432}}
}
