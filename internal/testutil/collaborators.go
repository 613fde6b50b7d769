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
	"fmt"
	"strings"
	"sync"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/safety"
)

// script hands out queued errors, one per call, before succeeding.
type script struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (s *script) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

// FailNext queues errors returned by the next calls, in order.
func (s *script) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
}

// Calls is the number of calls so far.
func (s *script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// FakeTranscriber returns a fixed transcription.
type FakeTranscriber struct {
	script
	ModelName string
	Result    model.TranscriptResult
}

func NewFakeTranscriber() *FakeTranscriber {
	return &FakeTranscriber{ModelName: "fake-transcriber", Result: *model.GetExampleTranscript()}
}

func (f *FakeTranscriber) Model() string { return f.ModelName }

func (f *FakeTranscriber) Transcribe(_ context.Context, audio []byte, _ string) (*model.TranscriptResult, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, model.NewInputError("no audio to transcribe", nil)
	}
	out := f.Result
	out.KeyPoints = append([]string(nil), f.Result.KeyPoints...)
	return &out, nil
}

// FakeClassifier scores every check from Scores, defaulting to 95.
type FakeClassifier struct {
	script
	mu       sync.Mutex
	Scores   map[string]int
	requests []safety.Request
}

func NewFakeClassifier() *FakeClassifier {
	return &FakeClassifier{Scores: map[string]int{}}
}

func (f *FakeClassifier) Classify(_ context.Context, req safety.Request) (*model.ClassifierResult, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	score, ok := f.Scores[req.Check]
	if !ok {
		score = 95
	}
	return &model.ClassifierResult{Score: score, Issues: []string{}, Details: "scored " + req.Check}, nil
}

// Requests returns the requests seen so far.
func (f *FakeClassifier) Requests() []safety.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]safety.Request(nil), f.requests...)
}

// FakeRecommender returns a fixed recommendation and remembers whether it
// was given a safety report.
type FakeRecommender struct {
	script
	mu         sync.Mutex
	ModelName  string
	Result      model.Recommendation
	lastReport  *model.SafetyReport
	lastQuality *model.QualityReport
}

func NewFakeRecommender() *FakeRecommender {
	return &FakeRecommender{ModelName: "fake-recommender", Result: *model.GetExampleRecommendation()}
}

func (f *FakeRecommender) Model() string { return f.ModelName }

func (f *FakeRecommender) Recommend(_ context.Context, transcript *model.Transcript, report *model.SafetyReport, quality *model.QualityReport) (*model.Recommendation, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastReport = report
	f.lastQuality = quality
	f.mu.Unlock()
	out := f.Result
	out.VideoHash = transcript.VideoHash
	return &out, nil
}

// LastReport is the safety report passed to the latest call.
func (f *FakeRecommender) LastReport() *model.SafetyReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReport
}

// LastQuality is the quality report passed to the latest call.
func (f *FakeRecommender) LastQuality() *model.QualityReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuality
}

// FakeGenerator returns Params.Variants small videos per request. Scenes
// listed in FailScenes fail with the mapped error every time.
type FakeGenerator struct {
	script
	mu         sync.Mutex
	ModelName  string
	FailScenes map[int]error
	requests   []model.GenerationRequest
}

func NewFakeGenerator() *FakeGenerator {
	return &FakeGenerator{ModelName: "fake-generator", FailScenes: map[int]error{}}
}

func (f *FakeGenerator) Model() string { return f.ModelName }

func (f *FakeGenerator) Generate(_ context.Context, req model.GenerationRequest) ([]model.GeneratedVideo, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	var scene int
	if _, err := fmt.Sscanf(req.Prompt, "Scene %d Enhancement:", &scene); err != nil {
		return nil, model.NewInputError("prompt does not name a scene", model.ErrInvalidPrompt)
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	failure := f.FailScenes[scene]
	f.mu.Unlock()
	if failure != nil {
		return nil, failure
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, model.NewInputError("empty prompt", model.ErrInvalidPrompt)
	}
	videos := make([]model.GeneratedVideo, req.Params.Variants)
	for i := range videos {
		videos[i] = model.GeneratedVideo{
			Data:     []byte(fmt.Sprintf("mp4 scene=%d variant=%d %s", scene, i, req.Params.AspectRatio)),
			MIMEType: "video/mp4",
		}
	}
	return videos, nil
}

// Requests returns the requests seen so far.
func (f *FakeGenerator) Requests() []model.GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.GenerationRequest(nil), f.requests...)
}
