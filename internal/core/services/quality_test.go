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

package services_test

import (
	"context"
	"testing"

	"github.com/zeebo/assert"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/services"
	test "github.com/jaycherian/gcp-go-media-pipeline/internal/testutil"
)

func TestQualityScoresKeyframesOnce(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())

	report, err := h.Pipeline.Quality(ctx, hash)
	assert.NoError(t, err)
	assert.That(t, !report.FromCache)
	assert.Equal(t, report.Value.VideoHash, hash)
	assert.Equal(t, report.Value.ResolutionTier, model.Resolution720p)
	assert.Equal(t, report.Value.Width, 1280)
	assert.Equal(t, report.Value.FramesAnalyzed, 15)
	assert.That(t, report.Value.OverallQuality > 0 && report.Value.OverallQuality <= 1)
	assert.That(t, report.Value.SharpnessScore > 0)
	extractions := h.Decoder.FrameExtractions.Load()

	again, err := h.Pipeline.Quality(ctx, hash)
	assert.NoError(t, err)
	assert.That(t, again.FromCache)
	assert.Equal(t, again.Value.OverallQuality, report.Value.OverallQuality)
	assert.Equal(t, h.Decoder.FrameExtractions.Load(), extractions)
	assert.Equal(t, h.Pipeline.Stats()[services.StageQuality].Computes, int64(1))
}

func TestQualitySamplesConfiguredFrames(t *testing.T) {
	settings := services.DefaultSettings()
	settings.TempDir = t.TempDir()
	settings.QualityFrames = 4
	h := test.NewHarness(t, services.WithSettings(settings))
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())

	report, err := h.Pipeline.Quality(context.Background(), hash)
	assert.NoError(t, err)
	assert.Equal(t, report.Value.FramesAnalyzed, 4)
}

func TestRecommendationUsesCachedQualityReport(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())
	_, err := h.Pipeline.Transcribe(ctx, hash)
	assert.NoError(t, err)

	_, err = h.Pipeline.Recommend(ctx, hash)
	assert.NoError(t, err)
	assert.Nil(t, h.Recommender.LastQuality())

	q, err := h.Pipeline.Quality(ctx, hash)
	assert.NoError(t, err)
	rec, err := h.Pipeline.Recommend(ctx, hash)
	assert.NoError(t, err)
	assert.That(t, !rec.FromCache)
	assert.NotNil(t, h.Recommender.LastQuality())
	assert.Equal(t, h.Recommender.LastQuality().OverallQuality, q.Value.OverallQuality)
	assert.Equal(t, h.Recommender.Calls(), 2)
}

func TestRecommendationRecomputedOnceSafetyReportExists(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())
	_, err := h.Pipeline.Transcribe(ctx, hash)
	assert.NoError(t, err)

	first, err := h.Pipeline.Recommend(ctx, hash)
	assert.NoError(t, err)
	assert.Nil(t, h.Recommender.LastReport())

	_, err = h.Pipeline.Safety(ctx, hash)
	assert.NoError(t, err)
	second, err := h.Pipeline.Recommend(ctx, hash)
	assert.NoError(t, err)
	assert.That(t, !second.FromCache)
	assert.NotNil(t, h.Recommender.LastReport())
	assert.That(t, second.Entry.ID != first.Entry.ID)

	third, err := h.Pipeline.Recommend(ctx, hash)
	assert.NoError(t, err)
	assert.That(t, third.FromCache)
	assert.Equal(t, h.Recommender.Calls(), 2)
}

func TestSafetyKeyFollowsTranscriptModel(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())
	_, err := h.Pipeline.Transcribe(ctx, hash)
	assert.NoError(t, err)
	_, err = h.Pipeline.Safety(ctx, hash)
	assert.NoError(t, err)
	calls := h.Classifier.Calls()

	// A second deployment over the same store transcribes with another model.
	retranscriber := test.NewFakeTranscriber()
	retranscriber.ModelName = "fake-transcriber-v2"
	next := test.NewHarnessWithStore(t, h.Store, services.WithTranscriber(retranscriber))

	_, err = next.Pipeline.Transcribe(ctx, hash)
	assert.NoError(t, err)
	report, err := next.Pipeline.Safety(ctx, hash)
	assert.NoError(t, err)
	assert.That(t, !report.FromCache)
	assert.That(t, next.Classifier.Calls() > 0)
	assert.Equal(t, h.Classifier.Calls(), calls)
}
