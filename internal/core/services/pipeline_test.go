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

// Package services_test exercises the stage operations end to end against
// fake collaborators and a real LocalStore.
package services_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeebo/assert"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/services"
	test "github.com/jaycherian/gcp-go-media-pipeline/internal/testutil"
)

func inputReason(t *testing.T, err error) string {
	t.Helper()
	in, ok := model.AsInput(err)
	assert.That(t, ok)
	return in.Reason
}

// TestTwentyFiveSecondClip walks a clip with two hard cuts through scene
// detection and keyframe sampling, then asks for a safety report before any
// transcript exists.
func TestTwentyFiveSecondClip(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	hash := h.Upload(t, "garage-tour.mp4", test.TwentyFiveSecondClip())

	list, err := h.Pipeline.Scenes(ctx, hash, 0)
	assert.NoError(t, err)
	assert.False(t, list.FromCache)
	assert.Equal(t, len(list.Value.Scenes), 3)
	assert.Equal(t, list.Value.FramesAnalyzed, 600)

	// Contiguous and covering the whole clip.
	sc := list.Value.Scenes
	assert.Equal(t, sc[0].Start, 0.0)
	assert.Equal(t, sc[0].End, 10.0)
	assert.Equal(t, sc[1].Start, 10.0)
	assert.Equal(t, sc[1].End, 18.0)
	assert.Equal(t, sc[2].Start, 18.0)
	assert.Equal(t, sc[2].End, 25.0)
	for i, s := range sc {
		assert.Equal(t, s.Index, i)
		assert.Equal(t, s.VideoHash, hash)
	}

	sets, err := h.Pipeline.AllKeyframes(ctx, hash, 0)
	assert.NoError(t, err)
	total := 0
	for i, set := range sets {
		assert.Equal(t, set.Value.SceneIndex, i)
		for j, kf := range set.Value.Keyframes {
			assert.Equal(t, kf.Ordinal, j)
			assert.NotNil(t, kf.Image)
			assert.That(t, kf.Timestamp >= sc[i].Start && kf.Timestamp <= sc[i].End)
			total++
		}
	}
	assert.Equal(t, total, 5*len(sc))
	assert.Equal(t, h.Decoder.FrameExtractions.Load(), int64(15))
	assert.Equal(t, h.Decoder.FrameDecodes.Load(), int64(1))

	_, err = h.Pipeline.Safety(ctx, hash)
	assert.Error(t, err)
	assert.Equal(t, inputReason(t, err), "transcript not found")
	assert.Equal(t, h.Transcriber.Calls(), 0)
	assert.Equal(t, h.Classifier.Calls(), 0)
}

// TestIdenticalBytesAreServedFromCache uploads the same bytes under two names
// and runs the analysis twice. The second pass touches no collaborator.
func TestIdenticalBytesAreServedFromCache(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	clip := test.TwentyFiveSecondClip()

	analyse := func(name string) (string, bool) {
		path := test.WriteFakeVideo(t, h.Dir, name, clip)
		video, err := h.Pipeline.Ingest(ctx, path, name)
		assert.NoError(t, err)
		hash := video.Value.Hash

		scenes, err := h.Pipeline.Scenes(ctx, hash, 0)
		assert.NoError(t, err)
		_, err = h.Pipeline.AllKeyframes(ctx, hash, 0)
		assert.NoError(t, err)
		transcript, err := h.Pipeline.Transcribe(ctx, hash)
		assert.NoError(t, err)
		report, err := h.Pipeline.Safety(ctx, hash)
		assert.NoError(t, err)
		return hash, video.FromCache && scenes.FromCache && transcript.FromCache && report.FromCache
	}

	first, cached := analyse("garage-tour.mp4")
	assert.False(t, cached)
	probes := h.Decoder.Probes.Load()
	decodes := h.Decoder.FrameDecodes.Load()
	extractions := h.Decoder.FrameExtractions.Load()
	transcriptions := h.Transcriber.Calls()
	classifications := h.Classifier.Calls()

	second, cached := analyse("copy-of-garage-tour.mp4")
	assert.Equal(t, second, first)
	assert.That(t, cached)
	assert.Equal(t, h.Decoder.Probes.Load(), probes)
	assert.Equal(t, h.Decoder.FrameDecodes.Load(), decodes)
	assert.Equal(t, h.Decoder.FrameExtractions.Load(), extractions)
	assert.Equal(t, h.Transcriber.Calls(), transcriptions)
	assert.Equal(t, h.Classifier.Calls(), classifications)

	// The first upload's name sticks.
	video, err := h.Pipeline.Video(ctx, first)
	assert.NoError(t, err)
	assert.Equal(t, video.Value.OriginalName, "garage-tour.mp4")
}

func TestIngestRejectsBadUploads(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)

	empty := filepath.Join(h.Dir, "empty.mp4")
	assert.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err := h.Pipeline.Ingest(ctx, empty, "empty.mp4")
	assert.Equal(t, inputReason(t, err), "empty upload")

	junk := filepath.Join(h.Dir, "junk.mp4")
	assert.NoError(t, os.WriteFile(junk, []byte("not a video"), 0o600))
	_, err = h.Pipeline.Ingest(ctx, junk, "junk.mp4")
	assert.Equal(t, inputReason(t, err), "undecodable video")
	assert.That(t, errors.Is(err, model.ErrCorruptInput))

	zero := test.WriteFakeVideo(t, h.Dir, "zero.mp4", test.FakeVideo{Duration: 0, FrameRate: 24})
	_, err = h.Pipeline.Ingest(ctx, zero, "zero.mp4")
	assert.Equal(t, inputReason(t, err), "zero-duration asset")
}

func TestLookupsReportMissingPrerequisites(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)

	_, err := h.Pipeline.Video(ctx, "not-a-hash")
	assert.Equal(t, inputReason(t, err), "invalid video hash")

	_, err = h.Pipeline.Video(ctx, strings.Repeat("ab", 32))
	assert.Equal(t, inputReason(t, err), "video not found")

	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())
	_, err = h.Pipeline.Keyframes(ctx, hash, 7, 0)
	assert.Equal(t, inputReason(t, err), "scene not found")

	_, err = h.Pipeline.Recommend(ctx, hash)
	assert.Equal(t, inputReason(t, err), "transcript not found")
}

func TestThresholdIsPartOfTheSceneKey(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())

	def, err := h.Pipeline.Scenes(ctx, hash, 0)
	assert.NoError(t, err)
	assert.Equal(t, len(def.Value.Scenes), 3)

	// Red to blue scores 40, so a higher threshold sees one long scene.
	coarse, err := h.Pipeline.Scenes(ctx, hash, 60)
	assert.NoError(t, err)
	assert.False(t, coarse.FromCache)
	assert.Equal(t, len(coarse.Value.Scenes), 1)
	assert.Equal(t, coarse.Value.Scenes[0].End, 25.0)

	again, err := h.Pipeline.Scenes(ctx, hash, services.DefaultSettings().SceneThreshold)
	assert.NoError(t, err)
	assert.That(t, again.FromCache)
	assert.Equal(t, h.Decoder.FrameDecodes.Load(), int64(2))
}

func TestSceneAudioTrimsTheCachedTrack(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())

	for i := 0; i < 3; i++ {
		slice, err := h.Pipeline.SceneAudio(ctx, hash, i, 0)
		assert.NoError(t, err)
		assert.NotNil(t, slice.Value.SceneIndex)
		assert.Equal(t, *slice.Value.SceneIndex, i)
		assert.False(t, slice.Value.IsWholeTrack())
		assert.Equal(t, slice.Value.Audio.Name, services.SceneAudioFile(i))
	}
	assert.Equal(t, h.Decoder.AudioExtractions.Load(), int64(1))
	assert.Equal(t, h.Decoder.AudioTrims.Load(), int64(3))

	whole, err := h.Pipeline.WholeAudio(ctx, hash)
	assert.NoError(t, err)
	assert.That(t, whole.FromCache)
	assert.That(t, whole.Value.IsWholeTrack())
	assert.Equal(t, whole.Value.End, 25.0)

	// The slice bytes are derived from the whole track, not the video.
	slice, err := h.Pipeline.SceneAudio(ctx, hash, 1, 0)
	assert.NoError(t, err)
	ref, ok := slice.Entry.File(services.SceneAudioFile(1))
	assert.That(t, ok)
	data, err := os.ReadFile(ref.Location)
	assert.NoError(t, err)
	assert.Equal(t, string(data), "mp3[0.000,25.000][10.000,18.000]")
}

func TestVideoWithoutAudio(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	clip := test.TwentyFiveSecondClip()
	clip.HasAudio = false
	hash := h.Upload(t, "silent.mp4", clip)

	_, err := h.Pipeline.WholeAudio(ctx, hash)
	assert.Equal(t, inputReason(t, err), "video has no audio track")
	_, err = h.Pipeline.Transcribe(ctx, hash)
	assert.Equal(t, inputReason(t, err), "video has no audio track")
	assert.Equal(t, h.Decoder.AudioExtractions.Load(), int64(0))
	assert.Equal(t, h.Transcriber.Calls(), 0)
}

func TestTranscriptionRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())

	h.Transcriber.FailNext(model.NewTransientError("transcribe", errors.New("429")))
	res, err := h.Pipeline.Transcribe(ctx, hash)
	assert.NoError(t, err)
	assert.Equal(t, h.Transcriber.Calls(), 2)
	assert.Equal(t, res.Value.Language, "en")
	assert.Equal(t, res.Value.WordCount, len(strings.Fields(model.GetExampleTranscript().Text)))
	assert.Equal(t, res.Value.Artifact.Name, services.TranscriptFile)

	cached, err := h.Pipeline.Transcript(ctx, hash)
	assert.NoError(t, err)
	assert.That(t, cached.FromCache)
	assert.Equal(t, cached.Value.Text, res.Value.Text)
}

func TestSafetyReport(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())
	h.Classifier.Scores[model.CheckVisual] = 72

	_, err := h.Pipeline.Transcribe(ctx, hash)
	assert.NoError(t, err)
	report, err := h.Pipeline.Safety(ctx, hash)
	assert.NoError(t, err)

	assert.Equal(t, len(report.Value.Checks), 3)
	assert.Equal(t, report.Value.OverallScore, 72)
	assert.Equal(t, report.Value.OverallSeverity, model.SeverityWarning)
	assert.Equal(t, report.Value.FramesAnalyzed, 10)

	// The example transcript carries no claim keywords, so only the visual
	// and bias classifiers are called.
	assert.Equal(t, h.Classifier.Calls(), 2)
	claims, ok := report.Value.Check(model.CheckClaims)
	assert.That(t, ok)
	assert.Equal(t, claims.Score, 100)
	for _, req := range h.Classifier.Requests() {
		if req.Check == model.CheckVisual {
			assert.Equal(t, len(req.Images), 10)
		}
	}
}

func TestSafetyFailureIsNotCached(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())
	_, err := h.Pipeline.Transcribe(ctx, hash)
	assert.NoError(t, err)

	h.Classifier.FailNext(model.NewInputError("blocked by policy", nil))
	_, err = h.Pipeline.Safety(ctx, hash)
	assert.Error(t, err)

	report, err := h.Pipeline.Safety(ctx, hash)
	assert.NoError(t, err)
	assert.False(t, report.FromCache)
}

func TestRecommendationUsesCachedSafetyReport(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())
	_, err := h.Pipeline.Transcribe(ctx, hash)
	assert.NoError(t, err)
	_, err = h.Pipeline.Safety(ctx, hash)
	assert.NoError(t, err)

	rec, err := h.Pipeline.Recommend(ctx, hash)
	assert.NoError(t, err)
	assert.Equal(t, rec.Value.VideoHash, hash)
	assert.Equal(t, rec.Value.Model, "fake-recommender")
	assert.NotNil(t, h.Recommender.LastReport())

	again, err := h.Pipeline.Recommend(ctx, hash)
	assert.NoError(t, err)
	assert.That(t, again.FromCache)
	assert.Equal(t, h.Recommender.Calls(), 1)
}

func TestRecommendationWithoutSafetyReport(t *testing.T) {
	ctx := context.Background()
	h := test.NewHarness(t)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())
	_, err := h.Pipeline.Transcribe(ctx, hash)
	assert.NoError(t, err)

	_, err = h.Pipeline.Recommend(ctx, hash)
	assert.NoError(t, err)
	assert.Nil(t, h.Recommender.LastReport())
	assert.Equal(t, h.Classifier.Calls(), 0)
}

func TestMemoryStoreDownloadsBeforeDecoding(t *testing.T) {
	ctx := context.Background()
	store := test.NewMemoryStore()
	h := test.NewHarnessWithStore(t, store)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())

	list, err := h.Pipeline.Scenes(ctx, hash, 0)
	assert.NoError(t, err)
	assert.Equal(t, len(list.Value.Scenes), 3)
	_, err = h.Pipeline.SceneAudio(ctx, hash, 2, 0)
	assert.NoError(t, err)
	_, err = h.Pipeline.Transcribe(ctx, hash)
	assert.NoError(t, err)

	// Every download went to a temporary file that is gone again.
	left, err := os.ReadDir(h.Pipeline.Settings().TempDir)
	assert.NoError(t, err)
	assert.Equal(t, len(left), 0)
	assert.That(t, store.Entries() >= 5)
}

func TestPublishFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	store := test.NewMemoryStore()
	h := test.NewHarnessWithStore(t, store)
	hash := h.Upload(t, "clip.mp4", test.TwentyFiveSecondClip())

	store.FailPublishes(errors.New("bucket unavailable"))
	_, err := h.Pipeline.Scenes(ctx, hash, 0)
	assert.Error(t, err)
	assert.That(t, strings.Contains(err.Error(), "bucket unavailable"))

	store.FailPublishes(nil)
	list, err := h.Pipeline.Scenes(ctx, hash, 0)
	assert.NoError(t, err)
	assert.False(t, list.FromCache)
}
