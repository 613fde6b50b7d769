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

package cloud_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/safety"
)

// fakeModels answers GenerateContent with canned text and records requests.
type fakeModels struct {
	mu       sync.Mutex
	answer   string
	err      error
	model    string
	contents []*genai.Content
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.model = model
	f.contents = contents
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: f.answer}}}}},
	}, nil
}

func (f *fakeModels) parts() []*genai.Part {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contents[0].Parts
}

func agent(handle cloud.ContentGenerator) *cloud.QuotaAwareGenerativeAIModel {
	return cloud.NewQuotaAwareModel(&genai.GenerateContentConfig{}, "gemini-test", handle, 100)
}

func TestTranscriberParsesAndDefaults(t *testing.T) {
	fake := &fakeModels{answer: "```json\n{\"transcript\": \"hello there\", \"summary\": \"greeting\"}\n```"}
	tr := cloud.NewGeminiTranscriber(agent(fake), "Speakers are mechanics.")

	res, err := tr.Transcribe(context.Background(), []byte("mp3"), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Text)
	assert.Equal(t, "unknown", res.Language)
	assert.Empty(t, res.KeyPoints)
	assert.NotNil(t, res.KeyPoints)
	assert.Equal(t, "gemini-test", tr.Model())

	parts := fake.parts()
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "Speakers are mechanics.")
	assert.Contains(t, parts[0].Text, `"key_points"`)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "audio/mpeg", parts[1].InlineData.MIMEType)
}

func TestTranscriberTransientOnRateLimit(t *testing.T) {
	fake := &fakeModels{err: genai.APIError{Code: http.StatusTooManyRequests}}
	_, err := cloud.NewGeminiTranscriber(agent(fake), "").Transcribe(context.Background(), []byte("mp3"), "audio/mpeg")
	assert.True(t, model.IsTransient(err))
}

func TestClassifierPrompts(t *testing.T) {
	fake := &fakeModels{answer: `{"score": 65, "issues": ["guaranteed results"], "details": "overstated"}`}
	c := cloud.NewGeminiClassifier(agent(fake))

	res, err := c.Classify(context.Background(), safety.Request{
		Check:    model.CheckClaims,
		Text:     "This is guaranteed to work, doctors hate it.",
		Keywords: []string{"guaranteed", "doctors hate"},
	})
	require.NoError(t, err)
	assert.Equal(t, 65, res.Score)
	prompt := fake.parts()[0].Text
	assert.Contains(t, prompt, "guaranteed, doctors hate")
	assert.Contains(t, prompt, "doctors hate it.")

	_, err = c.Classify(context.Background(), safety.Request{
		Check:  model.CheckVisual,
		Images: []safety.Image{{Data: []byte{1}, MIMEType: "image/jpeg"}, {Data: []byte{2}, MIMEType: "image/jpeg"}},
	})
	require.NoError(t, err)
	parts := fake.parts()
	assert.Len(t, parts, 3)
	assert.True(t, strings.Contains(parts[0].Text, "video frames"))
}

func TestRecommenderIncludesSafety(t *testing.T) {
	fake := &fakeModels{answer: `{"summary": "ok", "strengths": ["a"], "weaknesses": ["b"], "recommendations": ["c"], "follow_up_prompt": "brighter"}`}
	r := cloud.NewGeminiRecommender(agent(fake))

	rec, err := r.Recommend(context.Background(),
		&model.Transcript{Text: "words", Summary: "sum", KeyPoints: []string{"first point"}},
		&model.SafetyReport{OverallScore: 72, OverallSeverity: model.SeverityWarning, Checks: []model.CheckResult{{Name: model.CheckBias, Score: 72, Details: "mild"}}},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "brighter", rec.FollowUpPrompt)
	prompt := fake.parts()[0].Text
	assert.Contains(t, prompt, "- first point")
	assert.Contains(t, prompt, "overall 72/100 (warning)")
	assert.Contains(t, prompt, "bias_stereotypes: 72/100")

	assert.NotContains(t, prompt, "Visual quality")

	_, err = r.Recommend(context.Background(), &model.Transcript{Text: "words"}, nil, nil)
	require.NoError(t, err)
	assert.NotContains(t, fake.parts()[0].Text, "Safety review")
}

func TestRecommenderIncludesQuality(t *testing.T) {
	fake := &fakeModels{answer: `{"summary": "ok", "strengths": ["a"], "weaknesses": ["b"], "recommendations": ["c"], "follow_up_prompt": "sharper"}`}
	r := cloud.NewGeminiRecommender(agent(fake))

	_, err := r.Recommend(context.Background(), &model.Transcript{Text: "words"}, nil, &model.QualityReport{
		Width: 1280, Height: 720, ResolutionTier: model.Resolution720p, FramesAnalyzed: 15,
		ResolutionScore: 0.31, SharpnessScore: 0.42, ColorScore: 0.66, ColorBalance: 0.9, Saturation: 0.4,
		LightingScore: 0.58, Brightness: 0.47, DynamicRange: 0.81, OverallQuality: 0.53,
	})
	require.NoError(t, err)
	prompt := fake.parts()[0].Text
	assert.Contains(t, prompt, "Visual quality: overall 0.53 (720p, 1280x720, 15 frames)")
	assert.Contains(t, prompt, "- Sharpness: 0.42")
	assert.Contains(t, prompt, "- Lighting: 0.58 (brightness 0.47, dynamic range 0.81)")
	assert.NotContains(t, prompt, "Safety review")
}
