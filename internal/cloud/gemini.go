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

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/safety"
)

const (
	transcriptPrompt = `Please transcribe this audio file completely and accurately.
If there are multiple speakers, note speaker changes.
If there is background music or sound effects, focus only on the speech.
{{ .Extra }}
Answer with JSON only, in exactly this shape:
{{ .Example }}`

	visualPrompt = `Analyze these video frames for safety concerns. Check for:
1. NSFW content (nudity, sexual content, explicit imagery)
2. Violence or disturbing imagery
3. Gore or graphic content
4. Dangerous activities

Score from 0 to 100, where 100 is completely safe. Be objective, consider
advertising context and rate conservatively.
Answer with JSON only, in exactly this shape:
{{ .Example }}`

	biasPrompt = `Analyze this transcript for bias, stereotypes and non-inclusive language.
Check for gender, racial or ethnic stereotypes, ageism, ableism, body shaming,
socioeconomic bias, cultural insensitivity and heteronormative assumptions.

Transcript:
"{{ .Text }}"

Score from 0 to 100, where 100 is completely inclusive.
Answer with JSON only, in exactly this shape:
{{ .Example }}`

	claimsPrompt = `This transcript contains potentially misleading keywords: {{ join .Keywords ", " }}

Analyze whether it makes misleading, unverifiable or false claims:
unverifiable health claims, exaggerated effectiveness, false guarantees,
misleading statistics, deceptive omissions or offers too good to be true.

Transcript:
"{{ .Text }}"

Score from 0 to 100, where 100 is completely truthful.
Answer with JSON only, in exactly this shape:
{{ .Example }}`

	recommendationPrompt = `Review this video and give concise, specific editing feedback.

Transcript summary: {{ .Transcript.Summary }}
Key points:
{{- range .Transcript.KeyPoints }}
- {{ . }}
{{- end }}
Transcript:
"{{ .Transcript.Text }}"
{{ if .Safety }}
Safety review: overall {{ .Safety.OverallScore }}/100 ({{ .Safety.OverallSeverity }}).
{{- range .Safety.Checks }}
- {{ .Name }}: {{ .Score }}/100. {{ .Details }}
{{- end }}
{{ end }}
{{- if .Quality }}
Visual quality: overall {{ printf "%.2f" .Quality.OverallQuality }} ({{ .Quality.ResolutionTier }}, {{ .Quality.Width }}x{{ .Quality.Height }}, {{ .Quality.FramesAnalyzed }} frames).
- Resolution: {{ printf "%.2f" .Quality.ResolutionScore }}
- Sharpness: {{ printf "%.2f" .Quality.SharpnessScore }}
- Color: {{ printf "%.2f" .Quality.ColorScore }} (balance {{ printf "%.2f" .Quality.ColorBalance }}, saturation {{ printf "%.2f" .Quality.Saturation }})
- Lighting: {{ printf "%.2f" .Quality.LightingScore }} (brightness {{ printf "%.2f" .Quality.Brightness }}, dynamic range {{ printf "%.2f" .Quality.DynamicRange }})
Scores are 0 to 1, higher is better. Address the weakest of them in the recommendations.
{{ end }}
Provide a one or two sentence overall assessment, the top 3 strengths, the top
3 weaknesses, the top 3 actionable recommendations (one or two phrases each)
and a follow-up prompt that a video generation model can use to produce an
improved version of this video.
Answer with JSON only, in exactly this shape:
{{ .Example }}`
)

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{"join": strings.Join}).Parse(""))

func init() {
	for name, text := range map[string]string{
		"transcript":      transcriptPrompt,
		model.CheckVisual: visualPrompt,
		model.CheckBias:   biasPrompt,
		model.CheckClaims: claimsPrompt,
		"recommendation":  recommendationPrompt,
	} {
		template.Must(prompts.New(name).Parse(text))
	}
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

func exampleJSON(v any) string {
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

// genaiCounters are the per component token and retry counters.
type genaiCounters struct {
	input  metric.Int64Counter
	output metric.Int64Counter
	retry  metric.Int64Counter
}

func newGenAICounters(name string) genaiCounters {
	meter := otel.Meter("github.com/jaycherian/gcp-go-media-pipeline/cloud")
	var c genaiCounters
	c.input, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.input", name))
	c.output, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.output", name))
	c.retry, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.retry", name))
	return c
}

func (c genaiCounters) generate(ctx context.Context, agent *QuotaAwareGenerativeAIModel, parts ...*genai.Part) (string, error) {
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	return GenerateMultiModalResponse(ctx, c.input, c.output, c.retry, agent, contents)
}

// GeminiTranscriber transcribes audio with a Gemini model.
type GeminiTranscriber struct {
	agent    *QuotaAwareGenerativeAIModel
	extra    string
	counters genaiCounters
}

// NewGeminiTranscriber creates a transcriber. extra is appended to the built
// in instructions.
func NewGeminiTranscriber(agent *QuotaAwareGenerativeAIModel, extra string) *GeminiTranscriber {
	return &GeminiTranscriber{agent: agent, extra: extra, counters: newGenAICounters("transcriber")}
}

// Model returns the model name used for transcripts.
func (t *GeminiTranscriber) Model() string { return t.agent.ModelName }

// Transcribe sends the audio inline and parses the JSON answer.
func (t *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (*model.TranscriptResult, error) {
	prompt, err := render("transcript", map[string]any{"Extra": t.extra, "Example": exampleJSON(model.GetExampleTranscript())})
	if err != nil {
		return nil, err
	}
	text, err := t.counters.generate(ctx, t.agent, NewTextPart(prompt), NewInlinePart(audio, mimeType))
	if err != nil {
		return nil, err
	}
	res, err := DecodeJSONResponse[model.TranscriptResult]("transcribe", text)
	if err != nil {
		return nil, err
	}
	if res.KeyPoints == nil {
		res.KeyPoints = []string{}
	}
	if strings.TrimSpace(res.Language) == "" {
		res.Language = "unknown"
	}
	return res, nil
}

// GeminiClassifier answers all three safety checks with one model.
type GeminiClassifier struct {
	agent    *QuotaAwareGenerativeAIModel
	counters genaiCounters
}

// NewGeminiClassifier creates a classifier.
func NewGeminiClassifier(agent *QuotaAwareGenerativeAIModel) *GeminiClassifier {
	return &GeminiClassifier{agent: agent, counters: newGenAICounters("classifier")}
}

// Classify renders the prompt for req.Check and parses the score.
func (c *GeminiClassifier) Classify(ctx context.Context, req safety.Request) (*model.ClassifierResult, error) {
	prompt, err := render(req.Check, map[string]any{
		"Text":     req.Text,
		"Keywords": req.Keywords,
		"Example":  exampleJSON(model.GetExampleClassification()),
	})
	if err != nil {
		return nil, err
	}
	parts := []*genai.Part{NewTextPart(prompt)}
	for _, img := range req.Images {
		parts = append(parts, NewInlinePart(img.Data, img.MIMEType))
	}
	text, err := c.counters.generate(ctx, c.agent, parts...)
	if err != nil {
		return nil, err
	}
	return DecodeJSONResponse[model.ClassifierResult](req.Check, text)
}

// GeminiRecommender produces editing feedback from a transcript.
type GeminiRecommender struct {
	agent    *QuotaAwareGenerativeAIModel
	counters genaiCounters
}

// NewGeminiRecommender creates a recommender.
func NewGeminiRecommender(agent *QuotaAwareGenerativeAIModel) *GeminiRecommender {
	return &GeminiRecommender{agent: agent, counters: newGenAICounters("recommender")}
}

// Model returns the model name used for recommendations.
func (r *GeminiRecommender) Model() string { return r.agent.ModelName }

// Recommend asks for strengths, weaknesses, recommendations and a follow-up
// generation prompt. report and quality may be nil.
func (r *GeminiRecommender) Recommend(ctx context.Context, transcript *model.Transcript, report *model.SafetyReport, quality *model.QualityReport) (*model.Recommendation, error) {
	example := model.GetExampleRecommendation()
	prompt, err := render("recommendation", map[string]any{
		"Transcript": transcript,
		"Safety":     report,
		"Quality":    quality,
		"Example": exampleJSON(map[string]any{
			"summary":          example.Summary,
			"strengths":        example.Strengths,
			"weaknesses":       example.Weaknesses,
			"recommendations":  example.Recommendations,
			"follow_up_prompt": example.FollowUpPrompt,
		}),
	})
	if err != nil {
		return nil, err
	}
	text, err := r.counters.generate(ctx, r.agent, NewTextPart(prompt))
	if err != nil {
		return nil, err
	}
	return DecodeJSONResponse[model.Recommendation]("recommend", text)
}
