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

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cache"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/orchestrator"
)

// modelParams fingerprints stages whose only parameter is the model used.
type modelParams struct {
	Model string `json:"model"`
}

func (p *Pipeline) transcriptParams() (modelParams, error) {
	if p.transcriber == nil {
		return modelParams{}, fmt.Errorf("transcription: %w", ErrNotConfigured)
	}
	return modelParams{Model: p.transcriber.Model()}, nil
}

// Transcribe transcribes the whole-track audio once per video.
func (p *Pipeline) Transcribe(ctx context.Context, hash string) (*orchestrator.Result[model.Transcript], error) {
	params, err := p.transcriptParams()
	if err != nil {
		return nil, err
	}
	audio, err := p.WholeAudio(ctx, hash)
	if err != nil {
		return nil, err
	}
	videoHash := audio.Value.VideoHash

	res, err := orchestrator.Obtain(ctx, p.orch, StageTranscript, videoHash, params, func(ctx context.Context) (*orchestrator.Output[model.Transcript], error) {
		ref, err := fileRef(audio.Entry, AudioFile)
		if err != nil {
			return nil, err
		}
		data, err := cache.ReadAll(ctx, p.store, ref)
		if err != nil {
			return nil, err
		}
		out, err := p.transcriber.Transcribe(ctx, data, audioMIMEType)
		if err != nil {
			return nil, err
		}
		t := model.Transcript{
			VideoHash: videoHash,
			Text:      strings.TrimSpace(out.Text),
			Summary:   out.Summary,
			KeyPoints: out.KeyPoints,
			Language:  out.Language,
			Model:     params.Model,
			CreatedAt: p.now().UTC(),
		}
		if t.KeyPoints == nil {
			t.KeyPoints = []string{}
		}
		t.WordCount = len(strings.Fields(t.Text))
		p.log.InfoContext(ctx, "transcribed video", "hash", videoHash, "words", t.WordCount, "language", t.Language)
		return &orchestrator.Output[model.Transcript]{
			Value: t,
			Files: []cache.File{{Name: TranscriptFile, Data: []byte(t.Text)}},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, withTranscriptFile(res)
}

// Transcript returns the cached transcript without computing it.
func (p *Pipeline) Transcript(ctx context.Context, hash string) (*orchestrator.Result[model.Transcript], error) {
	owner, err := owner(hash)
	if err != nil {
		return nil, err
	}
	params, err := p.transcriptParams()
	if err != nil {
		return nil, err
	}
	res, err := orchestrator.Lookup[model.Transcript](ctx, p.orch, StageTranscript, owner, params)
	if err != nil {
		return nil, notFound(err, "transcript")
	}
	return res, withTranscriptFile(res)
}

func withTranscriptFile(res *orchestrator.Result[model.Transcript]) error {
	ref, err := fileRef(res.Entry, TranscriptFile)
	if err != nil {
		return err
	}
	res.Value.Artifact = ref.ArtifactRef()
	return nil
}

// recommendParams fingerprints a recommendation by its model and the entries
// of the reports it was given. An empty entry means the report was absent.
type recommendParams struct {
	Model   string `json:"model"`
	Safety  string `json:"safety,omitempty"`
	Quality string `json:"quality,omitempty"`
}

// Recommend asks for editing feedback once per video and set of inputs. It
// needs a cached transcript and uses the safety and quality reports when
// they are cached.
func (p *Pipeline) Recommend(ctx context.Context, hash string) (*orchestrator.Result[model.Recommendation], error) {
	if p.recommender == nil {
		return nil, fmt.Errorf("recommendation: %w", ErrNotConfigured)
	}
	transcript, err := p.Transcript(ctx, hash)
	if err != nil {
		return nil, err
	}
	videoHash := transcript.Value.VideoHash
	params := recommendParams{Model: p.recommender.Model()}

	var report *model.SafetyReport
	if s, err := p.cachedSafety(ctx, videoHash); err == nil {
		report = &s.Value
		params.Safety = s.Entry.ID
	} else if !errors.Is(err, cache.ErrNotFound) && !errors.Is(err, ErrNotConfigured) {
		return nil, err
	}
	var qualityReport *model.QualityReport
	if q, err := p.cachedQuality(ctx, videoHash); err == nil {
		qualityReport = &q.Value
		params.Quality = q.Entry.ID
	} else if !errors.Is(err, cache.ErrNotFound) {
		return nil, err
	}

	return orchestrator.Obtain(ctx, p.orch, StageRecommendation, videoHash, params, func(ctx context.Context) (*orchestrator.Output[model.Recommendation], error) {
		rec, err := p.recommender.Recommend(ctx, &transcript.Value, report, qualityReport)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, model.NewTransientError("recommend", model.ErrMalformedResponse)
		}
		rec.VideoHash = videoHash
		rec.Model = params.Model
		rec.CreatedAt = p.now().UTC()
		rec.FollowUpPrompt = strings.TrimSpace(rec.FollowUpPrompt)
		return &orchestrator.Output[model.Recommendation]{Value: *rec}, nil
	})
}
