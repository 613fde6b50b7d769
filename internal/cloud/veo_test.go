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
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

type fakeVeo struct {
	startErr error
	starts   int
	polls    []*genai.GenerateVideosOperation
	pollN    int
	prompt   string
	image    *genai.Image
	config   *genai.GenerateVideosConfig
}

func (f *fakeVeo) GenerateVideos(_ context.Context, _ string, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	f.prompt, f.image, f.config = prompt, image, config
	f.starts++
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &genai.GenerateVideosOperation{Name: "operations/1"}, nil
}

func (f *fakeVeo) GetVideosOperation(_ context.Context, op *genai.GenerateVideosOperation, _ *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error) {
	if f.pollN < len(f.polls) {
		next := f.polls[f.pollN]
		f.pollN++
		return next, nil
	}
	return op, nil
}

func done(videos ...*genai.Video) *genai.GenerateVideosOperation {
	op := &genai.GenerateVideosOperation{Name: "operations/1", Done: true, Response: &genai.GenerateVideosResponse{}}
	for _, v := range videos {
		op.Response.GeneratedVideos = append(op.Response.GeneratedVideos, &genai.GeneratedVideo{Video: v})
	}
	return op
}

var veoRequest = model.GenerationRequest{
	Prompt:        "Scene 1 Enhancement:",
	Image:         []byte{0xff, 0xd8},
	ImageMIMEType: "image/jpeg",
	Params:        model.GenerationParams{AspectRatio: "9:16", DurationSeconds: 8, Variants: 2},
}

func TestVeoPollsUntilDone(t *testing.T) {
	running := &genai.GenerateVideosOperation{Name: "operations/1"}
	fake := &fakeVeo{polls: []*genai.GenerateVideosOperation{running, done(&genai.Video{VideoBytes: []byte("mp4"), MIMEType: "video/mp4"}, &genai.Video{VideoBytes: []byte("mp4-2")})}}
	gen := cloud.NewVeoGenerator("veo-test", fake, fake, nil, cloud.WithPolling(time.Millisecond, time.Minute))

	videos, err := gen.Generate(context.Background(), veoRequest)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, []byte("mp4"), videos[0].Data)
	assert.Equal(t, "video/mp4", videos[1].MIMEType)
	assert.Equal(t, 2, fake.pollN)

	assert.Equal(t, "Scene 1 Enhancement:", fake.prompt)
	require.NotNil(t, fake.image)
	assert.Equal(t, "image/jpeg", fake.image.MIMEType)
	assert.Equal(t, int32(2), fake.config.NumberOfVideos)
	assert.Equal(t, "9:16", fake.config.AspectRatio)
	assert.Equal(t, int32(8), *fake.config.DurationSeconds)
}

func TestVeoDownloadsGCSOutputs(t *testing.T) {
	fake := &fakeVeo{polls: []*genai.GenerateVideosOperation{done(&genai.Video{URI: "gs://out/run/sample_0.mp4"})}}
	var read string
	reader := func(_ context.Context, uri string) ([]byte, error) {
		read = uri
		return []byte("from-gcs"), nil
	}
	gen := cloud.NewVeoGenerator("veo-test", fake, fake, nil,
		cloud.WithPolling(time.Millisecond, time.Minute),
		cloud.WithOutputGCSURI("gs://out/run", reader))

	videos, err := gen.Generate(context.Background(), veoRequest)
	require.NoError(t, err)
	assert.Equal(t, "gs://out/run/sample_0.mp4", read)
	assert.Equal(t, []byte("from-gcs"), videos[0].Data)
	assert.Equal(t, "gs://out/run", fake.config.OutputGCSURI)
}

func TestVeoTimeoutIsTerminal(t *testing.T) {
	fake := &fakeVeo{}
	gen := cloud.NewVeoGenerator("veo-test", fake, fake, nil, cloud.WithPolling(time.Millisecond, 5*time.Millisecond))

	_, err := gen.Generate(context.Background(), veoRequest)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrOperationTimeout)
	assert.False(t, model.IsTransient(err))
	assert.Equal(t, 1, fake.starts)
}

func TestVeoErrorClasses(t *testing.T) {
	tests := []struct {
		name      string
		fake      *fakeVeo
		transient bool
		invalid   bool
	}{
		{name: "quota", fake: &fakeVeo{startErr: genai.APIError{Code: http.StatusTooManyRequests}}, transient: true},
		{name: "rejected prompt", fake: &fakeVeo{startErr: genai.APIError{Code: http.StatusBadRequest}}, invalid: true},
		{name: "operation invalid argument", fake: &fakeVeo{polls: []*genai.GenerateVideosOperation{{Done: true, Error: map[string]any{"code": float64(3), "message": "bad"}}}}, invalid: true},
		{name: "operation unavailable", fake: &fakeVeo{polls: []*genai.GenerateVideosOperation{{Done: true, Error: map[string]any{"code": float64(14)}}}}, transient: true},
		{name: "filtered", fake: &fakeVeo{polls: []*genai.GenerateVideosOperation{{Done: true, Response: &genai.GenerateVideosResponse{RAIMediaFilteredReasons: []string{"celebrity"}}}}}, invalid: true},
		{name: "empty", fake: &fakeVeo{polls: []*genai.GenerateVideosOperation{done()}}, transient: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := cloud.NewVeoGenerator("veo-test", tt.fake, tt.fake, nil, cloud.WithPolling(time.Millisecond, time.Minute))
			_, err := gen.Generate(context.Background(), veoRequest)
			require.Error(t, err)
			assert.Equal(t, tt.transient, model.IsTransient(err))
			assert.Equal(t, tt.invalid, errors.Is(err, model.ErrInvalidPrompt))
		})
	}
}
