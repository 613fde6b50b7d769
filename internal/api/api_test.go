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

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/api"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/services"
	test "github.com/jaycherian/gcp-go-media-pipeline/internal/testutil"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type response struct {
	FromCache bool            `json:"from_cache"`
	Result    json.RawMessage `json:"result"`
	Error     string          `json:"error"`
}

type server struct {
	h      *test.Harness
	router *gin.Engine
}

func newServer(t *testing.T, opts ...api.Option) *server {
	h := test.NewHarness(t)
	opts = append([]api.Option{api.WithUploadDir(t.TempDir())}, opts...)
	return &server{h: h, router: api.NewRouter("test", api.NewHandler(h.Pipeline, opts...))}
}

func (s *server) do(t *testing.T, method string, path string, body []byte, contentType string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out response
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func (s *server) upload(t *testing.T, name string, content []byte) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return s.do(t, http.MethodPost, "/api/v1/videos", buf.Bytes(), mw.FormDataContentType())
}

func (s *server) uploaded(t *testing.T) string {
	t.Helper()
	code, resp := s.upload(t, "clip.mp4", test.TwentyFiveSecondClip().Bytes())
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var asset model.VideoAsset
	require.NoError(t, json.Unmarshal(resp.Result, &asset))
	return asset.Hash
}

func TestUploadAndLookup(t *testing.T) {
	s := newServer(t)
	hash := s.uploaded(t)

	code, resp := s.upload(t, "again.mp4", test.TwentyFiveSecondClip().Bytes())
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.FromCache)

	code, resp = s.do(t, http.MethodGet, "/api/v1/videos/"+hash, nil, "")
	require.Equal(t, http.StatusOK, code)
	var asset model.VideoAsset
	require.NoError(t, json.Unmarshal(resp.Result, &asset))
	assert.Equal(t, "clip.mp4", asset.OriginalName)
	assert.Equal(t, 25.0, asset.Duration)
}

func TestUploadErrors(t *testing.T) {
	s := newServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/v1/videos", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Error, "file")

	code, resp = s.upload(t, "broken.mp4", []byte("not a video"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "undecodable video", resp.Error)
}

func TestStageRoutes(t *testing.T) {
	s := newServer(t)
	hash := s.uploaded(t)

	code, resp := s.do(t, http.MethodGet, "/api/v1/videos/"+hash+"/scenes", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.False(t, resp.FromCache)
	var list model.SceneList
	require.NoError(t, json.Unmarshal(resp.Result, &list))
	assert.Len(t, list.Scenes, 3)

	code, resp = s.do(t, http.MethodGet, "/api/v1/videos/"+hash+"/scenes?threshold=27", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.FromCache)

	code, resp = s.do(t, http.MethodGet, "/api/v1/videos/"+hash+"/scenes/1/keyframes", nil, "")
	require.Equal(t, http.StatusOK, code)
	var set model.KeyframeSet
	require.NoError(t, json.Unmarshal(resp.Result, &set))
	assert.Len(t, set.Keyframes, model.KeyframesPerScene)

	code, resp = s.do(t, http.MethodGet, "/api/v1/videos/"+hash+"/scenes/2/audio", nil, "")
	require.Equal(t, http.StatusOK, code)
	var slice model.AudioSlice
	require.NoError(t, json.Unmarshal(resp.Result, &slice))
	assert.Equal(t, 18.0, slice.Start)
	assert.Equal(t, 25.0, slice.End)

	code, _ = s.do(t, http.MethodGet, "/api/v1/videos/"+hash+"/transcript", nil, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = s.do(t, http.MethodPost, "/api/v1/videos/"+hash+"/transcript", nil, "")
	require.Equal(t, http.StatusOK, code)
	var transcript model.Transcript
	require.NoError(t, json.Unmarshal(resp.Result, &transcript))
	assert.Equal(t, "en", transcript.Language)

	code, resp = s.do(t, http.MethodGet, "/api/v1/videos/"+hash+"/transcript", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.FromCache)

	code, resp = s.do(t, http.MethodPost, "/api/v1/videos/"+hash+"/safety", nil, "")
	require.Equal(t, http.StatusOK, code)
	var report model.SafetyReport
	require.NoError(t, json.Unmarshal(resp.Result, &report))
	assert.Len(t, report.Checks, 3)

	code, resp = s.do(t, http.MethodPost, "/api/v1/videos/"+hash+"/quality", nil, "")
	require.Equal(t, http.StatusOK, code)
	var quality model.QualityReport
	require.NoError(t, json.Unmarshal(resp.Result, &quality))
	assert.Equal(t, model.Resolution720p, quality.ResolutionTier)

	code, resp = s.do(t, http.MethodPost, "/api/v1/videos/"+hash+"/recommendation", nil, "")
	require.Equal(t, http.StatusOK, code)
	var rec model.Recommendation
	require.NoError(t, json.Unmarshal(resp.Result, &rec))
	assert.NotEmpty(t, rec.FollowUpPrompt)
}

func TestEnhancementRoute(t *testing.T) {
	s := newServer(t)
	hash := s.uploaded(t)
	_, _ = s.do(t, http.MethodPost, "/api/v1/videos/"+hash+"/transcript", nil, "")

	body := []byte(`{"scenes": 2, "aspect_ratio": "9:16", "duration_seconds": 8, "variants": 2}`)
	code, resp := s.do(t, http.MethodPost, "/api/v1/videos/"+hash+"/enhancements", body, "application/json")
	require.Equal(t, http.StatusOK, code, resp.Error)
	var batch model.EnhancementBatch
	require.NoError(t, json.Unmarshal(resp.Result, &batch))
	assert.Equal(t, 2, batch.Total)
	assert.Equal(t, model.GenerationParams{AspectRatio: "9:16", DurationSeconds: 8, Variants: 2}, batch.Params)

	code, resp = s.do(t, http.MethodPost, "/api/v1/videos/"+hash+"/enhancements", nil, "")
	require.Equal(t, http.StatusOK, code, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, &batch))
	assert.Equal(t, 3, batch.Total)

	code, _ = s.do(t, http.MethodPost, "/api/v1/videos/"+hash+"/enhancements", []byte(`{"scenes":`), "application/json")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRouteErrors(t *testing.T) {
	s := newServer(t)
	hash := s.uploaded(t)
	missing := strings.Repeat("ab", 32)

	cases := []struct {
		method string
		path   string
		status int
		reason string
	}{
		{http.MethodGet, "/api/v1/videos/not-a-hash", http.StatusBadRequest, "invalid video hash"},
		{http.MethodGet, "/api/v1/videos/" + missing, http.StatusNotFound, "video not found"},
		{http.MethodGet, "/api/v1/videos/" + hash + "/scenes?threshold=abc", http.StatusBadRequest, ""},
		{http.MethodGet, "/api/v1/videos/" + hash + "/scenes/x/keyframes", http.StatusBadRequest, ""},
		{http.MethodGet, "/api/v1/videos/" + hash + "/scenes/9/keyframes", http.StatusNotFound, "scene not found"},
		{http.MethodPost, "/api/v1/videos/" + hash + "/recommendation", http.StatusNotFound, "transcript not found"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			code, resp := s.do(t, tc.method, tc.path, nil, "")
			assert.Equal(t, tc.status, code)
			if tc.reason != "" {
				assert.Equal(t, tc.reason, resp.Error)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, api.StatusOf(model.NewInputError("empty upload", nil)))
	assert.Equal(t, http.StatusNotFound, api.StatusOf(fmt.Errorf("wrapped: %w", model.NewInputError("scene not found", nil))))
	assert.Equal(t, http.StatusServiceUnavailable, api.StatusOf(model.NewTransientError("transcribe", errors.New("quota"))))
	assert.Equal(t, http.StatusNotImplemented, api.StatusOf(fmt.Errorf("safety: %w", services.ErrNotConfigured)))
	assert.Equal(t, http.StatusInternalServerError, api.StatusOf(errors.New("boom")))
}

func TestTransientFailureIsUnavailable(t *testing.T) {
	s := newServer(t)
	hash := s.uploaded(t)
	unavailable := model.NewTransientError("transcribe", errors.New("503"))
	s.h.Transcriber.FailNext(unavailable, unavailable, unavailable)

	code, resp := s.do(t, http.MethodPost, "/api/v1/videos/"+hash+"/transcript", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, http.StatusText(http.StatusServiceUnavailable), resp.Error)
}

type fakeSigner struct{}

func (fakeSigner) SignedURL(_ context.Context, location string) (string, error) {
	if !strings.HasPrefix(location, "gs://") {
		return "", model.NewInputError("artifact is not stored in GCS", nil)
	}
	return "https://signed.example/" + strings.TrimPrefix(location, "gs://"), nil
}

func TestArtifactURL(t *testing.T) {
	s := newServer(t)
	code, _ := s.do(t, http.MethodGet, "/api/v1/artifacts/url?location=gs://b/o", nil, "")
	assert.Equal(t, http.StatusNotImplemented, code)

	s = newServer(t, api.WithSigner(fakeSigner{}))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/artifacts/url?location=gs://b/o", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"url":"https://signed.example/b/o"}`, w.Body.String())

	code, _ = s.do(t, http.MethodGet, "/api/v1/artifacts/url", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := s.do(t, http.MethodGet, "/api/v1/artifacts/url?location=/tmp/x", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "artifact is not stored in GCS", resp.Error)
}

type fakeReports struct {
	rows []model.AnalysisRow
}

func (f *fakeReports) Latest(_ context.Context, hash string) (*model.AnalysisRow, error) {
	for i := range f.rows {
		if f.rows[i].VideoHash == hash {
			return &f.rows[i], nil
		}
	}
	return nil, model.NewInputError("report not found", nil)
}

func (f *fakeReports) Recent(_ context.Context, limit int) ([]model.AnalysisRow, error) {
	if limit > len(f.rows) {
		limit = len(f.rows)
	}
	return f.rows[:limit], nil
}

func TestDashboard(t *testing.T) {
	s := newServer(t)
	code, _ := s.do(t, http.MethodGet, "/api/v1/reports", nil, "")
	assert.Equal(t, http.StatusNotImplemented, code)

	reports := &fakeReports{rows: []model.AnalysisRow{{VideoHash: "a", SceneCount: 3}, {VideoHash: "b"}}}
	s = newServer(t, api.WithReports(reports))
	hash := s.uploaded(t)
	_, _ = s.do(t, http.MethodGet, "/api/v1/videos/"+hash+"/scenes", nil, "")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Stages map[string]struct {
			Hits     int64 `json:"hits"`
			Computes int64 `json:"computes"`
		} `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.Stages[services.StageScenes].Computes)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rows []model.AnalysisRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	assert.Len(t, rows, 1)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/videos/a/report", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var row model.AnalysisRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &row))
	assert.Equal(t, 3, row.SceneCount)

	code, _ = s.do(t, http.MethodGet, "/api/v1/videos/zzz/report", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}
