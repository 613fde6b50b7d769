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

// Package api is the REST surface of the media pipeline. Every handler is a
// thin translation of one pipeline operation: path and query parsing in,
// JSON out, with the pipeline's error taxonomy mapped onto status codes.
//
// Routes (all under /api/v1):
//   - POST /videos, GET /videos/:hash
//   - GET  /videos/:hash/scenes, /scenes/:index/keyframes, /scenes/:index/audio
//   - POST /videos/:hash/transcript, GET /videos/:hash/transcript
//   - POST /videos/:hash/safety, /recommendation, /enhancements
//   - GET  /videos/:hash/report, /reports (BigQuery backed, when configured)
//   - GET  /artifacts/url
//   - GET  /stats
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/orchestrator"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/services"
)

// URLSigner issues signed URLs for stored artifacts.
type URLSigner interface {
	SignedURL(ctx context.Context, location string) (string, error)
}

// ReportReader reads back persisted analysis rows.
type ReportReader interface {
	Latest(ctx context.Context, hash string) (*model.AnalysisRow, error)
	Recent(ctx context.Context, limit int) ([]model.AnalysisRow, error)
}

// Handler holds the collaborators of every route.
type Handler struct {
	pipeline  *services.Pipeline
	signer    URLSigner
	reports   ReportReader
	uploadDir string
	log       *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithSigner enables GET /artifacts/url.
func WithSigner(s URLSigner) Option { return func(h *Handler) { h.signer = s } }

// WithReports enables the report routes.
func WithReports(r ReportReader) Option { return func(h *Handler) { h.reports = r } }

// WithUploadDir sets where multipart uploads are staged; empty uses the OS default.
func WithUploadDir(dir string) Option { return func(h *Handler) { h.uploadDir = dir } }

// WithLogger sets the handler's logger.
func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.log = l } }

func NewHandler(pipeline *services.Pipeline, opts ...Option) *Handler {
	h := &Handler{pipeline: pipeline, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter builds the gin engine with tracing and CORS middleware and
// every route registered under /api/v1.
func NewRouter(serviceName string, h *Handler) *gin.Engine {
	r := gin.Default()
	r.Use(otelgin.Middleware(serviceName))
	r.Use(cors.Default())

	apiV1 := r.Group("/api/v1")
	{
		VideoRouter(apiV1, h)
		ArtifactRouter(apiV1, h)
		Dashboard(apiV1, h)
	}
	return r
}

// stageResponse wraps every stage result.
type stageResponse struct {
	FromCache bool `json:"from_cache"`
	Shared    bool `json:"shared,omitempty"`
	Result    any  `json:"result"`
}

func respondStage[T any](c *gin.Context, h *Handler, res *orchestrator.Result[T], err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stageResponse{FromCache: res.FromCache, Shared: res.Shared, Result: res.Value})
}

// StatusOf maps a pipeline error onto an HTTP status.
//
//   - InputError: 404 when the reason says something was not found, else 400.
//   - A collaborator that is not configured: 501.
//   - TransientError, after the orchestrator has exhausted its retries: 503.
//   - Anything else: 500.
func StatusOf(err error) int {
	if ie, ok := model.AsInput(err); ok {
		if strings.HasSuffix(ie.Reason, "not found") {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	}
	switch {
	case errors.Is(err, services.ErrNotConfigured):
		return http.StatusNotImplemented
	case model.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := StatusOf(err)
	message := http.StatusText(status)
	if ie, ok := model.AsInput(err); ok {
		message = ie.Reason
	}
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": message})
}
