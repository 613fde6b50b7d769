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

package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/services"
)

// enhanceBody is the optional JSON body of POST /videos/:hash/enhancements.
// Zero values use the configured defaults.
type enhanceBody struct {
	Scenes          int    `json:"scenes"`
	AspectRatio     string `json:"aspect_ratio"`
	DurationSeconds int    `json:"duration_seconds"`
	Variants        int    `json:"variants"`
}

// VideoRouter sets up the routes of every per video stage.
//
// Inputs:
//   - r: The group the "/videos" routes are nested under, e.g. "/api/v1".
//   - h: The handler holding the pipeline.
//
// This function defines the following endpoints:
//   - POST /videos: Ingests the multipart "file" field.
//   - GET /videos/:hash: The ingested asset.
//   - GET /videos/:hash/scenes?threshold=: The scene list; threshold defaults to the configured one.
//   - GET /videos/:hash/scenes/:index/keyframes?threshold=: The five keyframes of a scene.
//   - GET /videos/:hash/scenes/:index/audio?threshold=: The audio slice of a scene.
//   - POST /videos/:hash/transcript: Transcribes the video, or returns the cached transcript.
//   - GET /videos/:hash/transcript: The cached transcript only.
//   - POST /videos/:hash/safety: The safety report.
//   - POST /videos/:hash/recommendation: The editing recommendation.
//   - POST /videos/:hash/enhancements: Runs an enhancement batch.
func VideoRouter(r *gin.RouterGroup, h *Handler) {
	videos := r.Group("/videos")
	{
		videos.POST("", h.upload)

		videos.GET("/:hash", func(c *gin.Context) {
			res, err := h.pipeline.Video(c.Request.Context(), c.Param("hash"))
			respondStage(c, h, res, err)
		})

		videos.GET("/:hash/scenes", func(c *gin.Context) {
			threshold, ok := h.threshold(c)
			if !ok {
				return
			}
			res, err := h.pipeline.Scenes(c.Request.Context(), c.Param("hash"), threshold)
			respondStage(c, h, res, err)
		})

		videos.GET("/:hash/scenes/:index/keyframes", func(c *gin.Context) {
			index, threshold, ok := h.sceneArgs(c)
			if !ok {
				return
			}
			res, err := h.pipeline.Keyframes(c.Request.Context(), c.Param("hash"), index, threshold)
			respondStage(c, h, res, err)
		})

		videos.GET("/:hash/scenes/:index/audio", func(c *gin.Context) {
			index, threshold, ok := h.sceneArgs(c)
			if !ok {
				return
			}
			res, err := h.pipeline.SceneAudio(c.Request.Context(), c.Param("hash"), index, threshold)
			respondStage(c, h, res, err)
		})

		videos.POST("/:hash/transcript", func(c *gin.Context) {
			res, err := h.pipeline.Transcribe(c.Request.Context(), c.Param("hash"))
			respondStage(c, h, res, err)
		})

		videos.GET("/:hash/transcript", func(c *gin.Context) {
			res, err := h.pipeline.Transcript(c.Request.Context(), c.Param("hash"))
			respondStage(c, h, res, err)
		})

		videos.POST("/:hash/safety", func(c *gin.Context) {
			res, err := h.pipeline.Safety(c.Request.Context(), c.Param("hash"))
			respondStage(c, h, res, err)
		})

		videos.POST("/:hash/quality", func(c *gin.Context) {
			res, err := h.pipeline.Quality(c.Request.Context(), c.Param("hash"))
			respondStage(c, h, res, err)
		})

		videos.POST("/:hash/recommendation", func(c *gin.Context) {
			res, err := h.pipeline.Recommend(c.Request.Context(), c.Param("hash"))
			respondStage(c, h, res, err)
		})

		videos.POST("/:hash/enhancements", h.enhance)
	}
}

func (h *Handler) upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	staged, err := os.CreateTemp(h.uploadDir, "upload-*"+filepath.Ext(file.Filename))
	if err != nil {
		h.respondError(c, err)
		return
	}
	path := staged.Name()
	_ = staged.Close()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.log.WarnContext(c.Request.Context(), "failed to remove staged upload", "path", path, "error", err)
		}
	}()
	if err := c.SaveUploadedFile(file, path); err != nil {
		h.respondError(c, err)
		return
	}

	res, err := h.pipeline.Ingest(c.Request.Context(), path, filepath.Base(file.Filename))
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusCreated
	if res.FromCache {
		status = http.StatusOK
	}
	c.JSON(status, stageResponse{FromCache: res.FromCache, Shared: res.Shared, Result: res.Value})
}

func (h *Handler) enhance(c *gin.Context) {
	var body enhanceBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed enhancement request"})
		return
	}
	batch, err := h.pipeline.Enhance(c.Request.Context(), c.Param("hash"), services.EnhanceRequest{
		Scenes: body.Scenes,
		Params: model.GenerationParams{
			AspectRatio:     body.AspectRatio,
			DurationSeconds: body.DurationSeconds,
			Variants:        body.Variants,
		},
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stageResponse{Result: batch})
}

// threshold parses the optional threshold query parameter.
func (h *Handler) threshold(c *gin.Context) (float64, bool) {
	raw := c.Query("threshold")
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be a non-negative number"})
		return 0, false
	}
	return v, true
}

func (h *Handler) sceneArgs(c *gin.Context) (int, float64, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scene index must be an integer"})
		return 0, 0, false
	}
	threshold, ok := h.threshold(c)
	return index, threshold, ok
}
