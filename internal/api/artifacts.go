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
	"net/http"

	"github.com/gin-gonic/gin"
)

// ArtifactRouter sets up GET /artifacts/url?location=gs://..., which returns
// a time-limited signed URL so clients can fetch an artifact straight from
// GCS. Without a signer, as with the local store, it answers 501.
func ArtifactRouter(r *gin.RouterGroup, h *Handler) {
	artifacts := r.Group("/artifacts")
	{
		artifacts.GET("/url", func(c *gin.Context) {
			if h.signer == nil {
				c.JSON(http.StatusNotImplemented, gin.H{"error": "artifact signing is not configured"})
				return
			}
			location := c.Query("location")
			if location == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "location is required"})
				return
			}
			url, err := h.signer.SignedURL(c.Request.Context(), location)
			if err != nil {
				h.respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"url": url})
		})
	}
}
