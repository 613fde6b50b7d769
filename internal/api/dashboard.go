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
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultReportLimit = 20

// Dashboard configures the statistics and reporting routes.
//
// This function defines the following endpoints:
//   - GET /stats: Per stage cache hits, misses, computes, failures, anomalies,
//     shared flights and retries since the process started.
//   - GET /reports?limit=: The newest analysis rows in BigQuery.
//   - GET /videos/:hash/report: The newest analysis row of one video.
//
// The report routes answer 501 when no BigQuery dataset is configured.
func Dashboard(r *gin.RouterGroup, h *Handler) {
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"stages": h.pipeline.Stats()})
	})

	r.GET("/reports", func(c *gin.Context) {
		if !h.reportsConfigured(c) {
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultReportLimit)))
		if err != nil || limit <= 0 {
			limit = defaultReportLimit
		}
		rows, err := h.reports.Recent(c.Request.Context(), limit)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	})

	r.GET("/videos/:hash/report", func(c *gin.Context) {
		if !h.reportsConfigured(c) {
			return
		}
		row, err := h.reports.Latest(c.Request.Context(), c.Param("hash"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	})
}

func (h *Handler) reportsConfigured(c *gin.Context) bool {
	if h.reports == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reporting is not configured"})
		return false
	}
	return true
}
