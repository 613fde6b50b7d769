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

// This file holds the BigQuery SQL used to read back the analysis rows the
// ingestion workflow streams. The table name is formatted in with %s; every
// value supplied by a caller is a named query parameter.
package services

const (
	// QryLatestReport returns the most recent analysis row of one video.
	//
	// Placeholders:
	// - `%s`: The fully qualified name of the report table.
	//
	// Parameters:
	// - `@hash`: The content hash of the video.
	QryLatestReport = "SELECT * FROM `%s` WHERE video_hash = @hash ORDER BY analysed_at DESC LIMIT 1"

	// QryRecentReports lists the newest analysis rows across all videos.
	//
	// Placeholders:
	// - `%s`: The fully qualified name of the report table.
	//
	// Parameters:
	// - `@limit`: The maximum number of rows.
	QryRecentReports = "SELECT * FROM `%s` ORDER BY analysed_at DESC LIMIT @limit"
)
