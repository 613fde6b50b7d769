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

// This file defines the ReportService, which reads back the analysis rows
// the ingestion workflow writes to BigQuery.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// ReportService queries the report table.
type ReportService struct {
	BigqueryClient *bigquery.Client
	DatasetName    string
	ReportTable    string
}

// GetFQN returns the report table name in the dotted form standard SQL expects,
// e.g. `gcp-project-id.media_ds.video_reports`.
func (s *ReportService) GetFQN() string {
	fqn := s.BigqueryClient.Dataset(s.DatasetName).Table(s.ReportTable).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", 1)
}

// Latest returns the newest analysis row of the video.
//
// Inputs:
//   - ctx: The context for the request.
//   - hash: The content hash of the video.
//
// Outputs:
//   - *model.AnalysisRow: The row.
//   - error: InputError("report not found") when the video was never reported.
func (s *ReportService) Latest(ctx context.Context, hash string) (*model.AnalysisRow, error) {
	q := s.BigqueryClient.Query(fmt.Sprintf(QryLatestReport, s.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{{Name: "hash", Value: hash}}
	rows, err := s.read(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, model.NewInputError("report not found", nil)
	}
	return &rows[0], nil
}

// Recent returns up to limit rows, newest first.
func (s *ReportService) Recent(ctx context.Context, limit int) ([]model.AnalysisRow, error) {
	q := s.BigqueryClient.Query(fmt.Sprintf(QryRecentReports, s.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{{Name: "limit", Value: limit}}
	return s.read(ctx, q)
}

func (s *ReportService) read(ctx context.Context, q *bigquery.Query) ([]model.AnalysisRow, error) {
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("report query: %w", err)
	}
	out := make([]model.AnalysisRow, 0)
	for {
		var row model.AnalysisRow
		err := itr.Next(&row)
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("report query: %w", err)
		}
		out = append(out, row)
	}
}
