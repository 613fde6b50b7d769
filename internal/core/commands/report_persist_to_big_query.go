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

// This file defines the command that persists the analysis of a video to
// BigQuery.
//
// Logic Flow:
//  1. It collects the asset, scene list, transcript and safety report the
//     earlier commands left in the context. Only the asset is required.
//  2. It flattens them into a `model.AnalysisRow`.
//  3. It streams the row through a BigQuery `Inserter`, which maps the
//     struct fields to columns using their `bigquery` tags.
package commands

import (
	goctx "context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// RowInserter is satisfied by *bigquery.Inserter.
type RowInserter interface {
	Put(ctx goctx.Context, src any) error
}

// BigQueryInserter returns the streaming inserter of dataset.table.
func BigQueryInserter(client *bigquery.Client, dataset string, table string) RowInserter {
	return client.Dataset(dataset).Table(table).Inserter()
}

// ReportPersistToBigQuery writes one AnalysisRow per analysed video.
type ReportPersistToBigQuery struct {
	cor.BaseCommand
	inserter RowInserter
	now      func() time.Time
}

func NewReportPersistToBigQuery(name string, inserter RowInserter) *ReportPersistToBigQuery {
	out := &ReportPersistToBigQuery{BaseCommand: *cor.NewBaseCommand(name), inserter: inserter, now: time.Now}
	out.InputParamName = VideoParam
	return out
}

// BuildAnalysisRow flattens the workflow results held by context.
func BuildAnalysisRow(context cor.Context, now time.Time) (*model.AnalysisRow, error) {
	asset, ok := cor.Value[*model.VideoAsset](context, VideoParam)
	if !ok {
		return nil, model.NewInputError("no video to report", nil)
	}
	row := &model.AnalysisRow{
		VideoHash:    asset.Hash,
		OriginalName: asset.OriginalName,
		Duration:     asset.Duration,
		AnalysedAt:   now.UTC(),
	}
	if scenes, ok := cor.Value[*model.SceneList](context, ScenesParam); ok {
		row.SceneCount = len(scenes.Scenes)
	}
	if n, ok := cor.Value[int](context, KeyframesParam); ok {
		row.KeyframeCount = n
	}
	if t, ok := cor.Value[*model.Transcript](context, TranscriptParam); ok {
		row.Language = t.Language
		row.WordCount = t.WordCount
		row.Summary = t.Summary
	}
	if r, ok := cor.Value[*model.SafetyReport](context, SafetyParam); ok {
		row.OverallScore = r.OverallScore
		row.OverallSeverity = string(r.OverallSeverity)
	}
	return row, nil
}

func (s *ReportPersistToBigQuery) Execute(context cor.Context) {
	row, err := BuildAnalysisRow(context, s.now())
	if err != nil {
		s.Fail(context, err)
		return
	}
	ctx := context.GetContext()
	if err := s.inserter.Put(ctx, row); err != nil {
		s.Fail(context, cloud.Classify(ctx, "bigquery insert", fmt.Errorf("report for %s: %w", row.VideoHash, err)))
		return
	}
	slog.InfoContext(ctx, "persisted analysis report", "hash", row.VideoHash, "scenes", row.SceneCount, "severity", row.OverallSeverity)
	context.Add(ReportParam, row)
	s.Succeed(context, row)
}
