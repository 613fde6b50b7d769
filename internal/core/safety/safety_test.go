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

package safety_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/safety"
)

type scripted struct {
	mu     sync.Mutex
	scores map[string]int
	err    error
	calls  []safety.Request
}

func (s *scripted) Classify(ctx context.Context, req safety.Request) (*model.ClassifierResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	return &model.ClassifierResult{Score: s.scores[req.Check], Details: "scripted " + req.Check}, nil
}

func (s *scripted) checks() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]bool{}
	for _, c := range s.calls {
		out[c.Check] = true
	}
	return out
}

func frames(n int) []safety.Image {
	out := make([]safety.Image, n)
	for i := range out {
		out[i] = safety.Image{Data: []byte{byte(i)}, MIMEType: "image/jpeg"}
	}
	return out
}

func TestBandsClassify(t *testing.T) {
	b := safety.DefaultBands()
	assert.Equal(t, model.SeveritySafe, b.Classify(100))
	assert.Equal(t, model.SeveritySafe, b.Classify(80))
	assert.Equal(t, model.SeverityWarning, b.Classify(79))
	assert.Equal(t, model.SeverityWarning, b.Classify(60))
	assert.Equal(t, model.SeverityUnsafe, b.Classify(59))

	custom := safety.Bands{Safe: 90, Warning: 50}
	assert.Equal(t, model.SeverityWarning, custom.Classify(80))
	assert.Error(t, safety.Bands{Safe: 50, Warning: 60}.Validate())
}

func TestAggregateTakesMinimum(t *testing.T) {
	score, sev := safety.Aggregate(safety.DefaultBands(), []model.CheckResult{{Score: 95}, {Score: 80}, {Score: 40}})
	assert.Equal(t, 40, score)
	assert.Equal(t, model.SeverityUnsafe, sev)

	score, sev = safety.Aggregate(safety.DefaultBands(), nil)
	assert.Equal(t, 100, score)
	assert.Equal(t, model.SeveritySafe, sev)
}

func TestScanKeywords(t *testing.T) {
	text := "This miracle cream is GUARANTEED to work overnight. Guaranteed!"
	assert.Equal(t, []string{"guaranteed", "guarantee", "miracle", "overnight"}, safety.ScanKeywords(text, safety.DefaultKeywords))
	assert.Empty(t, safety.ScanKeywords("A calm walk in the park.", safety.DefaultKeywords))
	assert.Equal(t, []string{"FDA approved"}, safety.ScanKeywords("fda approved formula", []string{"FDA approved", "fda APPROVED"}))
}

func TestSampleFrames(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24}
	assert.Equal(t, []int{0, 2, 5, 7, 10, 12, 15, 17, 20, 22}, safety.SampleFrames(items, 10))
	assert.Equal(t, items[:4], safety.SampleFrames(items[:4], 10))
	assert.Empty(t, safety.SampleFrames(items, 0))
}

func TestCheckerAggregatesThreeChecks(t *testing.T) {
	cls := &scripted{scores: map[string]int{model.CheckVisual: 95, model.CheckBias: 80, model.CheckClaims: 40}}
	checker := safety.NewChecker(cls)
	checker.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	report, err := checker.Run(context.Background(), "abc", "Our proven formula cures everything.", frames(25))
	require.NoError(t, err)

	assert.Equal(t, 40, report.OverallScore)
	assert.Equal(t, model.SeverityUnsafe, report.OverallSeverity)
	assert.Equal(t, 10, report.FramesAnalyzed)
	require.Len(t, report.Checks, 3)

	claims, ok := report.Check(model.CheckClaims)
	require.True(t, ok)
	assert.Equal(t, []string{"cure", "cures", "proven"}, claims.Keywords)
	assert.Equal(t, model.SeverityUnsafe, claims.Flag)

	bias, _ := report.Check(model.CheckBias)
	assert.Equal(t, model.SeveritySafe, bias.Flag)
	assert.Len(t, cls.calls, 3)
}

func TestClaimsClassifierSkippedWithoutKeywords(t *testing.T) {
	cls := &scripted{scores: map[string]int{model.CheckVisual: 90, model.CheckBias: 85}}
	report, err := safety.NewChecker(cls).Run(context.Background(), "abc", "A quiet afternoon by the lake.", frames(3))
	require.NoError(t, err)

	assert.False(t, cls.checks()[model.CheckClaims])
	claims, _ := report.Check(model.CheckClaims)
	assert.Equal(t, 100, claims.Score)
	assert.Equal(t, "No misleading claim keywords detected", claims.Details)
	assert.Equal(t, 85, report.OverallScore)
}

func TestEmptyInputsPassWithoutCalls(t *testing.T) {
	cls := &scripted{}
	report, err := safety.NewChecker(cls).Run(context.Background(), "abc", "   ", nil)
	require.NoError(t, err)
	assert.Empty(t, cls.calls)
	assert.Equal(t, 100, report.OverallScore)
	visual, _ := report.Check(model.CheckVisual)
	assert.Equal(t, "No frames available for analysis", visual.Details)
}

func TestClassifierFailureFailsRun(t *testing.T) {
	boom := model.NewTransientError("classify", errors.New("503"))
	_, err := safety.NewChecker(&scripted{err: boom}).Run(context.Background(), "abc", "guaranteed", frames(1))
	assert.True(t, model.IsTransient(err))
}

func TestOutOfRangeScoreIsRejected(t *testing.T) {
	cls := &scripted{scores: map[string]int{model.CheckVisual: 140}}
	_, err := safety.NewChecker(cls).Run(context.Background(), "abc", "", frames(1))
	assert.ErrorIs(t, err, model.ErrMalformedResponse)
}
