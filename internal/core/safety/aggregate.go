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

// Package safety combines three independent content checks into one verdict.
//
// The three checks are a visual classification over a sample of keyframes, a
// bias classification over the transcript, and a misleading claims check. The
// claims check first scans the transcript for known keywords and only calls
// the classifier when the scan finds at least one.
//
// The overall score is the minimum of the three check scores, so one severe
// finding dominates the report.
package safety

import (
	"fmt"
	"strings"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// Bands are the lower bounds of the safe and warning severities. Scores
// below Warning are unsafe.
type Bands struct {
	Safe    int
	Warning int
}

// DefaultBands returns safe at 80 and warning at 60.
func DefaultBands() Bands {
	return Bands{Safe: 80, Warning: 60}
}

// Validate checks that the bands are ordered and inside [0,100].
func (b Bands) Validate() error {
	if b.Warning < 0 || b.Safe > 100 || b.Warning > b.Safe {
		return fmt.Errorf("invalid severity bands: safe=%d warning=%d", b.Safe, b.Warning)
	}
	return nil
}

// Classify maps a score to its severity band.
func (b Bands) Classify(score int) model.Severity {
	switch {
	case score >= b.Safe:
		return model.SeveritySafe
	case score >= b.Warning:
		return model.SeverityWarning
	default:
		return model.SeverityUnsafe
	}
}

// Aggregate returns the minimum score across checks and its severity. With no
// checks the result is a perfect score.
func Aggregate(b Bands, checks []model.CheckResult) (int, model.Severity) {
	overall := 100
	for _, c := range checks {
		if c.Score < overall {
			overall = c.Score
		}
	}
	return overall, b.Classify(overall)
}

// DefaultKeywords are the phrases that trigger the misleading claims classifier.
var DefaultKeywords = []string{
	"guaranteed", "guarantee", "cure", "cures", "miracle", "miraculous",
	"100%", "never fails", "always works", "proven", "scientifically proven",
	"FDA approved", "clinically tested", "instant results", "overnight",
	"secret formula", "doctors hate", "one weird trick", "lose weight fast",
}

// ScanKeywords returns the keywords that occur in text, compared case
// insensitively as substrings. The result keeps the order of keywords and
// holds no duplicates.
func ScanKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool, len(keywords))
	var found []string
	for _, k := range keywords {
		lk := strings.ToLower(k)
		if lk == "" || seen[lk] {
			continue
		}
		if strings.Contains(lower, lk) {
			seen[lk] = true
			found = append(found, k)
		}
	}
	return found
}

// SampleFrames spreads at most max picks evenly over items.
func SampleFrames[T any](items []T, max int) []T {
	if max <= 0 {
		return nil
	}
	if len(items) <= max {
		return items
	}
	out := make([]T, 0, max)
	for i := 0; i < max; i++ {
		out = append(out, items[i*len(items)/max])
	}
	return out
}
