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

package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// Image is an encoded keyframe handed to the visual classifier.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is one classification call. Check names which of the three checks
// is asking; Keywords is only set for the claims check.
type Request struct {
	Check    string
	Images   []Image
	Text     string
	Keywords []string
}

// Classifier scores content from 0 (unsafe) to 100 (safe).
type Classifier interface {
	Classify(ctx context.Context, req Request) (*model.ClassifierResult, error)
}

// Checker runs the three checks for one video.
type Checker struct {
	Classifier Classifier
	Bands      Bands
	Keywords   []string
	MaxFrames  int
	Now        func() time.Time
}

// NewChecker returns a checker with the default bands, keywords and a ten
// frame sample.
func NewChecker(c Classifier) *Checker {
	return &Checker{
		Classifier: c,
		Bands:      DefaultBands(),
		Keywords:   DefaultKeywords,
		MaxFrames:  10,
		Now:        time.Now,
	}
}

// Run executes the checks concurrently and aggregates them. Any classifier
// error fails the whole run so that no partial report is ever cached.
func (c *Checker) Run(ctx context.Context, videoHash string, transcript string, frames []Image) (*model.SafetyReport, error) {
	if err := c.Bands.Validate(); err != nil {
		return nil, err
	}
	sampled := SampleFrames(frames, c.MaxFrames)
	results := make([]model.CheckResult, 3)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		results[0], err = c.visual(ctx, sampled)
		return err
	})
	g.Go(func() (err error) {
		results[1], err = c.bias(ctx, transcript)
		return err
	})
	g.Go(func() (err error) {
		results[2], err = c.claims(ctx, transcript)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	score, severity := Aggregate(c.Bands, results)
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return &model.SafetyReport{
		VideoHash:       videoHash,
		Checks:          results,
		OverallScore:    score,
		OverallSeverity: severity,
		FramesAnalyzed:  len(sampled),
		CheckedAt:       now().UTC(),
	}, nil
}

func (c *Checker) visual(ctx context.Context, frames []Image) (model.CheckResult, error) {
	if len(frames) == 0 {
		return c.pass(model.CheckVisual, "No frames available for analysis"), nil
	}
	return c.classify(ctx, Request{Check: model.CheckVisual, Images: frames})
}

func (c *Checker) bias(ctx context.Context, transcript string) (model.CheckResult, error) {
	if strings.TrimSpace(transcript) == "" {
		return c.pass(model.CheckBias, "No transcript to analyze"), nil
	}
	return c.classify(ctx, Request{Check: model.CheckBias, Text: transcript})
}

func (c *Checker) claims(ctx context.Context, transcript string) (model.CheckResult, error) {
	if strings.TrimSpace(transcript) == "" {
		return c.pass(model.CheckClaims, "No transcript to analyze"), nil
	}
	found := ScanKeywords(transcript, c.Keywords)
	if len(found) == 0 {
		return c.pass(model.CheckClaims, "No misleading claim keywords detected"), nil
	}
	res, err := c.classify(ctx, Request{Check: model.CheckClaims, Text: transcript, Keywords: found})
	res.Keywords = found
	return res, err
}

func (c *Checker) pass(name, details string) model.CheckResult {
	return model.CheckResult{Name: name, Score: 100, Flag: c.Bands.Classify(100), Details: details, Issues: []string{}}
}

func (c *Checker) classify(ctx context.Context, req Request) (model.CheckResult, error) {
	if c.Classifier == nil {
		return model.CheckResult{Name: req.Check}, fmt.Errorf("no classifier configured for %s", req.Check)
	}
	out, err := c.Classifier.Classify(ctx, req)
	if err != nil {
		return model.CheckResult{Name: req.Check}, fmt.Errorf("%s check failed: %w", req.Check, err)
	}
	if out == nil || out.Score < 0 || out.Score > 100 {
		return model.CheckResult{Name: req.Check}, model.NewTransientError(req.Check,
			fmt.Errorf("%w: score out of range", model.ErrMalformedResponse))
	}
	issues := out.Issues
	if issues == nil {
		issues = []string{}
	}
	return model.CheckResult{
		Name:    req.Check,
		Score:   out.Score,
		Flag:    c.Bands.Classify(out.Score),
		Details: out.Details,
		Issues:  issues,
	}, nil
}
