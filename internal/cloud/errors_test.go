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

package cloud_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

func TestClassify(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
	}{
		{name: "rate limited", err: genai.APIError{Code: http.StatusTooManyRequests}, transient: true},
		{name: "unavailable", err: fmt.Errorf("call: %w", genai.APIError{Code: http.StatusServiceUnavailable}), transient: true},
		{name: "googleapi gateway timeout", err: &googleapi.Error{Code: http.StatusGatewayTimeout}, transient: true},
		{name: "bad request", err: genai.APIError{Code: http.StatusBadRequest}, invalid: true},
		{name: "deadline", err: context.DeadlineExceeded, transient: true},
		{name: "forbidden", err: &googleapi.Error{Code: http.StatusForbidden}},
		{name: "plain", err: errors.New("disk full")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cloud.Classify(ctx, "op", tt.err)
			assert.Error(t, err)
			assert.Equal(t, tt.transient, model.IsTransient(err))
			assert.Equal(t, tt.invalid, errors.Is(err, model.ErrInvalidPrompt))
			assert.ErrorContains(t, err, tt.err.Error())
		})
	}
}

func TestClassifyPassesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cloud.Classify(ctx, "op", context.Canceled)
	assert.Equal(t, context.Canceled, err)
}

func TestClassifyKeepsTaxonomy(t *testing.T) {
	in := model.NewInputError("not a video", model.ErrUnsupportedFormat)
	assert.Same(t, in, cloud.Classify(context.Background(), "op", in))
	assert.NoError(t, cloud.Classify(context.Background(), "op", nil))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 429, cloud.StatusCode(genai.APIError{Code: 429}))
	assert.Equal(t, 500, cloud.StatusCode(&genai.APIError{Code: 500}))
	assert.Equal(t, 404, cloud.StatusCode(fmt.Errorf("x: %w", &googleapi.Error{Code: 404})))
	assert.Equal(t, 0, cloud.StatusCode(errors.New("x")))
}
