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

package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// retryableCodes are HTTP statuses a Google API returns for conditions that
// clear up on their own.
var retryableCodes = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// StatusCode extracts the HTTP status from a genai or googleapi error, or 0.
func StatusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return 0
}

// Classify maps a collaborator error onto the pipeline's taxonomy.
//
//   - 408, 429 and 5xx, and an expired per-call deadline, become TransientError.
//   - 400 becomes ErrInvalidPrompt, which is terminal.
//   - Cancellation of the caller's context passes through unchanged.
//   - Everything else is returned wrapped with op.
func Classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if model.IsTransient(err) || model.IsInput(err) {
		return err
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := StatusCode(err)
	switch {
	case retryableCodes[code]:
		return model.NewTransientError(op, err)
	case code == http.StatusBadRequest:
		return fmt.Errorf("%s: %w: %v", op, model.ErrInvalidPrompt, err)
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewTransientError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
