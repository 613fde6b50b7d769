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

// Package model defines the data structures shared by every stage of the
// media pipeline. This file holds the error taxonomy used to decide whether a
// failure is surfaced to the caller as-is or retried by the orchestrator.
//
// Taxonomy:
//   - InputError: a bad or missing input (corrupt video, transcript not yet
//     produced). Terminal; never retried, never cached.
//   - TransientError: a collaborator failure that may succeed on a later
//     attempt (rate limit, timeout, 5xx). Retried with backoff.
//
// Cache integrity anomalies are defined by the cache package, and partial
// batch failures are recorded per job in an EnhancementBatch.
package model

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptInput      = errors.New("corrupt input")
	ErrMalformedResponse = errors.New("malformed collaborator response")
	ErrInvalidPrompt     = errors.New("invalid prompt")
	// ErrOperationTimeout is a long running operation that did not finish in
	// time. It is terminal: restarting would start a new billable operation.
	ErrOperationTimeout = errors.New("long running operation timed out")
)

// InputError marks a failure caused by the request itself. The Reason is
// safe to return to an API client.
type InputError struct {
	Reason string
	Err    error
}

// NewInputError builds an InputError with an optional cause.
func NewInputError(reason string, err error) *InputError {
	return &InputError{Reason: reason, Err: err}
}

func (e *InputError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("input error: %s", e.Reason)
	}
	return fmt.Sprintf("input error: %s: %v", e.Reason, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// TransientError wraps a collaborator failure that is worth retrying.
type TransientError struct {
	Op  string
	Err error
}

// NewTransientError wraps err as retryable for the named operation.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether any error in err's chain is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsInput reports whether any error in err's chain is an InputError.
func IsInput(err error) bool {
	var in *InputError
	return errors.As(err, &in)
}

// AsInput returns the first InputError in err's chain.
func AsInput(err error) (*InputError, bool) {
	var in *InputError
	if errors.As(err, &in) {
		return in, true
	}
	return nil, false
}
