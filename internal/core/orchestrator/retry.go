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

package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// RetryPolicy bounds how a compute function is retried. Only errors that
// carry a model.TransientError are retried; everything else stops at once.
type RetryPolicy struct {
	MaxAttempts     uint          // Total attempts including the first; 1 disables retries.
	InitialInterval time.Duration // Wait before the second attempt.
	MaxInterval     time.Duration // Upper bound for a single wait.
	Multiplier      float64       // Growth factor between waits.
	MaxElapsed      time.Duration // Optional bound on the total time spent retrying.
}

// DefaultRetryPolicy mirrors the collaborator guidance of three attempts
// with exponential waits starting at two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	return b
}

// Retry runs op under the policy. notify, when set, is called before every
// wait with the error that triggered it.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error), notify func(error, time.Duration)) (T, error) {
	if p.MaxAttempts <= 1 {
		return op(ctx)
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(p.MaxAttempts),
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}

	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil && !model.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return v, err
}
