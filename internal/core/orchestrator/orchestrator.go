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

// Package orchestrator implements the get-or-compute contract every stage of
// the pipeline is built on.
//
// Logic Flow of Obtain:
//  1. Build the cache key from the stage name, the owning asset's hash and a
//     fingerprint of the parameters.
//  2. Probe the store. A hit returns the published record with FromCache set
//     and never calls the compute function.
//  3. A miss joins the single-flight group for the key. The first caller
//     becomes the leader; later callers for the same key wait for it.
//  4. The leader takes the store's per-key lock when the store offers one,
//     re-probes, and only then runs the compute function under the retry
//     policy. A success is published; a failure publishes nothing, so the
//     key stays absent and a later call starts from scratch.
//
// The leader runs on a context detached from its caller's cancellation, so a
// disconnecting client does not abort work other waiters depend on.
// Compute functions resolve their prerequisites by calling Obtain themselves.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cache"
)

// Orchestrator executes stages against one artifact store. Construct it once
// at process start and share it between requests.
type Orchestrator struct {
	store       cache.Store
	retry       RetryPolicy
	lockTimeout time.Duration
	group       singleflight.Group
	log         *slog.Logger
	tracer      trace.Tracer
	counters    counters
	stats       *stats
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithLockTimeout bounds how long a leader waits for the store's cross-process lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.lockTimeout = d }
}

// New creates an orchestrator over store.
func New(store cache.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		retry:       DefaultRetryPolicy(),
		lockTimeout: 15 * time.Minute,
		log:         slog.Default(),
		tracer:      otel.Tracer("github.com/jaycherian/gcp-go-media-pipeline/orchestrator"),
		counters:    newCounters(),
		stats:       &stats{stages: make(map[string]*StageStats)},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Store returns the underlying artifact store.
func (o *Orchestrator) Store() cache.Store {
	return o.store
}

// Stats returns a copy of the per-stage counters.
func (o *Orchestrator) Stats() map[string]StageStats {
	return o.stats.snapshot()
}

// Result is what Obtain and Lookup return.
type Result[T any] struct {
	Value     T
	Entry     *cache.Entry
	FromCache bool // The record was already published before this call.
	Shared    bool // The call waited on another caller's computation.
}

// Output is what a compute function produces: the record to publish and
// the files that go with it.
type Output[T any] struct {
	Value T
	Files []cache.File
}

// ComputeFunc produces a stage result on a cache miss.
type ComputeFunc[T any] func(ctx context.Context) (*Output[T], error)

// Obtain returns the cached result for (stage, owner, params), computing and
// publishing it on a miss. At most one compute runs per key at a time.
func Obtain[T any](ctx context.Context, o *Orchestrator, stage string, owner string, params any, compute ComputeFunc[T]) (*Result[T], error) {
	key, err := cache.NewKey(stage, owner, params)
	if err != nil {
		return nil, err
	}
	ctx, span := o.tracer.Start(ctx, "obtain."+stage, trace.WithAttributes(attribute.String("cache.key", key.String())))
	defer span.End()

	if res, ok := hit[T](ctx, o, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		span.SetStatus(codes.Ok, "cache hit")
		return res, nil
	}
	o.record(ctx, stage, eventMiss)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	ch := o.group.DoChan(key.ID(), func() (any, error) {
		return lead(context.WithoutCancel(ctx), o, key, compute)
	})

	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "caller cancelled while waiting")
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			span.RecordError(r.Err)
			span.SetStatus(codes.Error, "stage failed")
			return nil, r.Err
		}
		f := r.Val.(*flight)
		res := &Result[T]{Entry: f.entry, FromCache: f.fromCache, Shared: r.Shared}
		if err := f.entry.Decode(&res.Value); err != nil {
			span.SetStatus(codes.Error, "published record unreadable")
			return nil, err
		}
		if r.Shared {
			o.record(ctx, stage, eventShared)
		}
		span.SetStatus(codes.Ok, "computed")
		return res, nil
	}
}

// Lookup returns a published result without ever computing it. A key that
// is absent or corrupt reports cache.ErrNotFound.
func Lookup[T any](ctx context.Context, o *Orchestrator, stage string, owner string, params any) (*Result[T], error) {
	key, err := cache.NewKey(stage, owner, params)
	if err != nil {
		return nil, err
	}
	if res, ok := hit[T](ctx, o, key); ok {
		return res, nil
	}
	return nil, fmt.Errorf("%w: %s", cache.ErrNotFound, key)
}

// Put publishes value directly, for records such as batch run summaries that
// are results of other stages rather than computations of their own.
func Put[T any](ctx context.Context, o *Orchestrator, stage string, owner string, params any, value T) (*cache.Entry, error) {
	key, err := cache.NewKey(stage, owner, params)
	if err != nil {
		return nil, err
	}
	return o.store.Publish(ctx, key, &cache.Artifact{Record: value})
}

type flight struct {
	entry     *cache.Entry
	fromCache bool
}

func hit[T any](ctx context.Context, o *Orchestrator, key cache.Key) (*Result[T], bool) {
	entry := o.fetch(ctx, key, true)
	if entry == nil {
		return nil, false
	}
	var v T
	if err := entry.Decode(&v); err != nil {
		o.anomaly(ctx, key, err)
		return nil, false
	}
	o.record(ctx, key.Stage, eventHit)
	return &Result[T]{Value: v, Entry: entry, FromCache: true}, true
}

// fetch returns the committed entry for key, or nil when the key should be
// treated as a miss. Corrupt entries count as misses so they get recomputed
// and republished; report is false on the leader's re-probe, whose caller
// already counted the anomaly.
func (o *Orchestrator) fetch(ctx context.Context, key cache.Key, report bool) *cache.Entry {
	present, err := o.store.Probe(ctx, key)
	if err != nil {
		o.log.WarnContext(ctx, "cache probe failed, treating as miss", "key", key.String(), "error", err)
		return nil
	}
	if !present {
		return nil
	}
	entry, err := o.store.Fetch(ctx, key)
	switch {
	case err == nil:
		return entry
	case errors.Is(err, cache.ErrNotFound):
		return nil
	case errors.Is(err, cache.ErrCorrupt):
		if report {
			o.anomaly(ctx, key, err)
		}
		return nil
	default:
		o.log.WarnContext(ctx, "cache fetch failed, treating as miss", "key", key.String(), "error", err)
		return nil
	}
}

func (o *Orchestrator) anomaly(ctx context.Context, key cache.Key, err error) {
	o.record(ctx, key.Stage, eventAnomaly)
	o.log.WarnContext(ctx, "cache integrity anomaly, recomputing", "key", key.String(), "error", err)
}

// lead is run by exactly one caller per key at a time.
func lead[T any](ctx context.Context, o *Orchestrator, key cache.Key, compute ComputeFunc[T]) (f *flight, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stage %s panicked: %v", key.Stage, p)
			o.record(ctx, key.Stage, eventComputeError)
		}
	}()

	if locker, ok := o.store.(cache.Locker); ok {
		lockCtx, cancel := context.WithTimeout(ctx, o.lockTimeout)
		unlock, err := locker.Lock(lockCtx, key)
		cancel()
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := unlock(); err != nil {
				o.log.WarnContext(ctx, "failed to release stage lock", "key", key.String(), "error", err)
			}
		}()
	}

	// Another process may have published while this one waited for the lock.
	if entry := o.fetch(ctx, key, false); entry != nil {
		var value T
		if entry.Decode(&value) == nil {
			o.record(ctx, key.Stage, eventHit)
			return &flight{entry: entry, fromCache: true}, nil
		}
	}

	started := time.Now()
	out, err := Retry(ctx, o.retry, func(ctx context.Context) (*Output[T], error) {
		return compute(ctx)
	}, func(err error, wait time.Duration) {
		o.record(ctx, key.Stage, eventRetry)
		o.log.WarnContext(ctx, "retrying stage after transient failure", "key", key.String(), "wait", wait, "error", err)
	})
	if err != nil {
		o.record(ctx, key.Stage, eventComputeError)
		o.log.ErrorContext(ctx, "stage failed", "key", key.String(), "error", err)
		return nil, err
	}
	if out == nil {
		o.record(ctx, key.Stage, eventComputeError)
		return nil, fmt.Errorf("stage %s produced no output", key.Stage)
	}

	entry, err := o.store.Publish(ctx, key, &cache.Artifact{Record: out.Value, Files: out.Files})
	if err != nil {
		o.record(ctx, key.Stage, eventComputeError)
		return nil, fmt.Errorf("failed to publish %s: %w", key, err)
	}
	o.record(ctx, key.Stage, eventComputeSuccess)
	o.log.InfoContext(ctx, "stage computed", "key", key.String(), "elapsed", time.Since(started))
	return &flight{entry: entry}, nil
}

func (o *Orchestrator) record(ctx context.Context, stage string, e event) {
	o.stats.add(stage, e)
	o.counters.add(ctx, stage, e)
}
