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
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type event int

const (
	eventHit event = iota
	eventMiss
	eventComputeSuccess
	eventComputeError
	eventAnomaly
	eventShared
	eventRetry
)

// StageStats counts what the orchestrator did for one stage since start up.
type StageStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Computes  int64 `json:"computes"`
	Failures  int64 `json:"failures"`
	Anomalies int64 `json:"anomalies"`
	Shared    int64 `json:"shared"`
	Retries   int64 `json:"retries"`
}

type stats struct {
	mu     sync.Mutex
	stages map[string]*StageStats
}

func (s *stats) add(stage string, e event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[stage]
	if !ok {
		st = &StageStats{}
		s.stages[stage] = st
	}
	switch e {
	case eventHit:
		st.Hits++
	case eventMiss:
		st.Misses++
	case eventComputeSuccess:
		st.Computes++
	case eventComputeError:
		st.Failures++
	case eventAnomaly:
		st.Anomalies++
	case eventShared:
		st.Shared++
	case eventRetry:
		st.Retries++
	}
}

func (s *stats) snapshot() map[string]StageStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]StageStats, len(s.stages))
	for k, v := range s.stages {
		out[k] = *v
	}
	return out
}

// counters are the OpenTelemetry instruments matching the in-process stats.
type counters struct {
	byEvent map[event]metric.Int64Counter
}

func newCounters() counters {
	meter := otel.Meter("github.com/jaycherian/gcp-go-media-pipeline/orchestrator")
	names := map[event]string{
		eventHit:            "orchestrator.cache.hit",
		eventMiss:           "orchestrator.cache.miss",
		eventComputeSuccess: "orchestrator.compute.success",
		eventComputeError:   "orchestrator.compute.error",
		eventAnomaly:        "orchestrator.cache.anomaly",
		eventShared:         "orchestrator.flight.shared",
		eventRetry:          "orchestrator.compute.retry",
	}
	c := counters{byEvent: make(map[event]metric.Int64Counter, len(names))}
	for e, name := range names {
		counter, err := meter.Int64Counter(name)
		if err != nil {
			log.Printf("error creating counter %s: %v\n", name, err)
			continue
		}
		c.byEvent[e] = counter
	}
	return c
}

func (c counters) add(ctx context.Context, stage string, e event) {
	if counter, ok := c.byEvent[e]; ok {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}
