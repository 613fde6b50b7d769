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

package test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cache"
)

// MemoryStore is a cache.Store held in memory. It has no local paths, so
// everything reading from it goes through Open, the way GCS does.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*cache.Entry
	blobs      map[string][]byte
	corrupt    map[string]bool
	publishErr error
	publishes  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*cache.Entry),
		blobs:   make(map[string][]byte),
		corrupt: make(map[string]bool),
	}
}

// FailPublishes makes every Publish return err until it is called with nil.
func (s *MemoryStore) FailPublishes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishErr = err
}

// Corrupt makes the next Fetch of key report cache.ErrCorrupt.
func (s *MemoryStore) Corrupt(key cache.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt[key.ID()] = true
}

// Publishes is the number of successful publishes.
func (s *MemoryStore) Publishes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishes
}

// Entries is the number of committed keys.
func (s *MemoryStore) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Probe(_ context.Context, key cache.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key.ID()]
	return ok, nil
}

func (s *MemoryStore) Fetch(_ context.Context, key cache.Key) (*cache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := key.ID()
	if s.corrupt[id] {
		delete(s.corrupt, id)
		return nil, fmt.Errorf("%w: %s", cache.ErrCorrupt, key)
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, cache.ErrNotFound
	}
	out := *e
	out.Files = append([]cache.FileRef(nil), e.Files...)
	return &out, nil
}

func (s *MemoryStore) Publish(ctx context.Context, key cache.Key, artifact *cache.Artifact) (*cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	err := s.publishErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	entry := &cache.Entry{
		Key:       key,
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	entry.Location = "mem://" + path.Join(key.Path(), entry.ID)
	if artifact.Record != nil {
		b, err := json.Marshal(artifact.Record)
		if err != nil {
			return nil, err
		}
		entry.Record = b
	}
	blobs := make(map[string][]byte, len(artifact.Files))
	for _, f := range artifact.Files {
		data := f.Data
		if f.Path != "" {
			if data, err = os.ReadFile(f.Path); err != nil {
				return nil, err
			}
		}
		sum := sha256.Sum256(data)
		ref := cache.FileRef{
			Name:     f.Name,
			Location: entry.Location + "/" + f.Name,
			Size:     int64(len(data)),
			SHA256:   hex.EncodeToString(sum[:]),
		}
		blobs[ref.Location] = append([]byte(nil), data...)
		entry.Files = append(entry.Files, ref)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for loc, b := range blobs {
		s.blobs[loc] = b
	}
	s.entries[key.ID()] = entry
	s.publishes++
	out := *entry
	return &out, nil
}

func (s *MemoryStore) Open(_ context.Context, ref cache.FileRef) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[ref.Location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cache.ErrNotFound, ref.Location)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}
