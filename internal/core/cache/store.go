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

// Package cache implements the durable artifact store that backs every stage
// of the pipeline. An entry is made of a JSON record plus any number of named
// files, and is addressed by a Key.
//
// Publishing is atomic with respect to concurrent probes: every file is
// written and flushed first, and the entry's manifest, which is the only
// thing Probe looks at, is committed last in a single atomic step. A crash in
// between leaves no manifest, so the key still reports absent.
//
// Two implementations are provided:
//   - LocalStore: a directory tree on local disk, using renameio for atomic
//     replacement and flock for cross-process per-key locks.
//   - GCSStore: a bucket prefix in Cloud Storage, where object writes are
//     atomic on Close, manifests are committed under generation
//     preconditions and per-key locks are lease objects.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

const manifestName = "manifest.json"

var (
	// ErrNotFound is returned by Fetch when the key has never been published.
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorrupt is returned by Fetch when an entry is present but its
	// manifest or files are unreadable or do not match.
	ErrCorrupt = errors.New("cache entry corrupt")
)

// File is one file to publish with an entry. Exactly one of Path or Data
// should be set; Path is copied from local disk.
type File struct {
	Name string
	Path string
	Data []byte
}

// Artifact is what a stage hands to Publish.
type Artifact struct {
	Record any
	Files  []File
}

// FileRef describes a published file.
type FileRef struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
}

// ArtifactRef converts the reference into the model form returned to callers.
func (f FileRef) ArtifactRef() *model.ArtifactRef {
	return &model.ArtifactRef{Name: f.Name, Location: f.Location, Size: f.Size}
}

// Entry is the manifest of one published key. It is the only durable record
// that a stage has completed.
type Entry struct {
	Key       Key             `json:"key"`
	ID        string          `json:"id"`
	Location  string          `json:"location"`
	Record    json.RawMessage `json:"record,omitempty"`
	Files     []FileRef       `json:"files,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// File looks up a published file by name.
func (e *Entry) File(name string) (FileRef, bool) {
	for _, f := range e.Files {
		if f.Name == name {
			return f, true
		}
	}
	return FileRef{}, false
}

// Decode unmarshals the entry's record into v. An empty or undecodable
// record is reported as ErrCorrupt.
func (e *Entry) Decode(v any) error {
	if len(e.Record) == 0 {
		return fmt.Errorf("%w: %s has no record", ErrCorrupt, e.Key)
	}
	if err := json.Unmarshal(e.Record, v); err != nil {
		return fmt.Errorf("%w: %s record: %v", ErrCorrupt, e.Key, err)
	}
	return nil
}

// Store is the contract every artifact store fulfils.
type Store interface {
	// Probe reports whether a committed entry exists for key.
	Probe(ctx context.Context, key Key) (bool, error)
	// Fetch returns the entry for key, ErrNotFound or ErrCorrupt.
	Fetch(ctx context.Context, key Key) (*Entry, error)
	// Publish commits artifact under key, replacing a previous entry that is
	// corrupt. A store shared between processes may instead return the entry
	// another process committed first.
	Publish(ctx context.Context, key Key, artifact *Artifact) (*Entry, error)
	// Open streams a published file.
	Open(ctx context.Context, ref FileRef) (io.ReadCloser, error)
}

// Locker is implemented by stores that can serialise work on a key across
// processes sharing the same store.
type Locker interface {
	Lock(ctx context.Context, key Key) (unlock func() error, err error)
}

// LocalPather is implemented by stores whose files can be read directly from
// local disk without a download.
type LocalPather interface {
	LocalPath(ref FileRef) (string, bool)
}

// ReadAll reads a whole published file into memory.
func ReadAll(ctx context.Context, s Store, ref FileRef) ([]byte, error) {
	rc, err := s.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func validateArtifact(a *Artifact) error {
	if a == nil {
		return errors.New("nil artifact")
	}
	seen := make(map[string]bool, len(a.Files))
	for _, f := range a.Files {
		if err := validateFileName(f.Name); err != nil {
			return err
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate artifact file %q", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

func validateFileName(name string) error {
	switch {
	case name == "":
		return errors.New("artifact file name is empty")
	case name == manifestName:
		return fmt.Errorf("artifact file name %q is reserved", name)
	case strings.HasPrefix(name, "/"), path.Clean(name) != name, strings.HasPrefix(name, ".."):
		return fmt.Errorf("artifact file name %q must be a clean relative path", name)
	}
	return nil
}

func encodeRecord(record any) (json.RawMessage, error) {
	if record == nil {
		return nil, nil
	}
	b, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact record: %w", err)
	}
	return b, nil
}

// copyHashed copies f into w and returns the byte count and hex SHA-256.
func copyHashed(w io.Writer, f File) (int64, string, error) {
	var src io.Reader
	if f.Path != "" {
		in, err := os.Open(f.Path)
		if err != nil {
			return 0, "", fmt.Errorf("failed to open artifact source %s: %w", f.Path, err)
		}
		defer in.Close()
		src = in
	} else {
		src = bytes.NewReader(f.Data)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), src)
	if err != nil {
		return n, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func decodeManifest(key Key, b []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: %s manifest: %v", ErrCorrupt, key, err)
	}
	if e.Key != key {
		return nil, fmt.Errorf("%w: %s manifest belongs to %s", ErrCorrupt, key, e.Key)
	}
	return &e, nil
}
