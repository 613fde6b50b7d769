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

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

const (
	locksDir         = ".locks"
	generationPrefix = "g-"
)

// LocalStore keeps entries in a directory tree:
//
//	<root>/<owner>/<stage>/<fingerprint>/manifest.json
//	<root>/<owner>/<stage>/<fingerprint>/g-<uuid>/<files...>
//
// Each publish writes its files into a fresh generation directory, so a
// replacement never touches files an older manifest still points at.
type LocalStore struct {
	root            string
	verifyChecksums bool
	lockPoll        time.Duration
	now             func() time.Time
	log             *slog.Logger
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithChecksumVerification makes Fetch re-hash every file. Sizes are always checked.
func WithChecksumVerification(enabled bool) LocalOption {
	return func(s *LocalStore) { s.verifyChecksums = enabled }
}

// WithLockPollInterval sets how often a blocked Lock retries the file lock.
func WithLockPollInterval(d time.Duration) LocalOption {
	return func(s *LocalStore) { s.lockPoll = d }
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) LocalOption {
	return func(s *LocalStore) { s.now = now }
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) LocalOption {
	return func(s *LocalStore) { s.log = l }
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string, opts ...LocalOption) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	s := &LocalStore{root: abs, lockPoll: 50 * time.Millisecond, now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Join(abs, locksDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root %s: %w", abs, err)
	}
	return s, nil
}

// Root returns the absolute store directory.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) entryDir(key Key) string {
	return filepath.Join(s.root, filepath.FromSlash(key.Path()))
}

func (s *LocalStore) manifestPath(key Key) string {
	return filepath.Join(s.entryDir(key), manifestName)
}

func (s *LocalStore) Probe(_ context.Context, key Key) (bool, error) {
	_, err := os.Stat(s.manifestPath(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *LocalStore) Fetch(_ context.Context, key Key) (*Entry, error) {
	b, err := os.ReadFile(s.manifestPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	entry, err := decodeManifest(key, b)
	if err != nil {
		return nil, err
	}
	for _, f := range entry.Files {
		if err := s.verify(f); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
		}
	}
	return entry, nil
}

func (s *LocalStore) verify(f FileRef) error {
	if !s.within(f.Location) {
		return fmt.Errorf("file %s is outside the store", f.Name)
	}
	info, err := os.Stat(f.Location)
	if err != nil {
		return err
	}
	if info.Size() != f.Size {
		return fmt.Errorf("file %s has %d bytes, manifest says %d", f.Name, info.Size(), f.Size)
	}
	if !s.verifyChecksums {
		return nil
	}
	in, err := os.Open(f.Location)
	if err != nil {
		return err
	}
	defer in.Close()
	h := sha256.New()
	if _, err := io.Copy(h, in); err != nil {
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != f.SHA256 {
		return fmt.Errorf("file %s checksum mismatch", f.Name)
	}
	return nil
}

// Publish writes every file of the artifact into a new generation directory
// and then atomically replaces the manifest.
func (s *LocalStore) Publish(ctx context.Context, key Key, artifact *Artifact) (*Entry, error) {
	if err := validateArtifact(artifact); err != nil {
		return nil, err
	}
	record, err := encodeRecord(artifact.Record)
	if err != nil {
		return nil, err
	}

	genDir := filepath.Join(s.entryDir(key), generationPrefix+uuid.NewString())
	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create entry directory for %s: %w", key, err)
	}

	entry := &Entry{
		Key:       key,
		ID:        key.ID(),
		Location:  genDir,
		Record:    record,
		Files:     make([]FileRef, 0, len(artifact.Files)),
		CreatedAt: s.now().UTC(),
	}
	for _, f := range artifact.Files {
		if err := ctx.Err(); err != nil {
			_ = os.RemoveAll(genDir)
			return nil, err
		}
		ref, err := writeAtomic(filepath.Join(genDir, filepath.FromSlash(f.Name)), f)
		if err != nil {
			_ = os.RemoveAll(genDir)
			return nil, fmt.Errorf("failed to write %s for %s: %w", f.Name, key, err)
		}
		entry.Files = append(entry.Files, ref)
	}

	manifest, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		_ = os.RemoveAll(genDir)
		return nil, err
	}
	if err := renameio.WriteFile(s.manifestPath(key), manifest, 0o644); err != nil {
		_ = os.RemoveAll(genDir)
		return nil, fmt.Errorf("failed to commit manifest for %s: %w", key, err)
	}
	s.log.DebugContext(ctx, "published cache entry", "key", key.String(), "files", len(entry.Files))
	return entry, nil
}

func writeAtomic(dst string, f File) (FileRef, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return FileRef{}, err
	}
	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return FileRef{}, err
	}
	defer pending.Cleanup()

	n, sum, err := copyHashed(pending, f)
	if err != nil {
		return FileRef{}, err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return FileRef{}, err
	}
	return FileRef{Name: f.Name, Location: dst, Size: n, SHA256: sum}, nil
}

func (s *LocalStore) Open(_ context.Context, ref FileRef) (io.ReadCloser, error) {
	if !s.within(ref.Location) {
		return nil, fmt.Errorf("artifact %s is outside the store", ref.Location)
	}
	return os.Open(ref.Location)
}

// LocalPath returns the on-disk path of a published file.
func (s *LocalStore) LocalPath(ref FileRef) (string, bool) {
	if !s.within(ref.Location) {
		return "", false
	}
	return ref.Location, true
}

// Lock takes an exclusive flock on the key's lock file, polling until the
// lock is free or ctx is done.
func (s *LocalStore) Lock(ctx context.Context, key Key) (func() error, error) {
	fl := flock.New(filepath.Join(s.root, locksDir, key.ID()+".lock"))
	ok, err := fl.TryLockContext(ctx, s.lockPoll)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("failed to lock %s: %w", key, ctx.Err())
	}
	return fl.Unlock, nil
}

func (s *LocalStore) within(p string) bool {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
