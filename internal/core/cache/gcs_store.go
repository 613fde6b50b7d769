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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const leaseName = "lease.json"

// BucketObjects is the part of the Cloud Storage API GCSStore uses, scoped
// to one bucket. Writes and deletes honour the given preconditions and fail
// with a 412 when they do not hold.
type BucketObjects interface {
	Attrs(ctx context.Context, name string) (*storage.ObjectAttrs, error)
	NewReader(ctx context.Context, name string) (io.ReadCloser, error)
	Write(ctx context.Context, name string, contentType string, cond *storage.Conditions, fill func(io.Writer) error) (*storage.ObjectAttrs, error)
	Delete(ctx context.Context, name string, cond *storage.Conditions) error
}

// bucketObjects adapts a storage.BucketHandle to BucketObjects.
type bucketObjects struct {
	bucket *storage.BucketHandle
}

func (b bucketObjects) object(name string, cond *storage.Conditions) *storage.ObjectHandle {
	o := b.bucket.Object(name)
	if cond != nil {
		o = o.If(*cond)
	}
	return o
}

func (b bucketObjects) Attrs(ctx context.Context, name string) (*storage.ObjectAttrs, error) {
	return b.bucket.Object(name).Attrs(ctx)
}

func (b bucketObjects) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.bucket.Object(name).NewReader(ctx)
}

// Write only creates the object when fill and Close both succeed; a failed
// fill cancels the upload.
func (b bucketObjects) Write(ctx context.Context, name string, contentType string, cond *storage.Conditions, fill func(io.Writer) error) (*storage.ObjectAttrs, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := b.object(name, cond).NewWriter(ctx)
	w.ContentType = contentType
	if err := fill(w); err != nil {
		cancel()
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return w.Attrs(), nil
}

func (b bucketObjects) Delete(ctx context.Context, name string, cond *storage.Conditions) error {
	return b.object(name, cond).Delete(ctx)
}

// IsPreconditionFailed reports whether err is Cloud Storage rejecting a
// write or delete because its generation precondition did not hold.
func IsPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusPreconditionFailed
	}
	if s, ok := status.FromError(err); ok {
		return s.Code() == grpccodes.FailedPrecondition
	}
	return false
}

// GCSStore keeps entries under a bucket prefix using the same layout as
// LocalStore. Cloud Storage only exposes an object once its writer closes
// successfully, so the manifest commit is atomic.
//
// Processes sharing a bucket coordinate through object generations:
//   - the first manifest of a key is written with DoesNotExist, and a corrupt
//     one is replaced with GenerationMatch on the generation that was read;
//   - a publisher that loses either race discards its files and returns the
//     entry the winner committed;
//   - Lock is a lease object created with DoesNotExist, so only one process
//     computes a key at a time. A lease outliving its TTL is broken.
type GCSStore struct {
	objects   BucketObjects
	bucket    string
	prefix    string
	leaseTTL  time.Duration
	leasePoll time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// GCSOption configures a GCSStore.
type GCSOption func(*GCSStore)

// WithLeaseTTL bounds how long a lock is honoured. It must exceed the
// slowest stage, retries included. Non-positive values keep the default.
func WithLeaseTTL(d time.Duration) GCSOption {
	return func(s *GCSStore) {
		if d > 0 {
			s.leaseTTL = d
		}
	}
}

// WithLeasePollInterval sets how often a blocked Lock retries.
func WithLeasePollInterval(d time.Duration) GCSOption {
	return func(s *GCSStore) { s.leasePoll = d }
}

// WithGCSClock overrides the time source used for CreatedAt and lease expiry.
func WithGCSClock(now func() time.Time) GCSOption {
	return func(s *GCSStore) { s.now = now }
}

// WithGCSLogger sets the logger; slog.Default is used otherwise.
func WithGCSLogger(l *slog.Logger) GCSOption {
	return func(s *GCSStore) { s.log = l }
}

// NewGCSStore wraps an existing storage client.
func NewGCSStore(client *storage.Client, bucket string, prefix string, opts ...GCSOption) *GCSStore {
	return NewGCSStoreOver(bucketObjects{bucket: client.Bucket(bucket)}, bucket, prefix, opts...)
}

// NewGCSStoreOver builds a store over any BucketObjects implementation for
// the named bucket.
func NewGCSStoreOver(objects BucketObjects, bucket string, prefix string, opts ...GCSOption) *GCSStore {
	s := &GCSStore{
		objects:   objects,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		leaseTTL:  45 * time.Minute,
		leasePoll: time.Second,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bucket returns the bucket entries are written to.
func (s *GCSStore) Bucket() string {
	return s.bucket
}

// ObjectPrefix is the object name prefix of an entry.
func (s *GCSStore) ObjectPrefix(key Key) string {
	return path.Join(s.prefix, key.Path())
}

func (s *GCSStore) manifestName(key Key) string {
	return path.Join(s.ObjectPrefix(key), manifestName)
}

func (s *GCSStore) location(name string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, name)
}

// objectName resolves a gs:// location inside this store's bucket.
func (s *GCSStore) objectName(location string) (string, error) {
	bucket, object, err := ParseGCSLocation(location)
	if err != nil {
		return "", err
	}
	if bucket != s.bucket {
		return "", fmt.Errorf("artifact %s is outside bucket %s", location, s.bucket)
	}
	return object, nil
}

func (s *GCSStore) Probe(ctx context.Context, key Key) (bool, error) {
	_, err := s.objects.Attrs(ctx, s.manifestName(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, err
}

func (s *GCSStore) Fetch(ctx context.Context, key Key) (*Entry, error) {
	reader, err := s.objects.NewReader(ctx, s.manifestName(key))
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	b, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	entry, err := decodeManifest(key, b)
	if err != nil {
		return nil, err
	}
	for _, f := range entry.Files {
		object, err := s.objectName(f.Location)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
		}
		attrs, err := s.objects.Attrs(ctx, object)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s: %v", ErrCorrupt, key, f.Name, err)
		}
		if attrs.Size != f.Size {
			return nil, fmt.Errorf("%w: %s: %s has %d bytes, manifest says %d", ErrCorrupt, key, f.Name, attrs.Size, f.Size)
		}
	}
	return entry, nil
}

// manifestCondition decides how the manifest of key may be written. A
// readable entry already committed by another process is returned instead.
func (s *GCSStore) manifestCondition(ctx context.Context, key Key) (*storage.Conditions, *Entry, error) {
	attrs, err := s.objects.Attrs(ctx, s.manifestName(key))
	if errors.Is(err, storage.ErrObjectNotExist) {
		return &storage.Conditions{DoesNotExist: true}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read manifest attributes of %s: %w", key, err)
	}
	existing, err := s.Fetch(ctx, key)
	switch {
	case err == nil:
		return nil, existing, nil
	case errors.Is(err, ErrCorrupt):
		return &storage.Conditions{GenerationMatch: attrs.Generation}, nil, nil
	case errors.Is(err, ErrNotFound):
		return &storage.Conditions{DoesNotExist: true}, nil, nil
	}
	return nil, nil, err
}

// Publish uploads the artifact into a new generation prefix and commits its
// manifest under a generation precondition. When another process committed
// a readable entry first, that entry is returned and nothing is replaced.
func (s *GCSStore) Publish(ctx context.Context, key Key, artifact *Artifact) (*Entry, error) {
	if err := validateArtifact(artifact); err != nil {
		return nil, err
	}
	record, err := encodeRecord(artifact.Record)
	if err != nil {
		return nil, err
	}
	cond, existing, err := s.manifestCondition(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.InfoContext(ctx, "cache entry already published by another writer", "key", key.String())
		return existing, nil
	}

	genPrefix := path.Join(s.ObjectPrefix(key), generationPrefix+uuid.NewString())
	entry := &Entry{
		Key:       key,
		ID:        key.ID(),
		Location:  s.location(genPrefix),
		Record:    record,
		Files:     make([]FileRef, 0, len(artifact.Files)),
		CreatedAt: s.now().UTC(),
	}
	for _, f := range artifact.Files {
		name := path.Join(genPrefix, f.Name)
		var n int64
		var sum string
		_, err := s.objects.Write(ctx, name, contentType(f.Name), nil, func(w io.Writer) error {
			var err error
			n, sum, err = copyHashed(w, f)
			return err
		})
		if err != nil {
			s.discard(ctx, entry.Files)
			return nil, fmt.Errorf("failed to upload %s for %s: %w", f.Name, key, err)
		}
		entry.Files = append(entry.Files, FileRef{Name: f.Name, Location: s.location(name), Size: n, SHA256: sum})
	}

	manifest, err := json.Marshal(entry)
	if err != nil {
		s.discard(ctx, entry.Files)
		return nil, err
	}
	_, err = s.objects.Write(ctx, s.manifestName(key), "application/json", cond, func(w io.Writer) error {
		_, err := w.Write(manifest)
		return err
	})
	if err == nil {
		return entry, nil
	}
	s.discard(ctx, entry.Files)
	if !IsPreconditionFailed(err) {
		return nil, fmt.Errorf("failed to commit manifest for %s: %w", key, err)
	}
	winner, ferr := s.Fetch(ctx, key)
	if ferr != nil {
		return nil, fmt.Errorf("manifest for %s was committed concurrently and cannot be read: %w", key, ferr)
	}
	s.log.InfoContext(ctx, "lost manifest race, using the committed entry", "key", key.String())
	return winner, nil
}

// discard removes uploaded files no manifest will reference.
func (s *GCSStore) discard(ctx context.Context, files []FileRef) {
	for _, f := range files {
		object, err := s.objectName(f.Location)
		if err != nil {
			continue
		}
		if err := s.objects.Delete(context.WithoutCancel(ctx), object, nil); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			s.log.WarnContext(ctx, "failed to remove unreferenced upload", "location", f.Location, "error", err)
		}
	}
}

func (s *GCSStore) Open(ctx context.Context, ref FileRef) (io.ReadCloser, error) {
	object, err := s.objectName(ref.Location)
	if err != nil {
		return nil, err
	}
	return s.objects.NewReader(ctx, object)
}

// gcsLease is the body of a lock object.
type gcsLease struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Lock creates the key's lease object, waiting while another live lease
// holds it. The returned unlock deletes only the lease this call created.
func (s *GCSStore) Lock(ctx context.Context, key Key) (func() error, error) {
	name := path.Join(s.ObjectPrefix(key), leaseName)
	owner := uuid.NewString()
	for {
		body, err := json.Marshal(gcsLease{Owner: owner, ExpiresAt: s.now().Add(s.leaseTTL).UTC()})
		if err != nil {
			return nil, err
		}
		attrs, err := s.objects.Write(ctx, name, "application/json", &storage.Conditions{DoesNotExist: true}, func(w io.Writer) error {
			_, err := io.Copy(w, bytes.NewReader(body))
			return err
		})
		if err == nil {
			generation := attrs.Generation
			return func() error {
				err := s.objects.Delete(context.WithoutCancel(ctx), name, &storage.Conditions{GenerationMatch: generation})
				if err != nil {
					return fmt.Errorf("failed to release lease on %s: %w", key, err)
				}
				return nil
			}, nil
		}
		if !IsPreconditionFailed(err) {
			return nil, fmt.Errorf("failed to lock %s: %w", key, err)
		}

		broken, err := s.breakExpired(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to lock %s: %w", key, err)
		}
		if broken {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to lock %s: %w", key, ctx.Err())
		case <-time.After(s.leasePoll):
		}
	}
}

// breakExpired deletes the lease object when its lease has run out. It
// reports true when the lease is gone and creation should be retried now.
func (s *GCSStore) breakExpired(ctx context.Context, name string) (bool, error) {
	attrs, err := s.objects.Attrs(ctx, name)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	reader, err := s.objects.NewReader(ctx, name)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	b, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil {
		return false, err
	}

	var lease gcsLease
	if json.Unmarshal(b, &lease) == nil && s.now().Before(lease.ExpiresAt) {
		return false, nil
	}
	err = s.objects.Delete(ctx, name, &storage.Conditions{GenerationMatch: attrs.Generation})
	if err == nil {
		s.log.WarnContext(ctx, "broke expired lease", "object", name, "owner", lease.Owner, "expired_at", lease.ExpiresAt)
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) || IsPreconditionFailed(err) {
		return true, nil
	}
	return false, err
}

// ParseGCSLocation splits a gs://bucket/object URI.
func ParseGCSLocation(location string) (bucket string, object string, err error) {
	rest, ok := strings.CutPrefix(location, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// location: %s", location)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// location has no object: %s", location)
	}
	return bucket, object, nil
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
