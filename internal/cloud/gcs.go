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

// Package cloud provides components for interacting with Google Cloud services.
// This file holds the data structures of Google Cloud Storage notifications
// and the helpers that move objects between GCS and local disk.
//
// Structs:
//   - GCSPubSubNotification: The JSON payload Cloud Storage publishes to Pub/Sub
//     when an object changes in a bucket.
//   - GCSObject: The bucket, name and type of one object, as passed between the
//     ingestion commands.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cache"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// GetGCSObjectName returns the workflow context key holding the GCSObject
// being processed.
func GetGCSObjectName() string {
	return "__GCS__OBJ__"
}

// GCSPubSubNotification is the object resource Cloud Storage sends for an
// OBJECT_FINALIZE event. Numbers arrive as strings.
type GCSPubSubNotification struct {
	Kind           string         `json:"kind"`
	ID             string         `json:"id"`
	SelfLink       string         `json:"selfLink"`
	Name           string         `json:"name"`
	Bucket         string         `json:"bucket"`
	Generation     string         `json:"generation"`
	MetaGeneration string         `json:"metageneration"`
	ContentType    string         `json:"contentType"`
	TimeCreated    string         `json:"timeCreated"`
	Updated        string         `json:"updated"`
	StorageClass   string         `json:"storageClass"`
	Size           string         `json:"size"`
	MD5Hash        string         `json:"md5Hash"`
	MediaLink      string         `json:"mediaLink"`
	MetaData       map[string]any `json:"metadata"`
	Crc32c         string         `json:"crc32c"`
	ETag           string         `json:"etag"`
}

// GCSObject identifies one object.
type GCSObject struct {
	Bucket   string
	Name     string
	MIMEType string
}

// URI returns the gs:// form of the object.
func (o GCSObject) URI() string {
	return fmt.Sprintf("gs://%s/%s", o.Bucket, o.Name)
}

// ParseNotification decodes a notification and checks that it names an
// object. Anything else is an input error: redelivering it cannot help.
func ParseNotification(data []byte) (*GCSPubSubNotification, error) {
	var n GCSPubSubNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, model.NewInputError("malformed storage notification", err)
	}
	if n.Bucket == "" || n.Name == "" {
		return nil, model.NewInputError("storage notification without bucket or object name", nil)
	}
	return &n, nil
}

// Object converts the notification into the object it describes.
func (n *GCSPubSubNotification) Object() GCSObject {
	return GCSObject{Bucket: n.Bucket, Name: n.Name, MIMEType: n.ContentType}
}

// IsFolder reports whether the notification is for a "folder" placeholder
// object created by the console.
func (n *GCSPubSubNotification) IsFolder() bool {
	return strings.HasSuffix(n.Name, "/")
}

// DownloadObject copies an object to dest.
func DownloadObject(ctx context.Context, client *storage.Client, obj GCSObject, dest string) (int64, error) {
	reader, err := client.Bucket(obj.Bucket).Object(obj.Name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, model.NewInputError(fmt.Sprintf("object %s not found", obj.URI()), err)
		}
		return 0, Classify(ctx, "download "+obj.URI(), err)
	}
	defer reader.Close()

	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, Classify(ctx, "download "+obj.URI(), err)
	}
	return n, nil
}

// GCSObjectReader returns an ObjectReader that loads whole gs:// objects.
func GCSObjectReader(client *storage.Client) ObjectReader {
	return func(ctx context.Context, uri string) ([]byte, error) {
		bucket, name, err := cache.ParseGCSLocation(uri)
		if err != nil {
			return nil, err
		}
		reader, err := client.Bucket(bucket).Object(name).NewReader(ctx)
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	}
}
