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

// This file defines a command for downloading an object from Google Cloud
// Storage (GCS) to a local temporary file.
//
// Logic Flow:
//  1. Receives a `*cloud.GCSObject` from the context.
//  2. Creates an empty temporary file on the local disk.
//  3. Streams the object into it.
//  4. Registers the file for cleanup when the workflow context closes, and
//     hands its path to the next command.
package commands

import (
	goctx "context"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// Downloader copies an object to a local path.
type Downloader func(ctx goctx.Context, obj cloud.GCSObject, dest string) (int64, error)

// GCSDownloader downloads through a storage client.
func GCSDownloader(client *storage.Client) Downloader {
	return func(ctx goctx.Context, obj cloud.GCSObject, dest string) (int64, error) {
		return cloud.DownloadObject(ctx, client, obj, dest)
	}
}

// GCSToTempFile downloads an object and saves it as a temporary file.
type GCSToTempFile struct {
	cor.BaseCommand
	download       Downloader
	tempDir        string
	tempFilePrefix string
}

// NewGCSToTempFile is the constructor for the GCSToTempFile command.
//
// Inputs:
//   - name: A string name for this command instance.
//   - download: Usually GCSDownloader(client).
//   - tempDir: Directory for the file; empty uses the OS default.
//   - tempFilePrefix: A prefix for the temporary file's name.
func NewGCSToTempFile(name string, download Downloader, tempDir string, tempFilePrefix string) *GCSToTempFile {
	return &GCSToTempFile{
		BaseCommand:    *cor.NewBaseCommand(name),
		download:       download,
		tempDir:        tempDir,
		tempFilePrefix: tempFilePrefix,
	}
}

func (c *GCSToTempFile) Execute(context cor.Context) {
	obj, ok := cor.Value[*cloud.GCSObject](context, c.GetInputParam())
	if !ok {
		c.Fail(context, model.NewInputError("no storage object to download", nil))
		return
	}

	tempFile, err := os.CreateTemp(c.tempDir, c.tempFilePrefix)
	if err != nil {
		c.Fail(context, err)
		return
	}
	_ = tempFile.Close()
	// Registered first so a failed download is still cleaned up.
	context.AddTempFile(tempFile.Name())

	written, err := c.download(context.GetContext(), *obj, tempFile.Name())
	if err != nil {
		c.Fail(context, err)
		return
	}
	slog.InfoContext(context.GetContext(), "downloaded object", "uri", obj.URI(), "path", tempFile.Name(), "bytes", written)
	c.Succeed(context, tempFile.Name())
}
