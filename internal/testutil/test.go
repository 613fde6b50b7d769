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

// Package test provides shared helpers for the test suites: the test
// configuration, storage notification fixtures, and in-memory fakes for every
// external collaborator of the pipeline. Nothing here talks to Google Cloud.
package test

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/cloud"
)

var (
	configOnce sync.Once
	config     *cloud.Config
)

// HandleErr fails the test on a setup error.
func HandleErr(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatalf("test setup failed: %v", err)
	}
}

// ConfigDir is the repository's configs directory.
func ConfigDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "configs")
}

// SetupOS points the configuration loader at the repository's configs
// directory and the "test" runtime.
func SetupOS() error {
	if err := os.Setenv(cloud.EnvConfigFilePrefix, ConfigDir()); err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads .env.toml and .env.test.toml once per test binary.
func GetConfig() *cloud.Config {
	configOnce.Do(func() {
		if err := SetupOS(); err != nil {
			panic(fmt.Sprintf("failed to setup environment for test: %v", err))
		}
		c := cloud.NewConfig()
		if err := cloud.LoadConfig(c); err != nil {
			panic(fmt.Sprintf("failed to load test configuration: %v", err))
		}
		config = c
	})
	return config
}

// GetTestUploadMessageText is an OBJECT_FINALIZE notification for a video
// uploaded to the upload bucket.
func GetTestUploadMessageText() string {
	return `{
  "kind": "storage#object",
  "id": "media_uploads/garage-tour.mp4/1728615848664286",
  "selfLink": "https://www.googleapis.com/storage/v1/b/media_uploads/o/garage-tour.mp4",
  "name": "garage-tour.mp4",
  "bucket": "media_uploads",
  "generation": "1728615848664286",
  "metageneration": "1",
  "contentType": "video/mp4",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "updated": "2024-10-11T03:04:08.672Z",
  "storageClass": "STANDARD",
  "size": "259348037",
  "md5Hash": "67c1rAU+1RYZzK5zp8iBkA==",
  "mediaLink": "https://storage.googleapis.com/download/storage/v1/b/media_uploads/o/garage-tour.mp4?generation=1728615848664286&alt=media",
  "metadata": { "touch": "18" },
  "crc32c": "IYeSTw==",
  "etag": "CN658+yrhYkDEAE="
}`
}

// GetTestFolderMessageText is the notification the console sends when a
// folder placeholder is created.
func GetTestFolderMessageText() string {
	return `{
  "kind": "storage#object",
  "name": "incoming/",
  "bucket": "media_uploads",
  "contentType": "text/plain",
  "size": "0"
}`
}
