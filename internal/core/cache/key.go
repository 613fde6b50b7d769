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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
)

var (
	stagePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	ownerPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
)

// Key addresses one cached stage result: the stage that produced it, the
// content hash of the asset that owns it, and a fingerprint of the parameters
// it was computed with. A different fingerprint is a different entry.
type Key struct {
	Stage       string `json:"stage"`
	Owner       string `json:"owner"`
	Fingerprint string `json:"fingerprint"`
}

// Fingerprint returns a stable digest of params. Parameters are encoded as
// JSON, which orders map keys and struct fields deterministically.
func Fingerprint(params any) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint parameters: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// NewKey validates the stage and owner names and fingerprints params.
func NewKey(stage string, owner string, params any) (Key, error) {
	if !stagePattern.MatchString(stage) {
		return Key{}, fmt.Errorf("invalid stage name %q", stage)
	}
	if !ownerPattern.MatchString(owner) {
		return Key{}, fmt.Errorf("invalid owner key %q", owner)
	}
	fp, err := Fingerprint(params)
	if err != nil {
		return Key{}, err
	}
	return Key{Stage: stage, Owner: owner, Fingerprint: fp}, nil
}

// ID is the digest of the full key, used for lock files and single-flight groups.
func (k Key) ID() string {
	sum := sha256.Sum256([]byte(k.Stage + "\x00" + k.Owner + "\x00" + k.Fingerprint))
	return hex.EncodeToString(sum[:])
}

// Path is the slash separated namespace of the entry: owner, then stage,
// then fingerprint. Grouping by owner keeps every artifact of one video
// beneath a single directory or object prefix.
func (k Key) Path() string {
	return path.Join(k.Owner, k.Stage, k.Fingerprint)
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Stage, short(k.Owner), short(k.Fingerprint))
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
