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

// Package identity computes the content hash that identifies an uploaded
// asset. The hash is a SHA-256 digest of the raw bytes, so identical uploads
// share every downstream cache entry regardless of their file name.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HexLength is the length of a hex encoded ContentHash.
const HexLength = sha256.Size * 2

// ContentHash is the digest of an asset's raw bytes.
type ContentHash [sha256.Size]byte

// String returns the lowercase hex form used as the owner key of cache entries.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the leading 12 hex characters, for log lines.
func (h ContentHash) Short() string {
	return h.String()[:12]
}

// IsZero reports whether h is the zero hash.
func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

// FromBytes hashes an in-memory asset.
func FromBytes(b []byte) ContentHash {
	return ContentHash(sha256.Sum256(b))
}

// FromReader hashes everything read from r and returns the number of bytes consumed.
func FromReader(r io.Reader) (ContentHash, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return ContentHash{}, n, fmt.Errorf("failed to hash content: %w", err)
	}
	var out ContentHash
	copy(out[:], h.Sum(nil))
	return out, n, nil
}

// FromFile hashes the file at path.
func FromFile(path string) (ContentHash, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return ContentHash{}, 0, err
	}
	defer f.Close()
	return FromReader(f)
}

// Parse decodes a hex encoded hash, as found in URLs.
func Parse(s string) (ContentHash, error) {
	var out ContentHash
	if len(s) != HexLength {
		return out, fmt.Errorf("invalid content hash %q: expected %d hex characters", s, HexLength)
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return out, fmt.Errorf("invalid content hash %q: %w", s, err)
	}
	return out, nil
}
