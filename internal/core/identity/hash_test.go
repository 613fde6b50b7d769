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

package identity_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdenticalBytesShareHash(t *testing.T) {
	payload := []byte("the same video bytes")

	a := identity.FromBytes(payload)
	b, n, err := identity.FromReader(bytes.NewReader(payload))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, int64(len(payload)), n)
	assert.Len(t, a.String(), identity.HexLength)
	assert.False(t, a.IsZero())
}

func TestDistinctBytesDiffer(t *testing.T) {
	a := identity.FromBytes([]byte("clip-a"))
	b := identity.FromBytes([]byte("clip-b"))
	assert.NotEqual(t, a, b)
}

func TestFromFileMatchesFromBytes(t *testing.T) {
	payload := bytes.Repeat([]byte{0x1, 0x2, 0x3}, 100_000)
	path := filepath.Join(t.TempDir(), "upload.mp4")
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	h, n, err := identity.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, identity.FromBytes(payload), h)
	assert.Equal(t, int64(len(payload)), n)
}

func TestParseRoundTrip(t *testing.T) {
	h := identity.FromBytes([]byte("round trip"))

	parsed, err := identity.Parse(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
	assert.True(t, strings.HasPrefix(h.String(), h.Short()))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := identity.Parse("abc")
	assert.Error(t, err)

	_, err = identity.Parse(strings.Repeat("z", identity.HexLength))
	assert.Error(t, err)
}
