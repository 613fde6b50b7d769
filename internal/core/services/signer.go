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

package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cache"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// SignFunc signs a payload as the signer service account.
type SignFunc func(ctx context.Context, payload []byte) ([]byte, error)

// ArtifactSigner issues V4 signed GET URLs for artifacts stored in GCS.
type ArtifactSigner struct {
	SignerEmail string
	Sign        SignFunc
	Expires     time.Duration
	Now         func() time.Time
}

// NewIAMSigner signs through the IAM Credentials API, so no service account
// key needs to be present on the host.
func NewIAMSigner(client *credentials.IamCredentialsClient, signerEmail string, expires time.Duration) *ArtifactSigner {
	return &ArtifactSigner{
		SignerEmail: signerEmail,
		Expires:     expires,
		Sign: func(ctx context.Context, payload []byte) ([]byte, error) {
			resp, err := client.SignBlob(ctx, &credentialspb.SignBlobRequest{
				Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", signerEmail),
				Payload: payload,
			})
			if err != nil {
				return nil, fmt.Errorf("IAMClient.SignBlob: %w", err)
			}
			return resp.SignedBlob, nil
		},
	}
}

// SignedURL returns a URL for the artifact at location, which must be a
// gs:// URI.
func (s *ArtifactSigner) SignedURL(ctx context.Context, location string) (string, error) {
	bucket, object, err := cache.ParseGCSLocation(location)
	if err != nil {
		return "", model.NewInputError("artifact is not stored in GCS", err)
	}
	expires := s.Expires
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	u, err := storage.SignedURL(bucket, object, &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodGet,
		GoogleAccessID: s.SignerEmail,
		Expires:        now().Add(expires),
		SignBytes: func(b []byte) ([]byte, error) {
			return s.Sign(ctx, b)
		},
	})
	if err != nil {
		return "", fmt.Errorf("Bucket(%q).Object(%q).SignedURL: %w", bucket, object, err)
	}
	return u, nil
}
