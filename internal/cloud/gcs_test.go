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

package cloud_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/cloud"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
	test "github.com/jaycherian/gcp-go-media-pipeline/internal/testutil"
)

func TestParseNotification(t *testing.T) {
	n, err := cloud.ParseNotification([]byte(test.GetTestUploadMessageText()))
	require.NoError(t, err)

	obj := n.Object()
	assert.Equal(t, "media_uploads", obj.Bucket)
	assert.Equal(t, "garage-tour.mp4", obj.Name)
	assert.Equal(t, "video/mp4", obj.MIMEType)
	assert.Equal(t, "gs://media_uploads/garage-tour.mp4", obj.URI())
	assert.False(t, n.IsFolder())
}

func TestParseNotificationRejectsJunk(t *testing.T) {
	_, err := cloud.ParseNotification([]byte("not json"))
	assert.True(t, model.IsInput(err))

	_, err = cloud.ParseNotification([]byte(`{"kind":"storage#object"}`))
	assert.True(t, model.IsInput(err))
}

type scriptedCommand struct {
	cor.BaseCommand
	err  error
	seen string
}

func (c *scriptedCommand) Execute(context cor.Context) {
	c.seen, _ = cor.Value[string](context, cor.CtxIn)
	if c.err != nil {
		c.Fail(context, c.err)
		return
	}
	c.Succeed(context, c.seen)
}

func TestHandleMessageAckPolicy(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		ack  bool
	}{
		{name: "success", ack: true},
		{name: "input error is not redelivered", err: model.NewInputError("not a video", model.ErrUnsupportedFormat), ack: true},
		{name: "transient is redelivered", err: model.NewTransientError("transcribe", errors.New("503"))},
		{name: "unknown is redelivered", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &scriptedCommand{BaseCommand: *cor.NewBaseCommand("scripted"), err: tt.err}
			ack := cloud.HandleMessage(ctx, cmd, "1", []byte("payload"), time.Second)
			assert.Equal(t, tt.ack, ack)
			assert.Equal(t, "payload", cmd.seen)
		})
	}
	assert.False(t, cloud.HandleMessage(ctx, nil, "2", []byte("payload"), 0))
}
