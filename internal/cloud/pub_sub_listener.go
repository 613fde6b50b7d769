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
// This file implements a Pub/Sub listener that runs a cor command for every
// message it receives.
//
// Logic Flow:
//  1. NewPubSubListener binds a subscription; the command is attached later,
//     once the workflows are built.
//  2. Listen starts a goroutine blocked in Subscription.Receive.
//  3. Each message runs the command in a fresh cor.Context under its own span,
//     bounded by the subscription's timeout.
//  4. Success acks the message. Failures made only of input errors are acked
//     too, since redelivery would fail the same way. Any other failure leaves
//     the message unacked so Pub/Sub redelivers it.
package cloud

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/cor"
	"github.com/jaycherian/gcp-go-media-pipeline/internal/core/model"
)

// PubSubListener feeds messages of one subscription into a command.
type PubSubListener struct {
	client       *pubsub.Client
	subscription *pubsub.Subscription
	command      cor.Command
	timeout      time.Duration
}

// NewPubSubListener creates a listener for subscriptionID. A zero timeout
// means messages are bounded only by the listener's context.
func NewPubSubListener(pubsubClient *pubsub.Client, subscriptionID string, timeout time.Duration, command cor.Command) (*PubSubListener, error) {
	return &PubSubListener{
		client:       pubsubClient,
		subscription: pubsubClient.Subscription(subscriptionID),
		command:      command,
		timeout:      timeout,
	}, nil
}

// SetCommand attaches the command if none is set yet.
func (m *PubSubListener) SetCommand(command cor.Command) {
	if m.command == nil {
		m.command = command
	}
}

// Listen receives messages in the background until ctx is cancelled.
func (m *PubSubListener) Listen(ctx context.Context) {
	slog.InfoContext(ctx, "listening", "subscription", m.subscription.String())
	go func() {
		err := m.subscription.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
			if HandleMessage(ctx, m.command, msg.ID, msg.Data, m.timeout) {
				msg.Ack()
			}
		})
		if err != nil {
			slog.ErrorContext(ctx, "error receiving messages", "subscription", m.subscription.String(), "error", err)
		}
	}()
}

// HandleMessage runs command over data and reports whether the message
// should be acknowledged.
func HandleMessage(ctx context.Context, command cor.Command, id string, data []byte, timeout time.Duration) bool {
	if command == nil {
		slog.ErrorContext(ctx, "message received before a command was attached", "message_id", id)
		return false
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	spanCtx, span := otel.Tracer("message-listener").Start(ctx, "receive-message")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.message.id", id), attribute.Int("messaging.message.body.size", len(data)))

	chainCtx := cor.NewBaseContext()
	defer chainCtx.Close()
	chainCtx.SetContext(spanCtx)
	chainCtx.Add(cor.CtxIn, string(data))

	command.Execute(chainCtx)

	if !chainCtx.HasErrors() {
		span.SetStatus(codes.Ok, "success")
		return true
	}

	terminal := true
	for name, err := range chainCtx.GetErrors() {
		slog.ErrorContext(spanCtx, "error executing chain", "message_id", id, "command", name, "error", err)
		if !model.IsInput(err) {
			terminal = false
		}
	}
	if terminal {
		span.SetStatus(codes.Error, "rejected input")
		return true
	}
	span.SetStatus(codes.Error, "failed")
	return false
}
