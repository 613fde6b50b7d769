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

// Package cor (Chain of Responsibility) provides the building blocks of the
// ingestion workflow. A Chain runs Commands in order over one shared Context;
// each command reads its input from the context, writes its output back, and
// records any failure under its own name.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CtxIn is the default key for the primary input of a command. The chain
	// moves the previous command's CtxOut here before the next command runs.
	CtxIn = "__IN__"
	// CtxOut is the default key a command writes its primary output to.
	CtxOut = "__OUT__"
)

// Context is the state shared by every command of one chain execution.
type Context interface {
	// SetContext sets the Go context carrying cancellation and the current span.
	SetContext(ctx context.Context)
	// GetContext returns the Go context.
	GetContext() context.Context

	// Add stores a value. It returns the Context for chaining.
	Add(key string, value any) Context
	// Get returns a value or nil.
	Get(key string) any
	// Remove deletes a value.
	Remove(key string)

	// AddError records err under key, usually the failing command's name.
	AddError(key string, err error)
	// GetErrors returns every recorded error.
	GetErrors() map[string]error
	// HasErrors reports whether any command failed.
	HasErrors() bool

	// AddTempFile registers a file to delete on Close.
	AddTempFile(file string)
	// GetTempFiles returns the registered temporary files.
	GetTempFiles() []string
	// Close removes the temporary files.
	Close()
}

// Executable is anything that can run against a Context.
type Executable interface {
	Execute(context Context)
}

// Command is one step of a chain.
type Command interface {
	Executable

	GetName() string
	GetInputParam() string
	GetOutputParam() string
	// IsExecutable is checked by the chain before Execute.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer
	GetMeter() metric.Meter
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
}

// Chain is a Command made of other commands.
type Chain interface {
	Command
	// AddCommand appends a command.
	AddCommand(command Command) Chain
}
