// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracectx implements the per-actor span stack (TraceContext) and
// its parallel-safe counterpart (ForkedTraceContext), so callers need not
// thread parent_span_id through every tool call by hand.
package tracectx

import (
	"context"

	"github.com/kadirpekel/tracecore/pkg/tracestore"
)

// Context maintains a stack of currently-open spans for one logical actor.
// It is NOT thread-safe — a single logical thread of agent control owns it.
// Parallel execution must use a Fork (see Forked).
type Context struct {
	store   *tracestore.Store
	traceID string
	actorID string
	stack   []string
}

// New creates a Context for traceID. If traceID is empty, a fresh trace_id
// is minted.
func New(store *tracestore.Store, traceID string) *Context {
	if traceID == "" {
		traceID = tracestore.GenerateTraceID()
	}
	return &Context{store: store, traceID: traceID, actorID: "main"}
}

// NewWithActor creates a Context for traceID under the given actor id,
// useful when more than one logical thread of control shares a trace
// (e.g. a supervising actor distinct from "main").
func NewWithActor(store *tracestore.Store, traceID, actorID string) *Context {
	c := New(store, traceID)
	c.actorID = actorID
	return c
}

// TraceID returns the trace this context writes into.
func (c *Context) TraceID() string { return c.traceID }

// CurrentSpanID returns the top of the span stack, or "" if empty.
func (c *Context) CurrentSpanID() string {
	if len(c.stack) == 0 {
		return ""
	}
	return c.stack[len(c.stack)-1]
}

// StartSpan opens a span parented at the current top-of-stack (or no
// parent, if the stack is empty) and pushes it.
func (c *Context) StartSpan(ctx context.Context, kind tracestore.SpanKind, name string, attributes map[string]any) (string, error) {
	spanID, err := c.store.StartSpan(ctx, c.traceID, kind, name, c.actorID, c.CurrentSpanID(), attributes, nil, "")
	if err != nil {
		return "", err
	}
	c.stack = append(c.stack, spanID)
	return spanID, nil
}

// StartToolSpan opens a TOOL_CALL span with tool provenance and an input
// artifact hash, parented at the current top-of-stack, and pushes it.
func (c *Context) StartToolSpan(ctx context.Context, name string, provenance *tracestore.ToolProvenance, inputArtifactHash string) (string, error) {
	spanID, err := c.store.StartSpan(ctx, c.traceID, tracestore.SpanKindToolCall, name, c.actorID, c.CurrentSpanID(), nil, provenance, inputArtifactHash)
	if err != nil {
		return "", err
	}
	c.stack = append(c.stack, spanID)
	return spanID, nil
}

// EndSpan pops the current span and closes it in the trace store.
func (c *Context) EndSpan(ctx context.Context, status tracestore.SpanStatus, outputArtifactHash, errorClass, errorMessage string, additionalAttributes map[string]any) error {
	if len(c.stack) == 0 {
		return nil
	}
	spanID := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return c.store.EndSpan(ctx, c.traceID, spanID, status, outputArtifactHash, errorClass, errorMessage, additionalAttributes)
}

// StoreArtifact delegates to the trace store.
func (c *Context) StoreArtifact(ctx context.Context, data []byte, artifactType, contentType string, metadata map[string]string) (tracestore.Artifact, error) {
	return c.store.StoreArtifact(ctx, data, artifactType, contentType, metadata)
}

// AddProvenance records a provenance edge with the current span as subject.
func (c *Context) AddProvenance(ctx context.Context, relation tracestore.ProvenanceRelation, objectSpanID, objectArtifactHash string) error {
	return c.store.AddProvenance(ctx, c.traceID, relation, c.CurrentSpanID(), objectSpanID, objectArtifactHash)
}

// Store returns the underlying trace store, for components (e.g. the
// parallel executor) that need to fork a context or issue join spans.
func (c *Context) Store() *tracestore.Store { return c.store }
