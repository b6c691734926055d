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

package tracectx

import (
	"context"

	"github.com/kadirpekel/tracecore/pkg/tracestore"
)

// Forked is used exclusively during parallel execution. It shares the
// trace store and trace_id with its parent but owns a private span stack,
// initially empty, so spans opened through it never observe or mutate
// another worker's stack.
type Forked struct {
	store        *tracestore.Store
	traceID      string
	actorID      string
	seededParent string
	stack        []string
}

// Fork constructs a Forked context seeded with parentSpanID: when the
// private stack is empty, new spans parent at parentSpanID rather than the
// parent Context's current span, which belongs to the main thread.
func Fork(parent *Context, parentSpanID string) *Forked {
	if parentSpanID == "" {
		parentSpanID = parent.CurrentSpanID()
	}
	return &Forked{
		store:        parent.store,
		traceID:      parent.traceID,
		actorID:      parent.actorID,
		seededParent: parentSpanID,
	}
}

// ForkWithActor is like Fork but assigns a distinct actor_id for the
// worker, so actor_seq numbering doesn't interleave with the main thread's.
func ForkWithActor(parent *Context, parentSpanID, actorID string) *Forked {
	f := Fork(parent, parentSpanID)
	f.actorID = actorID
	return f
}

// TraceID returns the shared trace this forked context writes into.
func (f *Forked) TraceID() string { return f.traceID }

// CurrentSpanID returns the top of the private stack, or the seeded parent
// span id if the stack is empty.
func (f *Forked) CurrentSpanID() string {
	if len(f.stack) == 0 {
		return f.seededParent
	}
	return f.stack[len(f.stack)-1]
}

// StartSpan opens a span parented at CurrentSpanID and pushes it onto the
// private stack.
func (f *Forked) StartSpan(ctx context.Context, kind tracestore.SpanKind, name string, attributes map[string]any) (string, error) {
	spanID, err := f.store.StartSpan(ctx, f.traceID, kind, name, f.actorID, f.CurrentSpanID(), attributes, nil, "")
	if err != nil {
		return "", err
	}
	f.stack = append(f.stack, spanID)
	return spanID, nil
}

// StartToolSpan opens a TOOL_CALL span with tool provenance, parented at
// CurrentSpanID, and pushes it onto the private stack.
func (f *Forked) StartToolSpan(ctx context.Context, name string, provenance *tracestore.ToolProvenance, inputArtifactHash string) (string, error) {
	spanID, err := f.store.StartSpan(ctx, f.traceID, tracestore.SpanKindToolCall, name, f.actorID, f.CurrentSpanID(), nil, provenance, inputArtifactHash)
	if err != nil {
		return "", err
	}
	f.stack = append(f.stack, spanID)
	return spanID, nil
}

// EndSpan pops the private stack and closes the span.
func (f *Forked) EndSpan(ctx context.Context, status tracestore.SpanStatus, outputArtifactHash, errorClass, errorMessage string, additionalAttributes map[string]any) error {
	if len(f.stack) == 0 {
		return nil
	}
	spanID := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return f.store.EndSpan(ctx, f.traceID, spanID, status, outputArtifactHash, errorClass, errorMessage, additionalAttributes)
}

// StoreArtifact delegates to the trace store.
func (f *Forked) StoreArtifact(ctx context.Context, data []byte, artifactType, contentType string, metadata map[string]string) (tracestore.Artifact, error) {
	return f.store.StoreArtifact(ctx, data, artifactType, contentType, metadata)
}

// AddProvenance records a provenance edge with the current span as subject.
func (f *Forked) AddProvenance(ctx context.Context, relation tracestore.ProvenanceRelation, objectSpanID, objectArtifactHash string) error {
	return f.store.AddProvenance(ctx, f.traceID, relation, f.CurrentSpanID(), objectSpanID, objectArtifactHash)
}

// activeContextKey is the context.Context key backing the harness's
// "thread-local" active-context slot described in the design notes. Go has
// no true thread-locals and goroutines are not OS threads, so a
// context-scoped value is the idiomatic equivalent: installed on entry to a
// worker goroutine, read by nested tool calls to discover the right parent,
// and cleared implicitly when the context goes out of scope.
type activeContextKey struct{}

// WithActive installs forked as the active trace context for ctx's
// subtree, so nested tool calls issued within it attribute their spans to
// the worker's forked stack instead of the main thread's.
func WithActive(ctx context.Context, forked *Forked) context.Context {
	return context.WithValue(ctx, activeContextKey{}, forked)
}

// Active returns the forked context installed by the nearest enclosing
// WithActive call, or nil if ctx carries none (i.e. the caller is running
// on the main thread, not inside a parallel worker).
func Active(ctx context.Context) *Forked {
	f, _ := ctx.Value(activeContextKey{}).(*Forked)
	return f
}
