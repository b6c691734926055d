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

// Package parallel partitions a batch of tool calls into conflict-free
// groups (via pkg/conflict) and runs each group either inline or on a
// bounded worker pool, giving every worker its own forked trace context so
// nested spans parent correctly under concurrent execution.
package parallel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/tracecore/pkg/conflict"
	"github.com/kadirpekel/tracecore/pkg/observability"
	"github.com/kadirpekel/tracecore/pkg/tracectx"
	"github.com/kadirpekel/tracecore/pkg/tracestore"
)

// ToolHandler executes one tool call and returns its content, a success
// flag, and an error. The executor converts a non-nil error (or a panic
// recovered from the handler) into a failed ToolResult; it never panics
// itself. Handlers MUST be safe to call from any goroutine and MUST NOT
// retain the passed context after returning.
type ToolHandler func(ctx context.Context, call conflict.Call) (content []byte, success bool, err error)

// ToolResult is the outcome of one tool call, in the shape the agent loop
// consumes.
type ToolResult struct {
	CallID       string
	Content      []byte
	Success      bool
	ErrorClass   string
	ErrorMessage string
	SpanID       string
	Status       tracestore.SpanStatus
}

// MergePolicy names how a join span's children were combined; recorded in
// the join span's attributes.
type MergePolicy string

const (
	MergeAggregateAll MergePolicy = "aggregate_all"
	MergeFirstSuccess MergePolicy = "first_success"
	MergeConsensus    MergePolicy = "consensus"
)

// Executor runs tool call batches against a shared trace context and
// conflict model.
type Executor struct {
	traceCtx   *tracectx.Context
	conflict   *conflict.Model
	maxWorkers int
	recorder   observability.Recorder
}

// New returns an Executor bounded to maxWorkers concurrent workers per
// group. maxWorkers <= 0 is treated as unbounded (capped at group size).
func New(traceCtx *tracectx.Context, conflictModel *conflict.Model, maxWorkers int) *Executor {
	if conflictModel == nil {
		conflictModel = conflict.New()
	}
	return &Executor{traceCtx: traceCtx, conflict: conflictModel, maxWorkers: maxWorkers, recorder: observability.NoopMetrics{}}
}

// WithRecorder attaches a metrics recorder, returning the Executor for
// chaining at construction time.
func (e *Executor) WithRecorder(recorder observability.Recorder) *Executor {
	if recorder != nil {
		e.recorder = recorder
	}
	return e
}

// ExecuteParallel partitions calls via the conflict model and runs each
// group in order, returning results in the same order as calls. parentSpanID
// is the span every forked worker's outermost span parents at; if empty,
// the executor's current trace-context span is used.
func (e *Executor) ExecuteParallel(ctx context.Context, calls []conflict.Call, parentSpanID string, handler ToolHandler) ([]ToolResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	if parentSpanID == "" {
		parentSpanID = e.traceCtx.CurrentSpanID()
	}

	groups := e.conflict.PartitionByConflicts(calls)

	byID := make(map[string]ToolResult, len(calls))
	cancelled := false

	for _, group := range groups {
		if ctx.Err() != nil {
			cancelled = true
		}
		if cancelled {
			for _, call := range group {
				byID[call.ID] = e.cancelledResult(call)
				e.recorder.RecordParallelCall("cancelled")
			}
			continue
		}

		var results []ToolResult
		if len(group) == 1 {
			e.recorder.RecordParallelGroup("inline", 1)
			results = []ToolResult{e.runOne(ctx, group[0], parentSpanID, handler)}
		} else {
			e.recorder.RecordParallelGroup("pooled", len(group))
			results = e.runGroup(ctx, group, parentSpanID, handler)
		}
		for _, r := range results {
			byID[r.CallID] = r
		}
	}

	out := make([]ToolResult, len(calls))
	for i, call := range calls {
		out[i] = byID[call.ID]
	}
	return out, nil
}

// runOne executes a single call inline, holding the resource lock (if the
// call is exclusive) for the duration of dispatch.
func (e *Executor) runOne(ctx context.Context, call conflict.Call, parentSpanID string, handler ToolHandler) ToolResult {
	key := e.conflict.GetResourceKey(call)
	if key != "" {
		lock := e.conflict.GetLock(key)
		lock.Lock()
		defer lock.Unlock()
	}
	return e.dispatch(ctx, call, parentSpanID, handler)
}

// runGroup submits every call in group to a bounded worker pool. Each
// worker forks its own trace context seeded at parentSpanID and installs it
// into ctx's active-context slot for the duration of the call.
func (e *Executor) runGroup(ctx context.Context, group []conflict.Call, parentSpanID string, handler ToolHandler) []ToolResult {
	limit := e.maxWorkers
	if limit <= 0 || limit > len(group) {
		limit = len(group)
	}

	var (
		mu      sync.Mutex
		results = make([]ToolResult, 0, len(group))
		sem     = make(chan struct{}, limit)
	)

	errGroup, groupCtx := errgroup.WithContext(ctx)
	for _, call := range group {
		call := call
		errGroup.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			if key := e.conflict.GetResourceKey(call); key != "" {
				lock := e.conflict.GetLock(key)
				lock.Lock()
				defer lock.Unlock()
			}

			r := e.dispatch(groupCtx, call, parentSpanID, handler)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = errGroup.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].CallID < results[j].CallID })
	return results
}

// dispatch forks a trace context seeded at parentSpanID, installs it as the
// active context for the worker, runs the tool handler, and closes the span
// according to the outcome. Panics inside handler are recovered and
// surfaced as failed ToolResults with span status ERROR.
func (e *Executor) dispatch(ctx context.Context, call conflict.Call, parentSpanID string, handler ToolHandler) (result ToolResult) {
	forked := tracectx.Fork(e.traceCtx, parentSpanID)
	workerCtx := tracectx.WithActive(ctx, forked)

	spanID, err := forked.StartSpan(workerCtx, tracestore.SpanKindToolCall, call.Name, attributesFor(call))
	if err != nil {
		return ToolResult{CallID: call.ID, Success: false, ErrorClass: "span_start_error", ErrorMessage: err.Error()}
	}

	defer func() {
		if r := recover(); r != nil {
			_ = forked.EndSpan(workerCtx, tracestore.StatusError, "", "panic", fmt.Sprintf("%v", r), nil)
			e.recorder.RecordParallelCall("panic")
			result = ToolResult{CallID: call.ID, Success: false, ErrorClass: "panic", ErrorMessage: fmt.Sprintf("%v", r), SpanID: spanID, Status: tracestore.StatusError}
		}
	}()

	content, success, handlerErr := handler(workerCtx, call)

	if ctx.Err() != nil {
		_ = forked.EndSpan(workerCtx, tracestore.StatusCancelled, "", "", "cancelled during dispatch", nil)
		e.recorder.RecordParallelCall("cancelled")
		return ToolResult{CallID: call.ID, Success: false, ErrorMessage: "cancelled", SpanID: spanID, Status: tracestore.StatusCancelled}
	}

	if handlerErr != nil {
		_ = forked.EndSpan(workerCtx, tracestore.StatusError, "", "tool_handler_error", handlerErr.Error(), nil)
		e.recorder.RecordParallelCall("tool_error")
		return ToolResult{CallID: call.ID, Success: false, ErrorClass: "tool_handler_error", ErrorMessage: handlerErr.Error(), SpanID: spanID, Status: tracestore.StatusError}
	}

	status := tracestore.StatusOK
	outcome := "success"
	if !success {
		status = tracestore.StatusError
		outcome = "failure"
	}
	_ = forked.EndSpan(workerCtx, status, "", "", "", nil)
	e.recorder.RecordParallelCall(outcome)
	return ToolResult{CallID: call.ID, Content: content, Success: success, SpanID: spanID, Status: status}
}

func (e *Executor) cancelledResult(call conflict.Call) ToolResult {
	return ToolResult{CallID: call.ID, Success: false, ErrorMessage: "cancelled", Status: tracestore.StatusCancelled}
}

func attributesFor(call conflict.Call) map[string]any {
	if len(call.Arguments) == 0 {
		return nil
	}
	attrs := make(map[string]any, len(call.Arguments))
	for k, v := range call.Arguments {
		attrs[k] = v
	}
	return attrs
}

// Join opens a JOIN span linking to every child span id, recording policy
// in its attributes, and closes it immediately. Callers use this after a
// fan-out group to let lineage queries traverse backward from the join.
func Join(ctx context.Context, tc *tracectx.Context, name string, childSpanIDs []string, policy MergePolicy) (string, error) {
	spanID, err := tc.StartSpan(ctx, tracestore.SpanKindToolCall, name, map[string]any{"merge_policy": string(policy)})
	if err != nil {
		return "", err
	}
	for _, child := range childSpanIDs {
		if err := tc.Store().AddSpanLink(ctx, tc.TraceID(), spanID, child); err != nil {
			return spanID, err
		}
	}
	if err := tc.EndSpan(ctx, tracestore.StatusOK, "", "", "", nil); err != nil {
		return spanID, err
	}
	return spanID, nil
}
