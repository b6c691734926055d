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

package checkpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/tracecore/pkg/tracestore"
)

// Orchestrator decides when checkpoints are taken and delegates their
// persistence and forking to the trace store. It provides a unified
// interface over:
//   - Creating checkpoints during execution
//   - Forking a new trace from a prior checkpoint
//   - Loading a checkpoint's captured Snapshot
type Orchestrator struct {
	config *Config
	store  *tracestore.Store
}

// NewOrchestrator creates an Orchestrator backed by store.
func NewOrchestrator(cfg *Config, store *tracestore.Store) *Orchestrator {
	if cfg == nil {
		cfg = &Config{}
		cfg.SetDefaults()
	}
	return &Orchestrator{config: cfg, store: store}
}

// IsEnabled returns whether checkpointing is enabled.
func (o *Orchestrator) IsEnabled() bool {
	return o.config.IsEnabled()
}

// Config returns the checkpoint configuration.
func (o *Orchestrator) Config() *Config {
	return o.config
}

// ShouldCheckpointAtIteration returns whether to checkpoint at the given iteration.
func (o *Orchestrator) ShouldCheckpointAtIteration(iteration int) bool {
	return o.config.ShouldCheckpointAtIteration(iteration)
}

// ShouldCheckpointAfterTools returns whether to checkpoint after a tool batch completes.
func (o *Orchestrator) ShouldCheckpointAfterTools() bool {
	return o.config.ShouldCheckpointAfterTools()
}

// ShouldCheckpointBeforeLLM returns whether to checkpoint before LLM calls.
func (o *Orchestrator) ShouldCheckpointBeforeLLM() bool {
	return o.config.ShouldCheckpointBeforeLLM()
}

// Save serializes snap and creates a checkpoint row for traceID. No-op if
// checkpointing is disabled.
func (o *Orchestrator) Save(ctx context.Context, traceID string, step int, description string, snap *Snapshot, parentCheckpointID string, metadata map[string]string) (tracestore.Checkpoint, error) {
	if !o.IsEnabled() {
		return tracestore.Checkpoint{}, nil
	}
	data, err := snap.Serialize()
	if err != nil {
		return tracestore.Checkpoint{}, fmt.Errorf("checkpoint: serialize snapshot: %w", err)
	}
	return o.store.CreateCheckpoint(ctx, traceID, step, description, data, parentCheckpointID, metadata)
}

// Load retrieves a checkpoint's state bytes and deserializes them into a Snapshot.
func (o *Orchestrator) Load(ctx context.Context, checkpointID string) (*Snapshot, error) {
	data, err := o.store.GetCheckpointState(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	return Deserialize(data)
}

// Fork loads checkpointID's parent state, marks it FORKED, and creates a
// new checkpoint in newTraceID (minting one if empty) referencing the
// parent's state and checkpoint id.
func (o *Orchestrator) Fork(ctx context.Context, checkpointID, newTraceID string) (string, tracestore.Checkpoint, error) {
	return o.store.ForkFromCheckpoint(ctx, checkpointID, newTraceID)
}

// Hooks provides integration points for an agent loop, mirroring the
// lifecycle moments checkpointing cares about.
type Hooks struct {
	orchestrator *Orchestrator
}

// NewHooks creates Hooks bound to orchestrator.
func NewHooks(orchestrator *Orchestrator) *Hooks {
	if orchestrator == nil {
		return nil
	}
	return &Hooks{orchestrator: orchestrator}
}

func (h *Hooks) save(ctx context.Context, traceID string, step int, description string, snap *Snapshot, logContext string) {
	if _, err := h.orchestrator.Save(ctx, traceID, step, description, snap, "", nil); err != nil {
		slog.Warn("failed to save checkpoint", "trace_id", traceID, "when", logContext, "error", err)
	}
}

// BeforeLLMCall checkpoints before an LLM API call, if configured to.
func (h *Hooks) BeforeLLMCall(ctx context.Context, traceID string, step int, snap *Snapshot) {
	if h == nil || !h.orchestrator.ShouldCheckpointBeforeLLM() {
		return
	}
	h.save(ctx, traceID, step, "pre-llm", snap, "before_llm_call")
}

// AfterToolExecution checkpoints after a tool call batch completes, if configured to.
func (h *Hooks) AfterToolExecution(ctx context.Context, traceID string, step int, snap *Snapshot) {
	if h == nil || !h.orchestrator.ShouldCheckpointAfterTools() {
		return
	}
	h.save(ctx, traceID, step, "post-tools", snap, "after_tool_execution")
}

// OnIterationEnd checkpoints at end of an agent-loop iteration, when interval-based.
func (h *Hooks) OnIterationEnd(ctx context.Context, traceID string, iteration int, snap *Snapshot) {
	if h == nil || !h.orchestrator.ShouldCheckpointAtIteration(iteration) {
		return
	}
	h.save(ctx, traceID, iteration, "iteration-end", snap, "iteration_end")
}

// OnAttemptFailed checkpoints the final snapshot of a failed attempt so
// the next attempt can inject its AttemptState.
func (h *Hooks) OnAttemptFailed(ctx context.Context, traceID string, step int, snap *Snapshot) {
	if h == nil || !h.orchestrator.IsEnabled() {
		return
	}
	h.save(ctx, traceID, step, "attempt-failed", snap, "attempt_failed")
}
