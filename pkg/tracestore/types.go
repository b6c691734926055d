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

// Package tracestore implements the append-only event log, span
// reconstruction, provenance table, and checkpoint/fork machinery that form
// the source of truth for a captured agent run.
package tracestore

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SpanKind enumerates the unit-of-work categories a span can represent.
type SpanKind string

const (
	SpanKindAgentTurn       SpanKind = "agent_turn"
	SpanKindLLMCall         SpanKind = "llm_call"
	SpanKindToolCall        SpanKind = "tool_call"
	SpanKindReasoning       SpanKind = "reasoning"
	SpanKindStateChange     SpanKind = "state_change"
	SpanKindArtifactCapture SpanKind = "artifact"
	SpanKindBrowserSession  SpanKind = "browser_session"
	SpanKindMemoryOperation SpanKind = "memory_operation"
	SpanKindContextAssembly SpanKind = "context_assembly"
)

// SpanStatus is the terminal (or in-flight) state of a span.
type SpanStatus string

const (
	StatusStarted   SpanStatus = "started"
	StatusOK        SpanStatus = "ok"
	StatusError     SpanStatus = "error"
	StatusTimeout   SpanStatus = "timeout"
	StatusCancelled SpanStatus = "cancelled"
)

// EventType enumerates the append-only event log's record kinds.
type EventType string

const (
	EventSpanStart          EventType = "span_start"
	EventSpanEnd            EventType = "span_end"
	EventSpanAttribute      EventType = "span_attribute"
	EventSpanLink           EventType = "span_link"
	EventArtifactCreated    EventType = "artifact_created"
	EventProvenanceRelation EventType = "provenance_relation"
)

// ProvenanceRelation is a W3C-PROV-inspired edge kind.
type ProvenanceRelation string

const (
	RelationUsed             ProvenanceRelation = "used"
	RelationWasGeneratedBy   ProvenanceRelation = "wasGeneratedBy"
	RelationWasDerivedFrom   ProvenanceRelation = "wasDerivedFrom"
	RelationWasAttributedTo  ProvenanceRelation = "wasAttributedTo"
	RelationWasInformedBy    ProvenanceRelation = "wasInformedBy"
)

// CheckpointStatus tracks the lifecycle of a checkpoint row.
type CheckpointStatus string

const (
	CheckpointActive  CheckpointStatus = "active"
	CheckpointResumed CheckpointStatus = "resumed"
	CheckpointForked  CheckpointStatus = "forked"
	CheckpointArchived CheckpointStatus = "archived"
)

// Sentinel errors surfaced by package tracestore.
var (
	ErrSpanNotFound       = errors.New("tracestore: span not found")
	ErrCheckpointNotFound = errors.New("tracestore: checkpoint not found")
	ErrArtifactNotFound   = errors.New("tracestore: artifact not found")
	ErrCheckpointStateMissing = errors.New("tracestore: checkpoint state artifact missing")
)

// GenerateTraceID mints a fresh trace_id of the form "trace-" + 16 hex chars.
func GenerateTraceID() string {
	return "trace-" + hex.EncodeToString(uuid.New()[:8])
}

// GenerateSpanID mints a fresh span_id of the form "span-" + 12 hex chars.
func GenerateSpanID() string {
	return "span-" + hex.EncodeToString(uuid.New()[:6])
}

// GenerateCheckpointID mints a fresh checkpoint_id of the form "cp-" + 16 hex chars.
func GenerateCheckpointID() string {
	return "cp-" + hex.EncodeToString(uuid.New()[:8])
}

// GenerateEventID mints a fresh event_id. Uniqueness, not format, is the
// contract; a plain UUID satisfies it.
func GenerateEventID() string {
	return uuid.New().String()
}

// ToolProvenance identifies the exact tool implementation a span invoked,
// so that drift (same name, different behavior) can be detected across runs.
type ToolProvenance struct {
	ToolName            string            `json:"tool_name"`
	SchemaHash          string            `json:"schema_hash"`
	ImplVersion         string            `json:"impl_version"`
	ExternalFingerprint map[string]string `json:"external_fingerprint,omitempty"`
}

// TraceEvent is the only primitive that mutates the world: one row in the
// append-only event log. Once written, never modified or deleted.
type TraceEvent struct {
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id"`
	Data      map[string]any `json:"data"`
}

// Span is a derived view, reconstructed by folding events sharing a span_id.
type Span struct {
	SpanID              string         `json:"span_id"`
	TraceID             string         `json:"trace_id"`
	ParentSpanID        string         `json:"parent_span_id,omitempty"`
	Kind                SpanKind       `json:"kind"`
	Name                string         `json:"name"`
	ActorID             string         `json:"actor_id"`
	ActorSeq            int            `json:"actor_seq"`
	StartTS             time.Time      `json:"start_ts"`
	EndTS               *time.Time     `json:"end_ts,omitempty"`
	Status              SpanStatus     `json:"status"`
	Attributes          map[string]any `json:"attributes,omitempty"`
	Links               []string       `json:"links,omitempty"`
	ToolProvenance      *ToolProvenance `json:"tool_provenance,omitempty"`
	InputArtifactHash   string         `json:"input_artifact_hash,omitempty"`
	OutputArtifactHash  string         `json:"output_artifact_hash,omitempty"`
	ErrorClass          string         `json:"error_class,omitempty"`
	ErrorMessage        string         `json:"error_message,omitempty"`
}

// DurationMS returns the span's duration in milliseconds, derived from
// StartTS/EndTS. Zero if the span has not ended.
func (s Span) DurationMS() int64 {
	if s.EndTS == nil {
		return 0
	}
	return s.EndTS.Sub(s.StartTS).Milliseconds()
}

// Artifact describes a row in the artifacts table, mirroring a blob stored
// in the content-addressed artifact store.
type Artifact struct {
	Hash         string            `json:"artifact_hash"`
	ArtifactType string            `json:"artifact_type"`
	ContentType  string            `json:"content_type"`
	ByteLen      int               `json:"byte_len"`
	StoragePath  string            `json:"storage_path"`
	CreatedTS    time.Time         `json:"created_ts"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Provenance is one row of the PROV-style lineage table. Exactly one of
// ObjectSpanID / ObjectArtifactHash is set.
type Provenance struct {
	ID                 int64              `json:"id"`
	TraceID            string             `json:"trace_id"`
	Relation           ProvenanceRelation `json:"relation"`
	SubjectSpanID      string             `json:"subject_span_id"`
	ObjectSpanID       string             `json:"object_span_id,omitempty"`
	ObjectArtifactHash string             `json:"object_artifact_hash,omitempty"`
	Timestamp          time.Time          `json:"timestamp"`
}

// Checkpoint is a named point in a trace bound to a full agent-state artifact.
type Checkpoint struct {
	CheckpointID        string            `json:"checkpoint_id"`
	TraceID             string            `json:"trace_id"`
	CreatedTS           time.Time         `json:"created_ts"`
	Status              CheckpointStatus  `json:"status"`
	StepNumber          int               `json:"step_number"`
	Description         string            `json:"description"`
	StateArtifactHash   string            `json:"state_artifact_hash"`
	ParentCheckpointID  string            `json:"parent_checkpoint_id,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// CognitiveEvent captures a metacognitive moment (reasoning, temptation
// awareness, decision point, reflection) parallel to the span log.
type CognitiveEvent struct {
	ID        int64             `json:"id,omitempty"`
	TraceID   string            `json:"trace_id"`
	EventType string            `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Phase     string            `json:"phase,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SessionOverview is a pure derivation over the trace store: no writes.
type SessionOverview struct {
	TraceID             string           `json:"trace_id"`
	StartTS             time.Time        `json:"start_ts"`
	EndTS               *time.Time       `json:"end_ts,omitempty"`
	Status              string           `json:"status"`
	TotalSteps          int              `json:"total_steps"`
	TotalLLMCalls       int              `json:"total_llm_calls"`
	TotalToolCalls      int              `json:"total_tool_calls"`
	TotalTokens         int              `json:"total_tokens"`
	CheckpointsAvailable int             `json:"checkpoints_available"`
	CurrentStep         string           `json:"current_step"`
	KeyMilestones       []Milestone      `json:"key_milestones"`
	Errors              []ErrorDetail    `json:"errors"`
}

// Milestone is one entry in a SessionOverview's key-milestone list.
type Milestone struct {
	Timestamp time.Time `json:"timestamp"`
	Tool      string    `json:"tool"`
	Status    SpanStatus `json:"status"`
	SpanID    string    `json:"span_id"`
}

// ErrorDetail is one entry in a SessionOverview's error list.
type ErrorDetail struct {
	Timestamp    time.Time `json:"timestamp"`
	Name         string    `json:"name"`
	ErrorClass   string    `json:"error_class,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	SpanID       string    `json:"span_id"`
}

// EventFilter narrows a GetEvents query. Zero values are "no filter".
type EventFilter struct {
	TraceID   string
	SpanID    string
	EventType EventType
	Since     time.Time
	Until     time.Time
	Limit     int
}

// DefaultMilestoneTools is the out-of-the-box milestone tool-name set used
// by GetSessionOverview when the store was not configured with its own.
var DefaultMilestoneTools = map[string]bool{
	"git_create_pr":  true,
	"git_pr_checks":  true,
	"bash":           true,
}
