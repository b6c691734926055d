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

package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kadirpekel/tracecore/pkg/artifact"
	"github.com/kadirpekel/tracecore/pkg/dbconf"
	"github.com/kadirpekel/tracecore/pkg/observability"
)

// Config describes where a Store's durable state lives.
type Config struct {
	// BasePath is the root directory; the artifact tree lives under
	// <BasePath>/artifacts and the default SQLite DB at <BasePath>/traces.db.
	BasePath string
	// Database selects the relational backend. If Driver is empty, it
	// defaults to sqlite rooted at <BasePath>/traces.db.
	Database dbconf.DatabaseConfig
	// MilestoneTools overrides the default milestone tool-name set used by
	// GetSessionOverview. Nil selects DefaultMilestoneTools.
	MilestoneTools map[string]bool
	// Recorder receives operational metrics for writes this Store performs.
	// Nil selects a no-op recorder.
	Recorder observability.Recorder
}

// Store is the trace store: the only component that writes to the durable
// event log. All writes are serialized through a single coordinated writer;
// reads are unrestricted.
type Store struct {
	db      *sql.DB
	dialect string

	artifacts *artifact.Store

	writeMu sync.Mutex

	seqMu sync.Mutex
	seq   map[string]int

	milestoneTools map[string]bool
	recorder       observability.Recorder
}

// Create opens (creating if absent) the relational backend and artifact
// tree described by cfg and initializes the schema. Returns both the trace
// store and the underlying artifact store, since callers occasionally need
// direct artifact access (e.g. serving raw bytes over HTTP).
func Create(ctx context.Context, cfg Config) (*Store, *artifact.Store, error) {
	dbCfg := cfg.Database
	if dbCfg.Driver == "" {
		dbCfg.Driver = "sqlite"
		dbCfg.Database = filepath.Join(cfg.BasePath, "traces.db")
	}
	dbCfg.SetDefaults()
	if err := dbCfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("tracestore: invalid database config: %w", err)
	}

	db, err := dbconf.Open(&dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("tracestore: connect: %w", err)
	}

	if err := initSchema(ctx, db, dbCfg.Dialect()); err != nil {
		return nil, nil, err
	}

	artifactsDir := filepath.Join(cfg.BasePath, "artifacts")
	artifacts, err := artifact.Open(artifactsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("tracestore: open artifact store: %w", err)
	}

	milestones := cfg.MilestoneTools
	if milestones == nil {
		milestones = DefaultMilestoneTools
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = observability.NoopMetrics{}
	}

	s := &Store{
		db:             db,
		dialect:        dbCfg.Dialect(),
		artifacts:      artifacts,
		seq:            make(map[string]int),
		milestoneTools: milestones,
		recorder:       recorder,
	}
	return s, artifacts, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string {
	return bindvar(s.dialect, query)
}

func (s *Store) nextSeq(actorID string) int {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	seq := s.seq[actorID]
	s.seq[actorID] = seq + 1
	return seq
}

func (s *Store) appendEvent(ctx context.Context, ev TraceEvent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("tracestore: marshal event data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO trace_events (event_id, timestamp, event_type, trace_id, span_id, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`), ev.EventID, ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), string(ev.EventType), ev.TraceID, ev.SpanID, string(data))
	if err != nil {
		return fmt.Errorf("tracestore: append event: %w", err)
	}
	s.recorder.RecordEventWritten(string(ev.EventType))
	return nil
}

// StartSpan appends a SPAN_START event and returns the fresh span_id.
func (s *Store) StartSpan(ctx context.Context, traceID string, kind SpanKind, name, actorID string, parentSpanID string, attributes map[string]any, toolProvenance *ToolProvenance, inputArtifactHash string) (string, error) {
	spanID := GenerateSpanID()
	seq := s.nextSeq(actorID)

	data := map[string]any{
		"kind":                kind,
		"name":                name,
		"actor_id":            actorID,
		"seq":                 seq,
		"parent_span_id":      parentSpanID,
		"attributes":          orEmpty(attributes),
		"input_artifact_hash": inputArtifactHash,
		"links":               []string{},
	}
	if toolProvenance != nil {
		data["tool_provenance"] = toolProvenance
	}

	ev := TraceEvent{
		EventID:   GenerateEventID(),
		Timestamp: time.Now().UTC(),
		EventType: EventSpanStart,
		TraceID:   traceID,
		SpanID:    spanID,
		Data:      data,
	}
	if err := s.appendEvent(ctx, ev); err != nil {
		return "", err
	}
	s.recorder.RecordSpanStarted(string(kind))
	return spanID, nil
}

// EndSpan appends a SPAN_END event. Calling this twice for the same span is
// a programming error; the implementation logs nothing special but the
// append-only log means the first SPAN_END wins during reconstruction.
func (s *Store) EndSpan(ctx context.Context, traceID, spanID string, status SpanStatus, outputArtifactHash, errorClass, errorMessage string, additionalAttributes map[string]any) error {
	ev := TraceEvent{
		EventID:   GenerateEventID(),
		Timestamp: time.Now().UTC(),
		EventType: EventSpanEnd,
		TraceID:   traceID,
		SpanID:    spanID,
		Data: map[string]any{
			"status":                status,
			"output_artifact_hash":  outputArtifactHash,
			"error_class":           errorClass,
			"error_message":         errorMessage,
			"additional_attributes": orEmpty(additionalAttributes),
		},
	}
	if err := s.appendEvent(ctx, ev); err != nil {
		return err
	}
	s.recorder.RecordSpanEnded(string(status))
	return nil
}

// AddSpanAttribute appends a SPAN_ATTRIBUTE event, merged into the span on
// reconstruction (later wins per key).
func (s *Store) AddSpanAttribute(ctx context.Context, traceID, spanID string, attributes map[string]any) error {
	ev := TraceEvent{
		EventID:   GenerateEventID(),
		Timestamp: time.Now().UTC(),
		EventType: EventSpanAttribute,
		TraceID:   traceID,
		SpanID:    spanID,
		Data: map[string]any{
			"attributes": orEmpty(attributes),
		},
	}
	return s.appendEvent(ctx, ev)
}

// AddSpanLink appends a SPAN_LINK event, used for join-span fan-in.
func (s *Store) AddSpanLink(ctx context.Context, traceID, spanID, linkedSpanID string) error {
	ev := TraceEvent{
		EventID:   GenerateEventID(),
		Timestamp: time.Now().UTC(),
		EventType: EventSpanLink,
		TraceID:   traceID,
		SpanID:    spanID,
		Data: map[string]any{
			"linked_span_id": linkedSpanID,
		},
	}
	return s.appendEvent(ctx, ev)
}

// AddProvenance appends a row to the provenance table. Exactly one of
// objectSpanID/objectArtifactHash should be non-empty.
func (s *Store) AddProvenance(ctx context.Context, traceID string, relation ProvenanceRelation, subjectSpanID, objectSpanID, objectArtifactHash string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO provenance (trace_id, relation, subject_span_id, object_span_id, object_artifact_hash, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`), traceID, string(relation), subjectSpanID, nullable(objectSpanID), nullable(objectArtifactHash), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("tracestore: add provenance: %w", err)
	}
	return nil
}

// StoreArtifact delegates to the artifact store then records an artifact
// row keyed by hash; idempotent on conflict.
func (s *Store) StoreArtifact(ctx context.Context, data []byte, artifactType, contentType string, metadata map[string]string) (Artifact, error) {
	a, err := s.artifacts.Store(data, artifactType, contentType, metadata)
	if err != nil {
		return Artifact{}, err
	}

	metaJSON, err := json.Marshal(orEmptyStr(metadata))
	if err != nil {
		return Artifact{}, fmt.Errorf("tracestore: marshal artifact metadata: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	insertOrIgnore := `INSERT OR IGNORE INTO artifacts (artifact_hash, artifact_type, content_type, byte_len, storage_path, created_ts, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`
	switch s.dialect {
	case "postgres":
		insertOrIgnore = `INSERT INTO artifacts (artifact_hash, artifact_type, content_type, byte_len, storage_path, created_ts, metadata) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (artifact_hash) DO NOTHING`
	case "mysql":
		insertOrIgnore = `INSERT IGNORE INTO artifacts (artifact_hash, artifact_type, content_type, byte_len, storage_path, created_ts, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`
	}

	_, err = s.db.ExecContext(ctx, insertOrIgnore, a.Hash, a.ArtifactType, a.ContentType, a.ByteLen, a.StoragePath, a.CreatedTS.Format(time.RFC3339Nano), string(metaJSON))
	if err != nil {
		return Artifact{}, fmt.Errorf("tracestore: record artifact row: %w", err)
	}
	s.recorder.RecordArtifactStored(a.ArtifactType, a.ByteLen)

	return Artifact{
		Hash:         a.Hash,
		ArtifactType: a.ArtifactType,
		ContentType:  a.ContentType,
		ByteLen:      a.ByteLen,
		StoragePath:  a.StoragePath,
		CreatedTS:    a.CreatedTS,
		Metadata:     metadata,
	}, nil
}

// GetArtifact returns artifact metadata by hash.
func (s *Store) GetArtifact(ctx context.Context, hash string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT artifact_hash, artifact_type, content_type, byte_len, storage_path, created_ts, metadata
		FROM artifacts WHERE artifact_hash = ?
	`), hash)

	var a Artifact
	var createdTS, metaJSON string
	if err := row.Scan(&a.Hash, &a.ArtifactType, &a.ContentType, &a.ByteLen, &a.StoragePath, &createdTS, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("tracestore: get artifact: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdTS)
	if err != nil {
		return nil, fmt.Errorf("tracestore: parse artifact created_ts: %w", err)
	}
	a.CreatedTS = ts
	if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
		return nil, fmt.Errorf("tracestore: parse artifact metadata: %w", err)
	}
	return &a, nil
}

// GetArtifactData returns the raw bytes for hash via the artifact store.
func (s *Store) GetArtifactData(hash string) ([]byte, error) {
	data, err := s.artifacts.Retrieve(hash)
	if err != nil {
		if err == artifact.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// GetEvents queries the event log with optional filters, ordered by timestamp.
func (s *Store) GetEvents(ctx context.Context, filter EventFilter) ([]TraceEvent, error) {
	query := `SELECT event_id, timestamp, event_type, trace_id, span_id, data FROM trace_events WHERE 1=1`
	var args []any

	if filter.TraceID != "" {
		query += ` AND trace_id = ?`
		args = append(args, filter.TraceID)
	}
	if filter.SpanID != "" {
		query += ` AND span_id = ?`
		args = append(args, filter.SpanID)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
	}
	if !filter.Until.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, filter.Until.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
	}
	query += ` ORDER BY timestamp ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("tracestore: query events: %w", err)
	}
	defer rows.Close()

	var events []TraceEvent
	for rows.Next() {
		var ev TraceEvent
		var ts, data string
		var eventType string
		if err := rows.Scan(&ev.EventID, &ts, &eventType, &ev.TraceID, &ev.SpanID, &data); err != nil {
			return nil, fmt.Errorf("tracestore: scan event: %w", err)
		}
		ev.EventType = EventType(eventType)
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("tracestore: parse event timestamp: %w", err)
		}
		ev.Timestamp = parsed
		if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
			return nil, fmt.Errorf("tracestore: parse event data: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ReconstructSpan folds all events sharing span_id into a Span. Returns nil,
// nil if no SPAN_START event exists for span_id.
func (s *Store) ReconstructSpan(ctx context.Context, traceID, spanID string) (*Span, error) {
	events, err := s.GetEvents(ctx, EventFilter{TraceID: traceID, SpanID: spanID})
	if err != nil {
		return nil, err
	}

	var startEvent, endEvent *TraceEvent
	var links []string
	additionalAttrs := map[string]any{}

	for i := range events {
		ev := events[i]
		switch ev.EventType {
		case EventSpanStart:
			e := ev
			startEvent = &e
		case EventSpanEnd:
			if endEvent == nil {
				e := ev
				endEvent = &e
			}
		case EventSpanLink:
			if linked, ok := ev.Data["linked_span_id"].(string); ok {
				links = append(links, linked)
			}
		case EventSpanAttribute:
			if attrs, ok := ev.Data["attributes"].(map[string]any); ok {
				for k, v := range attrs {
					additionalAttrs[k] = v
				}
			}
		}
	}

	if startEvent == nil {
		return nil, nil
	}

	span := &Span{
		SpanID:  spanID,
		TraceID: traceID,
		Status:  StatusStarted,
	}
	if v, ok := startEvent.Data["kind"].(string); ok {
		span.Kind = SpanKind(v)
	}
	if v, ok := startEvent.Data["name"].(string); ok {
		span.Name = v
	}
	if v, ok := startEvent.Data["actor_id"].(string); ok {
		span.ActorID = v
	}
	if v, ok := startEvent.Data["seq"].(float64); ok {
		span.ActorSeq = int(v)
	}
	if v, ok := startEvent.Data["parent_span_id"].(string); ok {
		span.ParentSpanID = v
	}
	if v, ok := startEvent.Data["input_artifact_hash"].(string); ok {
		span.InputArtifactHash = v
	}
	if tp, ok := startEvent.Data["tool_provenance"].(map[string]any); ok {
		span.ToolProvenance = parseToolProvenance(tp)
	}
	if sl, ok := startEvent.Data["links"].([]any); ok {
		for _, v := range sl {
			if str, ok := v.(string); ok {
				links = append(links, str)
			}
		}
	}
	span.Links = links

	attributes := map[string]any{}
	if attrs, ok := startEvent.Data["attributes"].(map[string]any); ok {
		for k, v := range attrs {
			attributes[k] = v
		}
	}
	for k, v := range additionalAttrs {
		attributes[k] = v
	}
	span.Attributes = attributes
	span.StartTS = startEvent.Timestamp

	if endEvent != nil {
		endTS := endEvent.Timestamp
		span.EndTS = &endTS
		if v, ok := endEvent.Data["status"].(string); ok {
			span.Status = SpanStatus(v)
		}
		if v, ok := endEvent.Data["output_artifact_hash"].(string); ok {
			span.OutputArtifactHash = v
		}
		if v, ok := endEvent.Data["error_class"].(string); ok {
			span.ErrorClass = v
		}
		if v, ok := endEvent.Data["error_message"].(string); ok {
			span.ErrorMessage = v
		}
		if attrs, ok := endEvent.Data["additional_attributes"].(map[string]any); ok {
			for k, v := range attrs {
				span.Attributes[k] = v
			}
		}
	}

	return span, nil
}

func parseToolProvenance(m map[string]any) *ToolProvenance {
	tp := &ToolProvenance{}
	if v, ok := m["tool_name"].(string); ok {
		tp.ToolName = v
	}
	if v, ok := m["schema_hash"].(string); ok {
		tp.SchemaHash = v
	}
	if v, ok := m["impl_version"].(string); ok {
		tp.ImplVersion = v
	}
	if fp, ok := m["external_fingerprint"].(map[string]any); ok {
		tp.ExternalFingerprint = map[string]string{}
		for k, v := range fp {
			if s, ok := v.(string); ok {
				tp.ExternalFingerprint[k] = s
			}
		}
	}
	return tp
}

// GetTraceSpans enumerates span_ids observed in SPAN_START events,
// reconstructs each, and sorts by start_ts.
func (s *Store) GetTraceSpans(ctx context.Context, traceID string) ([]Span, error) {
	startEvents, err := s.GetEvents(ctx, EventFilter{TraceID: traceID, EventType: EventSpanStart})
	if err != nil {
		return nil, err
	}

	spans := make([]Span, 0, len(startEvents))
	for _, ev := range startEvents {
		span, err := s.ReconstructSpan(ctx, traceID, ev.SpanID)
		if err != nil {
			return nil, err
		}
		if span != nil {
			spans = append(spans, *span)
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].StartTS.Before(spans[j].StartTS) })
	return spans, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyStr(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
