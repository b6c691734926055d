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
	"encoding/json"
	"fmt"
	"time"
)

// GetSessionOverview is a pure derivation over the trace store: no writes.
// It reconstructs every span in traceID and reduces them to summary counts,
// token usage, status, milestones, and current step.
func (s *Store) GetSessionOverview(ctx context.Context, traceID string) (SessionOverview, error) {
	spans, err := s.GetTraceSpans(ctx, traceID)
	if err != nil {
		return SessionOverview{}, err
	}
	checkpoints, err := s.ListCheckpoints(ctx, traceID, "")
	if err != nil {
		return SessionOverview{}, err
	}

	var llmCalls, toolCalls, agentTurns int
	var errored []Span
	for _, sp := range spans {
		switch sp.Kind {
		case SpanKindLLMCall:
			llmCalls++
		case SpanKindToolCall:
			toolCalls++
		case SpanKindAgentTurn:
			agentTurns++
		}
		if sp.Status == StatusError {
			errored = append(errored, sp)
		}
	}

	totalTokens := 0
	for _, sp := range spans {
		if sp.Kind != SpanKindLLMCall || sp.OutputArtifactHash == "" {
			continue
		}
		data, err := s.GetArtifactData(sp.OutputArtifactHash)
		if err != nil || data == nil {
			continue
		}
		var payload struct {
			Usage struct {
				TotalTokens int `json:"total_tokens"`
			} `json:"usage"`
		}
		if json.Unmarshal(data, &payload) == nil {
			totalTokens += payload.Usage.TotalTokens
		}
	}

	status := "empty"
	if len(spans) > 0 {
		anyOpen := false
		for _, sp := range spans {
			if sp.EndTS == nil {
				anyOpen = true
				break
			}
		}
		switch {
		case anyOpen:
			status = "in_progress"
		case len(errored) > 0:
			status = "completed_with_errors"
		default:
			status = "completed"
		}
	}

	var startTS time.Time
	if len(spans) > 0 {
		startTS = spans[0].StartTS
	} else {
		startTS = time.Now().UTC()
	}

	var endTS *time.Time
	for i := len(spans) - 1; i >= 0; i-- {
		if spans[i].EndTS != nil {
			endTS = spans[i].EndTS
			break
		}
	}

	currentStep := "idle"
	for i := len(spans) - 1; i >= 0; i-- {
		sp := spans[i]
		if sp.EndTS == nil {
			currentStep = fmt.Sprintf("%s: %s", sp.Kind, sp.Name)
		} else {
			currentStep = fmt.Sprintf("completed: %s", sp.Name)
		}
		break
	}

	var milestones []Milestone
	for _, sp := range spans {
		if sp.Kind != SpanKindToolCall || sp.ToolProvenance == nil {
			continue
		}
		if !s.milestoneTools[sp.ToolProvenance.ToolName] {
			continue
		}
		milestones = append(milestones, Milestone{
			Timestamp: sp.StartTS,
			Tool:      sp.ToolProvenance.ToolName,
			Status:    sp.Status,
			SpanID:    sp.SpanID,
		})
	}

	var errorDetails []ErrorDetail
	for _, sp := range errored {
		errorDetails = append(errorDetails, ErrorDetail{
			Timestamp:    sp.StartTS,
			Name:         sp.Name,
			ErrorClass:   sp.ErrorClass,
			ErrorMessage: sp.ErrorMessage,
			SpanID:       sp.SpanID,
		})
	}

	return SessionOverview{
		TraceID:              traceID,
		StartTS:              startTS,
		EndTS:                endTS,
		Status:               status,
		TotalSteps:           agentTurns,
		TotalLLMCalls:        llmCalls,
		TotalToolCalls:       toolCalls,
		TotalTokens:          totalTokens,
		CheckpointsAvailable: len(checkpoints),
		CurrentStep:          currentStep,
		KeyMilestones:        milestones,
		Errors:               errorDetails,
	}, nil
}

// GetSessionTimeline is a thin wrapper over GetEvents giving the full,
// chronological detail view behind a SessionOverview.
func (s *Store) GetSessionTimeline(ctx context.Context, traceID string, since, until time.Time) ([]TraceEvent, error) {
	return s.GetEvents(ctx, EventFilter{TraceID: traceID, Since: since, Until: until})
}

// StoreCognitiveEvent writes a metacognitive record (reasoning, temptation
// awareness, decision point, reflection) to the cognitive_events table,
// independent of the span event log.
func (s *Store) StoreCognitiveEvent(ctx context.Context, traceID string, event CognitiveEvent) error {
	metaJSON, err := json.Marshal(orEmptyStr(event.Metadata))
	if err != nil {
		return fmt.Errorf("tracestore: marshal cognitive event metadata: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO cognitive_events (trace_id, event_type, timestamp, phase, content, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`), traceID, event.EventType, event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), nullable(event.Phase), event.Content, string(metaJSON))
	if err != nil {
		return fmt.Errorf("tracestore: store cognitive event: %w", err)
	}
	return nil
}

// GetCognitiveEvents returns all cognitive events for a trace in
// chronological order.
func (s *Store) GetCognitiveEvents(ctx context.Context, traceID string) ([]CognitiveEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT event_type, timestamp, phase, content, metadata
		FROM cognitive_events WHERE trace_id = ? ORDER BY timestamp
	`), traceID)
	if err != nil {
		return nil, fmt.Errorf("tracestore: query cognitive events: %w", err)
	}
	defer rows.Close()

	var out []CognitiveEvent
	for rows.Next() {
		var ev CognitiveEvent
		var ts, metaJSON string
		var phase *string
		if err := rows.Scan(&ev.EventType, &ts, &phase, &ev.Content, &metaJSON); err != nil {
			return nil, fmt.Errorf("tracestore: scan cognitive event: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("tracestore: parse cognitive event timestamp: %w", err)
		}
		ev.Timestamp = parsed
		ev.TraceID = traceID
		if phase != nil {
			ev.Phase = *phase
		}
		if err := json.Unmarshal([]byte(metaJSON), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("tracestore: parse cognitive event metadata: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SummaryEventLog is a thin, read-only facade over a Store used by
// observability consumers that only need aggregate views, not the full
// trace-store write surface.
type SummaryEventLog struct {
	store *Store
}

// NewSummaryEventLog wraps store.
func NewSummaryEventLog(store *Store) *SummaryEventLog {
	return &SummaryEventLog{store: store}
}

// GetSummary returns the session overview for traceID.
func (l *SummaryEventLog) GetSummary(ctx context.Context, traceID string) (SessionOverview, error) {
	return l.store.GetSessionOverview(ctx, traceID)
}

// GetToolCalls returns every TOOL_CALL span in traceID.
func (l *SummaryEventLog) GetToolCalls(ctx context.Context, traceID string) ([]Span, error) {
	spans, err := l.store.GetTraceSpans(ctx, traceID)
	if err != nil {
		return nil, err
	}
	var out []Span
	for _, sp := range spans {
		if sp.Kind == SpanKindToolCall {
			out = append(out, sp)
		}
	}
	return out, nil
}

// GetErrors returns every span in traceID whose status is ERROR.
func (l *SummaryEventLog) GetErrors(ctx context.Context, traceID string) ([]Span, error) {
	spans, err := l.store.GetTraceSpans(ctx, traceID)
	if err != nil {
		return nil, err
	}
	var out []Span
	for _, sp := range spans {
		if sp.Status == StatusError {
			out = append(out, sp)
		}
	}
	return out, nil
}
