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
	"strconv"
	"time"
)

// CreateCheckpoint stores stateBytes as an artifact and inserts a checkpoint
// row referencing it. The state blob is always a full snapshot, never a delta.
func (s *Store) CreateCheckpoint(ctx context.Context, traceID string, stepNumber int, description string, stateBytes []byte, parentCheckpointID string, metadata map[string]string) (Checkpoint, error) {
	stateArtifact, err := s.StoreArtifact(ctx, stateBytes, "checkpoint_state", "application/json", map[string]string{
		"step_number": strconv.Itoa(stepNumber),
		"description": description,
	})
	if err != nil {
		return Checkpoint{}, fmt.Errorf("tracestore: store checkpoint state: %w", err)
	}

	cp := Checkpoint{
		CheckpointID:       GenerateCheckpointID(),
		TraceID:            traceID,
		CreatedTS:          time.Now().UTC(),
		Status:             CheckpointActive,
		StepNumber:         stepNumber,
		Description:        description,
		StateArtifactHash:  stateArtifact.Hash,
		ParentCheckpointID: parentCheckpointID,
		Metadata:           metadata,
	}

	metaJSON, err := json.Marshal(orEmptyStr(metadata))
	if err != nil {
		return Checkpoint{}, fmt.Errorf("tracestore: marshal checkpoint metadata: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO checkpoints
		(checkpoint_id, trace_id, created_ts, status, step_number, description, state_artifact_hash, parent_checkpoint_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), cp.CheckpointID, cp.TraceID, cp.CreatedTS.Format(time.RFC3339Nano), string(cp.Status), cp.StepNumber, cp.Description, cp.StateArtifactHash, nullable(cp.ParentCheckpointID), string(metaJSON))
	if err != nil {
		return Checkpoint{}, fmt.Errorf("tracestore: insert checkpoint: %w", err)
	}
	s.recorder.RecordCheckpointCreated()

	return cp, nil
}

func scanCheckpoint(row interface {
	Scan(dest ...any) error
}) (*Checkpoint, error) {
	var cp Checkpoint
	var createdTS, status, metaJSON string
	var parentID sql.NullString
	if err := row.Scan(&cp.CheckpointID, &cp.TraceID, &createdTS, &status, &cp.StepNumber, &cp.Description, &cp.StateArtifactHash, &parentID, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("tracestore: scan checkpoint: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdTS)
	if err != nil {
		return nil, fmt.Errorf("tracestore: parse checkpoint created_ts: %w", err)
	}
	cp.CreatedTS = ts
	cp.Status = CheckpointStatus(status)
	if parentID.Valid {
		cp.ParentCheckpointID = parentID.String
	}
	if err := json.Unmarshal([]byte(metaJSON), &cp.Metadata); err != nil {
		return nil, fmt.Errorf("tracestore: parse checkpoint metadata: %w", err)
	}
	return &cp, nil
}

const checkpointColumns = `checkpoint_id, trace_id, created_ts, status, step_number, description, state_artifact_hash, parent_checkpoint_id, metadata`

// ListCheckpoints lists all checkpoints for traceID, ordered by step number.
// If status is non-empty, results are filtered to that status.
func (s *Store) ListCheckpoints(ctx context.Context, traceID string, status CheckpointStatus) ([]Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints WHERE trace_id = ?`
	args := []any{traceID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY step_number ASC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("tracestore: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

// GetCheckpoint returns the checkpoint row for checkpointID, or nil if absent.
func (s *Store) GetCheckpoint(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+checkpointColumns+` FROM checkpoints WHERE checkpoint_id = ?`), checkpointID)
	return scanCheckpoint(row)
}

// GetCheckpointState returns the serialized state bytes for a checkpoint, or
// nil if the checkpoint or its state artifact is missing.
func (s *Store) GetCheckpointState(ctx context.Context, checkpointID string) ([]byte, error) {
	cp, err := s.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}
	return s.GetArtifactData(cp.StateArtifactHash)
}

// UpdateCheckpointStatus sets a checkpoint's status.
func (s *Store) UpdateCheckpointStatus(ctx context.Context, checkpointID string, status CheckpointStatus) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, s.q(`UPDATE checkpoints SET status = ? WHERE checkpoint_id = ?`), string(status), checkpointID)
	if err != nil {
		return fmt.Errorf("tracestore: update checkpoint status: %w", err)
	}
	return nil
}

// ForkFromCheckpoint marks checkpointID's checkpoint FORKED, mints newTraceID
// (generating one if empty), and creates a new checkpoint in the new trace
// that references the parent's state blob and checkpoint id.
func (s *Store) ForkFromCheckpoint(ctx context.Context, checkpointID, newTraceID string) (string, Checkpoint, error) {
	parent, err := s.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return "", Checkpoint{}, err
	}
	if parent == nil {
		return "", Checkpoint{}, fmt.Errorf("tracestore: %w: %s", ErrCheckpointNotFound, checkpointID)
	}

	if err := s.UpdateCheckpointStatus(ctx, checkpointID, CheckpointForked); err != nil {
		return "", Checkpoint{}, err
	}

	if newTraceID == "" {
		newTraceID = GenerateTraceID()
	}

	stateData, err := s.GetCheckpointState(ctx, checkpointID)
	if err != nil {
		return "", Checkpoint{}, err
	}
	if stateData == nil {
		return "", Checkpoint{}, fmt.Errorf("tracestore: %w: %s", ErrCheckpointStateMissing, checkpointID)
	}

	newCheckpoint, err := s.CreateCheckpoint(ctx, newTraceID, parent.StepNumber, fmt.Sprintf("forked from %s", checkpointID), stateData, checkpointID, map[string]string{
		"forked_from_trace":      parent.TraceID,
		"forked_from_checkpoint": checkpointID,
	})
	if err != nil {
		return "", Checkpoint{}, err
	}
	s.recorder.RecordCheckpointForked()

	return newTraceID, newCheckpoint, nil
}
