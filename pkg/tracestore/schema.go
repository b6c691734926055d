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
	"fmt"
)

// schemaStatements are dialect-neutral DDL; each is issued as a separate
// Exec so SQLite (which rejects multi-statement scripts through database/sql)
// works the same as Postgres and MySQL.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS trace_events (
		event_id VARCHAR(64) PRIMARY KEY,
		timestamp VARCHAR(40) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		trace_id VARCHAR(64) NOT NULL,
		span_id VARCHAR(64) NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trace_events_trace_id ON trace_events(trace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trace_events_span_id ON trace_events(span_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trace_events_timestamp ON trace_events(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_trace_events_type ON trace_events(event_type)`,

	`CREATE TABLE IF NOT EXISTS artifacts (
		artifact_hash VARCHAR(64) PRIMARY KEY,
		artifact_type VARCHAR(64) NOT NULL,
		content_type VARCHAR(128) NOT NULL,
		byte_len BIGINT NOT NULL,
		storage_path TEXT NOT NULL,
		created_ts VARCHAR(40) NOT NULL,
		metadata TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS provenance (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id VARCHAR(64) NOT NULL,
		relation VARCHAR(32) NOT NULL,
		subject_span_id VARCHAR(64) NOT NULL,
		object_span_id VARCHAR(64),
		object_artifact_hash VARCHAR(64),
		timestamp VARCHAR(40) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_provenance_trace_id ON provenance(trace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_provenance_subject ON provenance(subject_span_id)`,

	`CREATE TABLE IF NOT EXISTS checkpoints (
		checkpoint_id VARCHAR(64) PRIMARY KEY,
		trace_id VARCHAR(64) NOT NULL,
		created_ts VARCHAR(40) NOT NULL,
		status VARCHAR(16) NOT NULL,
		step_number INTEGER NOT NULL,
		description TEXT NOT NULL,
		state_artifact_hash VARCHAR(64) NOT NULL,
		parent_checkpoint_id VARCHAR(64),
		metadata TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_checkpoints_trace_id ON checkpoints(trace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status)`,
	`CREATE INDEX IF NOT EXISTS idx_checkpoints_step ON checkpoints(step_number)`,

	`CREATE TABLE IF NOT EXISTS cognitive_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		timestamp VARCHAR(40) NOT NULL,
		phase VARCHAR(32),
		content TEXT NOT NULL,
		metadata TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cognitive_events_trace_id ON cognitive_events(trace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_cognitive_events_type ON cognitive_events(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_cognitive_events_timestamp ON cognitive_events(timestamp)`,
}

// postgresOverrides overrides the AUTOINCREMENT-bearing statements
// above with PostgreSQL's SERIAL equivalent.
var postgresOverrides = map[string]string{
	`CREATE TABLE IF NOT EXISTS provenance (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id VARCHAR(64) NOT NULL,
		relation VARCHAR(32) NOT NULL,
		subject_span_id VARCHAR(64) NOT NULL,
		object_span_id VARCHAR(64),
		object_artifact_hash VARCHAR(64),
		timestamp VARCHAR(40) NOT NULL
	)`: `CREATE TABLE IF NOT EXISTS provenance (
		id SERIAL PRIMARY KEY,
		trace_id VARCHAR(64) NOT NULL,
		relation VARCHAR(32) NOT NULL,
		subject_span_id VARCHAR(64) NOT NULL,
		object_span_id VARCHAR(64),
		object_artifact_hash VARCHAR(64),
		timestamp VARCHAR(40) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cognitive_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		timestamp VARCHAR(40) NOT NULL,
		phase VARCHAR(32),
		content TEXT NOT NULL,
		metadata TEXT NOT NULL
	)`: `CREATE TABLE IF NOT EXISTS cognitive_events (
		id SERIAL PRIMARY KEY,
		trace_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		timestamp VARCHAR(40) NOT NULL,
		phase VARCHAR(32),
		content TEXT NOT NULL,
		metadata TEXT NOT NULL
	)`,
}

// mysqlOverrides swaps AUTOINCREMENT for MySQL's AUTO_INCREMENT spelling.
var mysqlOverrides = map[string]string{
	`CREATE TABLE IF NOT EXISTS provenance (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id VARCHAR(64) NOT NULL,
		relation VARCHAR(32) NOT NULL,
		subject_span_id VARCHAR(64) NOT NULL,
		object_span_id VARCHAR(64),
		object_artifact_hash VARCHAR(64),
		timestamp VARCHAR(40) NOT NULL
	)`: `CREATE TABLE IF NOT EXISTS provenance (
		id INTEGER PRIMARY KEY AUTO_INCREMENT,
		trace_id VARCHAR(64) NOT NULL,
		relation VARCHAR(32) NOT NULL,
		subject_span_id VARCHAR(64) NOT NULL,
		object_span_id VARCHAR(64),
		object_artifact_hash VARCHAR(64),
		timestamp VARCHAR(40) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cognitive_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		timestamp VARCHAR(40) NOT NULL,
		phase VARCHAR(32),
		content TEXT NOT NULL,
		metadata TEXT NOT NULL
	)`: `CREATE TABLE IF NOT EXISTS cognitive_events (
		id INTEGER PRIMARY KEY AUTO_INCREMENT,
		trace_id VARCHAR(64) NOT NULL,
		event_type VARCHAR(32) NOT NULL,
		timestamp VARCHAR(40) NOT NULL,
		phase VARCHAR(32),
		content TEXT NOT NULL,
		metadata TEXT NOT NULL
	)`,
}

// initSchema creates every table and index idempotently for the given dialect.
func initSchema(ctx context.Context, db *sql.DB, dialect string) error {
	overrides := map[string]string{}
	switch dialect {
	case "postgres":
		overrides = postgresOverrides
	case "mysql":
		overrides = mysqlOverrides
	}

	for _, stmt := range schemaStatements {
		if override, ok := overrides[stmt]; ok {
			stmt = override
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("tracestore: schema init: %w", err)
		}
	}
	return nil
}

// bindvar rewrites a "?"-placeholder query for dialects that use numbered
// placeholders (PostgreSQL's $1, $2, ...). SQLite and MySQL use "?" as-is.
func bindvar(dialect, query string) string {
	if dialect != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = append(out, []byte(fmt.Sprintf("%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
