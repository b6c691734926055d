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

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/tracecore/pkg/dbconf"
	"github.com/kadirpekel/tracecore/pkg/tracestore"
)

func newTestStore(t *testing.T) *tracestore.Store {
	t.Helper()
	dir := t.TempDir()
	store, _, err := tracestore.Create(context.Background(), tracestore.Config{
		BasePath: dir,
		Database: dbconf.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(dir, "traces.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestServer(t *testing.T) (*Server, *tracestore.Store) {
	t.Helper()
	store := newTestStore(t)
	srv, err := New(Options{Store: store})
	require.NoError(t, err)
	return srv, store
}

func seedTrace(t *testing.T, store *tracestore.Store) string {
	t.Helper()
	ctx := context.Background()
	traceID := tracestore.GenerateTraceID()

	spanID, err := store.StartSpan(ctx, traceID, tracestore.SpanKindToolCall, "bash", "agent-1", "", map[string]any{"cmd": "ls"}, nil, "")
	require.NoError(t, err)
	require.NoError(t, store.EndSpan(ctx, traceID, spanID, tracestore.StatusOK, "", "", "", nil))

	return traceID
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestTraceOverview(t *testing.T) {
	srv, store := newTestServer(t)
	traceID := seedTrace(t, store)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/traces/"+traceID+"/overview", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var overview tracestore.SessionOverview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overview))
	assert.Equal(t, traceID, overview.TraceID)
	assert.Equal(t, 1, overview.TotalToolCalls)
}

func TestTraceSpans(t *testing.T) {
	srv, store := newTestServer(t)
	traceID := seedTrace(t, store)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/traces/"+traceID+"/spans", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var spans []tracestore.Span
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spans))
	require.Len(t, spans, 1)
	assert.Equal(t, "bash", spans[0].Name)
}

func TestTraceSpansEmptyTraceReturnsEmptyArray(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/traces/trace-missing/spans", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestTraceTimeline(t *testing.T) {
	srv, store := newTestServer(t)
	traceID := seedTrace(t, store)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/traces/"+traceID+"/timeline", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var events []tracestore.TraceEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, 2) // span_start + span_end
}

func TestTraceTimelineRejectsBadTimeParam(t *testing.T) {
	srv, store := newTestServer(t)
	traceID := seedTrace(t, store)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/traces/"+traceID+"/timeline?since=not-a-time", nil)
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCheckpointNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkpoints/cp-missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckpointForkRoundTrip(t *testing.T) {
	srv, store := newTestServer(t)
	traceID := seedTrace(t, store)

	cp, err := store.CreateCheckpoint(context.Background(), traceID, 1, "first checkpoint", []byte(`{"step":1}`), "", nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkpoints/"+cp.CheckpointID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got tracestore.Checkpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, cp.CheckpointID, got.CheckpointID)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/checkpoints/"+cp.CheckpointID+"/fork", strings.NewReader("{}"))
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var forkResp forkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &forkResp))
	assert.NotEmpty(t, forkResp.NewTraceID)
	assert.NotEqual(t, traceID, forkResp.NewTraceID)
	assert.Equal(t, cp.CheckpointID, forkResp.Checkpoint.ParentCheckpointID)
}

func TestCheckpointForkMissingReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/checkpoints/cp-missing/fork", strings.NewReader("{}"))
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpointDisabledByDefault(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
