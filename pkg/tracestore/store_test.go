package tracestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/kadirpekel/tracecore/pkg/dbconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, _, err := Create(context.Background(), Config{
		BasePath: dir,
		Database: dbconf.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(dir, "traces.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSequentialHappyPath(t *testing.T) {
	// Scenario A: start trace, open AGENT_TURN, inside it a TOOL_CALL with
	// input/output artifacts, end both, and read back the overview.
	ctx := context.Background()
	store := newTestStore(t)

	traceID := GenerateTraceID()

	hIn := store.mustStoreHash(t, ctx, []byte(`{"file_path":"/x"}`), "tool_input")
	hOut := store.mustStoreHash(t, ctx, []byte("hello"), "tool_output")

	turnSpan, err := store.StartSpan(ctx, traceID, SpanKindAgentTurn, "t1", "main", "", nil, nil, "")
	require.NoError(t, err)

	toolSpan, err := store.StartSpan(ctx, traceID, SpanKindToolCall, "Read", "main", turnSpan, nil, &ToolProvenance{ToolName: "read_file"}, hIn)
	require.NoError(t, err)
	require.NoError(t, store.EndSpan(ctx, traceID, toolSpan, StatusOK, hOut, "", "", nil))
	require.NoError(t, store.EndSpan(ctx, traceID, turnSpan, StatusOK, "", "", "", nil))

	spans, err := store.GetTraceSpans(ctx, traceID)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, turnSpan, spans[0].SpanID)
	assert.Equal(t, toolSpan, spans[1].SpanID)
	assert.Equal(t, turnSpan, spans[1].ParentSpanID)

	overview, err := store.GetSessionOverview(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, 1, overview.TotalToolCalls)
	assert.Equal(t, "completed", overview.Status)
}

func (s *Store) mustStoreHash(t *testing.T, ctx context.Context, data []byte, artifactType string) string {
	t.Helper()
	a, err := s.StoreArtifact(ctx, data, artifactType, "application/octet-stream", nil)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	require.Equal(t, hex.EncodeToString(sum[:]), a.Hash)
	return a.Hash
}

func TestCrashRecovery(t *testing.T) {
	// Scenario F: three spans written, the last never ended; reading spans
	// back shows the last one STARTED; recovery is
	// deterministic and idempotent.
	ctx := context.Background()
	store := newTestStore(t)
	traceID := GenerateTraceID()

	s1, err := store.StartSpan(ctx, traceID, SpanKindToolCall, "a", "main", "", nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, store.EndSpan(ctx, traceID, s1, StatusOK, "", "", "", nil))

	s2, err := store.StartSpan(ctx, traceID, SpanKindToolCall, "b", "main", "", nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, store.EndSpan(ctx, traceID, s2, StatusOK, "", "", "", nil))

	s3, err := store.StartSpan(ctx, traceID, SpanKindToolCall, "c", "main", "", nil, nil, "")
	require.NoError(t, err)

	spans, err := store.GetTraceSpans(ctx, traceID)
	require.NoError(t, err)
	require.Len(t, spans, 3)
	assert.Equal(t, StatusStarted, spans[2].Status)
	assert.Nil(t, spans[2].EndTS)
	assert.Equal(t, s3, spans[2].SpanID)

	n, err := store.RecoverDanglingSpans(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recovered, err := store.ReconstructSpan(ctx, traceID, s3)
	require.NoError(t, err)
	require.NotNil(t, recovered)
	assert.Equal(t, StatusCancelled, recovered.Status)
	assert.Equal(t, "recovered", recovered.ErrorMessage)

	n2, err := store.RecoverDanglingSpans(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, 0, n2, "recovery pass is idempotent")
}

func TestArtifactDedup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	data := []byte("shared payload")
	a1, err := store.StoreArtifact(ctx, data, "tool_output", "text/plain", nil)
	require.NoError(t, err)
	a2, err := store.StoreArtifact(ctx, data, "tool_output", "text/plain", nil)
	require.NoError(t, err)

	assert.Equal(t, a1.Hash, a2.Hash)

	got, err := store.GetArtifactData(a1.Hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestEndingAlreadyEndedSpanDoesNotCorruptReconstruction(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	traceID := GenerateTraceID()

	spanID, err := store.StartSpan(ctx, traceID, SpanKindToolCall, "Write", "main", "", nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, store.EndSpan(ctx, traceID, spanID, StatusOK, "", "", "", nil))
	require.NoError(t, store.EndSpan(ctx, traceID, spanID, StatusError, "", "BoomError", "should be ignored", nil))

	span, err := store.ReconstructSpan(ctx, traceID, spanID)
	require.NoError(t, err)
	require.NotNil(t, span)
	assert.Equal(t, StatusOK, span.Status, "first SPAN_END wins during reconstruction")
}

func TestReconstructStartedOnlySpanMergesAttributes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	traceID := GenerateTraceID()

	spanID, err := store.StartSpan(ctx, traceID, SpanKindReasoning, "think", "main", "", map[string]any{"a": "1"}, nil, "")
	require.NoError(t, err)
	require.NoError(t, store.AddSpanAttribute(ctx, traceID, spanID, map[string]any{"b": "2"}))

	span, err := store.ReconstructSpan(ctx, traceID, spanID)
	require.NoError(t, err)
	require.NotNil(t, span)
	assert.Equal(t, StatusStarted, span.Status)
	assert.Nil(t, span.EndTS)
	assert.Equal(t, "1", span.Attributes["a"])
	assert.Equal(t, "2", span.Attributes["b"])
}

func TestCheckpointForkAndResume(t *testing.T) {
	// Scenario E
	ctx := context.Background()
	store := newTestStore(t)
	traceID := GenerateTraceID()

	stateBytes := []byte(`{"messages":["hi"]}`)
	cp, err := store.CreateCheckpoint(ctx, traceID, 7, "mid-fix", stateBytes, "", nil)
	require.NoError(t, err)

	newTraceID, newCP, err := store.ForkFromCheckpoint(ctx, cp.CheckpointID, "")
	require.NoError(t, err)
	assert.NotEqual(t, traceID, newTraceID)

	parent, err := store.GetCheckpoint(ctx, cp.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, CheckpointForked, parent.Status)

	gotState, err := store.GetCheckpointState(ctx, newCP.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, stateBytes, gotState)
	assert.Equal(t, cp.CheckpointID, newCP.ParentCheckpointID)

	// Executing further spans in the new trace does not touch the original.
	_, err = store.StartSpan(ctx, newTraceID, SpanKindToolCall, "continue", "main", "", nil, nil, "")
	require.NoError(t, err)

	originalSpans, err := store.GetTraceSpans(ctx, traceID)
	require.NoError(t, err)
	assert.Empty(t, originalSpans)
}

func TestSessionOverviewTokenSum(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	traceID := GenerateTraceID()

	payload, err := json.Marshal(map[string]any{"usage": map[string]int{"total_tokens": 42}})
	require.NoError(t, err)
	out, err := store.StoreArtifact(ctx, payload, "llm_response", "application/json", nil)
	require.NoError(t, err)

	spanID, err := store.StartSpan(ctx, traceID, SpanKindLLMCall, "chat", "main", "", nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, store.EndSpan(ctx, traceID, spanID, StatusOK, out.Hash, "", "", nil))

	overview, err := store.GetSessionOverview(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, 42, overview.TotalTokens)
	assert.Equal(t, 1, overview.TotalLLMCalls)
}
