package parallel

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/tracecore/pkg/conflict"
	"github.com/kadirpekel/tracecore/pkg/dbconf"
	"github.com/kadirpekel/tracecore/pkg/tracectx"
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

const singleCallLatency = 30 * time.Millisecond

func sleepyHandler(_ context.Context, _ conflict.Call) ([]byte, bool, error) {
	time.Sleep(singleCallLatency)
	return []byte("ok"), true, nil
}

func TestExecuteParallelNonConflictingReads(t *testing.T) {
	// Scenario B: three reads on distinct paths run concurrently, all
	// parented at P, results preserve input order, wall time stays well
	// under the fully-serial bound.
	store := newTestStore(t)
	ctx := context.Background()
	tc := tracectx.New(store, "")

	parent, err := tc.StartSpan(ctx, tracestore.SpanKindAgentTurn, "turn", nil)
	require.NoError(t, err)

	calls := []conflict.Call{
		{ID: "1", Name: "read_file", Arguments: map[string]string{"file_path": "/a"}},
		{ID: "2", Name: "read_file", Arguments: map[string]string{"file_path": "/b"}},
		{ID: "3", Name: "read_file", Arguments: map[string]string{"file_path": "/c"}},
	}

	exec := New(tc, conflict.New(), 3)
	start := time.Now()
	results, err := exec.ExecuteParallel(ctx, calls, parent, sleepyHandler)
	elapsed := time.Since(start)
	require.NoError(t, err)

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, calls[i].ID, r.CallID, "results preserve input order")
		assert.True(t, r.Success)
		assert.Equal(t, tracestore.StatusOK, r.Status)
	}

	// Flaky-tolerant: concurrent execution must be materially cheaper than
	// a fully serial run, even on a loaded CI box.
	assert.Less(t, elapsed, 2*singleCallLatency)

	for _, r := range results {
		span, err := store.ReconstructSpan(ctx, tc.TraceID(), r.SpanID)
		require.NoError(t, err)
		assert.Equal(t, parent, span.ParentSpanID, "every worker's outermost span parents at P, not at each other")
	}
}

func TestExecuteParallelConflictingWrites(t *testing.T) {
	// Scenario C: two writes to the same path are forced into separate
	// groups and execute strictly in order.
	store := newTestStore(t)
	ctx := context.Background()
	tc := tracectx.New(store, "")

	parent, err := tc.StartSpan(ctx, tracestore.SpanKindAgentTurn, "turn", nil)
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	handler := func(_ context.Context, call conflict.Call) ([]byte, bool, error) {
		mu.Lock()
		order = append(order, call.ID)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return nil, true, nil
	}

	calls := []conflict.Call{
		{ID: "1", Name: "write_file", Arguments: map[string]string{"file_path": "/x"}},
		{ID: "2", Name: "write_file", Arguments: map[string]string{"file_path": "/x"}},
	}

	exec := New(tc, conflict.New(), 4)
	results, err := exec.ExecuteParallel(ctx, calls, parent, handler)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, []string{"1", "2"}, order, "same-resource writes execute strictly in submission order")

	span1, err := store.ReconstructSpan(ctx, tc.TraceID(), results[0].SpanID)
	require.NoError(t, err)
	span2, err := store.ReconstructSpan(ctx, tc.TraceID(), results[1].SpanID)
	require.NoError(t, err)
	require.NotNil(t, span1.EndTS)
	assert.False(t, span2.StartTS.Before(*span1.EndTS), "second write starts no earlier than the first ends")
}

func TestExecuteParallelHandlerError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tc := tracectx.New(store, "")

	handler := func(_ context.Context, call conflict.Call) ([]byte, bool, error) {
		return nil, false, fmt.Errorf("boom")
	}

	exec := New(tc, conflict.New(), 2)
	results, err := exec.ExecuteParallel(ctx, []conflict.Call{
		{ID: "1", Name: "read_file", Arguments: map[string]string{"file_path": "/a"}},
	}, "", handler)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, "tool_handler_error", results[0].ErrorClass)
	assert.Equal(t, tracestore.StatusError, results[0].Status)

	span, err := store.ReconstructSpan(ctx, tc.TraceID(), results[0].SpanID)
	require.NoError(t, err)
	assert.Equal(t, tracestore.StatusError, span.Status)
}

func TestExecuteParallelCancelledSkipsPendingGroups(t *testing.T) {
	store := newTestStore(t)
	tc := tracectx.New(store, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int32
	handler := func(_ context.Context, _ conflict.Call) ([]byte, bool, error) {
		atomic.AddInt32(&ran, 1)
		return nil, true, nil
	}

	calls := []conflict.Call{
		{ID: "1", Name: "write_file", Arguments: map[string]string{"file_path": "/x"}},
		{ID: "2", Name: "write_file", Arguments: map[string]string{"file_path": "/y"}},
	}
	exec := New(tc, conflict.New(), 2)
	results, err := exec.ExecuteParallel(ctx, calls, "", handler)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, tracestore.StatusCancelled, r.Status)
		assert.False(t, r.Success)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran), "pre-cancelled context skips dispatch entirely")
}

func TestJoinSpanLinksChildren(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tc := tracectx.New(store, "")

	parent, err := tc.StartSpan(ctx, tracestore.SpanKindAgentTurn, "turn", nil)
	require.NoError(t, err)

	calls := []conflict.Call{
		{ID: "1", Name: "read_file", Arguments: map[string]string{"file_path": "/a"}},
		{ID: "2", Name: "read_file", Arguments: map[string]string{"file_path": "/b"}},
	}
	exec := New(tc, conflict.New(), 2)
	results, err := exec.ExecuteParallel(ctx, calls, parent, sleepyHandler)
	require.NoError(t, err)

	childIDs := []string{results[0].SpanID, results[1].SpanID}
	joinID, err := Join(ctx, tc, "join", childIDs, MergeAggregateAll)
	require.NoError(t, err)

	joinSpan, err := store.ReconstructSpan(ctx, tc.TraceID(), joinID)
	require.NoError(t, err)
	assert.ElementsMatch(t, childIDs, joinSpan.Links)
	assert.Equal(t, "aggregate_all", joinSpan.Attributes["merge_policy"])
}
