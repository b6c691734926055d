package tracectx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kadirpekel/tracecore/pkg/dbconf"
	"github.com/kadirpekel/tracecore/pkg/tracestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestContextNestedSpans(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	tc := New(store, "")

	turn, err := tc.StartSpan(ctx, tracestore.SpanKindAgentTurn, "turn", nil)
	require.NoError(t, err)
	assert.Equal(t, turn, tc.CurrentSpanID())

	tool, err := tc.StartToolSpan(ctx, "Read", &tracestore.ToolProvenance{ToolName: "read_file"}, "")
	require.NoError(t, err)
	assert.Equal(t, tool, tc.CurrentSpanID())

	require.NoError(t, tc.EndSpan(ctx, tracestore.StatusOK, "", "", "", nil))
	assert.Equal(t, turn, tc.CurrentSpanID())
	require.NoError(t, tc.EndSpan(ctx, tracestore.StatusOK, "", "", "", nil))
	assert.Equal(t, "", tc.CurrentSpanID())

	spans, err := store.GetTraceSpans(ctx, tc.TraceID())
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, turn, spans[1].ParentSpanID)
}

func TestForkedContextIndependentStack(t *testing.T) {
	// Invariant: spans started through a Forked never observe or mutate
	// another thread's stack, and the outermost span parents at the
	// executor's parent_span_id.
	ctx := context.Background()
	store := newTestStore(t)
	tc := New(store, "")

	parentSpan, err := tc.StartSpan(ctx, tracestore.SpanKindToolCall, "join-point", nil)
	require.NoError(t, err)

	f1 := Fork(tc, parentSpan)
	f2 := Fork(tc, parentSpan)

	w1, err := f1.StartSpan(ctx, tracestore.SpanKindToolCall, "worker-1", nil)
	require.NoError(t, err)
	w2, err := f2.StartSpan(ctx, tracestore.SpanKindToolCall, "worker-2", nil)
	require.NoError(t, err)

	require.NoError(t, f1.EndSpan(ctx, tracestore.StatusOK, "", "", "", nil))
	require.NoError(t, f2.EndSpan(ctx, tracestore.StatusOK, "", "", "", nil))

	spanW1, err := store.ReconstructSpan(ctx, tc.TraceID(), w1)
	require.NoError(t, err)
	spanW2, err := store.ReconstructSpan(ctx, tc.TraceID(), w2)
	require.NoError(t, err)

	assert.Equal(t, parentSpan, spanW1.ParentSpanID)
	assert.Equal(t, parentSpan, spanW2.ParentSpanID)
	assert.NotEqual(t, w1, w2)

	// Main thread's stack is unaffected by forked workers.
	assert.Equal(t, parentSpan, tc.CurrentSpanID())
}

func TestActiveContextInstallAndClear(t *testing.T) {
	store := newTestStore(t)
	tc := New(store, "")
	forked := Fork(tc, "span-parent")

	base := context.Background()
	assert.Nil(t, Active(base))

	installed := WithActive(base, forked)
	assert.Same(t, forked, Active(installed))

	// The base context (as a caller's defer-epilogue would restore) still
	// carries no active context: installation is scoped to the derived
	// context, not mutated in place.
	assert.Nil(t, Active(base))
}
