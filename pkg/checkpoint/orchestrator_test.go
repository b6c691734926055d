package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/tracecore/pkg/dbconf"
	"github.com/kadirpekel/tracecore/pkg/phase"
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

func enabledConfig() *Config {
	enabled := true
	cfg := &Config{Enabled: &enabled}
	cfg.SetDefaults()
	return cfg
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	traceID := tracestore.GenerateTraceID()

	orch := NewOrchestrator(enabledConfig(), store)
	ps := phase.New()
	ps.Hypothesis = "off-by-one"

	snap := NewSnapshot().WithPhaseState(ps).WithAgentMemory([]byte("serialized-memory"))
	cp, err := orch.Save(ctx, traceID, 7, "mid-fix", snap, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cp.StepNumber)

	loaded, err := orch.Load(ctx, cp.CheckpointID)
	require.NoError(t, err)
	require.NotNil(t, loaded.PhaseState)
	assert.Equal(t, "off-by-one", loaded.PhaseState.Hypothesis)
	assert.Equal(t, []byte("serialized-memory"), loaded.AgentMemory)
}

func TestSaveNoOpWhenDisabled(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cfg := &Config{}
	cfg.SetDefaults()

	orch := NewOrchestrator(cfg, store)
	cp, err := orch.Save(ctx, tracestore.GenerateTraceID(), 1, "x", NewSnapshot(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, cp.CheckpointID)
}

func TestForkDelegatesToStore(t *testing.T) {
	// Scenario E, through the orchestrator's thin wrapper.
	store := newTestStore(t)
	ctx := context.Background()
	traceID := tracestore.GenerateTraceID()

	orch := NewOrchestrator(enabledConfig(), store)
	snap := NewSnapshot().WithAgentMemory([]byte("S1"))
	cp, err := orch.Save(ctx, traceID, 7, "mid-fix", snap, "", nil)
	require.NoError(t, err)

	newTraceID, newCP, err := orch.Fork(ctx, cp.CheckpointID, "")
	require.NoError(t, err)
	assert.NotEqual(t, traceID, newTraceID)
	assert.Equal(t, cp.CheckpointID, newCP.ParentCheckpointID)

	parent, err := store.GetCheckpoint(ctx, cp.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, tracestore.CheckpointForked, parent.Status)

	state, err := store.GetCheckpointState(ctx, newCP.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, []byte("S1"), state)
}

func TestHooksRespectConfig(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	traceID := tracestore.GenerateTraceID()

	cfg := enabledConfig()
	cfg.AfterTools = boolPtr(true)
	orch := NewOrchestrator(cfg, store)
	hooks := NewHooks(orch)

	hooks.BeforeLLMCall(ctx, traceID, 1, NewSnapshot())
	hooks.AfterToolExecution(ctx, traceID, 2, NewSnapshot())

	spans, err := store.GetEvents(ctx, tracestore.EventFilter{TraceID: traceID})
	require.NoError(t, err)
	_ = spans // no spans expected; only checkpoints written

	checkpoints, err := store.ListCheckpoints(ctx, traceID, "")
	require.NoError(t, err)
	require.Len(t, checkpoints, 1, "BeforeLLMCall is a no-op unless BeforeLLM is configured")
	assert.Equal(t, "post-tools", checkpoints[0].Description)
}

func boolPtr(b bool) *bool { return &b }
