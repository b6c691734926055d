package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetConflictClassDefaults(t *testing.T) {
	m := New()
	assert.Equal(t, ParallelSafe, m.GetConflictClass("read_file"))
	assert.Equal(t, Exclusive, m.GetConflictClass("write_file"))
	assert.Equal(t, Exclusive, m.GetConflictClass("bash"))
	assert.Equal(t, Exclusive, m.GetConflictClass("browser.click"))
	assert.Equal(t, Exclusive, m.GetConflictClass("totally_unknown_tool"), "unknown tools default to exclusive")
}

func TestRegisterToolOverridesClass(t *testing.T) {
	m := New()
	m.RegisterTool("custom_probe", ParallelSafe)
	assert.Equal(t, ParallelSafe, m.GetConflictClass("custom_probe"))
}

func TestGetResourceKey(t *testing.T) {
	m := New()

	assert.Equal(t, "", m.GetResourceKey(Call{Name: "read_file", Arguments: map[string]string{"file_path": "/a"}}))
	assert.Equal(t, "file:/a", m.GetResourceKey(Call{Name: "write_file", Arguments: map[string]string{"file_path": "/a"}}))
	assert.Equal(t, "bash:s1", m.GetResourceKey(Call{Name: "bash", Arguments: map[string]string{"session_id": "s1"}}))
	assert.Equal(t, "browser:s1", m.GetResourceKey(Call{Name: "browser.click", Arguments: map[string]string{"session_id": "s1"}}))
	assert.Equal(t, "tool:mystery", m.GetResourceKey(Call{Name: "mystery"}))
}

func TestPartitionByConflictsNonConflicting(t *testing.T) {
	// Scenario B: three reads on distinct paths partition into one group.
	m := New()
	calls := []Call{
		{ID: "1", Name: "read_file", Arguments: map[string]string{"file_path": "/a"}},
		{ID: "2", Name: "read_file", Arguments: map[string]string{"file_path": "/b"}},
		{ID: "3", Name: "read_file", Arguments: map[string]string{"file_path": "/c"}},
	}
	groups := m.PartitionByConflicts(calls)
	require := assert.New(t)
	require.Len(groups, 1)
	require.Len(groups[0], 3)
}

func TestPartitionByConflictsConflicting(t *testing.T) {
	// Scenario C: two writes to the same path partition into two groups.
	m := New()
	calls := []Call{
		{ID: "1", Name: "write_file", Arguments: map[string]string{"file_path": "/x"}},
		{ID: "2", Name: "write_file", Arguments: map[string]string{"file_path": "/x"}},
	}
	groups := m.PartitionByConflicts(calls)
	assert.Len(t, groups, 2)
	assert.Len(t, groups[0], 1)
	assert.Len(t, groups[1], 1)
}

func TestPartitionByConflictsMixed(t *testing.T) {
	m := New()
	calls := []Call{
		{ID: "1", Name: "read_file", Arguments: map[string]string{"file_path": "/a"}},
		{ID: "2", Name: "write_file", Arguments: map[string]string{"file_path": "/x"}},
		{ID: "3", Name: "write_file", Arguments: map[string]string{"file_path": "/x"}},
		{ID: "4", Name: "read_file", Arguments: map[string]string{"file_path": "/b"}},
	}
	groups := m.PartitionByConflicts(calls)
	// group1: [read /a, write /x]; group2: [write /x, read /b]
	assert.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 2)
}

func TestPartitionByConflictsEmpty(t *testing.T) {
	m := New()
	assert.Nil(t, m.PartitionByConflicts(nil))
}

func TestCanRunParallel(t *testing.T) {
	m := New()
	assert.True(t, m.CanRunParallel([]Call{
		{Name: "write_file", Arguments: map[string]string{"file_path": "/a"}},
		{Name: "write_file", Arguments: map[string]string{"file_path": "/b"}},
	}))
	assert.False(t, m.CanRunParallel([]Call{
		{Name: "write_file", Arguments: map[string]string{"file_path": "/a"}},
		{Name: "write_file", Arguments: map[string]string{"file_path": "/a"}},
	}))
}

func TestGetLockSameKeySameInstance(t *testing.T) {
	m := New()
	l1 := m.GetLock("file:/a")
	l2 := m.GetLock("file:/a")
	assert.Same(t, l1, l2)
}
