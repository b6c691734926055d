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

// Package conflict classifies tool calls as parallel-safe or exclusive and
// partitions a batch of calls into conflict-free groups that preserve
// happens-before ordering for calls touching the same resource.
package conflict

import (
	"fmt"
	"strings"
	"sync"
)

// Class is a tool call's conflict classification.
type Class string

const (
	ParallelSafe Class = "parallel_safe"
	Exclusive    Class = "exclusive"
)

// Call is the minimal shape the conflict model needs from a tool
// invocation: its identity, name, and arguments.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]string
}

// Model classifies tools and computes resource keys for exclusive ones.
// Safe for concurrent use.
type Model struct {
	mu      sync.RWMutex
	classes map[string]Class

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// defaultClasses mirrors the default conflict table: read-only file access
// is parallel-safe; writes, shell, and browser interaction are exclusive.
var defaultClasses = map[string]Class{
	"read_file":        ParallelSafe,
	"read":             ParallelSafe,
	"write_file":       Exclusive,
	"write":            Exclusive,
	"edit_file":        Exclusive,
	"bash":             Exclusive,
	"shell":            Exclusive,
	"browser.navigate": Exclusive,
	"browser.click":    Exclusive,
	"browser.type":     Exclusive,
	"browser.extract":  Exclusive,
}

// New returns a Model seeded with the default tool classification table.
func New() *Model {
	classes := make(map[string]Class, len(defaultClasses))
	for k, v := range defaultClasses {
		classes[k] = v
	}
	return &Model{
		classes: classes,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RegisterTool lets callers override or add a tool's conflict class at boot time.
func (m *Model) RegisterTool(toolName string, class Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[toolName] = class
}

// GetConflictClass returns the registered class for toolName, defaulting to
// EXCLUSIVE (conservative) for unknown tools.
func (m *Model) GetConflictClass(toolName string) Class {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.classes[toolName]; ok {
		return c
	}
	return Exclusive
}

// GetResourceKey returns the resource key a call contends on, or "" if the
// call is parallel-safe.
func (m *Model) GetResourceKey(call Call) string {
	if m.GetConflictClass(call.Name) == ParallelSafe {
		return ""
	}

	switch {
	case call.Name == "write_file" || call.Name == "write" || call.Name == "edit_file":
		path := call.Arguments["file_path"]
		if path == "" {
			path = call.Arguments["path"]
		}
		if path == "" {
			path = "unknown"
		}
		return fmt.Sprintf("file:%s", path)
	case call.Name == "bash" || call.Name == "shell":
		sessionID := call.Arguments["session_id"]
		if sessionID == "" {
			sessionID = "default"
		}
		return fmt.Sprintf("bash:%s", sessionID)
	case strings.HasPrefix(call.Name, "browser."):
		sessionID := call.Arguments["session_id"]
		if sessionID == "" {
			sessionID = "default"
		}
		return fmt.Sprintf("browser:%s", sessionID)
	default:
		return fmt.Sprintf("tool:%s", call.Name)
	}
}

// GetLock returns the process-local lock for resourceKey, creating it if
// this is the first observation of that key.
func (m *Model) GetLock(resourceKey string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[resourceKey]
	if !ok {
		l = &sync.Mutex{}
		m.locks[resourceKey] = l
	}
	return l
}

// CanRunParallel reports whether every exclusive call in calls operates on
// a distinct resource key.
func (m *Model) CanRunParallel(calls []Call) bool {
	seen := make(map[string]bool, len(calls))
	for _, c := range calls {
		key := m.GetResourceKey(c)
		if key == "" {
			continue
		}
		if seen[key] {
			return false
		}
		seen[key] = true
	}
	return true
}

// PartitionByConflicts walks calls in order, grouping consecutive calls
// that don't conflict. A call joins the current group if it is
// parallel-safe or its resource key is not already present in the group;
// otherwise the current group closes and a new one starts with just that
// call. Groups execute in order; members within a group may run
// concurrently.
func (m *Model) PartitionByConflicts(calls []Call) [][]Call {
	if len(calls) == 0 {
		return nil
	}

	var groups [][]Call
	var current []Call
	resources := make(map[string]bool)

	for _, call := range calls {
		key := m.GetResourceKey(call)
		switch {
		case key == "":
			current = append(current, call)
		case resources[key]:
			if len(current) > 0 {
				groups = append(groups, current)
			}
			current = []Call{call}
			resources = map[string]bool{key: true}
		default:
			current = append(current, call)
			resources[key] = true
		}
	}

	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
