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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/tracecore/pkg/phase"
)

func TestLoadConfigDefaultsWithoutPath(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ".tracecore", cfg.ArtifactBasePath)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	assert.Equal(t, 8090, cfg.HTTP.Port)
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracecore.yaml")
	content := `
artifact_base_path: ` + dir + `
http:
  host: 127.0.0.1
  port: 9191
parallel_max_workers: 4
milestone_tools:
  - bash
  - git_create_pr
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
	assert.Equal(t, 9191, cfg.HTTP.Port)
	assert.Equal(t, 4, cfg.ParallelMaxWorkers)

	set := cfg.milestoneToolSet()
	assert.True(t, set["bash"])
	assert.True(t, set["git_create_pr"])
	assert.False(t, set["grep"])
}

func TestMilestoneToolSetEmptyReturnsNil(t *testing.T) {
	cfg := &Config{}
	assert.Nil(t, cfg.milestoneToolSet())
}

func TestApplyPhaseBudgetOverrides(t *testing.T) {
	original := phase.Budgets[phase.Fix].MaxToolCalls
	t.Cleanup(func() {
		budget := phase.Budgets[phase.Fix]
		budget.MaxToolCalls = original
		phase.Budgets[phase.Fix] = budget
	})

	cfg := &Config{PhaseBudgetOverrides: map[string]int{"fix": 99}}
	cfg.applyPhaseBudgetOverrides()

	assert.Equal(t, 99, phase.Budgets[phase.Fix].MaxToolCalls)
}
