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
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/tracecore/pkg/checkpoint"
	"github.com/kadirpekel/tracecore/pkg/dbconf"
	"github.com/kadirpekel/tracecore/pkg/observability"
	"github.com/kadirpekel/tracecore/pkg/phase"
)

// Config is the on-disk shape for tracecore's YAML config file.
type Config struct {
	// ArtifactBasePath roots both the artifact tree and, when Database is
	// unset, the default SQLite file.
	ArtifactBasePath string `yaml:"artifact_base_path"`

	Database dbconf.DatabaseConfig `yaml:"database"`

	HTTP struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"http"`

	// ParallelMaxWorkers bounds the tool-call worker pool per conflict
	// group. 0 means unbounded (capped at group size).
	ParallelMaxWorkers int `yaml:"parallel_max_workers"`

	// MilestoneTools overrides the default milestone tool-name set used by
	// GetSessionOverview. Empty selects tracestore.DefaultMilestoneTools.
	MilestoneTools []string `yaml:"milestone_tools,omitempty"`

	// PhaseBudgetOverrides overrides a named phase's MaxToolCalls, keyed by
	// phase value (e.g. "fix", "localization").
	PhaseBudgetOverrides map[string]int `yaml:"phase_budget_overrides,omitempty"`

	Checkpoint    checkpoint.Config      `yaml:"checkpoint,omitempty"`
	Observability observability.Config   `yaml:"observability,omitempty"`
}

// SetDefaults applies tracecore's defaults to an unset config.
func (c *Config) SetDefaults() {
	if c.ArtifactBasePath == "" {
		c.ArtifactBasePath = ".tracecore"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
		c.Database.Database = filepath.Join(c.ArtifactBasePath, "traces.db")
	}
	c.Database.SetDefaults()
	if c.HTTP.Host == "" {
		c.HTTP.Host = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8090
	}
	c.Checkpoint.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks the loaded config for errors.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

// milestoneToolSet converts MilestoneTools into the map shape
// tracestore.Config expects, or nil if unset (selecting the package default).
func (c *Config) milestoneToolSet() map[string]bool {
	if len(c.MilestoneTools) == 0 {
		return nil
	}
	set := make(map[string]bool, len(c.MilestoneTools))
	for _, name := range c.MilestoneTools {
		set[name] = true
	}
	return set
}

// applyPhaseBudgetOverrides mutates the shared phase.Budgets table in
// place. Called once at startup before any phase state machine advances.
func (c *Config) applyPhaseBudgetOverrides() {
	for name, maxCalls := range c.PhaseBudgetOverrides {
		p := phase.Phase(name)
		if budget, ok := phase.Budgets[p]; ok {
			budget.MaxToolCalls = maxCalls
			phase.Budgets[p] = budget
		}
	}
}

// loadConfig reads a YAML config file from path, applying defaults and
// validating the result. An empty path returns a default Config.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if envFile := filepath.Join(filepath.Dir(path), ".env"); fileExists(envFile) {
			_ = godotenv.Load(envFile)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
