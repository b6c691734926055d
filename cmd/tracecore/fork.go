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
	"context"
	"fmt"

	"github.com/kadirpekel/tracecore/pkg/tracestore"
)

// ForkCmd forks a new trace from an existing checkpoint.
type ForkCmd struct {
	CheckpointID string `arg:"" help:"Checkpoint id to fork from."`
	NewTraceID   string `name:"new-trace-id" help:"Explicit id for the forked trace (default: generated)."`
}

func (c *ForkCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	store, _, err := tracestore.Create(ctx, tracestore.Config{
		BasePath:       cfg.ArtifactBasePath,
		Database:       cfg.Database,
		MilestoneTools: cfg.milestoneToolSet(),
	})
	if err != nil {
		return fmt.Errorf("open trace store: %w", err)
	}
	defer store.Close()

	newTraceID, cp, err := store.ForkFromCheckpoint(ctx, c.CheckpointID, c.NewTraceID)
	if err != nil {
		return fmt.Errorf("fork checkpoint: %w", err)
	}

	fmt.Printf("forked checkpoint %s into trace %s\n", c.CheckpointID, newTraceID)
	fmt.Printf("new checkpoint: %s (step %d)\n", cp.CheckpointID, cp.StepNumber)
	return nil
}
