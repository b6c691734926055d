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

// RecoverCmd closes dangling spans (SPAN_START with no SPAN_END) left open
// by a crash, so the trace no longer looks in-flight.
type RecoverCmd struct {
	TraceID string `arg:"" help:"Trace id to recover."`
}

func (c *RecoverCmd) Run(cli *CLI) error {
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

	n, err := store.RecoverDanglingSpans(ctx, c.TraceID)
	if err != nil {
		return fmt.Errorf("recover dangling spans: %w", err)
	}

	fmt.Printf("recovered %d dangling span(s) in trace %s\n", n, c.TraceID)
	return nil
}
