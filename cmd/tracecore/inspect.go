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
	"encoding/json"
	"fmt"

	"github.com/kadirpekel/tracecore/pkg/tracestore"
)

// InspectCmd prints a trace's session overview.
type InspectCmd struct {
	TraceID string `arg:"" help:"Trace id to inspect."`
	Spans   bool   `help:"Print the full span list instead of the overview."`
}

func (c *InspectCmd) Run(cli *CLI) error {
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

	var out any
	if c.Spans {
		spans, err := store.GetTraceSpans(ctx, c.TraceID)
		if err != nil {
			return fmt.Errorf("get trace spans: %w", err)
		}
		out = spans
	} else {
		overview, err := store.GetSessionOverview(ctx, c.TraceID)
		if err != nil {
			return fmt.Errorf("get session overview: %w", err)
		}
		out = overview
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}
