// Package tracecore provides a durable, append-only observability substrate
// for autonomous agent execution.
//
// It records every step of an agent run — tool invocations, reasoning
// spans, generated artifacts, data lineage, and periodic checkpoints — with
// enough fidelity to reconstruct any historical run, fork execution from
// any prior point, and resume after a pause. A parallel-execution engine
// sits on top and relies on the trace store for correct span attribution
// under concurrency.
//
// # Components
//
//	pkg/artifact    content-addressed blob storage
//	pkg/tracestore  append-only event log, span reconstruction, checkpoints
//	pkg/tracectx    per-actor span stack and forked contexts for workers
//	pkg/conflict    tool-call conflict classification and partitioning
//	pkg/parallel    worker-pool executor built on the conflict model
//	pkg/phase       budget- and allowlist-enforced workflow phases
//	pkg/attempt     cross-attempt learning payload
//	pkg/checkpoint  checkpoint/fork orchestration
//	pkg/observability  Prometheus metrics for the store, executor, and server
//	pkg/server      read-only HTTP surface over a trace store
//	cmd/tracecore   CLI: serve, inspect, fork, recover
//
// # Quick Start
//
//	store, artifacts, err := tracestore.Create(ctx, tracestore.Config{
//	    BasePath: "./data",
//	    Database: dbconf.DatabaseConfig{Driver: "sqlite", Database: "./data/traces.db"},
//	})
//
//	tc := tracectx.New(store, "")
//	spanID, _ := tc.StartSpan(ctx, tracestore.SpanKindAgentTurn, "handle-request", nil)
//	defer tc.EndSpan(ctx, tracestore.StatusOK, "", "", "", nil)
//
// # License
//
// Apache-2.0, except files whose header names AGPL-3.0 - see LICENSE for details.
package tracecore
