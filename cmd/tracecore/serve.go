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
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/tracecore/pkg/observability"
	"github.com/kadirpekel/tracecore/pkg/server"
	"github.com/kadirpekel/tracecore/pkg/tracestore"
)

// ServeCmd starts the HTTP read surface over a trace store.
type ServeCmd struct {
	Host string `help:"Override the config file's HTTP host."`
	Port int    `help:"Override the config file's HTTP port."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	cfg.applyPhaseBudgetOverrides()

	obsMgr, err := observability.NewManager(&cfg.Observability)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}

	store, _, err := tracestore.Create(ctx, tracestore.Config{
		BasePath:       cfg.ArtifactBasePath,
		Database:       cfg.Database,
		MilestoneTools: cfg.milestoneToolSet(),
		Recorder:       obsMgr.Recorder(),
	})
	if err != nil {
		return fmt.Errorf("open trace store: %w", err)
	}
	defer store.Close()

	host, port := cfg.HTTP.Host, cfg.HTTP.Port
	if c.Host != "" {
		host = c.Host
	}
	if c.Port != 0 {
		port = c.Port
	}

	srv, err := server.New(server.Options{
		Store:    store,
		Recorder: obsMgr.Recorder(),
		Host:     host,
		Port:     port,
		Debug:    cli.LogLevel == "debug",
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	slog.Info("tracecore read surface ready", "address", srv.Addr())
	fmt.Printf("\ntracecore read surface ready!\n")
	fmt.Printf("   Health:  http://%s/healthz\n", srv.Addr())
	if obsMgr.MetricsEnabled() {
		fmt.Printf("   Metrics: http://%s%s\n", srv.Addr(), obsMgr.MetricsEndpoint())
	}
	fmt.Println("\nPress Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	srv.Wait()
	return nil
}
