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

// Command tracecore is the CLI for the execution capture core: it serves
// the read-only trace API, inspects a trace's session overview, forks a new
// trace from a checkpoint, and recovers dangling spans left open by a crash.
//
// Usage:
//
//	tracecore serve --config tracecore.yaml
//	tracecore inspect <trace_id> --config tracecore.yaml
//	tracecore fork <checkpoint_id> --config tracecore.yaml
//	tracecore recover <trace_id> --config tracecore.yaml
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/tracecore/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd  `cmd:"" help:"Show version information."`
	Serve   ServeCmd    `cmd:"" help:"Start the trace read surface."`
	Inspect InspectCmd  `cmd:"" help:"Show a trace's session overview."`
	Fork    ForkCmd     `cmd:"" help:"Fork a new trace from a checkpoint."`
	Recover RecoverCmd  `cmd:"" help:"Close dangling spans left open by a crash."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("tracecore version %s\n", version)
	return nil
}

func initLogger(cli *CLI) (func(), error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	out := os.Stderr
	var cleanup func()
	if cli.LogFile != "" {
		file, fileCleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = file
		cleanup = fileCleanup
	}

	logger.Init(level, out, cli.LogFormat)
	return cleanup, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("tracecore"),
		kong.Description("tracecore - execution capture and replay core"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
