// Copyright 2026 The Hive Authors
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

// Command hive runs the orchestrator: the worker registry, workflow and agent
// engines, signed-package installer, and the HTTP + WebSocket surface.
//
// Usage:
//
//	hive serve --config config.yaml
//	hive validate --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/mcphive/hive/agent"
	"github.com/mcphive/hive/config"
	"github.com/mcphive/hive/container"
	"github.com/mcphive/hive/installer"
	"github.com/mcphive/hive/logger"
	"github.com/mcphive/hive/server"
	"github.com/mcphive/hive/store"
	"github.com/mcphive/hive/team"
	"github.com/mcphive/hive/worker"
	"github.com/mcphive/hive/workflow"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the orchestrator server."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
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
	fmt.Printf("hive version %s\n", version)
	return nil
}

// ValidateCmd loads and validates the configuration, then exits.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration valid: listening on %s:%d, data dir %s\n", cfg.Host, cfg.Port, cfg.DataDir)
	return nil
}

// ServeCmd starts the orchestrator.
type ServeCmd struct {
	Port int `help:"Override the listen port." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}

	workers := worker.NewRegistry()
	workers.SetCallTimeout(time.Duration(cfg.WorkerTimeout) * time.Second)
	if err := workers.LoadCatalog(ctx, cfg.WorkersCatalogPath()); err != nil {
		return fmt.Errorf("failed to load worker catalog: %w", err)
	}

	containers := container.NewManager(cfg, &container.DefaultCommandRunner{})
	if network, err := containers.DiscoverNetwork(); err != nil {
		slog.Warn("Container network discovery failed; container installs will not work", "error", err)
	} else {
		slog.Info("Using container network", "network", network)
	}

	models, err := config.NewModelRegistry(cfg.ModelsConfigPath())
	if err != nil {
		return err
	}

	agents, err := store.NewFileStore[agent.Definition](cfg.AgentDefinitionsDir(),
		func(d *agent.Definition) error { return d.Validate() })
	if err != nil {
		return err
	}
	teams, err := store.NewFileStore[team.Definition](cfg.TeamDefinitionsDir(),
		func(d *team.Definition) error { return d.Validate() })
	if err != nil {
		return err
	}
	workflows, err := store.NewFileStore[workflow.Workflow](cfg.UserWorkflowsDir(), nil)
	if err != nil {
		return err
	}
	for _, s := range []interface{ Watch() error }{agents, teams, workflows} {
		if err := s.Watch(); err != nil {
			slog.Warn("Definition hot reload unavailable", "error", err)
		}
	}
	defer func() {
		_ = agents.Close()
		_ = teams.Close()
		_ = workflows.Close()
	}()

	srv := server.New(cfg, server.Deps{
		Workers:    workers,
		Engine:     workflow.NewEngine(workers, cfg.DataDir),
		Models:     models,
		Agents:     agents,
		Teams:      teams,
		Workflows:  workflows,
		Installer:  installer.New(cfg, containers, workers),
		Containers: containers,
	})

	fmt.Printf("\nHive orchestrator ready\n")
	fmt.Printf("   API:      http://%s:%d\n", cfg.Host, cfg.Port)
	fmt.Printf("   Health:   http://%s:%d/health\n", cfg.Host, cfg.Port)
	fmt.Printf("   Metrics:  http://%s:%d/metrics\n", cfg.Host, cfg.Port)
	fmt.Printf("   Workers:  %d registered\n", len(workers.List()))
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.ListenAndServe(ctx)
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("hive"),
		kong.Description("Hive - multi-agent orchestration platform"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
