// Copyright 2025 The Draftforge Authors
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
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/draftforge/draftforge/internal/app"
	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/daemon"
	forgelog "github.com/draftforge/draftforge/internal/log"
	"github.com/draftforge/draftforge/internal/secrets"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/tracing"
)

// Version information (injected via ldflags at build time)
var (
	version = "dev"
)

func main() {
	var (
		configPath  = flag.String("config", "", "config file path")
		listenAddr  = flag.String("listen", "", "HTTP listen address")
		dataDir     = flag.String("data-dir", "", "directory for the run database")
		trace       = flag.Bool("trace", false, "emit OpenTelemetry spans to stdout")
		showVersion = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("draftforged %s\n", version)
		os.Exit(0)
	}

	logger := forgelog.New(forgelog.FromEnv())
	slog.SetDefault(logger)

	if err := run(*configPath, *listenAddr, *dataDir, *trace, logger); err != nil {
		logger.Error("daemon exited", forgelog.Error(err))
		os.Exit(1)
	}
}

func run(configPath, listenAddr, dataDir string, trace bool, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Daemon.ListenAddr = listenAddr
	}
	if dataDir != "" {
		cfg.Daemon.DataDir = dataDir
	}
	if err := cfg.ResolveSecrets(ctx, secrets.DefaultResolver()); err != nil {
		return err
	}

	if cfg.Daemon.DataDir == "" {
		cfg.Daemon.DataDir, err = config.DataDir()
		if err != nil {
			return err
		}
	}
	st, err := store.New(store.Config{
		Path: filepath.Join(cfg.Daemon.DataDir, "draftforge.db"),
		WAL:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	provider, err := app.Provider(cfg, logger)
	if err != nil {
		return err
	}
	toolRegistry, err := app.Tools(cfg)
	if err != nil {
		return err
	}
	mcpSources := app.AttachMCPServers(ctx, cfg, toolRegistry, logger)
	defer func() {
		for _, src := range mcpSources {
			src.Close()
		}
	}()
	registry := app.PipelinesWith(provider, toolRegistry, cfg, logger)

	tracer, err := tracing.New(tracing.Config{
		Enabled:        trace,
		ServiceName:    "draftforged",
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer tracer.Shutdown(context.Background())

	d, err := daemon.New(daemon.Options{
		Version:  version,
		Config:   cfg,
		Store:    st,
		Registry: registry,
		Logger:   logger,
		Tracing:  tracer,
	})
	if err != nil {
		return err
	}

	logger.Info("starting draftforged",
		"version", version,
		"addr", cfg.Daemon.ListenAddr,
		"mock", cfg.DefaultProvider == "")
	return d.Run(ctx)
}
