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

// Package cli implements the draftforge command line interface.
package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/internal/app"
	"github.com/draftforge/draftforge/internal/config"
	forgelog "github.com/draftforge/draftforge/internal/log"
	"github.com/draftforge/draftforge/internal/secrets"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/pkg/pipeline"
)

// cliApp carries state shared by all subcommands.
type cliApp struct {
	version    string
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	resolver   *secrets.Resolver
}

// NewRootCmd builds the draftforge command tree.
func NewRootCmd(version string) *cobra.Command {
	a := &cliApp{version: version}

	root := &cobra.Command{
		Use:           "draftforge",
		Short:         "Agent pipelines for content work: market fit, repurposing, digests, reviewed drafts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.bootstrap(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file path (default ~/.config/draftforge/config.yaml)")

	root.AddCommand(
		newRunCmd(a),
		newPipelinesCmd(a),
		newRunsCmd(a),
		newChatCmd(a),
		newSecretsCmd(a),
		newInitCmd(a),
	)
	return root
}

// bootstrap loads config, resolves secrets, and sets up logging.
func (a *cliApp) bootstrap(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	a.resolver = secrets.DefaultResolver()
	if err := cfg.ResolveSecrets(ctx, a.resolver); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = forgelog.New(&forgelog.Config{
		Level:  cfg.Log.Level,
		Format: forgelog.Format(cfg.Log.Format),
		Output: os.Stderr,
	})
	slog.SetDefault(a.logger)
	return nil
}

// pipelineRegistry assembles the pipeline registry from config.
func (a *cliApp) pipelineRegistry() (*pipeline.Registry, error) {
	return app.Pipelines(a.cfg, a.logger)
}

// openStore opens the run database under the configured data dir.
func (a *cliApp) openStore() (*store.Store, error) {
	dataDir := a.cfg.Daemon.DataDir
	if dataDir == "" {
		var err error
		dataDir, err = config.DataDir()
		if err != nil {
			return nil, err
		}
	}
	return store.New(store.Config{
		Path: filepath.Join(dataDir, "draftforge.db"),
		WAL:  true,
	})
}
