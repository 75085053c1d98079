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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/internal/secrets"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	// A missing file still yields a valid config.
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 60*time.Second, cfg.LLM.RequestTimeout)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, 3, cfg.Pipelines.MaxIterations)
	assert.Equal(t, 0.7, cfg.Pipelines.MinConfidence)
	assert.Equal(t, "127.0.0.1:8930", cfg.Daemon.ListenAddr)
	assert.Equal(t, 4, cfg.Daemon.MaxConcurrentRuns)
	assert.Empty(t, cfg.DefaultProvider)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
default_provider: anthropic
providers:
  anthropic:
    type: anthropic
    api_key: ${secret:anthropic_api_key}
    models:
      fast: claude-haiku
      strategic: claude-opus
pipelines:
  max_iterations: 5
  min_confidence: 0.8
daemon:
  listen_addr: 0.0.0.0:9000
  schedules:
    enabled: true
    file: schedules.yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "anthropic", cfg.DefaultProvider)

	p := cfg.Providers["anthropic"]
	assert.Equal(t, "anthropic", p.Type)
	assert.Equal(t, "${secret:anthropic_api_key}", p.APIKey)
	assert.Equal(t, "claude-haiku", p.Models.Fast)
	assert.Equal(t, "claude-opus", p.Models.Strategic)
	assert.Empty(t, p.Models.Balanced)

	assert.Equal(t, 5, cfg.Pipelines.MaxIterations)
	assert.Equal(t, 0.8, cfg.Pipelines.MinConfidence)
	assert.Equal(t, "0.0.0.0:9000", cfg.Daemon.ListenAddr)
	assert.True(t, cfg.Daemon.Schedules.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\n")

	t.Setenv("DRAFTFORGE_LOG_LEVEL", "error")
	t.Setenv("DRAFTFORGE_LISTEN_ADDR", "127.0.0.1:7777")
	t.Setenv("DRAFTFORGE_MAX_CONCURRENT_RUNS", "8")
	t.Setenv("DRAFTFORGE_REQUEST_TIMEOUT", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:7777", cfg.Daemon.ListenAddr)
	assert.Equal(t, 8, cfg.Daemon.MaxConcurrentRuns)
	assert.Equal(t, 90*time.Second, cfg.LLM.RequestTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log format",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.Pipelines.MinConfidence = 1.5 },
			wantErr: "min_confidence",
		},
		{
			name: "provider without type",
			mutate: func(c *Config) {
				c.Providers = map[string]ProviderConfig{"main": {}}
			},
			wantErr: "has no type",
		},
		{
			name: "unknown provider type",
			mutate: func(c *Config) {
				c.Providers = map[string]ProviderConfig{"main": {Type: "cohere"}}
			},
			wantErr: "unsupported type",
		},
		{
			name: "default provider not configured",
			mutate: func(c *Config) {
				c.DefaultProvider = "missing"
				c.Providers = map[string]ProviderConfig{"main": {Type: "mock"}}
			},
			wantErr: "not configured",
		},
		{
			name: "auth without tokens",
			mutate: func(c *Config) {
				c.Daemon.Auth.Enabled = true
			},
			wantErr: "no token hashes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("DRAFTFORGE_SECRET_ANTHROPIC_API_KEY", "sk-resolved")
	t.Setenv("DRAFTFORGE_SECRET_TAVILY_API_KEY", "tvly-resolved")

	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"anthropic": {Type: "anthropic", APIKey: "${secret:anthropic_api_key}"},
		"local":     {Type: "openai", APIKey: "literal-key"},
	}
	cfg.Tools.TavilyAPIKey = "${secret:tavily_api_key}"

	r := secrets.NewResolver(secrets.NewEnvBackend())
	require.NoError(t, cfg.ResolveSecrets(context.Background(), r))

	assert.Equal(t, "sk-resolved", cfg.Providers["anthropic"].APIKey)
	assert.Equal(t, "literal-key", cfg.Providers["local"].APIKey)
	assert.Equal(t, "tvly-resolved", cfg.Tools.TavilyAPIKey)
}

func TestResolveSecrets_MissingSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"anthropic": {Type: "anthropic", APIKey: "${secret:never_set_anywhere}"},
	}

	r := secrets.NewResolver(secrets.NewEnvBackend())
	err := cfg.ResolveSecrets(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `provider "anthropic"`)
}

func TestDir_HonorsXDGConfigHome(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "draftforge"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
