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

// Package config loads draftforge configuration from YAML under the
// XDG config directory, with environment variable overrides and
// ${secret:NAME} references resolved through the secrets chain.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/draftforge/draftforge/internal/secrets"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete draftforge configuration.
type Config struct {
	Log       LogConfig      `yaml:"log"`
	LLM       LLMConfig      `yaml:"llm"`
	Daemon    DaemonConfig   `yaml:"daemon"`
	Pipelines PipelineConfig `yaml:"pipelines"`
	Tools     ToolsConfig    `yaml:"tools"`

	// DefaultProvider names the provider used when a run does not pick
	// one. Empty means mock mode.
	DefaultProvider string `yaml:"default_provider,omitempty"`

	// Providers maps provider instance names to their configuration.
	Providers map[string]ProviderConfig `yaml:"providers,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level,omitempty"`

	// Format is text or json.
	Format string `yaml:"format,omitempty"`
}

// LLMConfig holds global LLM client settings.
type LLMConfig struct {
	// RequestTimeout bounds a single completion call.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// MaxRetries is the retry budget for transient provider errors.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// RetryBackoffBase is the initial retry delay.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base,omitempty"`

	// RequestsPerSecond rate-limits each provider. Zero disables.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// ProviderConfig configures one LLM provider instance.
type ProviderConfig struct {
	// Type is the provider implementation: anthropic, openai, gemini,
	// or mock.
	Type string `yaml:"type"`

	// APIKey is the credential, either literal or ${secret:NAME}.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the API endpoint for compatible gateways.
	BaseURL string `yaml:"base_url,omitempty"`

	// Models maps tiers to provider model IDs, overriding defaults.
	Models ModelTierMap `yaml:"models,omitempty"`
}

// ModelTierMap maps abstract tiers to provider model names.
type ModelTierMap struct {
	Fast      string `yaml:"fast,omitempty"`
	Balanced  string `yaml:"balanced,omitempty"`
	Strategic string `yaml:"strategic,omitempty"`
}

// ToolsConfig holds tool credentials. Empty values put the tool in
// mock mode.
type ToolsConfig struct {
	TavilyAPIKey        string `yaml:"tavily_api_key,omitempty"`
	SerpAPIKey          string `yaml:"serpapi_api_key,omitempty"`
	SpotifyClientID     string `yaml:"spotify_client_id,omitempty"`
	SpotifyClientSecret string `yaml:"spotify_client_secret,omitempty"`
	ImageAPIKey         string `yaml:"image_api_key,omitempty"`

	// MCPServers are external MCP tool servers to launch and attach.
	MCPServers []MCPServerConfig `yaml:"mcp_servers,omitempty"`
}

// MCPServerConfig describes one stdio MCP server.
type MCPServerConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
}

// PipelineConfig bounds the quality loops.
type PipelineConfig struct {
	// MaxIterations caps attempts per agent stage.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// MinConfidence is the validator score needed to stop retrying.
	MinConfidence float64 `yaml:"min_confidence,omitempty"`
}

// DaemonConfig configures draftforged.
type DaemonConfig struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// DataDir holds the SQLite database and run artifacts.
	DataDir string `yaml:"data_dir,omitempty"`

	// MaxConcurrentRuns limits parallel pipeline executions.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// Auth configures API authentication.
	Auth AuthConfig `yaml:"auth,omitempty"`

	// Schedules configures recurring pipeline runs.
	Schedules SchedulesConfig `yaml:"schedules,omitempty"`
}

// AuthConfig configures daemon authentication.
type AuthConfig struct {
	// Enabled requires bearer tokens on API requests.
	Enabled bool `yaml:"enabled"`

	// TokenHashes are bcrypt hashes of accepted API tokens.
	TokenHashes []string `yaml:"token_hashes,omitempty"`

	// JWTSecret signs session tokens, either literal or ${secret:NAME}.
	JWTSecret string `yaml:"jwt_secret,omitempty"`

	// SessionTTL bounds issued session tokens.
	SessionTTL time.Duration `yaml:"session_ttl,omitempty"`
}

// SchedulesConfig configures the cron scheduler.
type SchedulesConfig struct {
	// Enabled starts the scheduler.
	Enabled bool `yaml:"enabled"`

	// File is the YAML schedules file, watched for changes.
	File string `yaml:"file,omitempty"`
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the config file at path (the XDG default when empty),
// applies defaults and environment overrides, and validates.
func Load(path string) (*Config, error) {
	c := &Config{}

	if path == "" {
		var err error
		path, err = Path()
		if err != nil {
			return nil, err
		}
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	case os.IsNotExist(err):
		// Missing config is fine; defaults and env cover demo mode.
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	c.applyDefaults()
	c.loadFromEnv()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = 60 * time.Second
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.RetryBackoffBase == 0 {
		c.LLM.RetryBackoffBase = time.Second
	}

	if c.Pipelines.MaxIterations == 0 {
		c.Pipelines.MaxIterations = 3
	}
	if c.Pipelines.MinConfidence == 0 {
		c.Pipelines.MinConfidence = 0.7
	}

	if c.Daemon.ListenAddr == "" {
		c.Daemon.ListenAddr = "127.0.0.1:8930"
	}
	if c.Daemon.MaxConcurrentRuns == 0 {
		c.Daemon.MaxConcurrentRuns = 4
	}
	if c.Daemon.ShutdownTimeout == 0 {
		c.Daemon.ShutdownTimeout = 30 * time.Second
	}
	if c.Daemon.Auth.SessionTTL == 0 {
		c.Daemon.Auth.SessionTTL = 24 * time.Hour
	}
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("DRAFTFORGE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DRAFTFORGE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("DRAFTFORGE_PROVIDER"); v != "" {
		c.DefaultProvider = v
	}
	if v := os.Getenv("DRAFTFORGE_LISTEN_ADDR"); v != "" {
		c.Daemon.ListenAddr = v
	}
	if v := os.Getenv("DRAFTFORGE_DATA_DIR"); v != "" {
		c.Daemon.DataDir = v
	}
	if v := os.Getenv("DRAFTFORGE_MAX_CONCURRENT_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Daemon.MaxConcurrentRuns = n
		}
	}
	if v := os.Getenv("DRAFTFORGE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LLM.RequestTimeout = d
		}
	}
	if v := os.Getenv("DRAFTFORGE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.LLM.MaxRetries = n
		}
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}

	if c.Pipelines.MinConfidence < 0 || c.Pipelines.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence %v out of range [0,1]", ErrInvalidConfig, c.Pipelines.MinConfidence)
	}

	for name, p := range c.Providers {
		switch p.Type {
		case "anthropic", "openai", "gemini", "mock":
		case "":
			return fmt.Errorf("%w: provider %q has no type", ErrInvalidConfig, name)
		default:
			return fmt.Errorf("%w: provider %q has unsupported type %q", ErrInvalidConfig, name, p.Type)
		}
	}

	if c.DefaultProvider != "" && len(c.Providers) > 0 {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return fmt.Errorf("%w: default provider %q is not configured", ErrInvalidConfig, c.DefaultProvider)
		}
	}

	if c.Daemon.Auth.Enabled && len(c.Daemon.Auth.TokenHashes) == 0 {
		return fmt.Errorf("%w: auth enabled with no token hashes", ErrInvalidConfig)
	}

	return nil
}

// ResolveSecrets expands every ${secret:NAME} reference through the
// resolver, in place.
func (c *Config) ResolveSecrets(ctx context.Context, r *secrets.Resolver) error {
	for name, p := range c.Providers {
		resolved, err := r.Expand(ctx, p.APIKey)
		if err != nil {
			return fmt.Errorf("provider %q api_key: %w", name, err)
		}
		p.APIKey = resolved
		c.Providers[name] = p
	}

	fields := []*string{
		&c.Tools.TavilyAPIKey,
		&c.Tools.SerpAPIKey,
		&c.Tools.SpotifyClientID,
		&c.Tools.SpotifyClientSecret,
		&c.Tools.ImageAPIKey,
		&c.Daemon.Auth.JWTSecret,
	}
	for _, f := range fields {
		resolved, err := r.Expand(ctx, *f)
		if err != nil {
			return err
		}
		*f = resolved
	}
	return nil
}
