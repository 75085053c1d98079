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

// Package app assembles the provider, tool, and pipeline registries
// from configuration. Both binaries wire through here.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/tracing"
	"github.com/draftforge/draftforge/pkg/agent"
	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/llm/providers"
	"github.com/draftforge/draftforge/pkg/pipeline"
	"github.com/draftforge/draftforge/pkg/tools"
	"github.com/draftforge/draftforge/pkg/tools/builtin"
)

// NewLLMRegistry returns a provider registry with factories for every
// supported provider type.
func NewLLMRegistry() *llm.Registry {
	reg := llm.NewRegistry()

	reg.RegisterFactory("anthropic", func(creds llm.Credentials) (llm.Provider, error) {
		api, err := apiKeyCreds(creds)
		if err != nil {
			return nil, err
		}
		p, err := providers.NewAnthropicProvider(api.APIKey)
		if err != nil {
			return nil, err
		}
		if api.BaseURL != "" {
			p = p.WithBaseURL(api.BaseURL)
		}
		return p, nil
	})

	reg.RegisterFactory("openai", func(creds llm.Credentials) (llm.Provider, error) {
		api, err := apiKeyCreds(creds)
		if err != nil {
			return nil, err
		}
		p, err := providers.NewOpenAIProvider(api.APIKey)
		if err != nil {
			return nil, err
		}
		if api.BaseURL != "" {
			p = p.WithBaseURL(api.BaseURL)
		}
		return p, nil
	})

	reg.RegisterFactory("gemini", func(creds llm.Credentials) (llm.Provider, error) {
		api, err := apiKeyCreds(creds)
		if err != nil {
			return nil, err
		}
		return providers.NewGeminiProvider(api.APIKey)
	})

	reg.RegisterFactory("mock", func(llm.Credentials) (llm.Provider, error) {
		return llm.NewMockProvider(), nil
	})

	return reg
}

func apiKeyCreds(creds llm.Credentials) (llm.APIKeyCredentials, error) {
	api, ok := creds.(llm.APIKeyCredentials)
	if !ok {
		return llm.APIKeyCredentials{}, fmt.Errorf("expected API key credentials, got %T", creds)
	}
	return api, nil
}

// Provider activates the configured default provider, wrapped with
// retry and optional rate limiting. Without a configured provider the
// whole stack runs against the mock provider.
func Provider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	name := cfg.DefaultProvider
	if name == "" {
		logger.Info("no provider configured, running in mock mode")
		return tracing.WrapProvider(llm.NewMockProvider()), nil
	}

	pc, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}

	reg := NewLLMRegistry()
	if err := reg.Activate(pc.Type, llm.APIKeyCredentials{
		APIKey:  pc.APIKey,
		BaseURL: pc.BaseURL,
	}); err != nil {
		return nil, err
	}

	retryCfg := llm.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.LLM.MaxRetries
	retryCfg.InitialDelay = cfg.LLM.RetryBackoffBase
	p, err := reg.CreateWithRetry(pc.Type, retryCfg)
	if err != nil {
		return nil, err
	}

	p = llm.NewModelOverrideProvider(p, llm.ModelOverrides{
		Fast:      pc.Models.Fast,
		Balanced:  pc.Models.Balanced,
		Strategic: pc.Models.Strategic,
	})

	if cfg.LLM.RequestsPerSecond > 0 {
		p = llm.NewRateLimitedProvider(p, cfg.LLM.RequestsPerSecond, 1)
	}
	return tracing.WrapProvider(p), nil
}

// Tools builds the tool registry from configured credentials. Tools
// without credentials run in mock mode. Podcast search could serve
// live results without credentials through the keyless iTunes API, so
// it is forced to canned output only while the whole stack is in demo
// mode.
func Tools(cfg *config.Config) (*tools.Registry, error) {
	registry := tools.NewRegistry()

	for _, tool := range []tools.Tool{
		builtin.NewWebSearchTool(cfg.Tools.TavilyAPIKey),
		builtin.NewKeywordResearchTool(cfg.Tools.SerpAPIKey),
		builtin.NewPodcastSearchTool(builtin.PodcastSearchConfig{
			SpotifyClientID:     cfg.Tools.SpotifyClientID,
			SpotifyClientSecret: cfg.Tools.SpotifyClientSecret,
			Mock:                cfg.DefaultProvider == "",
		}),
		builtin.NewImageBriefTool(cfg.Tools.ImageAPIKey),
		builtin.NewHTTPTool(),
	} {
		if err := registry.Register(tracing.WrapTool(tool)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// AttachMCPServers launches configured MCP servers and registers their
// tools. A server that fails to start is skipped with a warning so one
// broken integration does not take down the rest. Callers own the
// returned sources and should Close them on shutdown.
func AttachMCPServers(ctx context.Context, cfg *config.Config, registry *tools.Registry, logger *slog.Logger) []*tools.MCPSource {
	var sources []*tools.MCPSource
	for _, sc := range cfg.Tools.MCPServers {
		src, err := tools.NewMCPSource(ctx, tools.MCPConfig{
			ServerName: sc.Name,
			Command:    sc.Command,
			Args:       sc.Args,
			Env:        sc.Env,
		})
		if err != nil {
			logger.Warn("skipping MCP server", "server", sc.Name, "error", err)
			continue
		}
		if err := src.RegisterTools(ctx, registry); err != nil {
			logger.Warn("skipping MCP server", "server", sc.Name, "error", err)
			src.Close()
			continue
		}
		sources = append(sources, src)
	}
	return sources
}

// Pipelines assembles the pipeline registry from config.
func Pipelines(cfg *config.Config, logger *slog.Logger) (*pipeline.Registry, error) {
	provider, err := Provider(cfg, logger)
	if err != nil {
		return nil, err
	}
	toolRegistry, err := Tools(cfg)
	if err != nil {
		return nil, err
	}
	return PipelinesWith(provider, toolRegistry, cfg, logger), nil
}

// PipelinesWith builds the pipeline registry around an existing
// provider and tool registry, for callers that attach extra tool
// sources first.
func PipelinesWith(provider llm.Provider, toolRegistry *tools.Registry, cfg *config.Config, logger *slog.Logger) *pipeline.Registry {
	return pipeline.NewPipelineRegistry(pipeline.Deps{
		Provider: provider,
		Tools:    toolRegistry,
		Policy: agent.RetryPolicy{
			MaxIterations: cfg.Pipelines.MaxIterations,
			MinConfidence: cfg.Pipelines.MinConfidence,
		},
		Logger: logger,
	})
}
