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

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const envPrefix = "DRAFTFORGE_SECRET_"

// wellKnownAliases maps secret keys to the conventional environment
// variables users already export for these services.
var wellKnownAliases = map[string]string{
	"anthropic_api_key":     "ANTHROPIC_API_KEY",
	"openai_api_key":        "OPENAI_API_KEY",
	"gemini_api_key":        "GEMINI_API_KEY",
	"tavily_api_key":        "TAVILY_API_KEY",
	"serpapi_api_key":       "SERPAPI_API_KEY",
	"spotify_client_id":     "SPOTIFY_CLIENT_ID",
	"spotify_client_secret": "SPOTIFY_CLIENT_SECRET",
}

// EnvBackend reads secrets from environment variables. It checks
// DRAFTFORGE_SECRET_<KEY> first, then the service's conventional
// variable name.
type EnvBackend struct{}

// NewEnvBackend creates the environment variable backend.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{}
}

// Name returns the backend identifier.
func (e *EnvBackend) Name() string { return "env" }

// Get retrieves a secret from the environment.
func (e *EnvBackend) Get(ctx context.Context, key string) (string, error) {
	if value := os.Getenv(envPrefix + strings.ToUpper(key)); value != "" {
		return value, nil
	}
	if alias, ok := wellKnownAliases[strings.ToLower(key)]; ok {
		if value := os.Getenv(alias); value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: environment variable not set for %q", ErrNotFound, key)
}

// Set is unsupported; the environment backend is read-only.
func (e *EnvBackend) Set(ctx context.Context, key, value string) error {
	return ErrReadOnly
}

// Delete is unsupported; the environment backend is read-only.
func (e *EnvBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnly
}

// List returns all DRAFTFORGE_SECRET_* keys present in the environment.
func (e *EnvBackend) List(ctx context.Context) ([]string, error) {
	var keys []string
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envPrefix) {
			continue
		}
		name, value, ok := strings.Cut(env, "=")
		if !ok || value == "" {
			continue
		}
		keys = append(keys, strings.ToLower(strings.TrimPrefix(name, envPrefix)))
	}
	return keys, nil
}

// Available always returns true.
func (e *EnvBackend) Available() bool { return true }

// Priority returns the backend priority.
func (e *EnvBackend) Priority() int { return envPriority }
