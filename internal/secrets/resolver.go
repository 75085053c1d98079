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
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// secretRef matches ${secret:NAME} references in config values.
var secretRef = regexp.MustCompile(`^\$\{secret:([^}]+)\}$`)

// Resolver queries a chain of backends in priority order.
type Resolver struct {
	backends []Backend
}

// NewResolver builds a resolver from the given backends, dropping
// unavailable ones and ordering the rest by descending priority.
func NewResolver(backends ...Backend) *Resolver {
	available := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b != nil && b.Available() {
			available = append(available, b)
		}
	}
	sort.Slice(available, func(i, j int) bool {
		return available[i].Priority() > available[j].Priority()
	})
	return &Resolver{backends: available}
}

// DefaultResolver builds the standard chain: env, keychain, encrypted
// file.
func DefaultResolver() *Resolver {
	fileBackend, _ := NewFileBackend("", "")
	return NewResolver(NewEnvBackend(), NewKeychainBackend(), fileBackend)
}

// Get returns the first backend's value for key.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	if len(r.backends) == 0 {
		return "", fmt.Errorf("%w: no backends", ErrUnavailable)
	}

	var lastErr error
	for _, b := range r.backends {
		value, err := b.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUnavailable) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to resolve secret %q: %w", key, lastErr)
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, key)
}

// Set stores a secret in the named backend, or the highest-priority
// writable backend when backendName is empty.
func (r *Resolver) Set(ctx context.Context, key, value, backendName string) error {
	if backendName != "" {
		for _, b := range r.backends {
			if b.Name() == backendName {
				return b.Set(ctx, key, value)
			}
		}
		return fmt.Errorf("%w: backend %q", ErrUnavailable, backendName)
	}

	for _, b := range r.backends {
		err := b.Set(ctx, key, value)
		if errors.Is(err, ErrReadOnly) || errors.Is(err, ErrUnavailable) {
			continue
		}
		return err
	}
	return errors.New("no writable secret backend available")
}

// Delete removes a secret from every backend that holds it.
func (r *Resolver) Delete(ctx context.Context, key string) error {
	deleted := false
	for _, b := range r.backends {
		err := b.Delete(ctx, key)
		if err == nil {
			deleted = true
			continue
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrReadOnly) || errors.Is(err, ErrUnavailable) {
			continue
		}
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// List aggregates keys across all backends, deduplicated and sorted.
func (r *Resolver) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, b := range r.backends {
		keys, err := b.List(ctx)
		if err != nil {
			continue
		}
		for _, k := range keys {
			seen[k] = true
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Expand resolves a ${secret:NAME} reference; any other value is
// returned unchanged.
func (r *Resolver) Expand(ctx context.Context, value string) (string, error) {
	m := secretRef.FindStringSubmatch(value)
	if m == nil {
		return value, nil
	}
	return r.Get(ctx, m[1])
}

// IsRef reports whether value is a ${secret:NAME} reference.
func IsRef(value string) bool {
	return secretRef.MatchString(value)
}
