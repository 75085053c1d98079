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

// Package secrets resolves API keys and credentials through a chain of
// backends: environment variables, the OS keychain, and an encrypted
// file. Config values may reference secrets as ${secret:NAME}.
package secrets

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a secret key does not exist.
	ErrNotFound = errors.New("secret not found")

	// ErrUnavailable is returned when a backend cannot be used in the
	// current environment.
	ErrUnavailable = errors.New("secret backend unavailable")

	// ErrReadOnly is returned when writing to a read-only backend.
	ErrReadOnly = errors.New("secret backend is read-only")
)

// Backend stores sensitive values. Backends are queried in priority
// order by the Resolver.
type Backend interface {
	// Name returns the backend identifier ("env", "keychain", "file").
	Name() string

	// Get retrieves a secret. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a secret. Returns ErrReadOnly if unsupported.
	Set(ctx context.Context, key, value string) error

	// Delete removes a secret. Returns ErrNotFound if absent.
	Delete(ctx context.Context, key string) error

	// List returns the keys (not values) this backend holds.
	List(ctx context.Context) ([]string, error)

	// Available reports whether the backend is usable right now.
	Available() bool

	// Priority orders resolution; higher is checked first.
	Priority() int
}

// Backend priorities. Environment wins so deployments can override
// stored secrets without touching them.
const (
	envPriority      = 100
	keychainPriority = 50
	filePriority     = 25
)
