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
	"strings"

	"github.com/zalando/go-keyring"
)

const keychainService = "draftforge"

// KeychainBackend stores secrets in the OS keychain: macOS Keychain,
// the Secret Service API on Linux, Credential Manager on Windows.
type KeychainBackend struct {
	available bool
}

// NewKeychainBackend creates the keychain backend, probing the keyring
// service so locked or missing keychains are detected up front.
func NewKeychainBackend() *KeychainBackend {
	b := &KeychainBackend{available: true}
	if _, err := keyring.Get(keychainService, "__draftforge_probe__"); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		b.available = false
	}
	return b
}

// Name returns the backend identifier.
func (k *KeychainBackend) Name() string { return "keychain" }

// Get retrieves a secret from the keychain.
func (k *KeychainBackend) Get(ctx context.Context, key string) (string, error) {
	if !k.available {
		return "", fmt.Errorf("%w: keychain service", ErrUnavailable)
	}
	value, err := keyring.Get(keychainService, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if keychainLocked(err) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", fmt.Errorf("keychain: %w", err)
	}
	return value, nil
}

// Set stores a secret in the keychain.
func (k *KeychainBackend) Set(ctx context.Context, key, value string) error {
	if !k.available {
		return fmt.Errorf("%w: keychain service", ErrUnavailable)
	}
	if err := keyring.Set(keychainService, key, value); err != nil {
		if keychainLocked(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("keychain: %w", err)
	}
	return nil
}

// Delete removes a secret from the keychain.
func (k *KeychainBackend) Delete(ctx context.Context, key string) error {
	if !k.available {
		return fmt.Errorf("%w: keychain service", ErrUnavailable)
	}
	if err := keyring.Delete(keychainService, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("keychain: %w", err)
	}
	return nil
}

// List returns an empty slice; the underlying keychain APIs cannot
// enumerate entries on all platforms.
func (k *KeychainBackend) List(ctx context.Context) ([]string, error) {
	if !k.available {
		return nil, fmt.Errorf("%w: keychain service", ErrUnavailable)
	}
	return []string{}, nil
}

// Available reports whether the keyring service responded to the probe.
func (k *KeychainBackend) Available() bool { return k.available }

// Priority returns the backend priority.
func (k *KeychainBackend) Priority() int { return keychainPriority }

// keychainLocked recognizes errors that mean the keychain exists but
// cannot be used right now.
func keychainLocked(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"locked", "permission denied", "user interaction required", "secret service", "dbus", "user canceled"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
