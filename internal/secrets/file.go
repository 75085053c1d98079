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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving the AES-256 key from the master key.
const (
	argonTime        = 3
	argonMemory      = 64 * 1024
	argonParallelism = 4
	argonKeyLen      = 32

	gcmNonceLen = 12
)

// FileBackend stores secrets in a JSON file encrypted with
// AES-256-GCM. The master key comes from DRAFTFORGE_MASTER_KEY or
// <config dir>/draftforge/master.key.
type FileBackend struct {
	path      string
	masterKey []byte
	available bool

	mu sync.RWMutex
}

// fileEnvelope is the on-disk layout of the encrypted secrets file.
type fileEnvelope struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// NewFileBackend creates the encrypted file backend. An empty path
// defaults to <config dir>/draftforge/secrets.enc. When no master key
// can be resolved the backend reports itself unavailable rather than
// erroring, so the resolver can skip it.
func NewFileBackend(path, masterKey string) (*FileBackend, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate config directory: %w", err)
		}
		path = filepath.Join(configDir, "draftforge", "secrets.enc")
	}

	key, err := resolveMasterKey(masterKey)
	if err != nil {
		return &FileBackend{path: path}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}

	return &FileBackend{path: path, masterKey: key, available: true}, nil
}

// Name returns the backend identifier.
func (f *FileBackend) Name() string { return "file" }

// Get retrieves a secret from the encrypted file.
func (f *FileBackend) Get(ctx context.Context, key string) (string, error) {
	if !f.available {
		return "", fmt.Errorf("%w: no master key", ErrUnavailable)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	stored, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", err
	}

	value, ok := stored[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

// Set stores a secret in the encrypted file.
func (f *FileBackend) Set(ctx context.Context, key, value string) error {
	if !f.available {
		return fmt.Errorf("%w: no master key", ErrUnavailable)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stored, err := f.load()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if stored == nil {
		stored = make(map[string]string)
	}
	stored[key] = value
	return f.save(stored)
}

// Delete removes a secret from the encrypted file.
func (f *FileBackend) Delete(ctx context.Context, key string) error {
	if !f.available {
		return fmt.Errorf("%w: no master key", ErrUnavailable)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stored, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return err
	}
	if _, ok := stored[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(stored, key)
	return f.save(stored)
}

// List returns all keys in the encrypted file, sorted.
func (f *FileBackend) List(ctx context.Context) ([]string, error) {
	if !f.available {
		return nil, fmt.Errorf("%w: no master key", ErrUnavailable)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	stored, err := f.load()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	keys := make([]string, 0, len(stored))
	for k := range stored {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Available reports whether a master key was resolved.
func (f *FileBackend) Available() bool { return f.available }

// Priority returns the backend priority.
func (f *FileBackend) Priority() int { return filePriority }

func (f *FileBackend) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	var envelope fileEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("corrupt secrets file: %w", err)
	}

	key := argon2.IDKey(f.masterKey, envelope.Salt, argonTime, argonMemory, argonParallelism, argonKeyLen)
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, envelope.Nonce, envelope.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong master key or corrupted file): %w", err)
	}
	defer zero(plaintext)

	var stored map[string]string
	if err := json.Unmarshal(plaintext, &stored); err != nil {
		return nil, fmt.Errorf("corrupt secrets payload: %w", err)
	}
	return stored, nil
}

func (f *FileBackend) save(stored map[string]string) error {
	plaintext, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	defer zero(plaintext)

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	key := argon2.IDKey(f.masterKey, salt, argonTime, argonMemory, argonParallelism, argonKeyLen)
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcmNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	envelope := fileEnvelope{
		Salt:  salt,
		Nonce: nonce,
		Data:  gcm.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	// Write-then-rename keeps a crash from truncating the file.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func resolveMasterKey(provided string) ([]byte, error) {
	if provided != "" {
		return []byte(provided), nil
	}
	if env := os.Getenv("DRAFTFORGE_MASTER_KEY"); env != "" {
		return []byte(env), nil
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		keyPath := filepath.Join(configDir, "draftforge", "master.key")
		if info, err := os.Stat(keyPath); err == nil && info.Mode().Perm()&0o077 == 0 {
			if key, err := os.ReadFile(keyPath); err == nil {
				return key, nil
			}
		}
	}
	return nil, errors.New("master key not available")
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
