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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvBackend(t *testing.T) {
	t.Setenv("DRAFTFORGE_SECRET_TEST_KEY", "from-prefixed")
	t.Setenv("TAVILY_API_KEY", "from-alias")

	b := NewEnvBackend()
	ctx := context.Background()

	value, err := b.Get(ctx, "test_key")
	require.NoError(t, err)
	assert.Equal(t, "from-prefixed", value)

	value, err = b.Get(ctx, "tavily_api_key")
	require.NoError(t, err)
	assert.Equal(t, "from-alias", value)

	_, err = b.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, b.Set(ctx, "x", "y"), ErrReadOnly)
	assert.ErrorIs(t, b.Delete(ctx, "x"), ErrReadOnly)

	keys, err := b.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, "test_key")
}

func TestEnvBackend_PrefixedWinsOverAlias(t *testing.T) {
	t.Setenv("DRAFTFORGE_SECRET_OPENAI_API_KEY", "prefixed")
	t.Setenv("OPENAI_API_KEY", "alias")

	b := NewEnvBackend()
	value, err := b.Get(context.Background(), "openai_api_key")
	require.NoError(t, err)
	assert.Equal(t, "prefixed", value)
}

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	b, err := NewFileBackend(path, "test-master-key")
	require.NoError(t, err)
	require.True(t, b.Available())

	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "anthropic_api_key", "sk-test"))
	require.NoError(t, b.Set(ctx, "tavily_api_key", "tvly-test"))

	value, err := b.Get(ctx, "anthropic_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", value)

	keys, err := b.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic_api_key", "tavily_api_key"}, keys)

	// A fresh backend with the same master key reads the same file.
	b2, err := NewFileBackend(path, "test-master-key")
	require.NoError(t, err)
	value, err = b2.Get(ctx, "tavily_api_key")
	require.NoError(t, err)
	assert.Equal(t, "tvly-test", value)

	// The wrong master key cannot decrypt.
	b3, err := NewFileBackend(path, "wrong-key")
	require.NoError(t, err)
	_, err = b3.Get(ctx, "tavily_api_key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")

	require.NoError(t, b.Delete(ctx, "anthropic_api_key"))
	_, err = b.Get(ctx, "anthropic_api_key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileBackend_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	b, err := NewFileBackend(path, "key")
	require.NoError(t, err)
	require.NoError(t, b.Set(context.Background(), "k", "v"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileBackend_UnavailableWithoutMasterKey(t *testing.T) {
	// Point the config dir somewhere empty so no master.key is found.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DRAFTFORGE_MASTER_KEY", "")

	b, err := NewFileBackend(filepath.Join(t.TempDir(), "secrets.enc"), "")
	require.NoError(t, err)
	assert.False(t, b.Available())

	_, err = b.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestResolver_PriorityOrder(t *testing.T) {
	t.Setenv("DRAFTFORGE_SECRET_SHARED", "from-env")

	path := filepath.Join(t.TempDir(), "secrets.enc")
	fileBackend, err := NewFileBackend(path, "key")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, fileBackend.Set(ctx, "shared", "from-file"))
	require.NoError(t, fileBackend.Set(ctx, "file_only", "file-value"))

	r := NewResolver(fileBackend, NewEnvBackend())

	value, err := r.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)

	value, err = r.Get(ctx, "file_only")
	require.NoError(t, err)
	assert.Equal(t, "file-value", value)

	_, err = r.Get(ctx, "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_SetSkipsReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	fileBackend, err := NewFileBackend(path, "key")
	require.NoError(t, err)

	r := NewResolver(NewEnvBackend(), fileBackend)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", "v", ""))

	value, err := fileBackend.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestResolver_Expand(t *testing.T) {
	t.Setenv("DRAFTFORGE_SECRET_API_KEY", "resolved")

	r := NewResolver(NewEnvBackend())
	ctx := context.Background()

	value, err := r.Expand(ctx, "${secret:api_key}")
	require.NoError(t, err)
	assert.Equal(t, "resolved", value)

	// Plain values pass through.
	value, err = r.Expand(ctx, "literal-key")
	require.NoError(t, err)
	assert.Equal(t, "literal-key", value)

	_, err = r.Expand(ctx, "${secret:missing}")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.True(t, IsRef("${secret:x}"))
	assert.False(t, IsRef("plain"))
}
