package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/pkg/errors"
	"github.com/draftforge/draftforge/pkg/llm"
)

func TestNewAnthropicProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicProvider("")
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "providers.anthropic.api_key", cfgErr.Key)
}

func TestAnthropicProvider_Complete(t *testing.T) {
	var gotReq anthropicRequest
	var gotHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "Hello from Claude"},
			},
			"model":       "claude-sonnet-4-5",
			"stop_reason": "end_turn",
			"usage": map[string]int{
				"input_tokens":  12,
				"output_tokens": 5,
			},
		})
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider("test-key")
	require.NoError(t, err)
	provider.WithBaseURL(server.URL)

	resp, err := provider.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.MessageRoleSystem, Content: "Be brief."},
			{Role: llm.MessageRoleUser, Content: "Say hello"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello from Claude", resp.Content)
	assert.Equal(t, llm.FinishReasonStop, resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 5, resp.Usage.OutputTokens)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
	assert.False(t, resp.Mock)

	assert.Equal(t, "test-key", gotHeaders.Get("x-api-key"))
	assert.Equal(t, anthropicAPIVersion, gotHeaders.Get("anthropic-version"))

	// System message goes into the top-level system field, not the message list.
	assert.Equal(t, "Be brief.", gotReq.System)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	// Default balanced tier model.
	assert.Equal(t, "claude-sonnet-4-5", gotReq.Model)
}

func TestAnthropicProvider_TierResolution(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": "ok"}},
			"stop_reason": "end_turn",
		})
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider("test-key")
	require.NoError(t, err)
	provider.WithBaseURL(server.URL)

	_, err = provider.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
		Model:    "fast",
	})
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4-5", gotModel)
}

func TestAnthropicProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"type":    "rate_limit_error",
				"message": "rate limit exceeded",
			},
		})
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider("test-key")
	require.NoError(t, err)
	provider.WithBaseURL(server.URL)

	_, err = provider.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.MessageRoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var provErr *errors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusTooManyRequests, provErr.StatusCode)
	assert.Equal(t, "rate limit exceeded", provErr.Message)
	assert.True(t, provErr.Transient())
}

func TestAnthropicProvider_EmptyMessages(t *testing.T) {
	provider, err := NewAnthropicProvider("test-key")
	require.NoError(t, err)

	_, err = provider.Complete(context.Background(), llm.CompletionRequest{})
	var validationErr *errors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "messages", validationErr.Field)
}

func TestAnthropicProvider_StopReasonMapping(t *testing.T) {
	p := &AnthropicProvider{}
	tests := []struct {
		stopReason string
		want       llm.FinishReason
	}{
		{"end_turn", llm.FinishReasonStop},
		{"stop_sequence", llm.FinishReasonStop},
		{"max_tokens", llm.FinishReasonLength},
		{"content_filtered", llm.FinishReasonContentFilter},
		{"unknown", llm.FinishReasonStop},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.mapStopReason(tt.stopReason), tt.stopReason)
	}
}
