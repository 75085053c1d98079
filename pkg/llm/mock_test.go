package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_ScriptedResponses(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Content: "first"},
		MockResponse{Content: "second", FinishReason: FinishReasonLength},
	)

	resp, err := mock.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: MessageRoleUser, Content: "one"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)
	assert.Equal(t, FinishReasonStop, resp.FinishReason)
	assert.True(t, resp.Mock)

	resp, err = mock.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: MessageRoleUser, Content: "two"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)
	assert.Equal(t, FinishReasonLength, resp.FinishReason)
}

func TestMockProvider_ScriptedError(t *testing.T) {
	boom := errors.New("boom")
	mock := NewMockProvider(MockResponse{Error: boom})

	_, err := mock.Complete(context.Background(), CompletionRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestMockProvider_CannedFallback(t *testing.T) {
	mock := NewMockProvider()

	resp, err := mock.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: MessageRoleSystem, Content: "you are a researcher"},
			{Role: MessageRoleUser, Content: "analyze this market"},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Mock)
	assert.Contains(t, resp.Content, "analyze this market")
	assert.Contains(t, resp.Content, "No API key is configured")
}

func TestMockProvider_CannedFallbackIsValidJSON(t *testing.T) {
	cases := map[string]string{
		// The multibyte rune straddles the truncation point.
		"truncation":       strings.Repeat("a", 119) + "é" + strings.Repeat("b", 40),
		"control chars":    "ring the \a bell, then \v align",
		"quotes and slash": `say "hi" to C:\Users\demo`,
		"tabs newlines":    "line one\n\tline two",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			mock := NewMockProvider()
			resp, err := mock.Complete(context.Background(), CompletionRequest{
				Messages: []Message{{Role: MessageRoleUser, Content: content}},
			})
			require.NoError(t, err)

			var parsed map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(resp.Content), &parsed), "content: %s", resp.Content)
			assert.Equal(t, true, parsed["mock"])

			prompt, ok := parsed["prompt"].(string)
			require.True(t, ok)
			assert.True(t, utf8.ValidString(prompt))
		})
	}
}

func TestMockProvider_FallbackOverride(t *testing.T) {
	mock := NewMockProvider()
	mock.Fallback = `{"verdict": "promising"}`

	resp, err := mock.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, `{"verdict": "promising"}`, resp.Content)
	assert.True(t, resp.Mock)
}

func TestMockProvider_RecordsRequests(t *testing.T) {
	mock := NewMockProvider(MockResponse{Content: "ok"})

	req := CompletionRequest{
		Messages: []Message{{Role: MessageRoleUser, Content: "hello"}},
		Model:    "fast",
	}
	_, err := mock.Complete(context.Background(), req)
	require.NoError(t, err)

	recorded := mock.Requests()
	require.Len(t, recorded, 1)
	assert.Equal(t, "fast", recorded[0].Model)
	assert.Equal(t, "hello", recorded[0].Messages[0].Content)
}

func TestMockProvider_ContextCancelled(t *testing.T) {
	mock := NewMockProvider(MockResponse{Content: "never"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mock.Complete(ctx, CompletionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockProvider_CapabilitiesFlagged(t *testing.T) {
	mock := NewMockProvider()
	caps := mock.Capabilities()
	assert.True(t, caps.Mock)
	require.NotEmpty(t, caps.Models)
	assert.Equal(t, "mock-model", caps.Models[0].ID)
}
