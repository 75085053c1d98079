package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSearchTool_MockMode(t *testing.T) {
	tool := NewWebSearchTool("")

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "ai note taking apps",
	})
	require.NoError(t, err)

	assert.Equal(t, true, out["mock"])
	assert.Contains(t, out["answer"].(string), "ai note taking apps")
	results := out["results"].([]interface{})
	assert.NotEmpty(t, results)
}

func TestWebSearchTool_LiveSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tavilyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-key", req.APIKey)
		assert.Equal(t, "golang frameworks", req.Query)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"query":  req.Query,
			"answer": "Go has several popular web frameworks.",
			"results": []map[string]any{
				{"title": "Top Go frameworks", "url": "https://example.com/go", "content": "A survey", "score": 0.9},
			},
		})
	}))
	defer server.Close()

	tool := NewWebSearchTool("test-key").WithBaseURL(server.URL)

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "golang frameworks",
	})
	require.NoError(t, err)

	assert.Equal(t, false, out["mock"])
	assert.Equal(t, "Go has several popular web frameworks.", out["answer"])
	results := out["results"].([]interface{})
	require.Len(t, results, 1)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "Top Go frameworks", first["title"])
}

func TestWebSearchTool_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tool := NewWebSearchTool("bad-key").WithBaseURL(server.URL)

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "anything",
	})
	assert.Error(t, err)
}

func TestWebSearchTool_MissingQuery(t *testing.T) {
	tool := NewWebSearchTool("")
	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}
