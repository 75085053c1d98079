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

func TestKeywordResearchTool_MockMode(t *testing.T) {
	tool := NewKeywordResearchTool("")

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"keyword": "content marketing",
	})
	require.NoError(t, err)

	assert.Equal(t, true, out["mock"])
	related := out["related_keywords"].([]interface{})
	assert.NotEmpty(t, related)
	questions := out["questions"].([]interface{})
	assert.NotEmpty(t, questions)
}

func TestKeywordResearchTool_LiveLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "content marketing", r.URL.Query().Get("q"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"search_information": map[string]any{"total_results": 420000},
			"related_searches": []map[string]any{
				{"query": "content marketing strategy"},
			},
			"related_questions": []map[string]any{
				{"question": "What is content marketing?"},
			},
		})
	}))
	defer server.Close()

	tool := NewKeywordResearchTool("test-key").WithBaseURL(server.URL)

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"keyword": "content marketing",
	})
	require.NoError(t, err)

	assert.Equal(t, false, out["mock"])
	assert.Equal(t, "420000", out["total_results"])
	related := out["related_keywords"].([]interface{})
	assert.Equal(t, "content marketing strategy", related[0])
}

func TestImageBriefTool_MockMode(t *testing.T) {
	tool := NewImageBriefTool("")

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"prompt": "a minimalist illustration of a lighthouse",
	})
	require.NoError(t, err)

	assert.Equal(t, true, out["mock"])
	assert.NotEmpty(t, out["url"])
	assert.Equal(t, "a minimalist illustration of a lighthouse", out["revised_prompt"])
}

func TestImageBriefTool_Live(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"url": "https://images.example.com/out.png", "revised_prompt": "A lighthouse at dusk"},
			},
		})
	}))
	defer server.Close()

	tool := NewImageBriefTool("test-key").WithBaseURL(server.URL)

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"prompt": "a lighthouse",
	})
	require.NoError(t, err)
	assert.Equal(t, false, out["mock"])
	assert.Equal(t, "https://images.example.com/out.png", out["url"])
}
