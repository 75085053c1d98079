// Package builtin provides the built-in tool implementations.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/draftforge/draftforge/pkg/errors"
	"github.com/draftforge/draftforge/pkg/httpclient"
	"github.com/draftforge/draftforge/pkg/tools"
)

const tavilyAPIURL = "https://api.tavily.com/search"

// WebSearchTool searches the web through the Tavily API.
// Without an API key it returns canned demo results flagged "mock": true
// so research pipelines can run end to end without credentials.
type WebSearchTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewWebSearchTool creates a web search tool. An empty apiKey enables
// mock mode.
func NewWebSearchTool(apiKey string) *WebSearchTool {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 30 * time.Second
	cfg.UserAgent = "draftforge-websearch/1.0"

	client, err := httpclient.New(cfg)
	if err != nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &WebSearchTool{
		apiKey:  apiKey,
		baseURL: tavilyAPIURL,
		client:  client,
	}
}

// WithBaseURL overrides the API endpoint. Used for tests.
func (t *WebSearchTool) WithBaseURL(url string) *WebSearchTool {
	t.baseURL = url
	return t
}

// Name returns the tool identifier.
func (t *WebSearchTool) Name() string {
	return "web_search"
}

// Description returns a human-readable description.
func (t *WebSearchTool) Description() string {
	return "Search the web for current information on a topic"
}

// Schema returns the tool's input/output schema.
func (t *WebSearchTool) Schema() *tools.Schema {
	return &tools.Schema{
		Inputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"query": {
					Type:        "string",
					Description: "The search query",
				},
				"max_results": {
					Type:        "number",
					Description: "Maximum number of results to return",
					Default:     5,
				},
				"search_depth": {
					Type:        "string",
					Description: "Search depth",
					Enum:        []interface{}{"basic", "advanced"},
					Default:     "advanced",
				},
			},
			Required: []string{"query"},
		},
		Outputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"answer": {
					Type:        "string",
					Description: "AI-generated summary of the results",
				},
				"results": {
					Type:        "object",
					Description: "Search results with title, content, url, score",
				},
				"mock": {
					Type:        "boolean",
					Description: "True when the result is canned demo output",
				},
			},
		},
	}
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Execute performs a web search.
func (t *WebSearchTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	query, ok := inputs["query"].(string)
	if !ok || query == "" {
		return nil, &errors.ValidationError{
			Field:      "query",
			Message:    "query must be a non-empty string",
			Suggestion: "Provide a search query",
		}
	}

	maxResults := 5
	if raw, ok := inputs["max_results"].(float64); ok && raw > 0 {
		maxResults = int(raw)
	}

	if t.apiKey == "" {
		return t.mockResults(query, maxResults), nil
	}

	depth := "advanced"
	if raw, ok := inputs["search_depth"].(string); ok && raw != "" {
		depth = raw
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:        t.apiKey,
		Query:         query,
		SearchDepth:   depth,
		MaxResults:    maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &errors.ToolError{
			Tool:    t.Name(),
			Message: fmt.Sprintf("search request failed: %v", err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ToolError{
			Tool:       t.Name(),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read search response: %v", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &errors.ToolError{
			Tool:       t.Name(),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("search API returned status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var apiResp tavilyResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ToolError{
			Tool:    t.Name(),
			Message: fmt.Sprintf("failed to parse search response: %v", err),
		}
	}

	results := make([]interface{}, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		results = append(results, map[string]interface{}{
			"title":   r.Title,
			"url":     r.URL,
			"content": r.Content,
			"score":   r.Score,
		})
	}

	return map[string]interface{}{
		"query":   query,
		"answer":  apiResp.Answer,
		"results": results,
		"mock":    false,
	}, nil
}

// mockResults synthesizes deterministic demo search output.
func (t *WebSearchTool) mockResults(query string, maxResults int) map[string]interface{} {
	if maxResults > 3 {
		maxResults = 3
	}

	canned := []map[string]interface{}{
		{
			"title":   fmt.Sprintf("Market overview: %s", query),
			"url":     "https://example.com/research/market-overview",
			"content": fmt.Sprintf("An overview of the market landscape for %q, covering major players, recent funding activity, and adoption trends.", query),
			"score":   0.92,
		},
		{
			"title":   fmt.Sprintf("Industry report on %s", query),
			"url":     "https://example.com/reports/industry",
			"content": fmt.Sprintf("Analyst commentary on growth projections and customer segments related to %q.", query),
			"score":   0.85,
		},
		{
			"title":   fmt.Sprintf("Competitor analysis: %s", query),
			"url":     "https://example.com/analysis/competitors",
			"content": fmt.Sprintf("A comparison of established competitors and emerging startups in the %q space.", query),
			"score":   0.78,
		},
	}

	results := make([]interface{}, 0, maxResults)
	for i := 0; i < maxResults && i < len(canned); i++ {
		results = append(results, canned[i])
	}

	return map[string]interface{}{
		"query":   query,
		"answer":  fmt.Sprintf("[mock] Demo search summary for %q. Configure a search API key for live results.", query),
		"results": results,
		"mock":    true,
	}
}
