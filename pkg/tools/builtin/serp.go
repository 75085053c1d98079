package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/draftforge/draftforge/pkg/errors"
	"github.com/draftforge/draftforge/pkg/httpclient"
	"github.com/draftforge/draftforge/pkg/tools"
)

const serpAPIURL = "https://serpapi.com/search.json"

// KeywordResearchTool looks up search-engine data for SEO planning:
// related queries, People-Also-Ask questions, and result counts.
// Backed by SerpAPI; returns canned output in mock mode.
type KeywordResearchTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewKeywordResearchTool creates a keyword research tool. An empty
// apiKey enables mock mode.
func NewKeywordResearchTool(apiKey string) *KeywordResearchTool {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 30 * time.Second
	cfg.UserAgent = "draftforge-keywords/1.0"

	client, err := httpclient.New(cfg)
	if err != nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &KeywordResearchTool{
		apiKey:  apiKey,
		baseURL: serpAPIURL,
		client:  client,
	}
}

// WithBaseURL overrides the API endpoint. Used for tests.
func (t *KeywordResearchTool) WithBaseURL(url string) *KeywordResearchTool {
	t.baseURL = url
	return t
}

// Name returns the tool identifier.
func (t *KeywordResearchTool) Name() string {
	return "keyword_research"
}

// Description returns a human-readable description.
func (t *KeywordResearchTool) Description() string {
	return "Research search keywords, related queries, and common questions for SEO planning"
}

// Schema returns the tool's input/output schema.
func (t *KeywordResearchTool) Schema() *tools.Schema {
	return &tools.Schema{
		Inputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"keyword": {
					Type:        "string",
					Description: "The seed keyword to research",
				},
			},
			Required: []string{"keyword"},
		},
		Outputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"related_keywords": {
					Type:        "object",
					Description: "Related search queries",
				},
				"questions": {
					Type:        "object",
					Description: "People-Also-Ask questions",
				},
				"total_results": {
					Type:        "number",
					Description: "Approximate number of search results",
				},
				"mock": {
					Type:        "boolean",
					Description: "True when the result is canned demo output",
				},
			},
		},
	}
}

type serpResponse struct {
	SearchInformation struct {
		TotalResults int64 `json:"total_results"`
	} `json:"search_information"`
	RelatedSearches []struct {
		Query string `json:"query"`
	} `json:"related_searches"`
	RelatedQuestions []struct {
		Question string `json:"question"`
	} `json:"related_questions"`
	Error string `json:"error"`
}

// Execute looks up keyword data.
func (t *KeywordResearchTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	keyword, ok := inputs["keyword"].(string)
	if !ok || keyword == "" {
		return nil, &errors.ValidationError{
			Field:      "keyword",
			Message:    "keyword must be a non-empty string",
			Suggestion: "Provide a seed keyword to research",
		}
	}

	if t.apiKey == "" {
		return t.mockResults(keyword), nil
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", keyword)
	params.Set("api_key", t.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &errors.ToolError{
			Tool:    t.Name(),
			Message: fmt.Sprintf("keyword lookup failed: %v", err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ToolError{
			Tool:       t.Name(),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &errors.ToolError{
			Tool:       t.Name(),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("keyword API returned status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var apiResp serpResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ToolError{
			Tool:    t.Name(),
			Message: fmt.Sprintf("failed to parse response: %v", err),
		}
	}
	if apiResp.Error != "" {
		return nil, &errors.ToolError{
			Tool:    t.Name(),
			Message: apiResp.Error,
		}
	}

	related := make([]interface{}, 0, len(apiResp.RelatedSearches))
	for _, r := range apiResp.RelatedSearches {
		related = append(related, r.Query)
	}
	questions := make([]interface{}, 0, len(apiResp.RelatedQuestions))
	for _, q := range apiResp.RelatedQuestions {
		questions = append(questions, q.Question)
	}

	return map[string]interface{}{
		"keyword":          keyword,
		"related_keywords": related,
		"questions":        questions,
		"total_results":    strconv.FormatInt(apiResp.SearchInformation.TotalResults, 10),
		"mock":             false,
	}, nil
}

// mockResults synthesizes deterministic demo keyword data.
func (t *KeywordResearchTool) mockResults(keyword string) map[string]interface{} {
	return map[string]interface{}{
		"keyword": keyword,
		"related_keywords": []interface{}{
			fmt.Sprintf("%s best practices", keyword),
			fmt.Sprintf("%s examples", keyword),
			fmt.Sprintf("%s for beginners", keyword),
			fmt.Sprintf("how to use %s", keyword),
		},
		"questions": []interface{}{
			fmt.Sprintf("What is %s?", keyword),
			fmt.Sprintf("How does %s work?", keyword),
			fmt.Sprintf("Why is %s important?", keyword),
		},
		"total_results": "1240000",
		"mock":          true,
	}
}
