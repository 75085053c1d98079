package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/draftforge/draftforge/pkg/errors"
	"github.com/draftforge/draftforge/pkg/httpclient"
	"github.com/draftforge/draftforge/pkg/tools"
)

const (
	spotifyTokenURL  = "https://accounts.spotify.com/api/token"
	spotifySearchURL = "https://api.spotify.com/v1/search"
	itunesSearchURL  = "https://itunes.apple.com/search"
)

// PodcastSearchTool discovers podcasts matching a set of topics.
//
// With Spotify client credentials it searches the Spotify catalog using
// the OAuth client-credentials flow. Without credentials it falls back
// to the keyless iTunes Search API, and in mock mode it returns canned
// demo shows.
type PodcastSearchTool struct {
	spotifyClient *http.Client
	fallback      *http.Client
	searchURL     string
	itunesURL     string
	mock          bool
}

// PodcastSearchConfig configures the podcast search tool.
type PodcastSearchConfig struct {
	// SpotifyClientID and SpotifyClientSecret enable the Spotify backend.
	SpotifyClientID     string
	SpotifyClientSecret string

	// Mock forces canned output regardless of configured backends.
	Mock bool
}

// NewPodcastSearchTool creates a podcast search tool.
func NewPodcastSearchTool(cfg PodcastSearchConfig) *PodcastSearchTool {
	t := &PodcastSearchTool{
		searchURL: spotifySearchURL,
		itunesURL: itunesSearchURL,
		mock:      cfg.Mock,
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = 30 * time.Second
	httpCfg.UserAgent = "draftforge-podcast/1.0"
	fallback, err := httpclient.New(httpCfg)
	if err != nil {
		fallback = &http.Client{Timeout: 30 * time.Second}
	}
	t.fallback = fallback

	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		ccCfg := &clientcredentials.Config{
			ClientID:     cfg.SpotifyClientID,
			ClientSecret: cfg.SpotifyClientSecret,
			TokenURL:     spotifyTokenURL,
		}
		t.spotifyClient = ccCfg.Client(context.Background())
	}

	return t
}

// WithSearchURLs overrides the API endpoints. Used for tests.
func (t *PodcastSearchTool) WithSearchURLs(spotify, itunes string) *PodcastSearchTool {
	if spotify != "" {
		t.searchURL = spotify
	}
	if itunes != "" {
		t.itunesURL = itunes
	}
	return t
}

// Name returns the tool identifier.
func (t *PodcastSearchTool) Name() string {
	return "podcast_search"
}

// Description returns a human-readable description.
func (t *PodcastSearchTool) Description() string {
	return "Search podcast catalogs for shows matching topics of interest"
}

// Schema returns the tool's input/output schema.
func (t *PodcastSearchTool) Schema() *tools.Schema {
	return &tools.Schema{
		Inputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"query": {
					Type:        "string",
					Description: "Topics to search for, space-separated",
				},
				"limit": {
					Type:        "number",
					Description: "Maximum number of shows to return",
					Default:     5,
				},
			},
			Required: []string{"query"},
		},
		Outputs: &tools.ParameterSchema{
			Type: "object",
			Properties: map[string]*tools.Property{
				"shows": {
					Type:        "object",
					Description: "Matching shows with name, publisher, description, url",
				},
				"source": {
					Type:        "string",
					Description: "Which catalog served the results",
				},
				"mock": {
					Type:        "boolean",
					Description: "True when the result is canned demo output",
				},
			},
		},
	}
}

// Execute searches for podcasts.
func (t *PodcastSearchTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	query, ok := inputs["query"].(string)
	if !ok || query == "" {
		return nil, &errors.ValidationError{
			Field:      "query",
			Message:    "query must be a non-empty string",
			Suggestion: "Provide podcast topics to search for",
		}
	}

	limit := 5
	if raw, ok := inputs["limit"].(float64); ok && raw > 0 {
		limit = int(raw)
	}

	if t.mock {
		return t.mockResults(query, limit), nil
	}

	if t.spotifyClient != nil {
		return t.searchSpotify(ctx, query, limit)
	}
	return t.searchITunes(ctx, query, limit)
}

type spotifySearchResponse struct {
	Shows struct {
		Items []struct {
			Name         string `json:"name"`
			Publisher    string `json:"publisher"`
			Description  string `json:"description"`
			ExternalURLs struct {
				Spotify string `json:"spotify"`
			} `json:"external_urls"`
			TotalEpisodes int `json:"total_episodes"`
		} `json:"items"`
	} `json:"shows"`
}

func (t *PodcastSearchTool) searchSpotify(ctx context.Context, query string, limit int) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "show")
	params.Set("limit", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.spotifyClient.Do(req)
	if err != nil {
		return nil, &errors.ToolError{
			Tool:    t.Name(),
			Message: fmt.Sprintf("catalog search failed: %v", err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
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
			Message:    fmt.Sprintf("catalog API returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var apiResp spotifySearchResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, &errors.ToolError{
			Tool:    t.Name(),
			Message: fmt.Sprintf("failed to parse response: %v", err),
		}
	}

	shows := make([]interface{}, 0, len(apiResp.Shows.Items))
	for _, s := range apiResp.Shows.Items {
		shows = append(shows, map[string]interface{}{
			"name":        s.Name,
			"publisher":   s.Publisher,
			"description": s.Description,
			"url":         s.ExternalURLs.Spotify,
			"episodes":    s.TotalEpisodes,
		})
	}

	return map[string]interface{}{
		"query":  query,
		"shows":  shows,
		"source": "spotify",
		"mock":   false,
	}, nil
}

type itunesSearchResponse struct {
	Results []struct {
		CollectionName string   `json:"collectionName"`
		ArtistName     string   `json:"artistName"`
		FeedURL        string   `json:"feedUrl"`
		CollectionURL  string   `json:"collectionViewUrl"`
		Genres         []string `json:"genres"`
	} `json:"results"`
}

func (t *PodcastSearchTool) searchITunes(ctx context.Context, query string, limit int) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("term", query)
	params.Set("media", "podcast")
	params.Set("limit", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.itunesURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.fallback.Do(req)
	if err != nil {
		return nil, &errors.ToolError{
			Tool:    t.Name(),
			Message: fmt.Sprintf("catalog search failed: %v", err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
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
			Message:    fmt.Sprintf("catalog API returned status %d", resp.StatusCode),
		}
	}

	var apiResp itunesSearchResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, &errors.ToolError{
			Tool:    t.Name(),
			Message: fmt.Sprintf("failed to parse response: %v", err),
		}
	}

	shows := make([]interface{}, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		// Only include shows with an RSS feed so episodes can be pulled later.
		if r.FeedURL == "" {
			continue
		}
		shows = append(shows, map[string]interface{}{
			"name":        r.CollectionName,
			"publisher":   r.ArtistName,
			"description": "",
			"url":         r.CollectionURL,
			"rss_url":     r.FeedURL,
			"genres":      r.Genres,
		})
	}

	return map[string]interface{}{
		"query":  query,
		"shows":  shows,
		"source": "itunes",
		"mock":   false,
	}, nil
}

// mockResults synthesizes deterministic demo podcast data.
func (t *PodcastSearchTool) mockResults(query string, limit int) map[string]interface{} {
	canned := []interface{}{
		map[string]interface{}{
			"name":        fmt.Sprintf("The %s Show", query),
			"publisher":   "Demo Media",
			"description": fmt.Sprintf("Weekly conversations about %s with practitioners and researchers.", query),
			"url":         "https://example.com/podcasts/show-1",
			"episodes":    120,
		},
		map[string]interface{}{
			"name":        fmt.Sprintf("%s Deep Dives", query),
			"publisher":   "Demo Media",
			"description": fmt.Sprintf("Long-form interviews exploring %s in depth.", query),
			"url":         "https://example.com/podcasts/show-2",
			"episodes":    45,
		},
	}
	if limit < len(canned) {
		canned = canned[:limit]
	}

	return map[string]interface{}{
		"query":  query,
		"shows":  canned,
		"source": "mock",
		"mock":   true,
	}
}
