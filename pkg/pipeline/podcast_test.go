package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/pkg/llm"
)

const podcastInterestsJSON = `{
	"query": "ai agents",
	"interests": ["ai", "agents"]
}`

const podcastSummariesJSON = `{
	"summaries": [
		{"title": "The ai agents Show", "summary": "Weekly practitioner conversations that map directly to your goal."},
		{"title": "ai agents Deep Dives", "summary": "Long-form interviews for when you want depth."}
	]
}`

func TestPodcastPipeline_Run(t *testing.T) {
	provider := llm.NewMockProvider(
		llm.MockResponse{Content: podcastInterestsJSON},
		llm.MockResponse{Content: podcastSummariesJSON},
	)
	p := NewPodcastPipeline(testDeps(t, provider))

	result, err := p.Run(context.Background(), map[string]interface{}{
		"goal": "get better at building AI agents",
	})
	require.NoError(t, err)

	require.Len(t, result.Stages, 5)
	names := []string{"interests", "discovery", "curation", "summaries", "digest"}
	for i, stage := range result.Stages {
		assert.Equal(t, names[i], stage.Name)
		assert.Equal(t, StatusCompleted, stage.Status, stage.Name)
	}

	digest, ok := result.Output["digest"].(string)
	require.True(t, ok)
	assert.Contains(t, digest, "# Your Podcast Digest")
	assert.Contains(t, digest, "The ai agents Show")
	assert.Contains(t, digest, "practitioner conversations")
	// The canned search backend marks the digest as demo output.
	assert.Contains(t, digest, "canned sample data")

	curation, ok := result.Output["curation"].(map[string]interface{})
	require.True(t, ok)
	shows := asMapSlice(curation["shows"])
	require.Len(t, shows, 2)
	// Both interests match the canned show text.
	assert.InDelta(t, 0.7, shows[0]["relevance"], 0.001)
	assert.Equal(t, 1.0, shows[0]["novelty"])
}

func TestPodcastPipeline_RequiresGoal(t *testing.T) {
	p := NewPodcastPipeline(testDeps(t, llm.NewMockProvider()))

	_, err := p.Run(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "goal")
}

func TestPodcastPipeline_HistoryLowersNovelty(t *testing.T) {
	provider := llm.NewMockProvider(
		llm.MockResponse{Content: podcastInterestsJSON},
		llm.MockResponse{Content: podcastSummariesJSON},
	)
	p := NewPodcastPipeline(testDeps(t, provider))

	result, err := p.Run(context.Background(), map[string]interface{}{
		"goal": "get better at building AI agents",
		"history": []interface{}{
			map[string]interface{}{"title": "The ai agents Show"},
		},
	})
	require.NoError(t, err)

	curation, _ := result.Output["curation"].(map[string]interface{})
	shows := asMapSlice(curation["shows"])
	require.Len(t, shows, 2)
	for _, show := range shows {
		if showName(show) == "The ai agents Show" {
			novelty, _ := show["novelty"].(float64)
			assert.Less(t, novelty, 0.5)
		}
	}
}

func TestRenderDigest_FeedURLKeys(t *testing.T) {
	p := NewPodcastPipeline(testDeps(t, llm.NewMockProvider()))

	state := map[string]interface{}{
		"goal": "learn about ai",
		"curation": map[string]interface{}{
			"shows": []interface{}{
				map[string]interface{}{"name": "Feed Show", "rss_url": "https://example.com/feed.xml"},
				map[string]interface{}{"name": "Link Show", "url": "https://example.com/show"},
			},
		},
	}

	out, err := p.renderDigest(context.Background(), state)
	require.NoError(t, err)

	md, ok := out["markdown"].(string)
	require.True(t, ok)
	assert.Contains(t, md, "https://example.com/feed.xml")
	assert.Contains(t, md, "https://example.com/show")
}

func TestRelevanceScore(t *testing.T) {
	score, matches := relevanceScore("The AI Show", "Weekly talks about machine learning", []string{"ai", "crypto"})
	assert.InDelta(t, 0.5, score, 0.001)
	assert.Equal(t, []string{"ai"}, matches)

	score, matches = relevanceScore("Gardening Hour", "Plants and soil", []string{"ai"})
	assert.InDelta(t, 0.3, score, 0.001)
	assert.Empty(t, matches)
}

func TestNoveltyScore(t *testing.T) {
	assert.Equal(t, 1.0, noveltyScore("Anything", nil))

	identical := []map[string]interface{}{{"title": "The AI Show"}}
	assert.InDelta(t, 0.0, noveltyScore("The AI Show", identical), 0.001)

	unrelated := []map[string]interface{}{{"title": "Gardening Hour"}}
	assert.Equal(t, 1.0, noveltyScore("The AI Show", unrelated))
}

func TestCurateDedupes(t *testing.T) {
	p := NewPodcastPipeline(testDeps(t, llm.NewMockProvider()))

	state := map[string]interface{}{
		"discovery": map[string]interface{}{
			"shows": []interface{}{
				map[string]interface{}{"name": "The AI Show", "description": "about ai"},
				map[string]interface{}{"name": "the ai show", "description": "duplicate"},
				map[string]interface{}{"name": "Other", "description": "unrelated"},
			},
		},
		"interests": map[string]interface{}{"interests": []interface{}{"ai"}},
	}

	out, err := p.curate(context.Background(), state)
	require.NoError(t, err)

	shows := asMapSlice(out["shows"])
	require.Len(t, shows, 2)
	// Highest combined score first.
	assert.Equal(t, "The AI Show", showName(shows[0]))
}
