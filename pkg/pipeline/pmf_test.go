package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/pkg/agent"
	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/tools"
	"github.com/draftforge/draftforge/pkg/tools/builtin"
)

func testDeps(t *testing.T, provider llm.Provider) Deps {
	t.Helper()

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(builtin.NewWebSearchTool("")))
	require.NoError(t, registry.Register(builtin.NewKeywordResearchTool("")))
	require.NoError(t, registry.Register(builtin.NewPodcastSearchTool(builtin.PodcastSearchConfig{Mock: true})))
	require.NoError(t, registry.Register(builtin.NewImageBriefTool("")))

	return Deps{
		Provider: provider,
		Tools:    registry,
		Policy:   agent.DefaultRetryPolicy(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

const pmfResearchJSON = `{
	"market_size": "The market is valued at $4.2B in 2025, growing 18% annually through 2030.",
	"competitors": [
		{"name": "Acme", "strengths": "brand", "weaknesses": "price"},
		{"name": "Globex", "strengths": "scale", "weaknesses": "focus"},
		{"name": "Initech", "strengths": "speed", "weaknesses": "support"}
	],
	"pain_points": ["manual work", "high cost", "slow onboarding"],
	"trends": ["automation", "consolidation"],
	"summary": "A growing market with clear gaps."
}`

const pmfICPJSON = `{
	"segment": "mid-market SaaS operations teams",
	"demographics": {"age": "30-45"},
	"firmographics": {"size": "50-500"},
	"goals": ["reduce toil"],
	"pain_points": ["manual work"],
	"buying_triggers": ["headcount freeze"]
}`

const pmfPersonasJSON = `{
	"personas": [
		{"name": "Ada", "age": 36, "role": "Ops lead", "background": "ex-consultant",
		 "goals": ["automate reporting"], "objections": ["switching cost"], "voice": "direct"},
		{"name": "Ben", "age": 42, "role": "VP Ops", "background": "finance",
		 "goals": ["cut spend"], "objections": ["security"], "voice": "cautious"},
		{"name": "Cam", "age": 29, "role": "Analyst", "background": "data",
		 "goals": ["less busywork"], "objections": ["learning curve"], "voice": "curious"}
	]
}`

func TestPMFPipeline_Run(t *testing.T) {
	provider := llm.NewMockProvider(
		llm.MockResponse{Content: pmfResearchJSON, Usage: llm.TokenUsage{TotalTokens: 100}},
		llm.MockResponse{Content: pmfICPJSON, Usage: llm.TokenUsage{TotalTokens: 80}},
		llm.MockResponse{Content: pmfPersonasJSON, Usage: llm.TokenUsage{TotalTokens: 120}},
	)
	p := NewPMFPipeline(testDeps(t, provider))

	result, err := p.Run(context.Background(), map[string]interface{}{
		"idea": "automated ops reporting for SaaS teams",
	})
	require.NoError(t, err)

	assert.Equal(t, "pmf", result.Pipeline)
	assert.NotEmpty(t, result.RunID)
	assert.True(t, result.Mock)
	assert.Equal(t, 300, result.Usage.TotalTokens)

	require.Len(t, result.Stages, 3)
	for _, stage := range result.Stages {
		assert.Equal(t, StatusCompleted, stage.Status, stage.Name)
		assert.Equal(t, 1, stage.Iterations, stage.Name)
	}
	assert.Equal(t, "research", result.Stages[0].Name)
	assert.Equal(t, "icp", result.Stages[1].Name)
	assert.Equal(t, "personas", result.Stages[2].Name)

	personas, ok := result.Output["personas"].([]interface{})
	require.True(t, ok)
	assert.Len(t, personas, 3)

	// The research prompt carried the web search tool results.
	reqs := provider.Requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[0].Messages[1].Content, "Web search findings")
	// ICP prompt embedded the research output as JSON.
	assert.Contains(t, reqs[1].Messages[1].Content, "manual work")
}

func TestPMFPipeline_RequiresIdea(t *testing.T) {
	p := NewPMFPipeline(testDeps(t, llm.NewMockProvider()))

	_, err := p.Run(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idea")
}

func TestPMFPipeline_ResearchRetriesOnWeakOutput(t *testing.T) {
	weak := `{"market_size": "big", "competitors": [], "pain_points": [], "trends": [], "summary": "x"}`
	provider := llm.NewMockProvider(
		llm.MockResponse{Content: weak},
		llm.MockResponse{Content: pmfResearchJSON},
		llm.MockResponse{Content: pmfICPJSON},
		llm.MockResponse{Content: pmfPersonasJSON},
	)
	p := NewPMFPipeline(testDeps(t, provider))

	result, err := p.Run(context.Background(), map[string]interface{}{"idea": "an idea"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stages[0].Iterations)

	// The retry prompt carried the validator's suggestions.
	reqs := provider.Requests()
	assert.Contains(t, reqs[1].Messages[1].Content, "at least 3 key competitors")
}

func TestPMFPipeline_Chat(t *testing.T) {
	reply := "Honestly the idea sounds useful. However, I am worried the price would not fit our budget this year."
	provider := llm.NewMockProvider(llm.MockResponse{Content: reply})
	p := NewPMFPipeline(testDeps(t, provider))

	persona := map[string]interface{}{"name": "Ada", "role": "Ops lead", "voice": "direct"}
	history := []ChatMessage{{Role: "interviewer", Content: "What do you think?"}}

	out, err := p.Chat(context.Background(), persona, "Would you pay for this?", history)
	require.NoError(t, err)

	assert.Equal(t, reply, out.Response)
	assert.Equal(t, "objection", out.Sentiment)
	assert.Contains(t, out.Topics, "pricing")
	assert.True(t, out.Mock)

	// The prompt carried the persona profile and the history.
	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	prompt := reqs[0].Messages[1].Content
	assert.Contains(t, prompt, "Ada")
	assert.Contains(t, prompt, "What do you think?")
	assert.Contains(t, prompt, "Would you pay for this?")
}

func TestPMFPipeline_ChatRejectsEmptyMessage(t *testing.T) {
	p := NewPMFPipeline(testDeps(t, llm.NewMockProvider()))

	_, err := p.Chat(context.Background(), nil, "   ", nil)
	require.Error(t, err)
}

func TestAnalyzeSentiment(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"I love this, sounds good to me", "positive"},
		{"However, I have a concern about lock-in", "objection"},
		{"How does it handle exports?", "curious"},
		{"We use spreadsheets today.", "neutral"},
		{"Great idea, but the rollout worries me", "objection"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, analyzeSentiment(tt.text), tt.text)
	}
}

func TestExtractTopics(t *testing.T) {
	topics := extractTopics("What does it cost?", "The price depends on seats. Support is included.")
	assert.Contains(t, topics, "pricing")
	assert.Contains(t, topics, "support")

	assert.Equal(t, []string{"general"}, extractTopics("Hello", "Hi there"))
}
