package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	forgeerrors "github.com/draftforge/draftforge/pkg/errors"
	"github.com/draftforge/draftforge/pkg/llm"
)

// routingProvider serves responses keyed on system-prompt content so
// concurrent agents get deterministic answers regardless of call order.
type routingProvider struct {
	mu     sync.Mutex
	routes map[string]string
	calls  []string
}

func newRoutingProvider(routes map[string]string) *routingProvider {
	return &routingProvider{routes: routes}
}

func (p *routingProvider) Name() string { return "mock" }

func (p *routingProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{Mock: true}
}

func (p *routingProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	system := ""
	if len(req.Messages) > 0 && req.Messages[0].Role == llm.MessageRoleSystem {
		system = req.Messages[0].Content
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for marker, content := range p.routes {
		if strings.Contains(system, marker) {
			p.calls = append(p.calls, marker)
			return &llm.CompletionResponse{
				Content:      content,
				FinishReason: llm.FinishReasonStop,
				Model:        "mock-model",
				Mock:         true,
			}, nil
		}
	}
	return nil, &forgeerrors.ProviderError{Provider: "mock", Message: "no scripted route for: " + system}
}

var longPost = strings.Repeat("Ship less, learn more. ", 15)

func repurposeRoutes() map[string]string {
	return map[string]string{
		"SEO strategist": `{
			"primary_keyword": "content repurposing",
			"secondary_keywords": ["seo", "distribution"],
			"questions": ["how do I repurpose a blog post?"],
			"angle": "work smarter"
		}`,
		"LinkedIn posts": `{
			"post": "` + longPost + `",
			"hashtags": ["content", "marketing", "seo"]
		}`,
		"Twitter/X threads": `{
			"tweets": ["1/3 Repurposing beats rewriting.", "2/3 One post, five channels.", "3/3 Start today."],
			"hashtags": ["content"]
		}`,
		"Instagram captions": `{
			"caption": "One idea, every channel. Stop letting good posts die in the archive.",
			"hashtags": ["content", "marketing", "seo", "creator", "growth"]
		}`,
		"email newsletters": `{
			"subject": "Your content is dying in the archive",
			"preview": "One idea, five channels",
			"body": "` + strings.Repeat("Repurposing is leverage. ", 15) + `"
		}`,
		"editor reviewing": `{
			"drafts": {
				"linkedin": {"post": "` + longPost + `", "hashtags": ["content", "marketing", "seo"]},
				"twitter-thread": {"tweets": ["1/3 a", "2/3 b", "3/3 c"], "hashtags": ["content"]},
				"instagram": {"caption": "Reviewed caption.", "hashtags": ["a", "b", "c", "d", "e"]},
				"newsletter": {"subject": "Reviewed", "preview": "p", "body": "` + strings.Repeat("Reviewed body. ", 25) + `"}
			},
			"notes": ["tightened the hooks"]
		}`,
	}
}

func TestRepurposePipeline_Run(t *testing.T) {
	provider := newRoutingProvider(repurposeRoutes())
	p := NewRepurposePipeline(testDeps(t, provider))

	result, err := p.Run(context.Background(), map[string]interface{}{
		"content": "Why shipping smaller batches beats big launches.\n\nLong body here.",
	})
	require.NoError(t, err)

	drafts, ok := result.Output["drafts"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, drafts, 4)
	for _, platform := range []string{"linkedin", "twitter-thread", "instagram", "newsletter"} {
		assert.Contains(t, drafts, platform)
	}
	assert.Equal(t, []interface{}{"tightened the hooks"}, result.Output["notes"])

	// keywords + 4 drafts + review + skipped image brief.
	require.Len(t, result.Stages, 7)
	byName := make(map[string]StageResult, len(result.Stages))
	for _, s := range result.Stages {
		byName[s.Name] = s
	}
	for _, name := range []string{"keywords", "draft-linkedin", "draft-twitter-thread", "draft-instagram", "draft-newsletter", "review"} {
		assert.Equal(t, StatusCompleted, byName[name].Status, name)
	}
	assert.Equal(t, StatusSkipped, byName["image-brief"].Status)
	assert.True(t, result.Mock)
}

func TestRepurposePipeline_ImageBrief(t *testing.T) {
	provider := newRoutingProvider(repurposeRoutes())
	p := NewRepurposePipeline(testDeps(t, provider))

	result, err := p.Run(context.Background(), map[string]interface{}{
		"content":     "Why shipping smaller batches beats big launches.",
		"image_brief": true,
	})
	require.NoError(t, err)

	image, ok := result.Output["image"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, image["url"])
}

func TestRepurposePipeline_RequiresContent(t *testing.T) {
	p := NewRepurposePipeline(testDeps(t, llm.NewMockProvider()))

	_, err := p.Run(context.Background(), map[string]interface{}{"content": "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content")
}

func TestRepurposePipeline_DraftFailureFailsRun(t *testing.T) {
	routes := repurposeRoutes()
	// Unparseable output for one platform exhausts its retry budget.
	routes["Instagram captions"] = "not json at all"
	provider := newRoutingProvider(routes)
	p := NewRepurposePipeline(testDeps(t, provider))

	_, err := p.Run(context.Background(), map[string]interface{}{
		"content": "Some content to repurpose.",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instagram")
}

func TestRepurposeQuery(t *testing.T) {
	assert.Equal(t, "growth loops", repurposeQuery(map[string]interface{}{
		"topic":   "growth loops",
		"content": "ignored",
	}))
	assert.Equal(t, "First line", repurposeQuery(map[string]interface{}{
		"content": "First line\nsecond line",
	}))
}
