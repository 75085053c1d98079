package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	forgelog "github.com/draftforge/draftforge/internal/log"
	"github.com/draftforge/draftforge/pkg/agent"
)

// platformSpec pins the format constraints each draft agent must honor.
type platformSpec struct {
	name      string
	agent     *agent.Agent
	validator agent.Validator
}

// RepurposePipeline turns one piece of source content into drafts for
// several platforms, runs an editorial review over all of them, and
// optionally produces an image brief.
type RepurposePipeline struct {
	deps      Deps
	keywords  *agent.Agent
	platforms []platformSpec
	review    *agent.Agent
	validator map[string]agent.Validator
}

// NewRepurposePipeline builds the content repurposing pipeline.
func NewRepurposePipeline(deps Deps) *RepurposePipeline {
	logger := deps.logger()

	keywords := mustAgent(agent.New(agent.Config{
		Name:     "keyword-research",
		Provider: deps.Provider,
		Model:    "fast",
		SystemPrompt: "You are an SEO strategist. Respond ONLY with a JSON object with fields: " +
			"primary_keyword (string), secondary_keywords (array of strings), " +
			"questions (array of strings people ask about this topic), angle (string).",
		PromptTemplate: "Pick the SEO angle for repurposing this content:\n\n{{.content}}\n\n" +
			"{{if .tool_results}}Search data:\n{{json .tool_results}}\n\n{{end}}" +
			"{{if .refinement_feedback}}Address this feedback:\n{{.refinement_feedback}}\n{{end}}",
		Registry: deps.Tools,
		Tool:     "keyword_research",
		ToolInputs: func(inputs map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{"query": repurposeQuery(inputs)}
		},
		Logger: logger,
	}))

	linkedin := mustAgent(agent.New(agent.Config{
		Name:     "linkedin-draft",
		Provider: deps.Provider,
		Model:    "balanced",
		SystemPrompt: "You write LinkedIn posts. Respond ONLY with a JSON object with fields: " +
			"post (string, 200-3000 characters, hook in the first line, short paragraphs), " +
			"hashtags (array of 3 to 5 strings without the # prefix).",
		PromptTemplate: platformPromptTemplate("a LinkedIn post"),
		Logger:         logger,
	}))

	twitter := mustAgent(agent.New(agent.Config{
		Name:     "twitter-thread-draft",
		Provider: deps.Provider,
		Model:    "balanced",
		SystemPrompt: "You write Twitter/X threads. Respond ONLY with a JSON object with fields: " +
			"tweets (array of strings, each at most 280 characters including its numbering prefix " +
			"like \"1/5\", first tweet is the hook, last tweet is the call to action), " +
			"hashtags (array of at most 2 strings without the # prefix).",
		PromptTemplate: platformPromptTemplate("a Twitter/X thread of 3 to 8 tweets"),
		Logger:         logger,
	}))

	instagram := mustAgent(agent.New(agent.Config{
		Name:     "instagram-draft",
		Provider: deps.Provider,
		Model:    "balanced",
		SystemPrompt: "You write Instagram captions. Respond ONLY with a JSON object with fields: " +
			"caption (string, at most 2200 characters, line breaks between thoughts), " +
			"hashtags (array of 5 to 10 strings without the # prefix).",
		PromptTemplate: platformPromptTemplate("an Instagram caption"),
		Logger:         logger,
	}))

	newsletter := mustAgent(agent.New(agent.Config{
		Name:     "newsletter-draft",
		Provider: deps.Provider,
		Model:    "balanced",
		SystemPrompt: "You write email newsletters. Respond ONLY with a JSON object with fields: " +
			"subject (string, at most 80 characters), preview (string, at most 120 characters), " +
			"body (string, at least 300 characters, markdown allowed).",
		PromptTemplate: platformPromptTemplate("an email newsletter issue"),
		Logger:         logger,
	}))

	review := mustAgent(agent.New(agent.Config{
		Name:     "editorial-review",
		Provider: deps.Provider,
		Model:    "strategic",
		SystemPrompt: "You are an editor reviewing multi-platform content drafts for consistency " +
			"of message and platform fit. Respond ONLY with a JSON object with fields: " +
			"drafts (object keyed by platform, each the revised draft in that platform's original shape), " +
			"notes (array of strings describing what you changed and why).",
		PromptTemplate: "Source content:\n{{.content}}\n\nSEO angle:\n{{json .keywords}}\n\n" +
			"Platform drafts to review:\n{{json .drafts}}\n\n" +
			"Revise each draft. Keep platform constraints intact.\n" +
			"{{if .refinement_feedback}}Address this feedback:\n{{.refinement_feedback}}\n{{end}}",
		Logger: logger,
	}))

	linkedinValidator := mustValidator(agent.NewRuleValidator(0.7,
		agent.Rule{
			Name:       "post length",
			Expr:       `post != nil && len(post) >= 200 && len(post) <= 3000`,
			Penalty:    0.4,
			Suggestion: "Keep the post between 200 and 3000 characters",
		},
		agent.Rule{
			Name:       "hashtag count",
			Expr:       `hashtags != nil && len(hashtags) >= 3 && len(hashtags) <= 5`,
			Penalty:    0.2,
			Suggestion: "Use 3 to 5 hashtags",
		},
	))

	twitterValidator := mustValidator(agent.NewRuleValidator(0.7,
		agent.Rule{
			Name:       "thread length",
			Expr:       `tweets != nil && len(tweets) >= 3 && len(tweets) <= 8`,
			Penalty:    0.3,
			Suggestion: "Write between 3 and 8 tweets",
		},
		agent.Rule{
			Name:       "tweet size",
			Expr:       `tweets != nil && all(tweets, len(#) <= 280)`,
			Penalty:    0.4,
			Suggestion: "Keep every tweet at or under 280 characters",
		},
		agent.Rule{
			Name:       "numbering",
			Expr:       `tweets != nil && len(tweets) > 0 && tweets[0] startsWith "1/"`,
			Penalty:    0.1,
			Suggestion: "Number the tweets as 1/N, 2/N, ...",
		},
	))

	instagramValidator := mustValidator(agent.NewRuleValidator(0.7,
		agent.Rule{
			Name:       "caption size",
			Expr:       `caption != nil && len(caption) > 0 && len(caption) <= 2200`,
			Penalty:    0.4,
			Suggestion: "Keep the caption at or under 2200 characters",
		},
		agent.Rule{
			Name:       "hashtag count",
			Expr:       `hashtags != nil && len(hashtags) >= 5 && len(hashtags) <= 10`,
			Penalty:    0.2,
			Suggestion: "Use 5 to 10 hashtags",
		},
	))

	newsletterValidator := mustValidator(agent.NewRuleValidator(0.7,
		agent.Rule{
			Name:       "subject size",
			Expr:       `subject != nil && len(subject) > 0 && len(subject) <= 80`,
			Penalty:    0.3,
			Suggestion: "Keep the subject at or under 80 characters",
		},
		agent.Rule{
			Name:       "body length",
			Expr:       `body != nil && len(body) >= 300`,
			Penalty:    0.4,
			Suggestion: "Write a body of at least 300 characters",
		},
	))

	return &RepurposePipeline{
		deps:     deps,
		keywords: keywords,
		platforms: []platformSpec{
			{name: "linkedin", agent: linkedin, validator: linkedinValidator},
			{name: "twitter-thread", agent: twitter, validator: twitterValidator},
			{name: "instagram", agent: instagram, validator: instagramValidator},
			{name: "newsletter", agent: newsletter, validator: newsletterValidator},
		},
		review: review,
		validator: map[string]agent.Validator{
			"keywords": &agent.HeuristicValidator{
				RequiredFields: []string{"primary_keyword", "secondary_keywords"},
			},
			"review": &agent.HeuristicValidator{
				RequiredFields: []string{"drafts"},
			},
		},
	}
}

func platformPromptTemplate(what string) string {
	return "Repurpose this content as " + what + ":\n\n{{.content}}\n\n" +
		"SEO angle:\n{{json .keywords}}\n\n" +
		"{{if .tone}}Tone: {{.tone}}\n{{end}}" +
		"{{if .refinement_feedback}}A previous attempt was judged insufficient. Address this feedback:\n" +
		"{{.refinement_feedback}}\n\nPrevious attempt:\n{{.previous_attempt}}\n{{end}}"
}

// repurposeQuery derives a keyword query from the topic input, falling
// back to the first line of the source content.
func repurposeQuery(inputs map[string]interface{}) string {
	if topic, ok := inputs["topic"].(string); ok && strings.TrimSpace(topic) != "" {
		return topic
	}
	content, _ := inputs["content"].(string)
	line := content
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		line = content[:idx]
	}
	return strings.TrimSpace(line)
}

// Name returns the pipeline identifier.
func (p *RepurposePipeline) Name() string { return "repurpose" }

// Description returns a one-line summary.
func (p *RepurposePipeline) Description() string {
	return "Turn source content into platform drafts with keyword research and an editorial pass"
}

// Run executes keyword research, parallel platform drafting, editorial
// review, and an optional image brief. Inputs: content (string,
// required), topic (string), tone (string), image_brief (bool).
func (p *RepurposePipeline) Run(ctx context.Context, inputs map[string]interface{}) (*Result, error) {
	content, _ := inputs["content"].(string)
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("repurpose pipeline requires a \"content\" input")
	}

	r := newRun(p.Name(), inputs, p.deps.logger())

	if _, err := r.agentStage(ctx, "keywords", p.keywords, p.validator["keywords"], p.deps.Policy); err != nil {
		return r.finish(nil), err
	}

	drafts, err := p.draftStage(ctx, r)
	if err != nil {
		return r.finish(nil), err
	}
	r.state["drafts"] = drafts

	reviewOut, err := r.agentStage(ctx, "review", p.review, p.validator["review"], p.deps.Policy)
	if err != nil {
		return r.finish(nil), err
	}

	finalDrafts, _ := reviewOut.Data["drafts"].(map[string]interface{})
	if finalDrafts == nil {
		finalDrafts = drafts
	}

	output := map[string]interface{}{
		"keywords": r.state["keywords"],
		"drafts":   finalDrafts,
		"notes":    reviewOut.Data["notes"],
	}

	if wantImage, _ := inputs["image_brief"].(bool); wantImage {
		brief, err := r.funcStage(ctx, "image-brief", p.imageBrief)
		if err != nil {
			return r.finish(nil), err
		}
		output["image"] = brief
	} else {
		r.record(StageResult{Name: "image-brief", Status: StatusSkipped})
	}

	return r.finish(output), nil
}

// draftStage fans the platform drafts out in parallel. Each platform
// gets its own stage record; the first failure cancels the rest.
func (p *RepurposePipeline) draftStage(ctx context.Context, r *run) (map[string]interface{}, error) {
	type draftResult struct {
		out      *agent.Output
		err      error
		duration time.Duration
	}

	results := make([]draftResult, len(p.platforms))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range p.platforms {
		g.Go(func() error {
			start := time.Now()
			out, err := spec.agent.RunWithRetry(gctx, r.state, spec.validator, p.deps.Policy)
			mu.Lock()
			results[i] = draftResult{out: out, err: err, duration: time.Since(start)}
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("%s draft: %w", spec.name, err)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	drafts := make(map[string]interface{}, len(p.platforms))
	for i, spec := range p.platforms {
		res := results[i]
		switch {
		case res.err != nil:
			r.record(StageResult{
				Name:     "draft-" + spec.name,
				Status:   StatusFailed,
				Duration: res.duration,
				Error:    res.err.Error(),
			})
		case res.out == nil:
			// Cancelled before it started.
			r.record(StageResult{Name: "draft-" + spec.name, Status: StatusSkipped})
		default:
			r.result.Usage.Add(res.out.Usage)
			if res.out.Mock {
				r.result.Mock = true
			}
			r.record(StageResult{
				Name:       "draft-" + spec.name,
				Status:     StatusCompleted,
				Confidence: res.out.Confidence,
				Iterations: res.out.Iterations,
				Duration:   res.duration,
				Output:     res.out.Data,
			})
			drafts[spec.name] = res.out.Data
		}
	}

	if waitErr != nil {
		r.logger.Error("draft stage failed", forgelog.Error(waitErr))
		return nil, fmt.Errorf("stage drafts: %w", waitErr)
	}
	return drafts, nil
}

// imageBrief asks the image tool for a hero image matching the reviewed
// content.
func (p *RepurposePipeline) imageBrief(ctx context.Context, state map[string]interface{}) (map[string]interface{}, error) {
	prompt := "Editorial hero image for an article"
	if kw, ok := state["keywords"].(map[string]interface{}); ok {
		if primary, ok := kw["primary_keyword"].(string); ok && primary != "" {
			prompt = fmt.Sprintf("Editorial hero image about %s, clean modern illustration style", primary)
		}
	}
	return p.deps.Tools.Execute(ctx, "image_brief", map[string]interface{}{
		"prompt": prompt,
	})
}
