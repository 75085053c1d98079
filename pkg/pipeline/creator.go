package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/draftforge/draftforge/pkg/agent"
)

// Draft approval thresholds. A draft ships when the reviewers'
// combined score clears the consensus bar, or the editor alone is
// clearly satisfied.
const (
	consensusThreshold = 0.75
	approvalThreshold  = 0.7

	// minCredibility filters research findings before drafting.
	minCredibility = 0.6

	defaultMaxRevisions = 2
)

// CreatorPipeline writes an article: credibility-scored research, a
// first draft, then a bounded revision loop driven by an editor and a
// fact checker whose feedback accumulates across rounds.
type CreatorPipeline struct {
	deps      Deps
	research  *agent.Agent
	writer    *agent.Agent
	editor    *agent.Agent
	factcheck *agent.Agent
	reviser   *agent.Agent
	validator map[string]agent.Validator
}

// NewCreatorPipeline builds the collaborative creator pipeline.
func NewCreatorPipeline(deps Deps) *CreatorPipeline {
	logger := deps.logger()

	research := mustAgent(agent.New(agent.Config{
		Name:     "creator-research",
		Provider: deps.Provider,
		Model:    "balanced",
		SystemPrompt: "You are a research specialist. Respond ONLY with a JSON object with field " +
			"findings: an array of objects, each with content (string, one factual claim), " +
			"source (string, where it comes from), credibility (number 0.0-1.0, how reliable " +
			"the source is).",
		PromptTemplate: "Research this topic for an article: {{.topic}}\n\n" +
			"{{if .tool_results}}Web search findings:\n{{json .tool_results}}\n\n{{end}}" +
			"{{if .refinement_feedback}}A previous attempt was judged insufficient. Address this feedback:\n" +
			"{{.refinement_feedback}}\n{{end}}",
		Registry: deps.Tools,
		Tool:     "web_search",
		ToolInputs: func(inputs map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{"query": fmt.Sprintf("%v", inputs["topic"])}
		},
		Logger: logger,
	}))

	writer := mustAgent(agent.New(agent.Config{
		Name:     "creator-writer",
		Provider: deps.Provider,
		Model:    "strategic",
		SystemPrompt: "You write well-sourced articles. Respond ONLY with a JSON object with " +
			"fields: title (string), draft (string, the full article in markdown, citing the " +
			"provided sources inline).",
		PromptTemplate: "Write an article about: {{.topic}}\n\n" +
			"{{if .audience}}Audience: {{.audience}}\n{{end}}" +
			"Use only these vetted findings:\n{{json .credible}}\n\n" +
			"{{if .refinement_feedback}}Address this feedback:\n{{.refinement_feedback}}\n{{end}}",
		Logger: logger,
	}))

	editor := mustAgent(agent.New(agent.Config{
		Name:     "creator-editor",
		Provider: deps.Provider,
		Model:    "balanced",
		SystemPrompt: "You are a demanding editor. Respond ONLY with a JSON object with fields: " +
			"approval_score (number 0.0-1.0), feedback (array of specific, actionable strings; " +
			"empty if the draft is ready to publish).",
		PromptTemplate: "Review this draft about {{.topic}}:\n\n{{.current_draft}}\n\n" +
			"{{if .feedback_history}}Feedback already given in earlier rounds (check it was addressed):\n" +
			"{{json .feedback_history}}\n{{end}}",
		Logger: logger,
	}))

	factcheck := mustAgent(agent.New(agent.Config{
		Name:     "creator-factcheck",
		Provider: deps.Provider,
		Model:    "balanced",
		SystemPrompt: "You verify drafts against their source findings. Respond ONLY with a JSON " +
			"object with fields: validation_score (number 0.0-1.0, how well claims match the " +
			"findings), issues (array of strings naming unsupported or distorted claims).",
		PromptTemplate: "Source findings:\n{{json .credible}}\n\n" +
			"Draft to verify:\n{{.current_draft}}",
		Logger: logger,
	}))

	reviser := mustAgent(agent.New(agent.Config{
		Name:     "creator-reviser",
		Provider: deps.Provider,
		Model:    "strategic",
		SystemPrompt: "You revise articles per editorial feedback. Respond ONLY with a JSON " +
			"object with fields: title (string), draft (string, the fully revised article).",
		PromptTemplate: "Current draft about {{.topic}}:\n\n{{.current_draft}}\n\n" +
			"All feedback so far, oldest first. Address every unresolved item:\n{{json .feedback_history}}\n\n" +
			"Source findings for reference:\n{{json .credible}}",
		Logger: logger,
	}))

	researchValidator := mustValidator(agent.NewRuleValidator(0.7,
		agent.Rule{
			Name:       "enough findings",
			Expr:       `findings != nil && len(findings) >= 3`,
			Penalty:    0.4,
			Suggestion: "Gather at least 3 distinct findings",
		},
		agent.Rule{
			Name:       "sources cited",
			Expr:       `findings != nil && all(findings, #.source != nil && #.source != "")`,
			Penalty:    0.3,
			Suggestion: "Cite a source for every finding",
		},
		agent.Rule{
			Name:       "credibility scored",
			Expr:       `findings != nil && all(findings, #.credibility != nil)`,
			Penalty:    0.2,
			Suggestion: "Score every finding's credibility between 0.0 and 1.0",
		},
	))

	return &CreatorPipeline{
		deps:      deps,
		research:  research,
		writer:    writer,
		editor:    editor,
		factcheck: factcheck,
		reviser:   reviser,
		validator: map[string]agent.Validator{
			"research": researchValidator,
			"draft": &agent.HeuristicValidator{
				RequiredFields: []string{"title", "draft"},
				MinLengths:     map[string]int{"draft": 400},
			},
			"editor": &agent.HeuristicValidator{
				RequiredFields: []string{"approval_score"},
			},
			"factcheck": &agent.HeuristicValidator{
				RequiredFields: []string{"validation_score"},
			},
		},
	}
}

// Name returns the pipeline identifier.
func (p *CreatorPipeline) Name() string { return "creator" }

// Description returns a one-line summary.
func (p *CreatorPipeline) Description() string {
	return "Write an article: scored research, draft, and a bounded editorial revision loop"
}

// Run executes research, drafting, and up to max_revisions review
// rounds. Inputs: topic (string, required), audience (string),
// max_revisions (number, default 2).
func (p *CreatorPipeline) Run(ctx context.Context, inputs map[string]interface{}) (*Result, error) {
	topic, _ := inputs["topic"].(string)
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("creator pipeline requires a \"topic\" input")
	}

	maxRevisions := defaultMaxRevisions
	if n, ok := inputs["max_revisions"].(float64); ok && n > 0 {
		maxRevisions = int(n)
	}

	r := newRun(p.Name(), inputs, p.deps.logger())

	if _, err := r.agentStage(ctx, "research", p.research, p.validator["research"], p.deps.Policy); err != nil {
		return r.finish(nil), err
	}
	if _, err := r.funcStage(ctx, "credible", p.filterFindings); err != nil {
		return r.finish(nil), err
	}

	draftOut, err := r.agentStage(ctx, "draft", p.writer, p.validator["draft"], p.deps.Policy)
	if err != nil {
		return r.finish(nil), err
	}
	title, _ := draftOut.Data["title"].(string)
	currentDraft, _ := draftOut.Data["draft"].(string)

	// Feedback accumulates across rounds so the reviser sees the full
	// editorial history, not just the latest notes.
	var feedbackHistory []string
	var scores []map[string]interface{}
	approved := false
	rounds := 0

	for round := 1; round <= maxRevisions; round++ {
		rounds = round
		r.state["current_draft"] = currentDraft
		r.state["feedback_history"] = feedbackHistory

		editorOut, err := r.agentStage(ctx, fmt.Sprintf("review-%d", round), p.editor, p.validator["editor"], p.deps.Policy)
		if err != nil {
			return r.finish(nil), err
		}
		factOut, err := r.agentStage(ctx, fmt.Sprintf("factcheck-%d", round), p.factcheck, p.validator["factcheck"], p.deps.Policy)
		if err != nil {
			return r.finish(nil), err
		}

		approvalScore := numberField(editorOut.Data, "approval_score")
		validationScore := numberField(factOut.Data, "validation_score")
		combined := (approvalScore + validationScore) / 2

		scores = append(scores, map[string]interface{}{
			"round":            round,
			"approval_score":   approvalScore,
			"validation_score": validationScore,
			"combined_score":   combined,
		})

		feedbackHistory = append(feedbackHistory, stringSlice(editorOut.Data["feedback"])...)
		feedbackHistory = append(feedbackHistory, stringSlice(factOut.Data["issues"])...)

		if combined >= consensusThreshold || approvalScore >= approvalThreshold {
			approved = true
			break
		}

		if round == maxRevisions {
			// Out of revision budget; ship the best we have.
			break
		}

		r.state["feedback_history"] = feedbackHistory
		revisedOut, err := r.agentStage(ctx, fmt.Sprintf("revise-%d", round), p.reviser, p.validator["draft"], p.deps.Policy)
		if err != nil {
			return r.finish(nil), err
		}
		if t, _ := revisedOut.Data["title"].(string); t != "" {
			title = t
		}
		if d, _ := revisedOut.Data["draft"].(string); d != "" {
			currentDraft = d
		}
	}

	return r.finish(map[string]interface{}{
		"title":    title,
		"draft":    currentDraft,
		"approved": approved,
		"rounds":   rounds,
		"scores":   scores,
		"feedback": feedbackHistory,
		"findings": mapField(r.state, "credible", "findings"),
	}), nil
}

// filterFindings keeps findings at or above the credibility floor,
// falling back to everything when too few clear it.
func (p *CreatorPipeline) filterFindings(ctx context.Context, state map[string]interface{}) (map[string]interface{}, error) {
	findings := asMapSlice(mapField(state, "research", "findings"))
	if len(findings) == 0 {
		return nil, fmt.Errorf("research produced no findings")
	}

	credible := make([]map[string]interface{}, 0, len(findings))
	for _, f := range findings {
		if numberField(f, "credibility") >= minCredibility {
			credible = append(credible, f)
		}
	}
	if len(credible) == 0 {
		credible = findings
	}

	return map[string]interface{}{
		"findings":  credible,
		"discarded": len(findings) - len(credible),
	}, nil
}

// numberField reads a numeric field from decoded JSON, accepting the
// types encoding/json produces.
func numberField(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
