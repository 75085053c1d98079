package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/draftforge/draftforge/pkg/agent"
)

// PMFPipeline validates a product idea: market research, an ideal
// customer profile, and synthetic personas the founder can interview.
type PMFPipeline struct {
	deps      Deps
	research  *agent.Agent
	icp       *agent.Agent
	personas  *agent.Agent
	chat      *agent.Agent
	validator map[string]agent.Validator
}

// NewPMFPipeline builds the product-market-fit pipeline.
func NewPMFPipeline(deps Deps) *PMFPipeline {
	logger := deps.logger()

	research := mustAgent(agent.New(agent.Config{
		Name:     "market-research",
		Provider: deps.Provider,
		Model:    "balanced",
		SystemPrompt: "You are a market research analyst. Respond ONLY with a JSON object " +
			"with fields: market_size (string, with concrete numbers), competitors (array of " +
			"objects with name, strengths, weaknesses), pain_points (array of strings), " +
			"trends (array of strings), summary (string).",
		PromptTemplate: "Research the market for this product idea: {{.idea}}\n\n" +
			"{{if .tool_results}}Web search findings:\n{{json .tool_results}}\n\n{{end}}" +
			"{{if .refinement_feedback}}A previous attempt was judged insufficient. Address this feedback:\n" +
			"{{.refinement_feedback}}\n\nPrevious attempt:\n{{.previous_attempt}}\n{{end}}",
		Registry: deps.Tools,
		Tool:     "web_search",
		ToolInputs: func(inputs map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{
				"query": fmt.Sprintf("market size competitors %v", inputs["idea"]),
			}
		},
		Logger: logger,
	}))

	icp := mustAgent(agent.New(agent.Config{
		Name:     "icp-generator",
		Provider: deps.Provider,
		Model:    "balanced",
		SystemPrompt: "You define ideal customer profiles. Respond ONLY with a JSON object " +
			"with fields: segment (string), demographics (object), firmographics (object), " +
			"goals (array of strings), pain_points (array of strings), buying_triggers (array of strings).",
		PromptTemplate: "Define the ideal customer profile for: {{.idea}}\n\n" +
			"Market research:\n{{json .research}}\n\n" +
			"{{if .refinement_feedback}}Address this feedback:\n{{.refinement_feedback}}\n{{end}}",
		Logger: logger,
	}))

	personas := mustAgent(agent.New(agent.Config{
		Name:     "persona-generator",
		Provider: deps.Provider,
		Model:    "balanced",
		SystemPrompt: "You create realistic synthetic customer personas. Respond ONLY with a " +
			"JSON object with field personas: an array of objects, each with name, age, role, " +
			"background, goals (array), objections (array), voice (string describing how they talk).",
		PromptTemplate: "Create 3 distinct personas matching this ideal customer profile:\n{{json .icp}}\n\n" +
			"Product idea: {{.idea}}\n\n" +
			"{{if .refinement_feedback}}Address this feedback:\n{{.refinement_feedback}}\n{{end}}",
		Logger: logger,
	}))

	chat := mustAgent(agent.New(agent.Config{
		Name:     "persona-chat",
		Provider: deps.Provider,
		Model:    "fast",
		SystemPrompt: "You role-play a customer persona in a product interview. Stay strictly " +
			"in character. Answer as the persona would, in their voice, including their " +
			"objections. Never mention that you are an AI.",
		PromptTemplate: "Persona profile:\n{{json .persona}}\n\n" +
			"{{if .history}}Conversation so far:\n{{range .history}}{{.role}}: {{.content}}\n{{end}}\n{{end}}" +
			"Interviewer: {{.message}}\n\n" +
			"{{if .refinement_feedback}}Your previous reply broke character. Fix this:\n{{.refinement_feedback}}\n{{end}}" +
			"Reply as the persona.",
		RawOutput: true,
		Logger:    logger,
	}))

	researchValidator := mustValidator(agent.NewRuleValidator(0.7,
		agent.Rule{
			Name:       "market size present",
			Expr:       `market_size != nil && len(market_size) >= 50`,
			Penalty:    0.25,
			Suggestion: "Find specific market size data with numbers ($XXM, XX% growth, etc.)",
		},
		agent.Rule{
			Name:       "enough competitors",
			Expr:       `competitors != nil && len(competitors) >= 3`,
			Penalty:    0.2,
			Suggestion: "Identify at least 3 key competitors with strengths and weaknesses",
		},
		agent.Rule{
			Name:       "pain points identified",
			Expr:       `pain_points != nil && len(pain_points) >= 3`,
			Penalty:    0.2,
			Suggestion: "Identify at least 3 concrete customer pain points",
		},
		agent.Rule{
			Name:       "trends identified",
			Expr:       `trends != nil && len(trends) >= 2`,
			Penalty:    0.15,
			Suggestion: "Identify at least 2 relevant market trends",
		},
	))

	return &PMFPipeline{
		deps:     deps,
		research: research,
		icp:      icp,
		personas: personas,
		chat:     chat,
		validator: map[string]agent.Validator{
			"research": researchValidator,
			"icp": &agent.HeuristicValidator{
				RequiredFields: []string{"segment", "goals", "pain_points"},
			},
			"personas": &agent.HeuristicValidator{
				RequiredFields: []string{"personas"},
			},
			"chat": &agent.HeuristicValidator{
				RequiredFields: []string{"text"},
				MinLengths:     map[string]int{"text": 40},
			},
		},
	}
}

// Name returns the pipeline identifier.
func (p *PMFPipeline) Name() string { return "pmf" }

// Description returns a one-line summary.
func (p *PMFPipeline) Description() string {
	return "Validate a product idea: market research, ideal customer profile, synthetic personas"
}

// Run executes research, ICP generation, and persona generation in
// sequence. Inputs: idea (string, required).
func (p *PMFPipeline) Run(ctx context.Context, inputs map[string]interface{}) (*Result, error) {
	idea, _ := inputs["idea"].(string)
	if strings.TrimSpace(idea) == "" {
		return nil, fmt.Errorf("pmf pipeline requires an \"idea\" input")
	}

	r := newRun(p.Name(), inputs, p.deps.logger())

	if _, err := r.agentStage(ctx, "research", p.research, p.validator["research"], p.deps.Policy); err != nil {
		return r.finish(nil), err
	}
	if _, err := r.agentStage(ctx, "icp", p.icp, p.validator["icp"], p.deps.Policy); err != nil {
		return r.finish(nil), err
	}
	personasOut, err := r.agentStage(ctx, "personas", p.personas, p.validator["personas"], p.deps.Policy)
	if err != nil {
		return r.finish(nil), err
	}

	return r.finish(map[string]interface{}{
		"research": r.state["research"],
		"icp":      r.state["icp"],
		"personas": personasOut.Data["personas"],
	}), nil
}

// ChatMessage is one turn of a persona conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatReply is the persona's annotated response.
type ChatReply struct {
	Response   string   `json:"response"`
	Sentiment  string   `json:"sentiment"`
	Topics     []string `json:"topics"`
	Confidence float64  `json:"confidence"`
	Mock       bool     `json:"mock"`
}

// Chat sends one interviewer message to a persona and returns the
// in-character reply, annotated with heuristic sentiment and topics.
func (p *PMFPipeline) Chat(ctx context.Context, persona map[string]interface{}, message string, history []ChatMessage) (*ChatReply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("chat message must not be empty")
	}

	historyMaps := make([]map[string]interface{}, 0, len(history))
	for _, m := range history {
		historyMaps = append(historyMaps, map[string]interface{}{
			"role":    m.Role,
			"content": m.Content,
		})
	}

	// Persona replies self-correct at most once.
	policy := agent.RetryPolicy{MaxIterations: 2, MinConfidence: p.deps.Policy.MinConfidence}

	out, err := p.chat.RunWithRetry(ctx, map[string]interface{}{
		"persona": persona,
		"message": message,
		"history": historyMaps,
	}, p.validator["chat"], policy)
	if err != nil {
		return nil, err
	}

	response, _ := out.Data["text"].(string)

	return &ChatReply{
		Response:   response,
		Sentiment:  analyzeSentiment(response),
		Topics:     extractTopics(message, response),
		Confidence: out.Confidence,
		Mock:       out.Mock,
	}, nil
}

// analyzeSentiment buckets a reply by simple keyword matching.
// Objections dominate so interviewers notice pushback.
func analyzeSentiment(text string) string {
	lower := strings.ToLower(text)

	negative := []string{"but ", "however", "concern", "worried", "not sure", "don't think",
		"problem", "issue", "skeptical", "doubt"}
	for _, indicator := range negative {
		if strings.Contains(lower, indicator) {
			return "objection"
		}
	}

	positive := []string{"great", "love", "excellent", "perfect", "interested",
		"sounds good", "definitely", "excited"}
	for _, indicator := range positive {
		if strings.Contains(lower, indicator) {
			return "positive"
		}
	}

	if strings.Contains(text, "?") {
		return "curious"
	}

	return "neutral"
}

// extractTopics tags a conversation turn by keyword buckets.
func extractTopics(userMsg, personaMsg string) []string {
	combined := strings.ToLower(userMsg + " " + personaMsg)

	buckets := []struct {
		topic    string
		keywords []string
	}{
		{"pricing", []string{"price", "cost", "expensive", "cheap", "afford", "budget"}},
		{"features", []string{"feature", "functionality", "capability", "can it", "does it"}},
		{"quality", []string{"quality", "reliable", "dependable", "trustworthy"}},
		{"support", []string{"support", "help", "customer service", "assistance"}},
		{"competition", []string{"competitor", "alternative", "versus", "compared to"}},
		{"value", []string{"value", "worth", "benefit", "roi", "return"}},
	}

	var topics []string
	for _, bucket := range buckets {
		for _, keyword := range bucket.keywords {
			if strings.Contains(combined, keyword) {
				topics = append(topics, bucket.topic)
				break
			}
		}
	}

	if len(topics) == 0 {
		topics = []string{"general"}
	}
	return topics
}
