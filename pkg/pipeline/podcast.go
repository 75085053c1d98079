package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/draftforge/draftforge/internal/report"
	"github.com/draftforge/draftforge/pkg/agent"
)

// PodcastPipeline curates a listening digest: discover shows matching a
// listener goal, score and dedupe them, summarize the best picks in the
// listener's preferred style, and render a Markdown digest.
type PodcastPipeline struct {
	deps        Deps
	interests   *agent.Agent
	personalize *agent.Agent
	validator   map[string]agent.Validator
}

// NewPodcastPipeline builds the podcast digest pipeline.
func NewPodcastPipeline(deps Deps) *PodcastPipeline {
	logger := deps.logger()

	interests := mustAgent(agent.New(agent.Config{
		Name:     "interest-extraction",
		Provider: deps.Provider,
		Model:    "fast",
		SystemPrompt: "You turn a listener's stated goal into search terms. Respond ONLY with a " +
			"JSON object with fields: query (string, a podcast search query), " +
			"interests (array of 3-6 lowercase keyword strings).",
		PromptTemplate: "Listener goal: {{.goal}}\n\n" +
			"{{if .refinement_feedback}}Address this feedback:\n{{.refinement_feedback}}\n{{end}}",
		Logger: logger,
	}))

	personalize := mustAgent(agent.New(agent.Config{
		Name:     "digest-summaries",
		Provider: deps.Provider,
		Model:    "balanced",
		SystemPrompt: "You summarize podcasts for a listener digest. Respond ONLY with a JSON " +
			"object with field summaries: an array of objects, one per show in input order, " +
			"each with title (string) and summary (string in the requested style, mentioning " +
			"why this show fits the listener's goal).",
		PromptTemplate: "Listener goal: {{.goal}}\nSummary style: {{.style}}\n\n" +
			"Shows to summarize:\n{{json .curation}}\n\n" +
			"{{if .taste_profile}}The listener previously liked these topics:\n{{json .taste_profile}}\n\n{{end}}" +
			"{{if .refinement_feedback}}Address this feedback:\n{{.refinement_feedback}}\n{{end}}",
		Logger: logger,
	}))

	return &PodcastPipeline{
		deps:        deps,
		interests:   interests,
		personalize: personalize,
		validator: map[string]agent.Validator{
			"interests": &agent.HeuristicValidator{
				RequiredFields: []string{"query", "interests"},
			},
			"summaries": &agent.HeuristicValidator{
				RequiredFields: []string{"summaries"},
			},
		},
	}
}

// Name returns the pipeline identifier.
func (p *PodcastPipeline) Name() string { return "podcast" }

// Description returns a one-line summary.
func (p *PodcastPipeline) Description() string {
	return "Curate a podcast listening digest for a listener goal"
}

// Run executes interest extraction, discovery, curation, summary
// personalization, and digest rendering. Inputs: goal (string,
// required), style (brief|detailed|technical, default detailed),
// history (array of previously consumed shows), limit (number).
func (p *PodcastPipeline) Run(ctx context.Context, inputs map[string]interface{}) (*Result, error) {
	goal, _ := inputs["goal"].(string)
	if strings.TrimSpace(goal) == "" {
		return nil, fmt.Errorf("podcast pipeline requires a \"goal\" input")
	}
	style, _ := inputs["style"].(string)
	if style == "" {
		style = "detailed"
	}

	r := newRun(p.Name(), inputs, p.deps.logger())
	r.state["style"] = style

	interestsOut, err := r.agentStage(ctx, "interests", p.interests, p.validator["interests"], p.deps.Policy)
	if err != nil {
		return r.finish(nil), err
	}

	if _, err := r.funcStage(ctx, "discovery", p.discover); err != nil {
		return r.finish(nil), err
	}
	if _, err := r.funcStage(ctx, "curation", p.curate); err != nil {
		return r.finish(nil), err
	}
	if _, err := r.agentStage(ctx, "summaries", p.personalize, p.validator["summaries"], p.deps.Policy); err != nil {
		return r.finish(nil), err
	}
	digestOut, err := r.funcStage(ctx, "digest", p.renderDigest)
	if err != nil {
		return r.finish(nil), err
	}

	return r.finish(map[string]interface{}{
		"query":    interestsOut.Data["query"],
		"curation": r.state["curation"],
		"digest":   digestOut["markdown"],
	}), nil
}

// discover calls the podcast search tool with the extracted query.
func (p *PodcastPipeline) discover(ctx context.Context, state map[string]interface{}) (map[string]interface{}, error) {
	interests, _ := state["interests"].(map[string]interface{})
	query, _ := interests["query"].(string)
	if query == "" {
		query, _ = state["goal"].(string)
	}

	results, err := p.deps.Tools.Execute(ctx, "podcast_search", map[string]interface{}{
		"query": query,
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// curate dedupes discovered shows and scores each for relevance to the
// listener's interests and novelty against their listening history.
func (p *PodcastPipeline) curate(ctx context.Context, state map[string]interface{}) (map[string]interface{}, error) {
	discovery, _ := state["discovery"].(map[string]interface{})
	shows := asMapSlice(discovery["shows"])
	if len(shows) == 0 {
		shows = asMapSlice(discovery["results"])
	}
	if len(shows) == 0 {
		return nil, fmt.Errorf("discovery returned no shows")
	}

	interests := stringSlice(mapField(state, "interests", "interests"))
	history := asMapSlice(state["history"])

	limit := 5
	if n, ok := state["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}

	seen := make(map[string]bool, len(shows))
	scored := make([]map[string]interface{}, 0, len(shows))
	for _, show := range shows {
		name := showName(show)
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		description, _ := show["description"].(string)
		relevance, matches := relevanceScore(name, description, interests)
		novelty := noveltyScore(name, history)

		entry := make(map[string]interface{}, len(show)+3)
		for k, v := range show {
			entry[k] = v
		}
		entry["relevance"] = relevance
		entry["novelty"] = novelty
		entry["matched_interests"] = matches
		scored = append(scored, entry)
	}

	// Best combined score first. Relevance dominates novelty.
	sort.SliceStable(scored, func(i, j int) bool {
		return combinedScore(scored[i]) > combinedScore(scored[j])
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	return map[string]interface{}{
		"shows":     scored,
		"discarded": len(shows) - len(scored),
	}, nil
}

func combinedScore(show map[string]interface{}) float64 {
	relevance, _ := show["relevance"].(float64)
	novelty, _ := show["novelty"].(float64)
	return relevance*0.7 + novelty*0.3
}

// relevanceScore matches interest keywords against the show text. The
// base score keeps keyword-free matches from zeroing out entirely.
func relevanceScore(title, description string, interests []string) (float64, []string) {
	combined := strings.ToLower(title + " " + description)

	score := 0.3
	var matches []string
	for _, interest := range interests {
		if interest != "" && strings.Contains(combined, strings.ToLower(interest)) {
			score += 0.2
			matches = append(matches, interest)
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score, matches
}

// noveltyScore compares the show title against listening history by
// word overlap. No history means everything is novel.
func noveltyScore(title string, history []map[string]interface{}) float64 {
	if len(history) == 0 {
		return 1.0
	}

	words := wordSet(title)
	if len(history) > 30 {
		history = history[len(history)-30:]
	}

	var total float64
	for _, past := range history {
		pastTitle, _ := past["title"].(string)
		pastWords := wordSet(pastTitle)

		overlap := 0
		for w := range words {
			if pastWords[w] {
				overlap++
			}
		}
		union := len(words) + len(pastWords) - overlap
		if union > 0 {
			total += float64(overlap) / float64(union)
		}
	}

	novelty := 1.0 - total/float64(len(history))
	if novelty < 0 {
		novelty = 0
	}
	return novelty
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

// renderDigest joins the curated shows with their summaries and renders
// the Markdown digest.
func (p *PodcastPipeline) renderDigest(ctx context.Context, state map[string]interface{}) (map[string]interface{}, error) {
	goal, _ := state["goal"].(string)
	curation, _ := state["curation"].(map[string]interface{})
	shows := asMapSlice(curation["shows"])
	summaries := summariesByTitle(mapField(state, "summaries", "summaries"))

	digest := &report.Digest{
		Title:       "Your Podcast Digest",
		Goal:        goal,
		GeneratedAt: time.Now(),
		Mock:        isMockState(state),
	}

	for _, show := range shows {
		name := showName(show)
		publisher, _ := show["publisher"].(string)
		// Search backends disagree on the feed key: Spotify results only
		// carry a catalog url, iTunes results carry rss_url.
		feedURL, _ := show["feed_url"].(string)
		if feedURL == "" {
			feedURL, _ = show["rss_url"].(string)
		}
		if feedURL == "" {
			feedURL, _ = show["url"].(string)
		}
		relevance, _ := show["relevance"].(float64)
		novelty, _ := show["novelty"].(float64)

		summary := summaries[strings.ToLower(name)]
		if summary == "" {
			summary, _ = show["description"].(string)
		}

		digest.Episodes = append(digest.Episodes, report.DigestEpisode{
			ShowTitle: name,
			Publisher: publisher,
			Summary:   summary,
			Relevance: relevance,
			Novelty:   novelty,
			Topics:    stringSlice(show["matched_interests"]),
			FeedURL:   feedURL,
		})
	}

	var buf bytes.Buffer
	if err := report.NewDigestWriter(&buf).Write(digest); err != nil {
		return nil, fmt.Errorf("failed to render digest: %w", err)
	}

	return map[string]interface{}{
		"markdown": buf.String(),
		"episodes": len(digest.Episodes),
	}, nil
}

// showName reads the show title, accepting either key the search
// backends use.
func showName(show map[string]interface{}) string {
	if name, _ := show["name"].(string); name != "" {
		return name
	}
	name, _ := show["title"].(string)
	return name
}

// summariesByTitle indexes agent summaries by lowercased title.
func summariesByTitle(raw interface{}) map[string]string {
	out := make(map[string]string)
	for _, entry := range asMapSlice(raw) {
		title, _ := entry["title"].(string)
		summary, _ := entry["summary"].(string)
		if title != "" {
			out[strings.ToLower(title)] = summary
		}
	}
	return out
}

// isMockState reports whether discovery ran against canned data.
func isMockState(state map[string]interface{}) bool {
	discovery, _ := state["discovery"].(map[string]interface{})
	mock, _ := discovery["mock"].(bool)
	return mock
}

// mapField digs a field out of a nested stage output map.
func mapField(state map[string]interface{}, stage, field string) interface{} {
	m, _ := state[stage].(map[string]interface{})
	return m[field]
}

// asMapSlice coerces decoded JSON arrays into a slice of maps, dropping
// non-map elements.
func asMapSlice(v interface{}) []map[string]interface{} {
	switch items := v.(type) {
	case []map[string]interface{}:
		return items
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// stringSlice coerces decoded JSON arrays into strings.
func stringSlice(v interface{}) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []interface{}:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
