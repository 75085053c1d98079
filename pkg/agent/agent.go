// Package agent provides quality-gated LLM agents.
//
// An agent formats a prompt from a template and inputs, optionally calls
// one external tool to gather data, invokes an LLM provider, and parses
// the response into structured output. RunWithRetry wraps Run in an
// iterative self-correction loop:
//
//  1. Execute the agent
//  2. Score the output with a heuristic validator
//  3. If quality is insufficient, feed the validator's suggestions back
//     into the next attempt and retry
//  4. Return the best attempt seen, with a reasoning trace
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/draftforge/draftforge/internal/extract"
	forgelog "github.com/draftforge/draftforge/internal/log"
	"github.com/draftforge/draftforge/pkg/errors"
	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/tools"
)

// Agent executes a single prompt-completion-parse cycle against an LLM
// provider, optionally preceded by one tool call.
type Agent struct {
	name           string
	provider       llm.Provider
	registry       *tools.Registry
	systemPrompt   string
	promptTemplate *template.Template
	model          string
	temperature    *float64
	maxTokens      *int

	// tool, if set, is executed before the LLM call; its outputs are
	// exposed to the prompt template as .tool_results.
	tool       string
	toolInputs ToolInputsFunc

	// rawOutput skips JSON extraction and returns the completion text
	// under the "text" key. Used by conversational agents.
	rawOutput bool

	logger *slog.Logger
}

// ToolInputsFunc derives tool inputs from the agent's inputs.
type ToolInputsFunc func(inputs map[string]interface{}) map[string]interface{}

// Config configures an Agent.
type Config struct {
	// Name identifies the agent in logs and traces.
	Name string

	// Provider is the LLM provider to call.
	Provider llm.Provider

	// SystemPrompt sets the agent's role and output contract.
	SystemPrompt string

	// PromptTemplate is a text/template body rendered with the inputs map.
	PromptTemplate string

	// Model selects a model ID or tier ("fast", "balanced", "strategic").
	Model string

	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// MaxTokens overrides the provider default when non-nil.
	MaxTokens *int

	// Registry provides tools; required when Tool is set.
	Registry *tools.Registry

	// Tool names the single tool to call before prompting, if any.
	Tool string

	// ToolInputs derives the tool's inputs. Defaults to passing the
	// agent inputs through unchanged.
	ToolInputs ToolInputsFunc

	// RawOutput disables JSON extraction.
	RawOutput bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Output is the structured result of one agent execution.
type Output struct {
	// Data is the parsed JSON payload. For raw-output agents it holds
	// the completion under the "text" key.
	Data map[string]interface{}

	// Raw is the unparsed completion text.
	Raw string

	// Confidence is the validator's score for this output (0.0-1.0).
	// Zero until validated.
	Confidence float64

	// Valid reports whether the output met the quality threshold.
	Valid bool

	// Trace records per-iteration validation results from RunWithRetry.
	Trace []TraceEntry

	// Iterations is the number of attempts RunWithRetry made.
	Iterations int

	// Usage accumulates token consumption across attempts.
	Usage llm.TokenUsage

	// Mock reports whether the completion came from a mock provider.
	Mock bool

	// ToolResults holds the output of the agent's tool call, if any.
	ToolResults map[string]interface{}

	// Duration is the wall-clock time of the final attempt.
	Duration time.Duration
}

// TraceEntry records one iteration of the quality loop.
type TraceEntry struct {
	Iteration   int      `json:"iteration"`
	Confidence  float64  `json:"confidence"`
	Valid       bool     `json:"is_valid"`
	Suggestions []string `json:"suggestions,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// New creates an agent from the given config.
func New(cfg Config) (*Agent, error) {
	if cfg.Name == "" {
		return nil, &errors.ValidationError{
			Field:      "name",
			Message:    "agent name is required",
			Suggestion: "Give the agent a descriptive name",
		}
	}
	if cfg.Provider == nil {
		return nil, &errors.ValidationError{
			Field:      "provider",
			Message:    "agent requires an LLM provider",
			Suggestion: "Pass a provider from the llm registry",
		}
	}
	if cfg.PromptTemplate == "" {
		return nil, &errors.ValidationError{
			Field:      "prompt_template",
			Message:    "agent requires a prompt template",
			Suggestion: "Provide a text/template body for the user prompt",
		}
	}
	if cfg.Tool != "" && cfg.Registry == nil {
		return nil, &errors.ValidationError{
			Field:      "registry",
			Message:    fmt.Sprintf("agent uses tool %q but has no tool registry", cfg.Tool),
			Suggestion: "Pass the tool registry to the agent config",
		}
	}

	// The "json" helper lets templates embed structured stage output
	// (maps, slices) as JSON instead of Go syntax.
	funcs := template.FuncMap{
		"json": func(v interface{}) (string, error) {
			b, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
	}

	tmpl, err := template.New(cfg.Name).Funcs(funcs).Option("missingkey=zero").Parse(cfg.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid prompt template: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	toolInputs := cfg.ToolInputs
	if toolInputs == nil {
		toolInputs = func(inputs map[string]interface{}) map[string]interface{} { return inputs }
	}

	return &Agent{
		name:           cfg.Name,
		provider:       cfg.Provider,
		registry:       cfg.Registry,
		systemPrompt:   cfg.SystemPrompt,
		promptTemplate: tmpl,
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		tool:           cfg.Tool,
		toolInputs:     toolInputs,
		rawOutput:      cfg.RawOutput,
		logger:         logger.With(forgelog.AgentKey, cfg.Name),
	}, nil
}

// Name returns the agent's identifier.
func (a *Agent) Name() string {
	return a.name
}

// Run executes one prompt-completion-parse cycle.
func (a *Agent) Run(ctx context.Context, inputs map[string]interface{}) (*Output, error) {
	start := time.Now()

	data := make(map[string]interface{}, len(inputs)+1)
	for k, v := range inputs {
		data[k] = v
	}

	var toolResults map[string]interface{}
	if a.tool != "" {
		results, err := a.registry.Execute(ctx, a.tool, a.toolInputs(inputs))
		if err != nil {
			return nil, &errors.ToolError{
				Tool:    a.tool,
				Message: fmt.Sprintf("agent %s tool call failed: %v", a.name, err),
				Cause:   err,
			}
		}
		toolResults = results
		data["tool_results"] = results
		a.logger.Debug("tool call completed", forgelog.ToolKey, a.tool)
	}

	var prompt bytes.Buffer
	if err := a.promptTemplate.Execute(&prompt, data); err != nil {
		return nil, fmt.Errorf("failed to render prompt for agent %s: %w", a.name, err)
	}

	messages := make([]llm.Message, 0, 2)
	if a.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.MessageRoleSystem, Content: a.systemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.MessageRoleUser, Content: prompt.String()})

	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		Model:       a.model,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	out := &Output{
		Raw:         resp.Content,
		Usage:       resp.Usage,
		Mock:        resp.Mock,
		ToolResults: toolResults,
		Duration:    time.Since(start),
	}

	if a.rawOutput {
		out.Data = map[string]interface{}{"text": resp.Content}
		return out, nil
	}

	parsed, err := extract.ParseJSONMap(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("agent %s produced unparseable output: %w", a.name, err)
	}
	out.Data = parsed

	return out, nil
}
