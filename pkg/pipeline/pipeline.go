// Package pipeline provides fixed sequences of agents that turn one
// input into a finished deliverable: a market-fit report, a set of
// platform drafts, a podcast digest, a reviewed article.
//
// A pipeline threads each agent's output into the next agent's inputs
// and records per-stage results so callers can inspect where quality or
// time went.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	forgelog "github.com/draftforge/draftforge/internal/log"
	"github.com/draftforge/draftforge/internal/tracing"
	"github.com/draftforge/draftforge/pkg/agent"
	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/tools"
)

// Stage status values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Pipeline is a named, runnable sequence of agents.
type Pipeline interface {
	// Name returns the pipeline identifier used by the CLI and API.
	Name() string

	// Description returns a one-line summary.
	Description() string

	// Run executes the pipeline with the given inputs.
	Run(ctx context.Context, inputs map[string]interface{}) (*Result, error)
}

// Result is the outcome of one pipeline run.
type Result struct {
	// Pipeline is the pipeline's name.
	Pipeline string `json:"pipeline"`

	// RunID uniquely identifies this run.
	RunID string `json:"run_id"`

	// Inputs echoes the run inputs.
	Inputs map[string]interface{} `json:"inputs"`

	// Stages records per-stage outcomes in execution order.
	Stages []StageResult `json:"stages"`

	// Output is the pipeline's final deliverable.
	Output map[string]interface{} `json:"output"`

	// Usage accumulates token consumption across all stages.
	Usage llm.TokenUsage `json:"usage"`

	// Mock reports whether any stage used mock output.
	Mock bool `json:"mock"`

	// StartedAt and CompletedAt bound the run.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// StageResult records one stage's outcome.
type StageResult struct {
	// Name identifies the stage within the pipeline.
	Name string `json:"name"`

	// Status is completed, failed, or skipped.
	Status string `json:"status"`

	// Confidence is the validator score for agent stages.
	Confidence float64 `json:"confidence,omitempty"`

	// Iterations is the quality-loop attempt count for agent stages.
	Iterations int `json:"iterations,omitempty"`

	// Duration is the stage's wall-clock time.
	Duration time.Duration `json:"duration"`

	// Error holds the failure message for failed stages.
	Error string `json:"error,omitempty"`

	// Output is the stage's structured output.
	Output map[string]interface{} `json:"output,omitempty"`
}

// Deps carries the shared dependencies pipelines are built from.
type Deps struct {
	// Provider is the LLM provider all agents call.
	Provider llm.Provider

	// Tools is the tool registry.
	Tools *tools.Registry

	// Policy bounds each agent's quality loop.
	Policy agent.RetryPolicy

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// run is the shared driver: it executes stages in order, threading a
// mutable state map through them and recording outcomes.
type run struct {
	result *Result
	state  map[string]interface{}
	logger *slog.Logger
}

func newRun(name string, inputs map[string]interface{}, logger *slog.Logger) *run {
	runID := uuid.New().String()

	state := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		state[k] = v
	}

	return &run{
		result: &Result{
			Pipeline:  name,
			RunID:     runID,
			Inputs:    inputs,
			StartedAt: time.Now(),
		},
		state:  state,
		logger: logger.With(forgelog.PipelineKey, name, forgelog.RunIDKey, runID),
	}
}

// agentStage runs an agent with the quality loop and merges its output
// into the run state under the stage name.
func (r *run) agentStage(ctx context.Context, name string, a *agent.Agent, validator agent.Validator, policy agent.RetryPolicy) (*agent.Output, error) {
	start := time.Now()
	r.logger.Info("stage started", forgelog.StageKey, name)

	stageCtx, span := tracing.StartStage(ctx, name)
	out, err := a.RunWithRetry(stageCtx, r.state, validator, policy)
	tracing.EndSpan(span, err)
	if err != nil {
		r.record(StageResult{
			Name:     name,
			Status:   StatusFailed,
			Duration: time.Since(start),
			Error:    err.Error(),
		})
		r.logger.Error("stage failed", forgelog.StageKey, name, forgelog.Error(err))
		return nil, fmt.Errorf("stage %s: %w", name, err)
	}

	r.result.Usage.Add(out.Usage)
	if out.Mock {
		r.result.Mock = true
	}

	r.record(StageResult{
		Name:       name,
		Status:     StatusCompleted,
		Confidence: out.Confidence,
		Iterations: out.Iterations,
		Duration:   time.Since(start),
		Output:     out.Data,
	})
	r.state[name] = out.Data

	r.logger.Info("stage completed",
		forgelog.StageKey, name,
		"confidence", out.Confidence,
		"iterations", out.Iterations,
		forgelog.DurationKey, time.Since(start).Milliseconds())

	return out, nil
}

// funcStage runs a plain function stage (no LLM call) and merges its
// output into the run state under the stage name.
func (r *run) funcStage(ctx context.Context, name string, fn func(ctx context.Context, state map[string]interface{}) (map[string]interface{}, error)) (map[string]interface{}, error) {
	start := time.Now()
	r.logger.Info("stage started", forgelog.StageKey, name)

	stageCtx, span := tracing.StartStage(ctx, name)
	out, err := fn(stageCtx, r.state)
	tracing.EndSpan(span, err)
	if err != nil {
		r.record(StageResult{
			Name:     name,
			Status:   StatusFailed,
			Duration: time.Since(start),
			Error:    err.Error(),
		})
		r.logger.Error("stage failed", forgelog.StageKey, name, forgelog.Error(err))
		return nil, fmt.Errorf("stage %s: %w", name, err)
	}

	r.record(StageResult{
		Name:     name,
		Status:   StatusCompleted,
		Duration: time.Since(start),
		Output:   out,
	})
	r.state[name] = out

	r.logger.Info("stage completed", forgelog.StageKey, name,
		forgelog.DurationKey, time.Since(start).Milliseconds())

	return out, nil
}

func (r *run) record(sr StageResult) {
	r.result.Stages = append(r.result.Stages, sr)
}

// finish seals the result with the final output.
func (r *run) finish(output map[string]interface{}) *Result {
	r.result.Output = output
	r.result.CompletedAt = time.Now()
	return r.result
}

// mustAgent panics on agent construction errors. Pipeline agents are
// built from static templates, so a failure is a programming error.
func mustAgent(a *agent.Agent, err error) *agent.Agent {
	if err != nil {
		panic(fmt.Sprintf("pipeline agent: %v", err))
	}
	return a
}

// mustValidator panics on rule compilation errors in static pipelines.
func mustValidator(v agent.Validator, err error) agent.Validator {
	if err != nil {
		panic(fmt.Sprintf("pipeline validator: %v", err))
	}
	return v
}

// Registry maps pipeline names to implementations.
type Registry struct {
	pipelines map[string]Pipeline
}

// NewPipelineRegistry builds a registry of all standard pipelines.
func NewPipelineRegistry(deps Deps) *Registry {
	r := &Registry{pipelines: make(map[string]Pipeline)}
	r.Add(NewPMFPipeline(deps))
	r.Add(NewRepurposePipeline(deps))
	r.Add(NewPodcastPipeline(deps))
	r.Add(NewCreatorPipeline(deps))
	return r
}

// Add registers a pipeline, replacing any with the same name.
func (r *Registry) Add(p Pipeline) {
	r.pipelines[p.Name()] = p
}

// Get returns a pipeline by name.
func (r *Registry) Get(name string) (Pipeline, bool) {
	p, ok := r.pipelines[name]
	return p, ok
}

// List returns all registered pipelines.
func (r *Registry) List() []Pipeline {
	out := make([]Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		out = append(out, p)
	}
	return out
}
