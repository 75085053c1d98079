package agent

import (
	"context"
	"fmt"
	"strings"

	forgelog "github.com/draftforge/draftforge/internal/log"
	"github.com/draftforge/draftforge/pkg/llm"
)

// RetryPolicy bounds the quality loop.
type RetryPolicy struct {
	// MaxIterations is the maximum number of attempts (default 3).
	MaxIterations int

	// MinConfidence is the score at which the loop stops early
	// (default 0.7).
	MinConfidence float64
}

// DefaultRetryPolicy returns the standard quality-loop bounds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxIterations: 3,
		MinConfidence: 0.7,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxIterations <= 0 {
		p.MaxIterations = 3
	}
	if p.MinConfidence <= 0 {
		p.MinConfidence = 0.7
	}
	return p
}

// RunWithRetry executes the agent with iterative self-correction.
//
// Each attempt is scored by the validator. When the score reaches the
// policy threshold the loop stops; otherwise the validator's suggestions
// and the previous output are injected into the next attempt's inputs as
// "refinement_feedback" and "previous_attempt". After the final
// iteration the best-scoring output seen is returned, annotated with the
// reasoning trace, its confidence, and the iteration count.
//
// An attempt error mid-loop is recorded in the trace and the loop
// continues; an error on the final iteration propagates. If no attempt
// produced output at all, an error is returned.
func (a *Agent) RunWithRetry(ctx context.Context, inputs map[string]interface{}, validator Validator, policy RetryPolicy) (*Output, error) {
	policy = policy.withDefaults()

	attemptInputs := make(map[string]interface{}, len(inputs)+2)
	for k, v := range inputs {
		attemptInputs[k] = v
	}

	var best *Output
	bestScore := 0.0
	var trace []TraceEntry
	var usage llm.TokenUsage

	for iteration := 1; iteration <= policy.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a.logger.Debug("quality loop iteration",
			"iteration", iteration,
			"max_iterations", policy.MaxIterations)

		out, err := a.Run(ctx, attemptInputs)
		if err != nil {
			trace = append(trace, TraceEntry{
				Iteration:  iteration,
				Confidence: 0.0,
				Valid:      false,
				Error:      err.Error(),
			})
			a.logger.Warn("attempt failed", "iteration", iteration, forgelog.Error(err))

			if iteration == policy.MaxIterations {
				return nil, err
			}
			continue
		}

		usage.Add(out.Usage)

		verdict := validator.Validate(out.Data)
		trace = append(trace, TraceEntry{
			Iteration:   iteration,
			Confidence:  verdict.Confidence,
			Valid:       verdict.Valid,
			Suggestions: verdict.Suggestions,
		})

		a.logger.Debug("attempt scored",
			"iteration", iteration,
			"confidence", verdict.Confidence,
			"valid", verdict.Valid,
			"suggestions", len(verdict.Suggestions))

		if verdict.Confidence > bestScore || best == nil {
			bestScore = verdict.Confidence
			best = out
		}

		if verdict.Valid && verdict.Confidence >= policy.MinConfidence {
			break
		}

		if iteration < policy.MaxIterations {
			attemptInputs["refinement_feedback"] = strings.Join(verdict.Suggestions, "\n")
			attemptInputs["previous_attempt"] = out.Raw
		}
	}

	if best == nil {
		return nil, fmt.Errorf("agent %s failed to produce valid output after %d iterations", a.name, policy.MaxIterations)
	}

	best.Confidence = bestScore
	best.Valid = bestScore >= policy.MinConfidence
	best.Trace = trace
	best.Iterations = len(trace)
	best.Usage = usage

	if bestScore < policy.MinConfidence {
		a.logger.Warn("final confidence below threshold",
			"confidence", bestScore,
			"threshold", policy.MinConfidence)
	}

	return best, nil
}
