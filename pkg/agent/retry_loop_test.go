package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/pkg/llm"
)

func scoreValidator(scores map[string]float64) Validator {
	return ValidatorFunc(func(data map[string]interface{}) Verdict {
		key, _ := data["quality"].(string)
		score := scores[key]
		return Verdict{
			Valid:       score >= 0.7,
			Confidence:  score,
			Suggestions: []string{"add more detail"},
		}
	})
}

func TestRunWithRetry_StopsAtThreshold(t *testing.T) {
	provider := llm.NewMockProvider(
		llm.MockResponse{Content: `{"quality": "good"}`},
		llm.MockResponse{Content: `{"quality": "never-reached"}`},
	)

	a, err := New(Config{Name: "a", Provider: provider, PromptTemplate: "x"})
	require.NoError(t, err)

	validator := scoreValidator(map[string]float64{"good": 0.9})

	out, err := a.RunWithRetry(context.Background(), nil, validator, DefaultRetryPolicy())
	require.NoError(t, err)

	assert.Equal(t, 0.9, out.Confidence)
	assert.True(t, out.Valid)
	assert.Equal(t, 1, out.Iterations)
	require.Len(t, out.Trace, 1)
	assert.Equal(t, "good", out.Data["quality"])
	// Only one LLM call was made.
	assert.Len(t, provider.Requests(), 1)
}

func TestRunWithRetry_InjectsFeedback(t *testing.T) {
	provider := llm.NewMockProvider(
		llm.MockResponse{Content: `{"quality": "weak"}`},
		llm.MockResponse{Content: `{"quality": "good"}`},
	)

	a, err := New(Config{
		Name:           "a",
		Provider:       provider,
		PromptTemplate: "Task: {{.task}}\n{{if .refinement_feedback}}Feedback: {{.refinement_feedback}}\nPrevious: {{.previous_attempt}}{{end}}",
	})
	require.NoError(t, err)

	validator := scoreValidator(map[string]float64{"weak": 0.3, "good": 0.9})

	out, err := a.RunWithRetry(context.Background(), map[string]interface{}{"task": "write"}, validator, DefaultRetryPolicy())
	require.NoError(t, err)

	assert.Equal(t, 0.9, out.Confidence)
	assert.Equal(t, 2, out.Iterations)

	// Second prompt carried the feedback and the previous attempt.
	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	second := reqs[1].Messages[0].Content
	assert.Contains(t, second, "Feedback: add more detail")
	assert.Contains(t, second, `{"quality": "weak"}`)
}

func TestRunWithRetry_ReturnsBestAttempt(t *testing.T) {
	provider := llm.NewMockProvider(
		llm.MockResponse{Content: `{"quality": "medium"}`},
		llm.MockResponse{Content: `{"quality": "weak"}`},
		llm.MockResponse{Content: `{"quality": "weakest"}`},
	)

	a, err := New(Config{Name: "a", Provider: provider, PromptTemplate: "x"})
	require.NoError(t, err)

	validator := scoreValidator(map[string]float64{"medium": 0.5, "weak": 0.3, "weakest": 0.1})

	out, err := a.RunWithRetry(context.Background(), nil, validator, RetryPolicy{MaxIterations: 3, MinConfidence: 0.7})
	require.NoError(t, err)

	// The first attempt scored highest and is returned despite coming first.
	assert.Equal(t, "medium", out.Data["quality"])
	assert.Equal(t, 0.5, out.Confidence)
	assert.False(t, out.Valid)
	assert.Equal(t, 3, out.Iterations)
	require.Len(t, out.Trace, 3)
	assert.Equal(t, 0.5, out.Trace[0].Confidence)
	assert.Equal(t, 0.1, out.Trace[2].Confidence)
}

func TestRunWithRetry_ErrorMidLoopRecorded(t *testing.T) {
	boom := errors.New("transient failure")
	provider := llm.NewMockProvider(
		llm.MockResponse{Error: boom},
		llm.MockResponse{Content: `{"quality": "good"}`},
	)

	a, err := New(Config{Name: "a", Provider: provider, PromptTemplate: "x"})
	require.NoError(t, err)

	validator := scoreValidator(map[string]float64{"good": 0.9})

	out, err := a.RunWithRetry(context.Background(), nil, validator, DefaultRetryPolicy())
	require.NoError(t, err)

	assert.Equal(t, 2, out.Iterations)
	require.Len(t, out.Trace, 2)
	assert.Contains(t, out.Trace[0].Error, "transient failure")
	assert.Equal(t, 0.0, out.Trace[0].Confidence)
	assert.Equal(t, 0.9, out.Trace[1].Confidence)
}

func TestRunWithRetry_ErrorOnFinalIterationPropagates(t *testing.T) {
	boom := errors.New("persistent failure")
	provider := llm.NewMockProvider(
		llm.MockResponse{Error: boom},
		llm.MockResponse{Error: boom},
	)

	a, err := New(Config{Name: "a", Provider: provider, PromptTemplate: "x"})
	require.NoError(t, err)

	validator := scoreValidator(nil)

	_, err = a.RunWithRetry(context.Background(), nil, validator, RetryPolicy{MaxIterations: 2, MinConfidence: 0.7})
	assert.ErrorIs(t, err, boom)
}

func TestRunWithRetry_ContextCancelled(t *testing.T) {
	provider := llm.NewMockProvider()

	a, err := New(Config{Name: "a", Provider: provider, PromptTemplate: "x"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.RunWithRetry(ctx, nil, scoreValidator(nil), DefaultRetryPolicy())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWithRetry_DoesNotMutateCallerInputs(t *testing.T) {
	provider := llm.NewMockProvider(
		llm.MockResponse{Content: `{"quality": "weak"}`},
		llm.MockResponse{Content: `{"quality": "good"}`},
	)

	a, err := New(Config{Name: "a", Provider: provider, PromptTemplate: "x"})
	require.NoError(t, err)

	inputs := map[string]interface{}{"task": "write"}
	validator := scoreValidator(map[string]float64{"weak": 0.2, "good": 0.9})

	_, err = a.RunWithRetry(context.Background(), inputs, validator, DefaultRetryPolicy())
	require.NoError(t, err)

	_, hasFeedback := inputs["refinement_feedback"]
	assert.False(t, hasFeedback)
	_, hasPrevious := inputs["previous_attempt"]
	assert.False(t, hasPrevious)
}
