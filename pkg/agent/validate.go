package agent

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Verdict is a validator's judgment of one output.
type Verdict struct {
	// Valid reports whether the output meets minimum quality.
	Valid bool

	// Confidence is the quality score (0.0-1.0).
	Confidence float64

	// Suggestions list specific improvements for the next attempt.
	Suggestions []string
}

// Validator scores agent output heuristically.
type Validator interface {
	Validate(data map[string]interface{}) Verdict
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(data map[string]interface{}) Verdict

// Validate calls f.
func (f ValidatorFunc) Validate(data map[string]interface{}) Verdict {
	return f(data)
}

// HeuristicValidator scores output by field presence and content length.
// Each missing required field or too-short field costs a share of the
// score and produces a suggestion.
type HeuristicValidator struct {
	// RequiredFields must be present and non-empty.
	RequiredFields []string

	// MinLengths maps field names to minimum string lengths.
	MinLengths map[string]int

	// MinConfidence is the validity threshold (default 0.7).
	MinConfidence float64
}

// Validate scores the output against the configured heuristics.
func (v *HeuristicValidator) Validate(data map[string]interface{}) Verdict {
	checks := len(v.RequiredFields) + len(v.MinLengths)
	if checks == 0 {
		return Verdict{Valid: true, Confidence: 1.0}
	}

	var suggestions []string
	passed := 0

	for _, field := range v.RequiredFields {
		value, ok := data[field]
		if !ok || isEmptyValue(value) {
			suggestions = append(suggestions, fmt.Sprintf("Include a non-empty %q field", field))
			continue
		}
		passed++
	}

	for field, minLen := range v.MinLengths {
		s, ok := data[field].(string)
		if !ok || len(strings.TrimSpace(s)) < minLen {
			suggestions = append(suggestions, fmt.Sprintf("Expand %q to at least %d characters of substantive content", field, minLen))
			continue
		}
		passed++
	}

	confidence := float64(passed) / float64(checks)
	threshold := v.MinConfidence
	if threshold == 0 {
		threshold = 0.7
	}

	return Verdict{
		Valid:       confidence >= threshold,
		Confidence:  confidence,
		Suggestions: suggestions,
	}
}

func isEmptyValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	}
	return false
}

// Rule is one scored quality check, written as an expr-lang boolean
// expression over the output map. A failing rule subtracts Penalty from
// the score and contributes its Suggestion to the feedback.
type Rule struct {
	// Name identifies the rule in errors.
	Name string

	// Expr is a boolean expr-lang expression. The output map is the
	// expression environment, so fields are referenced directly, e.g.
	// `len(competitors) >= 3`.
	Expr string

	// Penalty is subtracted from the score when the rule fails
	// (default 0.2).
	Penalty float64

	// Suggestion is the improvement fed back on failure.
	Suggestion string
}

// RuleValidator scores output with compiled expr-lang rules, starting
// from 1.0 and subtracting each failing rule's penalty.
type RuleValidator struct {
	rules         []Rule
	programs      []*vm.Program
	minConfidence float64
}

// NewRuleValidator compiles the rules. Compilation errors surface here
// so misconfigured pipelines fail at startup, not mid-run.
func NewRuleValidator(minConfidence float64, rules ...Rule) (*RuleValidator, error) {
	if minConfidence == 0 {
		minConfidence = 0.7
	}

	programs := make([]*vm.Program, len(rules))
	for i, rule := range rules {
		program, err := expr.Compile(rule.Expr, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		programs[i] = program
	}

	return &RuleValidator{
		rules:         rules,
		programs:      programs,
		minConfidence: minConfidence,
	}, nil
}

// Validate runs every rule against the output.
// A rule that errors at runtime counts as failed.
func (v *RuleValidator) Validate(data map[string]interface{}) Verdict {
	score := 1.0
	var suggestions []string

	for i, rule := range v.rules {
		result, err := expr.Run(v.programs[i], data)
		ok, _ := result.(bool)
		if err != nil || !ok {
			penalty := rule.Penalty
			if penalty == 0 {
				penalty = 0.2
			}
			score -= penalty
			if rule.Suggestion != "" {
				suggestions = append(suggestions, rule.Suggestion)
			}
		}
	}

	if score < 0 {
		score = 0
	}

	return Verdict{
		Valid:       score >= v.minConfidence,
		Confidence:  score,
		Suggestions: suggestions,
	}
}

// MultiValidator combines validators, averaging their confidence scores.
// The combined verdict is valid only if every validator agrees.
type MultiValidator struct {
	Validators []Validator
}

// Validate runs all validators and merges their verdicts.
func (v *MultiValidator) Validate(data map[string]interface{}) Verdict {
	if len(v.Validators) == 0 {
		return Verdict{Valid: true, Confidence: 1.0}
	}

	total := 0.0
	valid := true
	var suggestions []string

	for _, inner := range v.Validators {
		verdict := inner.Validate(data)
		total += verdict.Confidence
		valid = valid && verdict.Valid
		suggestions = append(suggestions, verdict.Suggestions...)
	}

	return Verdict{
		Valid:       valid,
		Confidence:  total / float64(len(v.Validators)),
		Suggestions: suggestions,
	}
}
