// Package policy evaluates the rego gate policy that decides whether an
// invocation runs, needs confirmation, or is refused.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Decision is the outcome of a gate evaluation.
type Decision string

const (
	DecisionAllow               Decision = "allow"
	DecisionRequireConfirmation Decision = "require_confirmation"
	DecisionBlock               Decision = "block"
)

// Input is the document the policy sees as `input`.
type Input struct {
	Operation            string         `json:"operation"`
	Category             string         `json:"category"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Arguments            map[string]any `json:"arguments"`
	EstimatedCredits     float64        `json:"estimated_credits"`
	MaxActionCredits     float64        `json:"max_action_credits"`
}

// Engine is a prepared gate policy. It is safe for concurrent use.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles policy source. The module must define
// data.shotrio.gate.decision and may define data.shotrio.gate.reason.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.shotrio.gate"),
		rego.Module("gate.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine compiles the policy at path, or DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate returns the gate decision for input and an optional reason.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, string, error) {
	if input.Arguments == nil {
		input.Arguments = map[string]any{}
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "", nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("policy returned %T, expected an object", results[0].Expressions[0].Value)
	}
	reason, _ := doc["reason"].(string)

	raw, present := doc["decision"]
	if !present {
		return DecisionAllow, reason, nil
	}
	s, _ := raw.(string)
	switch d := Decision(s); d {
	case DecisionAllow, DecisionRequireConfirmation, DecisionBlock:
		return d, reason, nil
	}
	return "", "", fmt.Errorf("policy returned unknown decision %v", raw)
}

// DefaultPolicy refuses actions whose estimate exceeds the per-action credit
// limit and asks for confirmation on anything else that costs credits.
const DefaultPolicy = `
package shotrio.gate

default decision := "allow"

decision := "block" if {
	input.max_action_credits > 0
	input.estimated_credits > input.max_action_credits
} else := "require_confirmation" if {
	input.estimated_credits > 0
}

default reason := ""

reason := sprintf("estimated %v credits exceeds the per-action limit of %v", [input.estimated_credits, input.max_action_credits]) if {
	decision == "block"
} else := sprintf("costs an estimated %v credits", [input.estimated_credits]) if {
	decision == "require_confirmation"
}
`
