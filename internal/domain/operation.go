package domain

import "encoding/json"

// OperationDescriptor is the static metadata for one registered operation.
type OperationDescriptor struct {
	Name                 string          `json:"name"`
	Label                string          `json:"label"`
	Description          string          `json:"description"`
	Category             Category        `json:"category"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	Parameters           json.RawMessage `json:"parameters"`
	TimeoutMs            int             `json:"timeout_ms,omitempty"`
}

// ValidationOutcome is the result of checking an invocation's arguments.
type ValidationOutcome struct {
	Valid               bool           `json:"valid"`
	Errors              []string       `json:"errors,omitempty"`
	Warnings            []string       `json:"warnings,omitempty"`
	NormalizedArguments map[string]any `json:"normalized_arguments,omitempty"`
}

// Outcome is the normalized result of dispatching an operation.
type Outcome struct {
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         string          `json:"error,omitempty"`
	SideEffectRef string          `json:"side_effect_ref,omitempty"`
}

// ToolPayload is the JSON body carried by a tool message back to the model.
func (o Outcome) ToolPayload() string {
	body := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data,omitempty"`
		Error   string          `json:"error,omitempty"`
	}{o.Success, o.Data, o.Error}
	b, err := json.Marshal(body)
	if err != nil {
		return `{"success":false,"error":"unencodable result"}`
	}
	return string(b)
}

// DeclinedOutcome is the outcome recorded when the user rejects an action.
func DeclinedOutcome(reason string) Outcome {
	msg := "user declined"
	if reason != "" {
		msg += ": " + reason
	}
	return Outcome{Success: false, Error: msg}
}

// CostEstimate is a best-effort price for a set of invocations.
type CostEstimate struct {
	Currency string     `json:"currency"`
	Total    float64    `json:"total"`
	Items    []CostItem `json:"items"`
}

// CostItem is the price of a single invocation.
type CostItem struct {
	ToolCallID string  `json:"tool_call_id"`
	Operation  string  `json:"operation"`
	Amount     float64 `json:"amount"`
	Detail     string  `json:"detail,omitempty"`
}

// ToolDeclaration is the model-facing description of an operation.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
