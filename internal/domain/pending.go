package domain

import "time"

// PendingAction is a gated invocation waiting for the user's decision.
type PendingAction struct {
	PendingActionID string                `json:"pending_action_id"`
	ConversationID  string                `json:"conversation_id,omitempty"`
	TurnID          string                `json:"turn_id,omitempty"`
	Invocations     []OperationInvocation `json:"invocations"`
	Narration       string                `json:"narration"`
	ResumableState  ResumableState        `json:"resumable_state"`
	CostEstimate    *CostEstimate         `json:"cost_estimate,omitempty"`
	Status          PendingActionStatus   `json:"status"`
	Outcome         *Outcome              `json:"outcome,omitempty"`
	DecidedBy       string                `json:"decided_by,omitempty"`
	Reason          string                `json:"reason,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	DecidedAt       *time.Time            `json:"decided_at,omitempty"`
}

// ToolCallID is the id of the gated invocation.
func (p *PendingAction) ToolCallID() string {
	return p.ResumableState.ToolCallID
}

// ResumableState is everything needed to continue a turn after a decision.
// It is opaque to callers.
type ResumableState struct {
	Messages   []Message `json:"messages"`
	ToolCallID string    `json:"tool_call_id"`
}
