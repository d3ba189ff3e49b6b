package domain

// StreamEvent is one line of the NDJSON stream sent to callers.
type StreamEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// IterationStartData is the data for an iteration_start event.
type IterationStartData struct {
	Iteration int    `json:"iteration"`
	TurnID    string `json:"turn_id,omitempty"`
}

// TextData is the data for thinking and content events. Text is cumulative
// for the iteration, Delta is the newly received fragment.
type TextData struct {
	Iteration int    `json:"iteration"`
	Text      string `json:"text"`
	Delta     string `json:"delta"`
}

// FunctionStartData is the data for a function_start event.
type FunctionStartData struct {
	ToolCallID string         `json:"tool_call_id"`
	Name       string         `json:"name"`
	Label      string         `json:"label,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
}

// FunctionResultData is the data for a function_result event.
type FunctionResultData struct {
	ToolCallID       string   `json:"tool_call_id"`
	Name             string   `json:"name"`
	Outcome          Outcome  `json:"outcome"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// PendingActionData is the data for a pending_action event.
type PendingActionData struct {
	PendingAction *PendingAction `json:"pending_action"`
}

// ErrorData is the data for an error event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CompleteData is the data for a complete event.
type CompleteData struct {
	Reason          CompleteReason `json:"reason"`
	ConversationID  string         `json:"conversation_id,omitempty"`
	TurnID          string         `json:"turn_id,omitempty"`
	Iterations      int            `json:"iterations"`
	FinalContent    string         `json:"final_content,omitempty"`
	PendingActionID string         `json:"pending_action_id,omitempty"`
}
