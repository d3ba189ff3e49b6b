package domain

import (
	"encoding/json"
	"time"
)

// Conversation groups the messages exchanged between a user and the assistant
// about one project.
type Conversation struct {
	ConversationID string             `json:"conversation_id"`
	ProjectID      string             `json:"project_id"`
	Title          string             `json:"title"`
	Status         ConversationStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Message is one immutable entry in the conversation log.
type Message struct {
	MessageID           string                `json:"message_id,omitempty"`
	ConversationID      string                `json:"conversation_id,omitempty"`
	TurnID              string                `json:"turn_id,omitempty"`
	Role                Role                  `json:"role"`
	Content             string                `json:"content"`
	ReasoningTrace      string                `json:"reasoning_trace,omitempty"`
	ToolCallRef         string                `json:"tool_call_ref,omitempty"`
	RequestedOperations []OperationInvocation `json:"requested_operations,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
}

// Invocation returns the operation invocation with the given id, if the
// message requested it.
func (m Message) Invocation(id string) (OperationInvocation, bool) {
	for _, inv := range m.RequestedOperations {
		if inv.ID == id {
			return inv, true
		}
	}
	return OperationInvocation{}, false
}

// OperationInvocation is a model-requested call of a registered operation.
type OperationInvocation struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	RawArguments    string         `json:"raw_arguments"`
	ParsedArguments map[string]any `json:"parsed_arguments,omitempty"`
}

// Turn is the record of one assistant turn, from the first model call until
// the turn stops. It doubles as the checkpoint for in-flight traces.
type Turn struct {
	TurnID         string          `json:"turn_id"`
	ConversationID string          `json:"conversation_id"`
	Status         TurnStatus      `json:"status"`
	Iteration      int             `json:"iteration"`
	Reasoning      string          `json:"reasoning,omitempty"`
	Content        string          `json:"content,omitempty"`
	Iterations     []IterationStep `json:"iterations,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
	Error          json.RawMessage `json:"error,omitempty"`
}

// IterationStep records what happened in one round of the loop.
type IterationStep struct {
	Iteration        int      `json:"iteration"`
	ThinkingTrace    string   `json:"thinking_trace,omitempty"`
	ContentTrace     string   `json:"content_trace,omitempty"`
	OperationOutcome *Outcome `json:"operation_outcome,omitempty"`
}

// Checkpoint is the partial state of the current turn written while the model
// is still streaming.
type Checkpoint struct {
	Iteration  int
	Reasoning  string
	Content    string
	Iterations []IterationStep
}

// Event is a persisted copy of an emitted stream event.
type Event struct {
	EventID string          `json:"event_id"`
	TurnID  string          `json:"turn_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
