package domain

// InputMessage is a message supplied by a stateless caller.
type InputMessage struct {
	Role                Role                  `json:"role"`
	Content             string                `json:"content"`
	ToolCallRef         string                `json:"tool_call_ref,omitempty"`
	RequestedOperations []OperationInvocation `json:"requested_operations,omitempty"`
}

// ToMessage converts the input into a log message.
func (m InputMessage) ToMessage() Message {
	return Message{
		Role:                m.Role,
		Content:             m.Content,
		ToolCallRef:         m.ToolCallRef,
		RequestedOperations: m.RequestedOperations,
	}
}

// ChatRequest starts a stateless turn.
type ChatRequest struct {
	ProjectID string         `json:"project_id"`
	Messages  []InputMessage `json:"messages,omitempty"`
	Message   string         `json:"message"`
}

// ResumeRequest continues a stateless turn after a confirmation decision.
type ResumeRequest struct {
	ProjectID        string    `json:"project_id"`
	PriorMessages    []Message `json:"prior_messages"`
	ApprovalDecision Decision  `json:"approval_decision"`
	ToolCallID       string    `json:"tool_call_id"`
	Reason           string    `json:"reason,omitempty"`
}

// CreateConversationRequest creates a conversation.
type CreateConversationRequest struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title,omitempty"`
}

// SendMessageRequest appends a user message to a conversation and runs a turn.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// DecisionRequest answers a pending action.
type DecisionRequest struct {
	Decision  Decision `json:"decision"`
	Reason    string   `json:"reason,omitempty"`
	DecidedBy string   `json:"decided_by,omitempty"`
}

// ConversationResponse is a conversation with its outstanding pending action.
type ConversationResponse struct {
	Conversation  *Conversation  `json:"conversation"`
	PendingAction *PendingAction `json:"pending_action,omitempty"`
}
