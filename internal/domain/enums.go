// Package domain defines the core domain models for the assistant orchestrator.
package domain

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ConversationStatus represents the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationStatusActive           ConversationStatus = "active"
	ConversationStatusAwaitingApproval ConversationStatus = "awaiting_approval"
	ConversationStatusCompleted        ConversationStatus = "completed"
)

// TurnStatus represents the status of one assistant turn.
type TurnStatus string

const (
	TurnStatusRunning               TurnStatus = "RUNNING"
	TurnStatusPausedWaitingApproval TurnStatus = "PAUSED_WAITING_APPROVAL"
	TurnStatusDone                  TurnStatus = "DONE"
	TurnStatusFailed                TurnStatus = "FAILED"
	TurnStatusCancelled             TurnStatus = "CANCELLED"
)

// Category classifies an operation by the kind of side effect it has.
type Category string

const (
	CategoryRead         Category = "read"
	CategoryGeneration   Category = "generation"
	CategoryModification Category = "modification"
	CategoryDeletion     Category = "deletion"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryRead, CategoryGeneration, CategoryModification, CategoryDeletion:
		return true
	}
	return false
}

// PendingActionStatus represents the state of a confirm-before-execute gate.
type PendingActionStatus string

const (
	PendingActionStatusPending  PendingActionStatus = "pending"
	PendingActionStatusApproved PendingActionStatus = "approved"
	PendingActionStatusRejected PendingActionStatus = "rejected"
	PendingActionStatusExpired  PendingActionStatus = "expired"
)

// Decision is the user's answer to a pending action.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is approve or reject.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// EventType is the type tag of a stream event.
type EventType string

const (
	EventTypeIterationStart EventType = "iteration_start"
	EventTypeThinking       EventType = "thinking"
	EventTypeContent        EventType = "content"
	EventTypeFunctionStart  EventType = "function_start"
	EventTypeFunctionResult EventType = "function_result"
	EventTypePendingAction  EventType = "pending_action"
	EventTypeError          EventType = "error"
	EventTypeComplete       EventType = "complete"
)

// CompleteReason explains why a turn stopped.
type CompleteReason string

const (
	CompleteReasonDone                CompleteReason = "done"
	CompleteReasonPendingConfirmation CompleteReason = "pending_confirmation"
	CompleteReasonError               CompleteReason = "error"
)
