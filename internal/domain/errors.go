package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrConversationBusy      = errors.New("conversation is busy")
	ErrPendingActionNotFound = errors.New("pending action not found")
	ErrPendingActionDecided  = errors.New("pending action already decided")
	ErrToolCallNotFound      = errors.New("tool call not found in prior messages")
	ErrMaxIterations         = errors.New("maximum iterations reached")
	ErrTurnNotRunning        = errors.New("turn is not running")
	ErrTurnNotFound          = errors.New("turn not found")
	ErrEmptyMessage          = errors.New("message content is required")
	ErrInvalidDecision       = errors.New("decision must be approve or reject")
	ErrProjectRequired       = errors.New("project_id is required")
)

// UpstreamError wraps a failure of the model backend or its transport.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "upstream model error: " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }
func (e *UpstreamError) Code() string  { return "upstream_error" }

// UnknownOperationError is returned when the model names an operation that is
// not registered.
type UnknownOperationError struct {
	Name string
}

func (e *UnknownOperationError) Error() string { return fmt.Sprintf("unknown operation %q", e.Name) }
func (e *UnknownOperationError) Code() string  { return "unknown_operation" }

// ArgumentParseError is returned when accumulated arguments are not valid JSON.
type ArgumentParseError struct {
	Operation string
	Err       error
}

func (e *ArgumentParseError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Operation, e.Err)
}
func (e *ArgumentParseError) Unwrap() error { return e.Err }
func (e *ArgumentParseError) Code() string  { return "argument_parse_error" }

// ValidationFailure is returned when an invocation keeps failing validation.
type ValidationFailure struct {
	Operation string
	Errors    []string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Operation, strings.Join(e.Errors, "; "))
}
func (e *ValidationFailure) Code() string { return "validation_failed" }

// DispatchFailure is returned when a handler reports an unsuccessful outcome.
type DispatchFailure struct {
	Operation string
	Reason    string
}

func (e *DispatchFailure) Error() string {
	return fmt.Sprintf("operation %s failed: %s", e.Operation, e.Reason)
}
func (e *DispatchFailure) Code() string { return "dispatch_failed" }

// HandlerMissingError means a registered operation has no handler bound.
type HandlerMissingError struct {
	Operation string
}

func (e *HandlerMissingError) Error() string {
	return fmt.Sprintf("no handler registered for %s", e.Operation)
}
func (e *HandlerMissingError) Code() string { return "handler_missing" }

// PolicyBlockedError is returned when the gate policy blocks an invocation.
type PolicyBlockedError struct {
	Operation string
	Reason    string
}

func (e *PolicyBlockedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("operation %s blocked by policy", e.Operation)
	}
	return fmt.Sprintf("operation %s blocked by policy: %s", e.Operation, e.Reason)
}
func (e *PolicyBlockedError) Code() string { return "policy_blocked" }

// ErrorCode maps an error to the stable code used on the wire.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	switch {
	case err == nil:
		return ""
	case errors.As(err, &coded):
		return coded.Code()
	case errors.Is(err, ErrMaxIterations):
		return "max_iterations"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "internal_error"
}
