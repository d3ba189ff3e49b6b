package loop

import (
	"strings"

	"github.com/google/uuid"

	"github.com/chasecyang/shotrio-sub004/internal/adapter/llm"
	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// accumulator collects the deltas of one model stream.
type accumulator struct {
	reasoning strings.Builder
	content   strings.Builder
	toolID    strings.Builder
	toolName  strings.Builder
	toolArgs  strings.Builder
	sawTool   bool
}

// add folds d into the accumulator. It reports whether d was a reasoning or
// content fragment.
func (a *accumulator) add(d llm.Delta) bool {
	switch d.Kind {
	case llm.KindReasoning:
		a.reasoning.WriteString(d.Text)
		return true
	case llm.KindContent:
		a.content.WriteString(d.Text)
		return true
	case llm.KindToolID:
		a.sawTool = true
		a.toolID.WriteString(d.Text)
	case llm.KindToolName:
		a.sawTool = true
		a.toolName.WriteString(d.Text)
	case llm.KindToolArguments:
		a.sawTool = true
		a.toolArgs.WriteString(d.Text)
	}
	return false
}

// invocation returns the requested operation, if any tool fragment arrived.
func (a *accumulator) invocation() (domain.OperationInvocation, bool) {
	if !a.sawTool {
		return domain.OperationInvocation{}, false
	}
	id := strings.TrimSpace(a.toolID.String())
	if id == "" {
		id = "call_" + uuid.New().String()[:8]
	}
	return domain.OperationInvocation{
		ID:           id,
		Name:         strings.TrimSpace(a.toolName.String()),
		RawArguments: a.toolArgs.String(),
	}, true
}

// message builds the assistant message for this stream.
func (a *accumulator) message() domain.Message {
	m := domain.Message{
		Role:           domain.RoleAssistant,
		Content:        a.content.String(),
		ReasoningTrace: a.reasoning.String(),
	}
	if inv, ok := a.invocation(); ok {
		m.RequestedOperations = []domain.OperationInvocation{inv}
	}
	return m
}
