package loop

import (
	"encoding/json"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// FindInvocation locates the assistant message that requested toolCallID.
func FindInvocation(messages []domain.Message, toolCallID string) (int, domain.OperationInvocation, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != domain.RoleAssistant {
			continue
		}
		if inv, ok := messages[i].Invocation(toolCallID); ok {
			return i, inv, true
		}
	}
	return -1, domain.OperationInvocation{}, false
}

// HasToolResult reports whether a tool message answers toolCallID.
func HasToolResult(messages []domain.Message, toolCallID string) bool {
	for _, m := range messages {
		if m.Role == domain.RoleTool && m.ToolCallRef == toolCallID {
			return true
		}
	}
	return false
}

// ToolResult returns the outcome carried by the tool message that answers
// toolCallID. A payload that does not decode is reported as a failed outcome
// holding the raw content.
func ToolResult(messages []domain.Message, toolCallID string) (domain.Outcome, bool) {
	for _, m := range messages {
		if m.Role != domain.RoleTool || m.ToolCallRef != toolCallID {
			continue
		}
		var out domain.Outcome
		if err := json.Unmarshal([]byte(m.Content), &out); err != nil {
			return domain.Outcome{Success: false, Error: m.Content}, true
		}
		return out, true
	}
	return domain.Outcome{}, false
}

// ToolMessage builds the tool message that carries outcome back to the model.
func ToolMessage(toolCallID string, outcome domain.Outcome) domain.Message {
	return domain.Message{
		Role:        domain.RoleTool,
		Content:     outcome.ToolPayload(),
		ToolCallRef: toolCallID,
	}
}

// Splice returns a copy of messages with a tool message for toolCallID
// inserted right after the assistant message that requested it. When a tool
// message for toolCallID is already present the copy is unchanged and
// inserted is false.
func Splice(messages []domain.Message, toolCallID string, outcome domain.Outcome) (out []domain.Message, inserted bool, err error) {
	idx, _, ok := FindInvocation(messages, toolCallID)
	if !ok {
		return nil, false, domain.ErrToolCallNotFound
	}
	if HasToolResult(messages, toolCallID) {
		return append([]domain.Message(nil), messages...), false, nil
	}
	out = make([]domain.Message, 0, len(messages)+1)
	out = append(out, messages[:idx+1]...)
	out = append(out, ToolMessage(toolCallID, outcome))
	out = append(out, messages[idx+1:]...)
	return out, true, nil
}

// ModelView returns the messages sent to the model. Invocations that were
// never answered by a tool message, such as those of a failed turn, are
// dropped so backends that require paired calls and results accept the
// history.
func ModelView(messages []domain.Message) []domain.Message {
	answered := make(map[string]bool)
	for _, m := range messages {
		if m.Role == domain.RoleTool && m.ToolCallRef != "" {
			answered[m.ToolCallRef] = true
		}
	}
	requested := make(map[string]bool)
	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleAssistant:
			if len(m.RequestedOperations) > 0 {
				kept := make([]domain.OperationInvocation, 0, len(m.RequestedOperations))
				for _, inv := range m.RequestedOperations {
					if answered[inv.ID] {
						kept = append(kept, inv)
						requested[inv.ID] = true
					}
				}
				m.RequestedOperations = kept
			}
			if m.Content == "" && len(m.RequestedOperations) == 0 {
				continue
			}
		case domain.RoleTool:
			if !requested[m.ToolCallRef] {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
