package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/loop"
)

// CreateConversation creates a conversation for a project.
// POST /v1/conversations
func (h *Handler) CreateConversation(c echo.Context) error {
	var req domain.CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	conv, err := h.service.CreateConversation(c.Request().Context(), req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, conv)
}

// GetConversation returns a conversation and its outstanding pending action.
// GET /v1/conversations/:conversation_id
func (h *Handler) GetConversation(c echo.Context) error {
	resp, err := h.service.GetConversation(c.Request().Context(), c.Param("conversation_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// SendMessage appends a user message and streams the resulting turn.
// POST /v1/conversations/:conversation_id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	conversationID := c.Param("conversation_id")
	var req domain.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	return h.streamTurn(c, func(sink loop.Sink) (*loop.Result, error) {
		return h.service.SendMessage(ctx, conversationID, req, sink)
	})
}

// DecidePendingAction approves or rejects a pending action and streams the
// resumed turn.
// POST /v1/conversations/:conversation_id/pending_actions/:pending_action_id/decide
func (h *Handler) DecidePendingAction(c echo.Context) error {
	conversationID := c.Param("conversation_id")
	pendingActionID := c.Param("pending_action_id")
	var req domain.DecisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	return h.streamTurn(c, func(sink loop.Sink) (*loop.Result, error) {
		return h.service.DecidePendingAction(ctx, conversationID, pendingActionID, req, sink)
	})
}

// GetConversationMessages retrieves the message log of a conversation.
// GET /v1/conversations/:conversation_id/messages
func (h *Handler) GetConversationMessages(c echo.Context) error {
	conversationID := c.Param("conversation_id")
	limit := queryInt(c, "limit", 50)
	after := c.QueryParam("after")

	messages, err := h.service.GetMessages(c.Request().Context(), conversationID, limit, after)
	if err != nil {
		return errorJSON(c, err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"messages": messages,
		"has_more": limit > 0 && len(messages) == limit,
	})
}
