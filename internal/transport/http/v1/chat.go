package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/loop"
)

// Chat runs a stateless turn and streams its events.
// POST /v1/chat
func (h *Handler) Chat(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	return h.streamTurn(c, func(sink loop.Sink) (*loop.Result, error) {
		return h.service.Chat(ctx, req, sink)
	})
}

// ResumeChat continues a stateless turn after a confirmation decision.
// POST /v1/chat/resume
func (h *Handler) ResumeChat(c echo.Context) error {
	var req domain.ResumeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ToolCallID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "tool_call_id is required"})
	}

	ctx := c.Request().Context()
	return h.streamTurn(c, func(sink loop.Sink) (*loop.Result, error) {
		return h.service.Resume(ctx, req, sink)
	})
}
