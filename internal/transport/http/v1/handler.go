// Package v1 provides the public HTTP handlers of the orchestrator.
package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	logger  *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers external routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Stateless turns
	e.POST("/v1/chat", h.Chat)
	e.POST("/v1/chat/resume", h.ResumeChat)

	// Conversations
	e.POST("/v1/conversations", h.CreateConversation)
	e.GET("/v1/conversations/:conversation_id", h.GetConversation)
	e.POST("/v1/conversations/:conversation_id/messages", h.SendMessage)
	e.GET("/v1/conversations/:conversation_id/messages", h.GetConversationMessages)
	e.POST("/v1/conversations/:conversation_id/pending_actions/:pending_action_id/decide", h.DecidePendingAction)
	e.GET("/v1/conversations/:conversation_id/ws", h.ConversationSocket)

	// Turns
	e.GET("/v1/turns/:turn_id", h.GetTurn)
	e.GET("/v1/turns/:turn_id/events", h.GetTurnEvents)

	e.GET("/v1/operations", h.ListOperations)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// ListOperations returns the operation catalog.
// GET /v1/operations
func (h *Handler) ListOperations(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"operations": h.service.Operations(),
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidDecision),
		errors.Is(err, domain.ErrProjectRequired),
		errors.Is(err, domain.ErrToolCallNotFound):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConversationNotFound),
		errors.Is(err, domain.ErrPendingActionNotFound),
		errors.Is(err, domain.ErrTurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConversationBusy),
		errors.Is(err, domain.ErrPendingActionDecided),
		errors.Is(err, domain.ErrTurnNotRunning):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
}
