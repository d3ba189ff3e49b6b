// Package internalapi provides HTTP handlers for operators and sibling
// services. It is served on the internal port only.
package internalapi

import (
	"github.com/labstack/echo/v4"

	"github.com/chasecyang/shotrio-sub004/internal/service"
)

// Handler handles internal HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new internal API handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers internal routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Turn management
	e.POST("/internal/turns/:turn_id/cancel", h.CancelTurn)

	// Approvals
	e.POST("/internal/pending_actions/expire", h.ExpirePendingActions)
}
