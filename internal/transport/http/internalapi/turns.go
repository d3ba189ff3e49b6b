package internalapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// CancelTurn cancels a running turn.
// POST /internal/turns/:turn_id/cancel
func (h *Handler) CancelTurn(c echo.Context) error {
	turnID := c.Param("turn_id")
	ctx := c.Request().Context()

	if err := h.service.CancelTurn(ctx, turnID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrTurnNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrTurnNotRunning):
			status = http.StatusConflict
		}
		return c.JSON(status, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"turn_id": turnID,
		"status":  domain.TurnStatusCancelled,
		"message": "turn cancelled successfully",
	})
}
