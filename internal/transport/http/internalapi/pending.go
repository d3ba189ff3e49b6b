package internalapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ExpirePendingActions runs one approval-timeout sweep immediately.
// POST /internal/pending_actions/expire
func (h *Handler) ExpirePendingActions(c echo.Context) error {
	n, err := h.service.ExpirePendingActions(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int{"expired": n})
}
