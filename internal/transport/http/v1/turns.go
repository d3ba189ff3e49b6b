package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// GetTurn returns a turn with its latest checkpoint.
// GET /v1/turns/:turn_id
func (h *Handler) GetTurn(c echo.Context) error {
	turn, err := h.service.GetTurn(c.Request().Context(), c.Param("turn_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, turn)
}

// GetTurnEvents retrieves the recorded events of a turn.
// GET /v1/turns/:turn_id/events
func (h *Handler) GetTurnEvents(c echo.Context) error {
	turnID := c.Param("turn_id")
	limit := queryInt(c, "limit", 100)
	afterTs := int64(0)
	if t := c.QueryParam("after_ts"); t != "" {
		if val, err := strconv.ParseInt(t, 10, 64); err == nil {
			afterTs = val
		}
	}
	var types []string
	if raw := c.QueryParam("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	ctx := c.Request().Context()
	if _, err := h.service.GetTurn(ctx, turnID); err != nil {
		return errorJSON(c, err)
	}
	events, err := h.service.GetTurnEvents(ctx, turnID, afterTs, types, limit)
	if err != nil {
		return errorJSON(c, err)
	}
	if events == nil {
		events = []domain.Event{}
	}

	resp := map[string]any{
		"events":   events,
		"has_more": limit > 0 && len(events) == limit,
	}
	if n := len(events); n > 0 {
		resp["next_cursor"] = strconv.FormatInt(events[n-1].Ts, 10)
	}
	return c.JSON(http.StatusOK, resp)
}

func queryInt(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
