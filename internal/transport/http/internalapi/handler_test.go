package internalapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chasecyang/shotrio-sub004/internal/adapter/llm"
	"github.com/chasecyang/shotrio-sub004/internal/config"
	"github.com/chasecyang/shotrio-sub004/internal/dispatch"
	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/logging"
	"github.com/chasecyang/shotrio-sub004/internal/loop"
	"github.com/chasecyang/shotrio-sub004/internal/repository"
	"github.com/chasecyang/shotrio-sub004/internal/service"
	"github.com/chasecyang/shotrio-sub004/internal/testutil"
	"github.com/chasecyang/shotrio-sub004/internal/tools"
)

func newTestHandler(t *testing.T) (*Handler, *repository.SQLiteStore) {
	t.Helper()
	store := testutil.NewSQLiteStoreWithProject(t, "p1")
	catalog := tools.DefaultCatalog()
	reg := tools.NewRegistry()
	tools.RegisterBuiltins(reg, store)

	lp := loop.New(loop.Deps{
		Client:     llm.NewScriptedClient(),
		Catalog:    catalog,
		Dispatcher: dispatch.New(catalog, reg, time.Second, logging.Nop()),
		Logger:     logging.Nop(),
	}, loop.Options{})
	svc := service.New(store, lp, catalog, config.Default(), logging.Nop())
	return NewHandler(svc), store
}

func cancelContext(turnID string) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/internal/turns/"+turnID+"/cancel", nil), rec)
	c.SetParamNames("turn_id")
	c.SetParamValues(turnID)
	return c, rec
}

func TestCancelTurn(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.CreateConversation(ctx, &domain.Conversation{
		ConversationID: "conv_1",
		ProjectID:      "p1",
		Status:         domain.ConversationStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
	require.NoError(t, store.CreateTurn(ctx, &domain.Turn{
		TurnID:         "turn_1",
		ConversationID: "conv_1",
		Status:         domain.TurnStatusRunning,
		StartedAt:      now,
	}))

	c, rec := cancelContext("turn_1")
	require.NoError(t, h.CancelTurn(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(domain.TurnStatusCancelled))

	turn, err := store.GetTurn(ctx, "turn_1")
	require.NoError(t, err)
	assert.Equal(t, domain.TurnStatusCancelled, turn.Status)

	c, rec = cancelContext("turn_1")
	require.NoError(t, h.CancelTurn(c))
	assert.Equal(t, http.StatusConflict, rec.Code)

	c, rec = cancelContext("turn_missing")
	require.NoError(t, h.CancelTurn(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExpirePendingActionsNothingDue(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/internal/pending_actions/expire", nil), rec)

	require.NoError(t, h.ExpirePendingActions(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"expired":0}`, rec.Body.String())
}
