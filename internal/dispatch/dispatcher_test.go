package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/logging"
	"github.com/chasecyang/shotrio-sub004/internal/tools"
)

func newDispatcher(t *testing.T, handlers map[string]tools.HandlerFunc) *Dispatcher {
	t.Helper()
	catalog, err := tools.NewCatalog([]domain.OperationDescriptor{
		{Name: "ok", Category: domain.CategoryRead},
		{Name: "fails", Category: domain.CategoryRead},
		{Name: "panics", Category: domain.CategoryRead},
		{Name: "slow", Category: domain.CategoryRead, TimeoutMs: 20},
		{Name: "unbound", Category: domain.CategoryRead},
	})
	require.NoError(t, err)
	reg := tools.NewRegistry()
	for name, h := range handlers {
		reg.MustRegister(name, h)
	}
	return New(catalog, reg, time.Second, logging.Nop())
}

func TestDispatch(t *testing.T) {
	d := newDispatcher(t, map[string]tools.HandlerFunc{
		"ok": func(ctx context.Context, call tools.Call) (tools.Result, error) {
			return tools.Result{Data: map[string]any{"project": call.ProjectID, "n": call.Args["n"]}, SideEffectRef: "ref_1"}, nil
		},
		"fails": func(context.Context, tools.Call) (tools.Result, error) {
			return tools.Result{}, errors.New("asset a1 not found")
		},
		"panics": func(context.Context, tools.Call) (tools.Result, error) {
			panic("nil map")
		},
		"slow": func(ctx context.Context, call tools.Call) (tools.Result, error) {
			<-ctx.Done()
			return tools.Result{}, ctx.Err()
		},
	})
	ctx := context.Background()
	scope := Scope{ProjectID: "p1", ConversationID: "conv_1"}

	out, err := d.Dispatch(ctx, domain.OperationInvocation{ID: "c1", Name: "ok", ParsedArguments: map[string]any{"n": 2}}, scope)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.JSONEq(t, `{"project":"p1","n":2}`, string(out.Data))
	assert.Equal(t, "ref_1", out.SideEffectRef)

	out, err = d.Dispatch(ctx, domain.OperationInvocation{ID: "c2", Name: "fails"}, scope)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "asset a1 not found", out.Error)

	out, err = d.Dispatch(ctx, domain.OperationInvocation{ID: "c3", Name: "panics"}, scope)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "panicked")

	out, err = d.Dispatch(ctx, domain.OperationInvocation{ID: "c4", Name: "slow"}, scope)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "timed out")
}

func TestDispatchFatalConditions(t *testing.T) {
	d := newDispatcher(t, map[string]tools.HandlerFunc{
		"slow": func(ctx context.Context, call tools.Call) (tools.Result, error) {
			<-ctx.Done()
			return tools.Result{}, ctx.Err()
		},
	})

	_, err := d.Dispatch(context.Background(), domain.OperationInvocation{ID: "c1", Name: "unbound"}, Scope{})
	var missing *domain.HandlerMissingError
	assert.ErrorAs(t, err, &missing)

	_, err = d.Dispatch(context.Background(), domain.OperationInvocation{ID: "c1", Name: "nope"}, Scope{})
	var unknown *domain.UnknownOperationError
	assert.ErrorAs(t, err, &unknown)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Dispatch(ctx, domain.OperationInvocation{ID: "c1", Name: "slow"}, Scope{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutcomeToolPayload(t *testing.T) {
	out := normalize(handlerReturn{result: tools.Result{Data: []string{"a"}}})
	assert.JSONEq(t, `{"success":true,"data":["a"]}`, out.ToolPayload())

	out = normalize(handlerReturn{err: errors.New("boom")})
	assert.JSONEq(t, `{"success":false,"error":"boom"}`, out.ToolPayload())
}
