// Package dispatch executes validated invocations against the handler
// registry and normalizes whatever happens into a domain.Outcome.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/metrics"
	"github.com/chasecyang/shotrio-sub004/internal/tools"
)

// Scope identifies where an invocation runs.
type Scope struct {
	ProjectID      string
	ConversationID string
}

// Dispatcher runs operation handlers under a timeout.
type Dispatcher struct {
	catalog        *tools.Catalog
	registry       *tools.Registry
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// New creates a dispatcher. defaultTimeout applies to operations whose
// descriptor sets no timeout.
func New(catalog *tools.Catalog, registry *tools.Registry, defaultTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		catalog:        catalog,
		registry:       registry,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

type handlerReturn struct {
	result tools.Result
	err    error
}

// Dispatch executes inv. Handler errors, panics and timeouts become an
// unsuccessful Outcome with a nil error. The error return is reserved for
// conditions that must end the turn: a missing handler or a cancelled
// context.
func (d *Dispatcher) Dispatch(ctx context.Context, inv domain.OperationInvocation, scope Scope) (domain.Outcome, error) {
	desc, ok := d.catalog.Lookup(inv.Name)
	if !ok {
		return domain.Outcome{}, &domain.UnknownOperationError{Name: inv.Name}
	}
	handler, ok := d.registry.Handler(inv.Name)
	if !ok {
		return domain.Outcome{}, &domain.HandlerMissingError{Operation: inv.Name}
	}

	timeout := d.defaultTimeout
	if desc.TimeoutMs > 0 {
		timeout = time.Duration(desc.TimeoutMs) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	call := tools.Call{
		ToolCallID:     inv.ID,
		ProjectID:      scope.ProjectID,
		ConversationID: scope.ConversationID,
		Args:           inv.ParsedArguments,
	}
	if call.Args == nil {
		call.Args = map[string]any{}
	}

	done := make(chan handlerReturn, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerReturn{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		res, err := handler(callCtx, call)
		done <- handlerReturn{result: res, err: err}
	}()

	var ret handlerReturn
	select {
	case ret = <-done:
	case <-callCtx.Done():
	}
	if err := ctx.Err(); err != nil {
		return domain.Outcome{}, err
	}

	outcome := normalize(ret)
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		outcome = domain.Outcome{Success: false, Error: fmt.Sprintf("operation timed out after %s", timeout)}
	}
	metrics.OperationDispatched(inv.Name, outcome.Success)
	d.logger.Info("operation dispatched",
		"operation", inv.Name,
		"tool_call_id", inv.ID,
		"success", outcome.Success,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome, nil
}

func normalize(ret handlerReturn) domain.Outcome {
	if ret.err != nil {
		return domain.Outcome{Success: false, Error: ret.err.Error()}
	}
	out := domain.Outcome{Success: true, SideEffectRef: ret.result.SideEffectRef}
	if ret.result.Data != nil {
		data, err := json.Marshal(ret.result.Data)
		if err != nil {
			return domain.Outcome{Success: false, Error: "failed to encode result: " + err.Error()}
		}
		out.Data = data
	}
	return out
}
