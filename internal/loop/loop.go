// Package loop runs the tool-calling orchestration loop: stream a model turn,
// detect the requested operation, validate it, gate or dispatch it, and feed
// the result back until the model answers, asks for confirmation, or fails.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chasecyang/shotrio-sub004/internal/adapter/llm"
	"github.com/chasecyang/shotrio-sub004/internal/dispatch"
	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/metrics"
	"github.com/chasecyang/shotrio-sub004/internal/policy"
	"github.com/chasecyang/shotrio-sub004/internal/tools"
	"github.com/chasecyang/shotrio-sub004/internal/validation"
)

// Estimator prices invocations that are about to be gated.
type Estimator interface {
	Estimate(invocations []domain.OperationInvocation) *domain.CostEstimate
}

// Dispatcher executes one validated invocation.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv domain.OperationInvocation, scope dispatch.Scope) (domain.Outcome, error)
}

// Gate is the optional policy consulted before an invocation runs.
type Gate interface {
	Evaluate(ctx context.Context, input policy.Input) (policy.Decision, string, error)
}

// Options bound and configure a loop.
type Options struct {
	Model                string
	SystemPrompt         string
	MaxIterations        int
	MaxValidationRetries int
	CheckpointInterval   time.Duration
	MaxActionCredits     float64
}

// Deps are the collaborators of a loop. Gate and Estimator may be nil.
type Deps struct {
	Client     llm.StreamClient
	Catalog    *tools.Catalog
	Validator  *validation.Validator
	Estimator  Estimator
	Dispatcher Dispatcher
	Gate       Gate
	Recorder   Recorder
	Logger     *slog.Logger
}

// Loop is stateless between runs and safe for concurrent use across
// conversations.
type Loop struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates a loop.
func New(deps Deps, opts Options) *Loop {
	if deps.Recorder == nil {
		deps.Recorder = NopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Validator == nil {
		deps.Validator = validation.New()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.MaxValidationRetries < 0 {
		opts.MaxValidationRetries = 0
	}
	return &Loop{deps: deps, opts: opts, now: time.Now}
}

// WithRecorder returns a copy of l that persists through r.
func (l *Loop) WithRecorder(r Recorder) *Loop {
	c := *l
	c.deps.Recorder = r
	return &c
}

// Request starts a turn. Messages is the full conversation so far, ending
// with the new user message.
type Request struct {
	ConversationID string
	ProjectID      string
	TurnID         string
	Messages       []domain.Message
}

// ResumeRequest continues a turn that stopped for confirmation. Messages is
// the resumable state of the pending action. When Outcome is set the
// decision was already carried out and is not executed again.
type ResumeRequest struct {
	Request
	ToolCallID      string
	Decision        domain.Decision
	Reason          string
	PendingActionID string
	Outcome         *domain.Outcome
}

// Result describes how a turn ended.
type Result struct {
	Reason        domain.CompleteReason
	Messages      []domain.Message
	Iterations    []domain.IterationStep
	FinalContent  string
	PendingAction *domain.PendingAction
	Outcome       *domain.Outcome
	Err           error
}

// Run executes a turn until it is done, paused for confirmation, or failed.
// The returned error is the cause of a failed turn; the events for it have
// already been emitted.
func (l *Loop) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	t := l.newTurn(req, sink)
	return t.iterate(ctx)
}

// Resume applies a confirmation decision and continues the turn. The tool
// message carrying the outcome is spliced right after the assistant message
// that requested ToolCallID, unless one is already present.
func (l *Loop) Resume(ctx context.Context, req ResumeRequest, sink Sink) (*Result, error) {
	if !req.Decision.Valid() {
		return nil, fmt.Errorf("invalid decision %q", req.Decision)
	}
	_, inv, ok := FindInvocation(req.Messages, req.ToolCallID)
	if !ok {
		return nil, domain.ErrToolCallNotFound
	}

	t := l.newTurn(req.Request, sink)
	desc, _ := l.deps.Catalog.Lookup(inv.Name)

	// An invocation already answered in the history is never run again.
	stored := req.Outcome
	if stored == nil {
		if prior, ok := ToolResult(req.Messages, req.ToolCallID); ok {
			stored = &prior
		}
	}

	var outcome domain.Outcome
	switch {
	case stored != nil:
		outcome = *stored
		t.emitResult(inv, outcome, nil)
	case req.Decision == domain.DecisionApprove:
		out, err := t.executeApproved(ctx, inv, desc)
		if err != nil {
			return t.fail(ctx, err)
		}
		outcome = out
	default:
		outcome = domain.DeclinedOutcome(req.Reason)
		t.emitResult(inv, outcome, nil)
	}
	t.outcome = &outcome

	if req.PendingActionID != "" && stored == nil {
		if err := l.deps.Recorder.SavePendingOutcome(context.WithoutCancel(ctx), req.PendingActionID, outcome); err != nil {
			return t.fail(ctx, err)
		}
	}

	spliced, inserted, err := Splice(req.Messages, req.ToolCallID, outcome)
	if err != nil {
		return t.fail(ctx, err)
	}
	t.messages = spliced
	if inserted {
		for i := range t.messages {
			if t.messages[i].Role == domain.RoleTool && t.messages[i].ToolCallRef == req.ToolCallID {
				if err := t.record(ctx, &t.messages[i]); err != nil {
					return t.fail(ctx, err)
				}
				break
			}
		}
	}

	if req.Decision == domain.DecisionApprove && !outcome.Success {
		return t.fail(ctx, &domain.DispatchFailure{Operation: inv.Name, Reason: outcome.Error})
	}
	if req.ConversationID != "" {
		if err := l.deps.Recorder.UpdateConversationStatus(context.WithoutCancel(ctx), req.ConversationID, domain.ConversationStatusActive); err != nil {
			return t.fail(ctx, err)
		}
	}
	return t.iterate(ctx)
}

// turn is the mutable state of one Run or Resume.
type turn struct {
	l                  *Loop
	req                Request
	sink               Sink
	messages           []domain.Message
	steps              []domain.IterationStep
	iteration          int
	cur                *accumulator
	lastCheckpoint     time.Time
	validationFailures int
	outcome            *domain.Outcome
}

func (l *Loop) newTurn(req Request, sink Sink) *turn {
	if sink == nil {
		sink = SinkFunc(func(domain.StreamEvent) {})
	}
	return &turn{
		l:        l,
		req:      req,
		sink:     sink,
		messages: append([]domain.Message(nil), req.Messages...),
	}
}

func (t *turn) emit(typ domain.EventType, data any) {
	t.sink.Emit(domain.StreamEvent{Type: typ, Data: data})
}

func (t *turn) iterate(ctx context.Context) (*Result, error) {
	for {
		t.iteration++
		if t.iteration > t.l.opts.MaxIterations {
			t.iteration = t.l.opts.MaxIterations
			return t.fail(ctx, domain.ErrMaxIterations)
		}
		metrics.IterationStarted()
		t.emit(domain.EventTypeIterationStart, domain.IterationStartData{Iteration: t.iteration, TurnID: t.req.TurnID})

		msg, err := t.stream(ctx)
		if err != nil {
			return t.fail(ctx, err)
		}

		step := domain.IterationStep{Iteration: t.iteration, ThinkingTrace: msg.ReasoningTrace, ContentTrace: msg.Content}
		inv, requested := firstInvocation(msg)
		desc, known := t.l.deps.Catalog.Lookup(inv.Name)

		var vo domain.ValidationOutcome
		if requested && known {
			vo = t.l.deps.Validator.Validate(inv.Name, inv.RawArguments)
			if vo.Valid {
				inv.ParsedArguments = vo.NormalizedArguments
				msg.RequestedOperations[0] = inv
			}
		}
		if err := t.persist(ctx, &msg); err != nil {
			return t.fail(ctx, err)
		}

		if !requested {
			t.steps = append(t.steps, step)
			return t.done(ctx, msg.Content)
		}
		if !known {
			t.steps = append(t.steps, step)
			return t.fail(ctx, &domain.UnknownOperationError{Name: inv.Name})
		}

		if !vo.Valid {
			if _, perr := validation.ParseArguments(inv.RawArguments); perr != nil {
				t.steps = append(t.steps, step)
				return t.fail(ctx, &domain.ArgumentParseError{Operation: inv.Name, Err: perr})
			}
			outcome := domain.Outcome{Success: false, Error: "invalid arguments: " + strings.Join(vo.Errors, "; ")}
			step.OperationOutcome = &outcome
			t.steps = append(t.steps, step)
			tool := ToolMessage(inv.ID, outcome)
			if err := t.persist(ctx, &tool); err != nil {
				return t.fail(ctx, err)
			}
			t.emitResult(inv, outcome, vo.Errors)

			t.validationFailures++
			if t.validationFailures > t.l.opts.MaxValidationRetries {
				return t.fail(ctx, &domain.ValidationFailure{Operation: inv.Name, Errors: vo.Errors})
			}
			t.l.deps.Logger.Info("invalid operation arguments returned to model",
				"operation", inv.Name, "attempt", t.validationFailures, "errors", vo.Errors)
			if err := t.checkpoint(ctx, true); err != nil {
				return t.fail(ctx, err)
			}
			continue
		}
		t.validationFailures = 0

		var estimate *domain.CostEstimate
		if desc.RequiresConfirmation || t.l.deps.Gate != nil {
			estimate = t.estimate(inv)
		}
		gated, err := t.gated(ctx, desc, inv, estimate)
		if err != nil {
			t.steps = append(t.steps, step)
			return t.fail(ctx, err)
		}
		if gated {
			t.steps = append(t.steps, step)
			return t.pause(ctx, msg, inv, desc, estimate)
		}

		t.emit(domain.EventTypeFunctionStart, domain.FunctionStartData{
			ToolCallID: inv.ID,
			Name:       inv.Name,
			Label:      desc.Label,
			Arguments:  inv.ParsedArguments,
		})
		outcome, err := t.l.deps.Dispatcher.Dispatch(ctx, inv, t.scope())
		if err != nil {
			t.steps = append(t.steps, step)
			return t.fail(ctx, err)
		}
		step.OperationOutcome = &outcome
		t.steps = append(t.steps, step)
		tool := ToolMessage(inv.ID, outcome)
		if err := t.persist(ctx, &tool); err != nil {
			return t.fail(ctx, err)
		}
		t.emitResult(inv, outcome, nil)
		if !outcome.Success {
			return t.fail(ctx, &domain.DispatchFailure{Operation: inv.Name, Reason: outcome.Error})
		}
		if err := t.checkpoint(ctx, true); err != nil {
			return t.fail(ctx, err)
		}
	}
}

// stream consumes one model stream, forwarding reasoning and content as they
// arrive.
func (t *turn) stream(ctx context.Context) (domain.Message, error) {
	start := t.l.now()
	defer func() { metrics.ObserveModelStream(t.l.now().Sub(start)) }()

	stream, err := t.l.deps.Client.Stream(ctx, &llm.Request{
		Model:        t.l.opts.Model,
		SystemPrompt: t.l.opts.SystemPrompt,
		Messages:     ModelView(t.messages),
		Tools:        t.l.deps.Catalog.Declarations(),
	})
	if err != nil {
		return domain.Message{}, streamError(ctx, err)
	}
	defer stream.Close()

	t.cur = &accumulator{}
	warned := false
	for {
		d, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Message{}, streamError(ctx, err)
		}
		if d.Kind == llm.KindEndOfTurn {
			break
		}
		if d.Index > 0 {
			if !warned {
				t.l.deps.Logger.Warn("ignoring additional tool call", "index", d.Index, "turn_id", t.req.TurnID)
				warned = true
			}
			continue
		}
		if !t.cur.add(d) {
			continue
		}
		if d.Kind == llm.KindReasoning {
			t.emit(domain.EventTypeThinking, domain.TextData{Iteration: t.iteration, Text: t.cur.reasoning.String(), Delta: d.Text})
		} else {
			t.emit(domain.EventTypeContent, domain.TextData{Iteration: t.iteration, Text: t.cur.content.String(), Delta: d.Text})
		}
		if err := t.checkpoint(ctx, false); err != nil {
			return domain.Message{}, err
		}
	}
	return t.cur.message(), nil
}

func streamError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var up *domain.UpstreamError
	if errors.As(err, &up) {
		return err
	}
	return &domain.UpstreamError{Err: err}
}

func firstInvocation(m domain.Message) (domain.OperationInvocation, bool) {
	if len(m.RequestedOperations) == 0 {
		return domain.OperationInvocation{}, false
	}
	return m.RequestedOperations[0], true
}

func (t *turn) scope() dispatch.Scope {
	return dispatch.Scope{ProjectID: t.req.ProjectID, ConversationID: t.req.ConversationID}
}

// persist appends m to the turn's message list and the conversation log.
func (t *turn) persist(ctx context.Context, m *domain.Message) error {
	if err := t.record(ctx, m); err != nil {
		return err
	}
	t.messages = append(t.messages, *m)
	return nil
}

// record stamps m and writes it to the conversation log.
func (t *turn) record(ctx context.Context, m *domain.Message) error {
	m.MessageID = "msg_" + uuid.New().String()[:8]
	m.ConversationID = t.req.ConversationID
	m.TurnID = t.req.TurnID
	m.CreatedAt = t.l.now()
	if err := t.l.deps.Recorder.AppendMessage(context.WithoutCancel(ctx), m); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// checkpoint writes the partial turn. Unforced writes are throttled by the
// configured interval.
func (t *turn) checkpoint(ctx context.Context, force bool) error {
	if t.req.TurnID == "" {
		return nil
	}
	now := t.l.now()
	if !force && now.Sub(t.lastCheckpoint) < t.l.opts.CheckpointInterval {
		return nil
	}
	cp := domain.Checkpoint{Iteration: t.iteration, Iterations: append([]domain.IterationStep(nil), t.steps...)}
	if t.cur != nil {
		cp.Reasoning = t.cur.reasoning.String()
		cp.Content = t.cur.content.String()
	}
	if err := t.l.deps.Recorder.SaveCheckpoint(context.WithoutCancel(ctx), t.req.TurnID, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	t.lastCheckpoint = now
	return nil
}

func (t *turn) emitResult(inv domain.OperationInvocation, outcome domain.Outcome, validationErrors []string) {
	t.emit(domain.EventTypeFunctionResult, domain.FunctionResultData{
		ToolCallID:       inv.ID,
		Name:             inv.Name,
		Outcome:          outcome,
		ValidationErrors: validationErrors,
	})
}

// estimate never fails; a broken estimator only costs the estimate.
func (t *turn) estimate(inv domain.OperationInvocation) (est *domain.CostEstimate) {
	if t.l.deps.Estimator == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			t.l.deps.Logger.Warn("cost estimator panicked", "operation", inv.Name, "panic", fmt.Sprint(r))
			est = nil
		}
	}()
	return t.l.deps.Estimator.Estimate([]domain.OperationInvocation{inv})
}

// gated decides whether inv needs confirmation. The descriptor flag is a
// floor that the policy can raise but not lower.
func (t *turn) gated(ctx context.Context, desc domain.OperationDescriptor, inv domain.OperationInvocation, est *domain.CostEstimate) (bool, error) {
	if t.l.deps.Gate == nil {
		return desc.RequiresConfirmation, nil
	}
	var credits float64
	if est != nil {
		credits = est.Total
	}
	decision, reason, err := t.l.deps.Gate.Evaluate(ctx, policy.Input{
		Operation:            inv.Name,
		Category:             string(desc.Category),
		RequiresConfirmation: desc.RequiresConfirmation,
		Arguments:            inv.ParsedArguments,
		EstimatedCredits:     credits,
		MaxActionCredits:     t.l.opts.MaxActionCredits,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		t.l.deps.Logger.Warn("gate policy failed, using descriptor flag", "operation", inv.Name, "error", err)
		return desc.RequiresConfirmation, nil
	}
	switch decision {
	case policy.DecisionBlock:
		return false, &domain.PolicyBlockedError{Operation: inv.Name, Reason: reason}
	case policy.DecisionRequireConfirmation:
		return true, nil
	}
	return desc.RequiresConfirmation, nil
}

// executeApproved dispatches an invocation the user approved.
func (t *turn) executeApproved(ctx context.Context, inv domain.OperationInvocation, desc domain.OperationDescriptor) (domain.Outcome, error) {
	if desc.Name == "" {
		return domain.Outcome{}, &domain.UnknownOperationError{Name: inv.Name}
	}
	if inv.ParsedArguments == nil {
		vo := t.l.deps.Validator.Validate(inv.Name, inv.RawArguments)
		if !vo.Valid {
			outcome := domain.Outcome{Success: false, Error: "invalid arguments: " + strings.Join(vo.Errors, "; ")}
			t.emitResult(inv, outcome, vo.Errors)
			return outcome, nil
		}
		inv.ParsedArguments = vo.NormalizedArguments
	}
	t.emit(domain.EventTypeFunctionStart, domain.FunctionStartData{
		ToolCallID: inv.ID,
		Name:       inv.Name,
		Label:      desc.Label,
		Arguments:  inv.ParsedArguments,
	})
	outcome, err := t.l.deps.Dispatcher.Dispatch(ctx, inv, t.scope())
	if err != nil {
		return domain.Outcome{}, err
	}
	t.emitResult(inv, outcome, nil)
	return outcome, nil
}

func (t *turn) pause(ctx context.Context, msg domain.Message, inv domain.OperationInvocation, desc domain.OperationDescriptor, est *domain.CostEstimate) (*Result, error) {
	narration := strings.TrimSpace(msg.Content)
	if narration == "" {
		narration = fmt.Sprintf("%s needs your confirmation.", desc.Label)
	}
	pa := &domain.PendingAction{
		PendingActionID: "pa_" + uuid.New().String()[:8],
		ConversationID:  t.req.ConversationID,
		TurnID:          t.req.TurnID,
		Invocations:     []domain.OperationInvocation{inv},
		Narration:       narration,
		ResumableState: domain.ResumableState{
			Messages:   append([]domain.Message(nil), t.messages...),
			ToolCallID: inv.ID,
		},
		CostEstimate: est,
		Status:       domain.PendingActionStatusPending,
		CreatedAt:    t.l.now(),
	}

	pctx := context.WithoutCancel(ctx)
	if err := t.l.deps.Recorder.CreatePendingAction(pctx, pa); err != nil {
		return t.fail(ctx, fmt.Errorf("failed to create pending action: %w", err))
	}
	if t.req.ConversationID != "" {
		if err := t.l.deps.Recorder.UpdateConversationStatus(pctx, t.req.ConversationID, domain.ConversationStatusAwaitingApproval); err != nil {
			return t.fail(ctx, err)
		}
	}
	if err := t.checkpoint(ctx, true); err != nil {
		return t.fail(ctx, err)
	}

	metrics.PendingActionCreated(inv.Name)
	metrics.TurnCompleted(string(domain.CompleteReasonPendingConfirmation))
	t.emit(domain.EventTypePendingAction, domain.PendingActionData{PendingAction: pa})
	t.emit(domain.EventTypeComplete, domain.CompleteData{
		Reason:          domain.CompleteReasonPendingConfirmation,
		ConversationID:  t.req.ConversationID,
		TurnID:          t.req.TurnID,
		Iterations:      t.iteration,
		PendingActionID: pa.PendingActionID,
	})
	return t.result(domain.CompleteReasonPendingConfirmation, pa, nil), nil
}

func (t *turn) done(ctx context.Context, content string) (*Result, error) {
	if t.req.ConversationID != "" {
		if err := t.l.deps.Recorder.UpdateConversationStatus(context.WithoutCancel(ctx), t.req.ConversationID, domain.ConversationStatusCompleted); err != nil {
			return t.fail(ctx, err)
		}
	}
	if err := t.checkpoint(ctx, true); err != nil {
		return t.fail(ctx, err)
	}
	metrics.TurnCompleted(string(domain.CompleteReasonDone))
	t.emit(domain.EventTypeComplete, domain.CompleteData{
		Reason:         domain.CompleteReasonDone,
		ConversationID: t.req.ConversationID,
		TurnID:         t.req.TurnID,
		Iterations:     t.iteration,
		FinalContent:   content,
	})
	r := t.result(domain.CompleteReasonDone, nil, nil)
	r.FinalContent = content
	return r, nil
}

// fail ends the turn with err. A cancelled turn leaves the conversation
// active; any other failure completes it.
func (t *turn) fail(ctx context.Context, err error) (*Result, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	pctx := context.WithoutCancel(ctx)
	cancelled := errors.Is(err, context.Canceled)

	level := slog.LevelWarn
	if domain.ErrorCode(err) == "internal_error" || domain.ErrorCode(err) == "handler_missing" {
		level = slog.LevelError
	}
	t.l.deps.Logger.Log(pctx, level, "turn failed",
		"conversation_id", t.req.ConversationID,
		"turn_id", t.req.TurnID,
		"iteration", t.iteration,
		"code", domain.ErrorCode(err),
		"error", err,
	)

	if t.req.ConversationID != "" && !cancelled {
		if uerr := t.l.deps.Recorder.UpdateConversationStatus(pctx, t.req.ConversationID, domain.ConversationStatusCompleted); uerr != nil {
			t.l.deps.Logger.Error("failed to update conversation status", "conversation_id", t.req.ConversationID, "error", uerr)
		}
	}
	if cerr := t.checkpoint(pctx, true); cerr != nil {
		t.l.deps.Logger.Error("failed to save checkpoint", "turn_id", t.req.TurnID, "error", cerr)
	}

	metrics.TurnCompleted(string(domain.CompleteReasonError))
	t.emit(domain.EventTypeError, domain.ErrorData{Code: domain.ErrorCode(err), Message: err.Error()})
	t.emit(domain.EventTypeComplete, domain.CompleteData{
		Reason:         domain.CompleteReasonError,
		ConversationID: t.req.ConversationID,
		TurnID:         t.req.TurnID,
		Iterations:     t.iteration,
	})
	return t.result(domain.CompleteReasonError, nil, err), err
}

func (t *turn) result(reason domain.CompleteReason, pa *domain.PendingAction, err error) *Result {
	return &Result{
		Reason:        reason,
		Messages:      t.messages,
		Iterations:    t.steps,
		PendingAction: pa,
		Outcome:       t.outcome,
		Err:           err,
	}
}
