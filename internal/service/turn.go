package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/loop"
)

// turnFunc runs the loop for a turn that has been created and registered.
type turnFunc func(ctx context.Context, turn *domain.Turn, sink loop.Sink) (*loop.Result, error)

// runTurn creates a turn for a claimed conversation, runs fn with a
// cancellable context and records how the turn ended. Loop failures are part
// of the stream and are not returned.
func (s *Service) runTurn(ctx context.Context, at *activeTurn, conv *domain.Conversation, sink loop.Sink, prepare func(ctx context.Context, turn *domain.Turn) error, fn turnFunc) (*loop.Result, error) {
	turn := &domain.Turn{
		TurnID:         "turn_" + uuid.New().String()[:8],
		ConversationID: conv.ConversationID,
		Status:         domain.TurnStatusRunning,
		StartedAt:      s.now(),
	}
	if err := s.store.CreateTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("failed to create turn: %w", err)
	}
	if prepare != nil {
		if err := prepare(ctx, turn); err != nil {
			s.finishTurn(ctx, turn.TurnID, nil, err)
			return nil, err
		}
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.setActive(at, turn.TurnID, cancel)

	s.logger.Info("turn started", "conversation_id", conv.ConversationID, "turn_id", turn.TurnID)
	res, err := fn(turnCtx, turn, s.recordingSink(ctx, turn.TurnID, sink))
	s.finishTurn(ctx, turn.TurnID, res, err)
	if res == nil {
		return nil, err
	}
	return res, nil
}

// finishTurn stores the final status of a turn on a context that survives
// cancellation of the request.
func (s *Service) finishTurn(ctx context.Context, turnID string, res *loop.Result, err error) {
	status := domain.TurnStatusDone
	var errData json.RawMessage
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		status = domain.TurnStatusCancelled
	case err != nil:
		status = domain.TurnStatusFailed
		errData, _ = json.Marshal(domain.ErrorData{Code: domain.ErrorCode(err), Message: err.Error()})
	case res != nil && res.Reason == domain.CompleteReasonPendingConfirmation:
		status = domain.TurnStatusPausedWaitingApproval
	}

	if ferr := s.store.FinishTurn(context.WithoutCancel(ctx), turnID, status, errData); ferr != nil {
		s.logger.Error("failed to finish turn", "turn_id", turnID, "error", ferr)
		return
	}
	s.logger.Info("turn finished", "turn_id", turnID, "status", status)
}

func (s *Service) conversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, domain.ErrConversationNotFound
	}
	return conv, nil
}

// SendMessage appends a user message to a conversation and runs a turn. An
// outstanding pending action is superseded: it is rejected and the model
// learns it was declined.
func (s *Service) SendMessage(ctx context.Context, conversationID string, req domain.SendMessageRequest, sink loop.Sink) (*loop.Result, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, domain.ErrEmptyMessage
	}
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	at, release, err := s.acquire(conversationID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.supersedePendingAction(ctx, conv); err != nil {
		return nil, err
	}

	prepare := func(ctx context.Context, turn *domain.Turn) error {
		msg := &domain.Message{
			MessageID:      "msg_" + uuid.New().String()[:8],
			ConversationID: conv.ConversationID,
			TurnID:         turn.TurnID,
			Role:           domain.RoleUser,
			Content:        content,
			CreatedAt:      s.now(),
		}
		if err := s.store.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("failed to save user message: %w", err)
		}
		return s.store.UpdateConversationStatus(ctx, conv.ConversationID, domain.ConversationStatusActive)
	}

	return s.runTurn(ctx, at, conv, sink, prepare, func(ctx context.Context, turn *domain.Turn, sink loop.Sink) (*loop.Result, error) {
		history, err := s.store.ListMessages(ctx, conv.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load messages: %w", err)
		}
		return s.loop.Run(ctx, loop.Request{
			ConversationID: conv.ConversationID,
			ProjectID:      conv.ProjectID,
			TurnID:         turn.TurnID,
			Messages:       history,
		}, sink)
	})
}

// supersedePendingAction rejects the outstanding pending action of conv, if
// any, and answers its invocation with a declined tool message.
func (s *Service) supersedePendingAction(ctx context.Context, conv *domain.Conversation) error {
	pa, err := s.store.GetOpenPendingAction(ctx, conv.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to get pending action: %w", err)
	}
	if pa == nil {
		return nil
	}
	const reason = "superseded by a new message"
	decided, err := s.store.DecidePendingAction(ctx, pa.PendingActionID, domain.PendingActionStatusRejected, "system", reason)
	if err != nil || !decided {
		return err
	}
	s.logger.Info("pending action superseded", "pending_action_id", pa.PendingActionID, "conversation_id", conv.ConversationID)
	return s.closeInvocation(ctx, pa, domain.DeclinedOutcome(reason))
}

// closeInvocation stores outcome on pa and appends the tool message that
// answers its invocation, unless the log already has one.
func (s *Service) closeInvocation(ctx context.Context, pa *domain.PendingAction, outcome domain.Outcome) error {
	if err := s.store.SavePendingOutcome(ctx, pa.PendingActionID, outcome); err != nil {
		return err
	}
	exists, err := s.store.HasToolMessage(ctx, pa.ConversationID, pa.ToolCallID())
	if err != nil || exists {
		return err
	}
	msg := loop.ToolMessage(pa.ToolCallID(), outcome)
	msg.MessageID = "msg_" + uuid.New().String()[:8]
	msg.ConversationID = pa.ConversationID
	msg.TurnID = pa.TurnID
	msg.CreatedAt = s.now()
	return s.store.AppendMessage(ctx, &msg)
}

// DecidePendingAction applies the user's decision and resumes the turn. A
// repeated identical decision replays the stored outcome without
// dispatching again.
func (s *Service) DecidePendingAction(ctx context.Context, conversationID, pendingActionID string, req domain.DecisionRequest, sink loop.Sink) (*loop.Result, error) {
	if !req.Decision.Valid() {
		return nil, domain.ErrInvalidDecision
	}
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	pa, err := s.store.GetPendingAction(ctx, pendingActionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending action: %w", err)
	}
	if pa == nil || pa.ConversationID != conversationID {
		return nil, domain.ErrPendingActionNotFound
	}

	at, release, err := s.acquire(conversationID)
	if err != nil {
		return nil, err
	}
	defer release()

	status := domain.PendingActionStatusApproved
	if req.Decision == domain.DecisionReject {
		status = domain.PendingActionStatusRejected
	}
	if pa.Status != domain.PendingActionStatusPending {
		if pa.Status == status && pa.Outcome != nil {
			return s.replayDecision(pa, sink), nil
		}
		return nil, domain.ErrPendingActionDecided
	}

	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = "user"
	}
	decided, err := s.store.DecidePendingAction(ctx, pa.PendingActionID, status, decidedBy, req.Reason)
	if err != nil {
		return nil, fmt.Errorf("failed to decide pending action: %w", err)
	}
	if !decided {
		return nil, domain.ErrPendingActionDecided
	}
	s.logger.Info("pending action decided", "pending_action_id", pa.PendingActionID, "decision", req.Decision, "decided_by", decidedBy)

	return s.runTurn(ctx, at, conv, sink, nil, func(ctx context.Context, turn *domain.Turn, sink loop.Sink) (*loop.Result, error) {
		res, err := s.loop.Resume(ctx, loop.ResumeRequest{
			Request: loop.Request{
				ConversationID: conv.ConversationID,
				ProjectID:      conv.ProjectID,
				TurnID:         turn.TurnID,
				Messages:       pa.ResumableState.Messages,
			},
			ToolCallID:      pa.ToolCallID(),
			Decision:        req.Decision,
			Reason:          req.Reason,
			PendingActionID: pa.PendingActionID,
		}, sink)
		if err != nil && res != nil && res.Outcome == nil {
			s.abandonDecision(ctx, pa, err)
		}
		return res, err
	})
}

// abandonDecision closes the invocation of a decided action whose resumed
// turn ended before an outcome was known, so the action is not left decided
// without one and the conversation can take new messages.
func (s *Service) abandonDecision(ctx context.Context, pa *domain.PendingAction, cause error) {
	ctx = context.WithoutCancel(ctx)
	outcome := domain.Outcome{Success: false, Error: cause.Error()}
	if errors.Is(cause, context.Canceled) {
		outcome.Error = "cancelled before the operation completed"
	}
	if err := s.closeInvocation(ctx, pa, outcome); err != nil {
		s.logger.Error("failed to close abandoned pending action", "pending_action_id", pa.PendingActionID, "error", err)
		return
	}
	if errors.Is(cause, context.Canceled) {
		if err := s.store.UpdateConversationStatus(ctx, pa.ConversationID, domain.ConversationStatusActive); err != nil {
			s.logger.Error("failed to update conversation status", "conversation_id", pa.ConversationID, "error", err)
		}
	}
}

// replayDecision answers a repeated decision from the stored outcome.
func (s *Service) replayDecision(pa *domain.PendingAction, sink loop.Sink) *loop.Result {
	var name string
	if len(pa.Invocations) > 0 {
		name = pa.Invocations[0].Name
	}
	sink.Emit(domain.StreamEvent{Type: domain.EventTypeFunctionResult, Data: domain.FunctionResultData{
		ToolCallID: pa.ToolCallID(),
		Name:       name,
		Outcome:    *pa.Outcome,
	}})
	sink.Emit(domain.StreamEvent{Type: domain.EventTypeComplete, Data: domain.CompleteData{
		Reason:         domain.CompleteReasonDone,
		ConversationID: pa.ConversationID,
		TurnID:         pa.TurnID,
	}})
	return &loop.Result{Reason: domain.CompleteReasonDone, Outcome: pa.Outcome}
}

// CancelTurn stops a running turn. A turn left RUNNING by a previous process
// is marked cancelled directly.
func (s *Service) CancelTurn(ctx context.Context, turnID string) error {
	if cancel, ok := s.running(turnID); ok {
		cancel()
		s.logger.Info("turn cancel requested", "turn_id", turnID)
		return nil
	}
	turn, err := s.store.GetTurn(ctx, turnID)
	if err != nil {
		return fmt.Errorf("failed to get turn: %w", err)
	}
	if turn == nil {
		return domain.ErrTurnNotFound
	}
	if turn.Status != domain.TurnStatusRunning {
		return domain.ErrTurnNotRunning
	}
	if err := s.store.FinishTurn(ctx, turnID, domain.TurnStatusCancelled, nil); err != nil {
		return fmt.Errorf("failed to cancel turn: %w", err)
	}
	if err := s.recordEvent(ctx, turnID, domain.EventTypeError, domain.ErrorData{Code: "cancelled", Message: "turn cancelled"}); err != nil {
		s.logger.Warn("failed to record cancel event", "turn_id", turnID, "error", err)
	}
	return nil
}
