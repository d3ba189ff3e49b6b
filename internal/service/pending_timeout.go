package service

import (
	"context"
	"fmt"
	"time"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

const expireBatch = 100

// RunPendingActionMonitor expires pending actions that waited longer than
// the approval timeout. It returns when ctx is done.
func (s *Service) RunPendingActionMonitor(ctx context.Context) {
	interval := s.config.Approval.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpiredPendingActions(ctx)
		}
	}
}

func (s *Service) sweepExpiredPendingActions(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.ExpirePendingActions(sweepCtx); err != nil {
		s.logger.Warn("pending action sweep failed", "error", err)
	}
}

// ExpirePendingActions expires every pending action older than the approval
// timeout and returns how many were expired. Conversations with a running
// turn are skipped until the next sweep.
func (s *Service) ExpirePendingActions(ctx context.Context) (int, error) {
	if s.config.Approval.Timeout <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.config.Approval.Timeout)
	expired, err := s.store.ListExpiredPendingActions(ctx, cutoff, expireBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired pending actions: %w", err)
	}

	n := 0
	for i := range expired {
		pa := &expired[i]
		if s.Busy(pa.ConversationID) {
			continue
		}
		updated, err := s.store.DecidePendingAction(ctx, pa.PendingActionID, domain.PendingActionStatusExpired, "system", "approval timed out")
		if err != nil {
			s.logger.Warn("failed to expire pending action", "pending_action_id", pa.PendingActionID, "error", err)
			continue
		}
		if !updated {
			continue
		}
		n++

		outcome := domain.Outcome{Success: false, Error: "approval expired"}
		if err := s.closeInvocation(ctx, pa, outcome); err != nil {
			s.logger.Warn("failed to close expired invocation", "pending_action_id", pa.PendingActionID, "error", err)
		}
		if err := s.store.UpdateConversationStatus(ctx, pa.ConversationID, domain.ConversationStatusActive); err != nil {
			s.logger.Warn("failed to reactivate conversation", "conversation_id", pa.ConversationID, "error", err)
		}

		var name string
		if len(pa.Invocations) > 0 {
			name = pa.Invocations[0].Name
		}
		if err := s.recordEvent(ctx, pa.TurnID, domain.EventTypeFunctionResult, domain.FunctionResultData{
			ToolCallID: pa.ToolCallID(),
			Name:       name,
			Outcome:    outcome,
		}); err != nil {
			s.logger.Warn("failed to record expiry event", "pending_action_id", pa.PendingActionID, "error", err)
		}
		s.logger.Info("pending action expired", "pending_action_id", pa.PendingActionID, "conversation_id", pa.ConversationID)
	}
	return n, nil
}
