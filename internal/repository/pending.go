package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

type pendingActionRow struct {
	PendingActionID string         `db:"pending_action_id"`
	ConversationID  string         `db:"conversation_id"`
	TurnID          string         `db:"turn_id"`
	ToolCallID      string         `db:"tool_call_id"`
	Invocations     string         `db:"invocations"`
	Narration       string         `db:"narration"`
	ResumableState  string         `db:"resumable_state"`
	CostEstimate    sql.NullString `db:"cost_estimate"`
	Status          string         `db:"status"`
	Outcome         sql.NullString `db:"outcome"`
	DecidedBy       sql.NullString `db:"decided_by"`
	Reason          sql.NullString `db:"reason"`
	CreatedAt       int64          `db:"created_at"`
	DecidedAt       sql.NullInt64  `db:"decided_at"`
}

const pendingActionColumns = `pending_action_id, conversation_id, turn_id, tool_call_id, invocations, narration,
	resumable_state, cost_estimate, status, outcome, decided_by, reason, created_at, decided_at`

func (r pendingActionRow) toDomain() (*domain.PendingAction, error) {
	p := &domain.PendingAction{
		PendingActionID: r.PendingActionID,
		ConversationID:  r.ConversationID,
		TurnID:          r.TurnID,
		Narration:       r.Narration,
		Status:          domain.PendingActionStatus(r.Status),
		DecidedBy:       r.DecidedBy.String,
		Reason:          r.Reason.String,
		CreatedAt:       fromMillis(r.CreatedAt),
		DecidedAt:       fromNullMillis(r.DecidedAt),
	}
	if err := json.Unmarshal([]byte(r.Invocations), &p.Invocations); err != nil {
		return nil, fmt.Errorf("decoding invocations: %w", err)
	}
	if err := json.Unmarshal([]byte(r.ResumableState), &p.ResumableState); err != nil {
		return nil, fmt.Errorf("decoding resumable state: %w", err)
	}
	if r.CostEstimate.Valid {
		p.CostEstimate = &domain.CostEstimate{}
		if err := json.Unmarshal([]byte(r.CostEstimate.String), p.CostEstimate); err != nil {
			return nil, fmt.Errorf("decoding cost estimate: %w", err)
		}
	}
	if r.Outcome.Valid {
		p.Outcome = &domain.Outcome{}
		if err := json.Unmarshal([]byte(r.Outcome.String), p.Outcome); err != nil {
			return nil, fmt.Errorf("decoding outcome: %w", err)
		}
	}
	return p, nil
}

// CreatePendingAction stores a new pending action. It returns
// ErrPendingActionExists if the conversation already has one outstanding.
func (s *SQLiteStore) CreatePendingAction(ctx context.Context, p *domain.PendingAction) error {
	invocations, err := json.Marshal(p.Invocations)
	if err != nil {
		return fmt.Errorf("encoding invocations: %w", err)
	}
	state, err := json.Marshal(p.ResumableState)
	if err != nil {
		return fmt.Errorf("encoding resumable state: %w", err)
	}
	var cost []byte
	if p.CostEstimate != nil {
		if cost, err = json.Marshal(p.CostEstimate); err != nil {
			return fmt.Errorf("encoding cost estimate: %w", err)
		}
	}
	status := p.Status
	if status == "" {
		status = domain.PendingActionStatusPending
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_actions (pending_action_id, conversation_id, turn_id, tool_call_id, invocations,
			narration, resumable_state, cost_estimate, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PendingActionID, p.ConversationID, p.TurnID, p.ResumableState.ToolCallID, string(invocations),
		p.Narration, string(state), nullBytes(cost), status, toMillis(p.CreatedAt))
	if isUniqueViolation(err) {
		return ErrPendingActionExists
	}
	if err != nil {
		return fmt.Errorf("creating pending action: %w", err)
	}
	return nil
}

// GetPendingAction returns the pending action or nil if it does not exist.
func (s *SQLiteStore) GetPendingAction(ctx context.Context, pendingActionID string) (*domain.PendingAction, error) {
	var row pendingActionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+pendingActionColumns+` FROM pending_actions WHERE pending_action_id = ?`, pendingActionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting pending action: %w", err)
	}
	return row.toDomain()
}

// GetOpenPendingAction returns the outstanding pending action of a
// conversation, or nil.
func (s *SQLiteStore) GetOpenPendingAction(ctx context.Context, conversationID string) (*domain.PendingAction, error) {
	var row pendingActionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+pendingActionColumns+` FROM pending_actions WHERE conversation_id = ? AND status = ?`,
		conversationID, domain.PendingActionStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting open pending action: %w", err)
	}
	return row.toDomain()
}

// DecidePendingAction moves a pending action out of the pending state. It
// reports false if the action was no longer pending.
func (s *SQLiteStore) DecidePendingAction(ctx context.Context, pendingActionID string, status domain.PendingActionStatus, decidedBy, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_actions SET status = ?, decided_by = ?, reason = ?, decided_at = ?
		WHERE pending_action_id = ? AND status = ?`,
		status, nullString(decidedBy), nullString(reason), time.Now().UnixMilli(),
		pendingActionID, domain.PendingActionStatusPending)
	if err != nil {
		return false, fmt.Errorf("deciding pending action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SavePendingOutcome records the dispatch result of an approved action.
func (s *SQLiteStore) SavePendingOutcome(ctx context.Context, pendingActionID string, outcome domain.Outcome) error {
	b, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE pending_actions SET outcome = ? WHERE pending_action_id = ?`, string(b), pendingActionID)
	if err != nil {
		return fmt.Errorf("saving pending outcome: %w", err)
	}
	return nil
}

// ListExpiredPendingActions returns pending actions created before cutoff.
func (s *SQLiteStore) ListExpiredPendingActions(ctx context.Context, cutoff time.Time, limit int) ([]domain.PendingAction, error) {
	var rows []pendingActionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+pendingActionColumns+` FROM pending_actions
		WHERE status = ? AND created_at < ? ORDER BY created_at ASC LIMIT ?`,
		domain.PendingActionStatusPending, cutoff.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing expired pending actions: %w", err)
	}
	out := make([]domain.PendingAction, 0, len(rows))
	for _, r := range rows {
		p, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}
