package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

type conversationRow struct {
	ConversationID string `db:"conversation_id"`
	ProjectID      string `db:"project_id"`
	Title          string `db:"title"`
	Status         string `db:"status"`
	CreatedAt      int64  `db:"created_at"`
	UpdatedAt      int64  `db:"updated_at"`
}

func (r conversationRow) toDomain() *domain.Conversation {
	return &domain.Conversation{
		ConversationID: r.ConversationID,
		ProjectID:      r.ProjectID,
		Title:          r.Title,
		Status:         domain.ConversationStatus(r.Status),
		CreatedAt:      fromMillis(r.CreatedAt),
		UpdatedAt:      fromMillis(r.UpdatedAt),
	}
}

// CreateConversation inserts a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	created := toMillis(c.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, project_id, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ConversationID, c.ProjectID, c.Title, c.Status, created, created)
	if err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation or nil if it does not exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var row conversationRow
	err := s.db.GetContext(ctx, &row,
		`SELECT conversation_id, project_id, title, status, created_at, updated_at
		FROM conversations WHERE conversation_id = ?`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return row.toDomain(), nil
}

// UpdateConversationStatus moves a conversation to a new lifecycle state.
func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, conversationID string, status domain.ConversationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE conversation_id = ?`,
		status, time.Now().UnixMilli(), conversationID)
	if err != nil {
		return fmt.Errorf("updating conversation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

type messageRow struct {
	Seq            int64          `db:"seq"`
	MessageID      string         `db:"message_id"`
	ConversationID string         `db:"conversation_id"`
	TurnID         sql.NullString `db:"turn_id"`
	Role           string         `db:"role"`
	Content        string         `db:"content"`
	Reasoning      string         `db:"reasoning"`
	ToolCallRef    sql.NullString `db:"tool_call_ref"`
	Operations     sql.NullString `db:"operations"`
	CreatedAt      int64          `db:"created_at"`
}

func (r messageRow) toDomain() (domain.Message, error) {
	m := domain.Message{
		MessageID:      r.MessageID,
		ConversationID: r.ConversationID,
		TurnID:         r.TurnID.String,
		Role:           domain.Role(r.Role),
		Content:        r.Content,
		ReasoningTrace: r.Reasoning,
		ToolCallRef:    r.ToolCallRef.String,
		CreatedAt:      fromMillis(r.CreatedAt),
	}
	if r.Operations.Valid && r.Operations.String != "" {
		if err := json.Unmarshal([]byte(r.Operations.String), &m.RequestedOperations); err != nil {
			return m, fmt.Errorf("decoding operations of %s: %w", r.MessageID, err)
		}
	}
	return m, nil
}

const messageColumns = `seq, message_id, conversation_id, turn_id, role, content, reasoning, tool_call_ref, operations, created_at`

// AppendMessage appends a message to the conversation log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m *domain.Message) error {
	var ops []byte
	if len(m.RequestedOperations) > 0 {
		var err error
		if ops, err = json.Marshal(m.RequestedOperations); err != nil {
			return fmt.Errorf("encoding operations: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, turn_id, role, content, reasoning, tool_call_ref, operations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.ConversationID, nullString(m.TurnID), m.Role, m.Content, m.ReasoningTrace,
		nullString(m.ToolCallRef), nullBytes(ops), toMillis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// ListMessages returns the whole conversation log in append order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return toMessages(rows)
}

// GetMessages returns up to limit messages appended after the message with
// id after. An empty after starts from the beginning.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int, after string) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	if after != "" {
		query += ` AND seq > (SELECT seq FROM messages WHERE message_id = ?)`
		args = append(args, after)
	}
	query += ` ORDER BY seq ASC LIMIT ?`
	args = append(args, limit)

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("getting messages: %w", err)
	}
	return toMessages(rows)
}

// HasToolMessage reports whether a tool result for toolCallID is already in
// the conversation log.
func (s *SQLiteStore) HasToolMessage(ctx context.Context, conversationID, toolCallID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND role = ? AND tool_call_ref = ?`,
		conversationID, domain.RoleTool, toolCallID)
	if err != nil {
		return false, fmt.Errorf("checking tool message: %w", err)
	}
	return n > 0, nil
}

func toMessages(rows []messageRow) ([]domain.Message, error) {
	out := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

type turnRow struct {
	TurnID         string         `db:"turn_id"`
	ConversationID string         `db:"conversation_id"`
	Status         string         `db:"status"`
	Iteration      int            `db:"iteration"`
	Reasoning      string         `db:"reasoning"`
	Content        string         `db:"content"`
	Iterations     sql.NullString `db:"iterations"`
	StartedAt      int64          `db:"started_at"`
	EndedAt        sql.NullInt64  `db:"ended_at"`
	Error          sql.NullString `db:"error"`
}

// CreateTurn inserts a running turn.
func (s *SQLiteStore) CreateTurn(ctx context.Context, t *domain.Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, conversation_id, status, started_at) VALUES (?, ?, ?, ?)`,
		t.TurnID, t.ConversationID, t.Status, toMillis(t.StartedAt))
	if err != nil {
		return fmt.Errorf("creating turn: %w", err)
	}
	return nil
}

// GetTurn returns the turn or nil if it does not exist.
func (s *SQLiteStore) GetTurn(ctx context.Context, turnID string) (*domain.Turn, error) {
	var row turnRow
	err := s.db.GetContext(ctx, &row,
		`SELECT turn_id, conversation_id, status, iteration, reasoning, content, iterations, started_at, ended_at, error
		FROM turns WHERE turn_id = ?`, turnID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting turn: %w", err)
	}
	t := &domain.Turn{
		TurnID:         row.TurnID,
		ConversationID: row.ConversationID,
		Status:         domain.TurnStatus(row.Status),
		Iteration:      row.Iteration,
		Reasoning:      row.Reasoning,
		Content:        row.Content,
		StartedAt:      fromMillis(row.StartedAt),
		EndedAt:        fromNullMillis(row.EndedAt),
	}
	if row.Iterations.Valid && row.Iterations.String != "" {
		if err := json.Unmarshal([]byte(row.Iterations.String), &t.Iterations); err != nil {
			return nil, fmt.Errorf("decoding iterations of %s: %w", turnID, err)
		}
	}
	if row.Error.Valid {
		t.Error = json.RawMessage(row.Error.String)
	}
	return t, nil
}

// SaveCheckpoint stores the in-flight traces of a running turn.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, turnID string, cp domain.Checkpoint) error {
	iterations, err := json.Marshal(cp.Iterations)
	if err != nil {
		return fmt.Errorf("encoding iterations: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE turns SET iteration = ?, reasoning = ?, content = ?, iterations = ? WHERE turn_id = ?`,
		cp.Iteration, cp.Reasoning, cp.Content, string(iterations), turnID)
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// FinishTurn records the final status of a turn.
func (s *SQLiteStore) FinishTurn(ctx context.Context, turnID string, status domain.TurnStatus, errData json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE turns SET status = ?, ended_at = ?, error = ? WHERE turn_id = ?`,
		status, time.Now().UnixMilli(), nullBytes(errData), turnID)
	if err != nil {
		return fmt.Errorf("finishing turn: %w", err)
	}
	return nil
}

// CreateEvent stores a replayable stream event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, e *domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, turn_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		e.EventID, e.TurnID, e.Ts, e.Type, nullBytes(e.Payload))
	if err != nil {
		return fmt.Errorf("creating event: %w", err)
	}
	return nil
}

// GetEvents returns events of a turn newer than afterTs, optionally filtered
// by type.
func (s *SQLiteStore) GetEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, turn_id, ts, type, payload FROM events WHERE turn_id = ? AND ts > ?`
	args := []any{turnID, afterTs}
	if len(types) > 0 {
		in, inArgs, err := sqlx.In(` AND type IN (?)`, types)
		if err != nil {
			return nil, err
		}
		query += in
		args = append(args, inArgs...)
	}
	query += ` ORDER BY ts ASC, rowid ASC LIMIT ?`
	args = append(args, limit)

	var rows []struct {
		EventID string         `db:"event_id"`
		TurnID  string         `db:"turn_id"`
		Ts      int64          `db:"ts"`
		Type    string         `db:"type"`
		Payload sql.NullString `db:"payload"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("getting events: %w", err)
	}
	events := make([]domain.Event, 0, len(rows))
	for _, r := range rows {
		e := domain.Event{EventID: r.EventID, TurnID: r.TurnID, Ts: r.Ts, Type: domain.EventType(r.Type)}
		if r.Payload.Valid {
			e.Payload = json.RawMessage(r.Payload.String)
		}
		events = append(events, e)
	}
	return events, nil
}
