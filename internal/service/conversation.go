package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// CreateConversation starts a conversation about a project, creating the
// project if needed.
func (s *Service) CreateConversation(ctx context.Context, req domain.CreateConversationRequest) (*domain.Conversation, error) {
	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, domain.ErrProjectRequired
	}
	if err := s.store.EnsureProject(ctx, req.ProjectID, ""); err != nil {
		return nil, fmt.Errorf("failed to ensure project: %w", err)
	}
	now := s.now()
	conv := &domain.Conversation{
		ConversationID: "conv_" + uuid.New().String()[:8],
		ProjectID:      req.ProjectID,
		Title:          strings.TrimSpace(req.Title),
		Status:         domain.ConversationStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns a conversation with its outstanding pending action.
func (s *Service) GetConversation(ctx context.Context, conversationID string) (*domain.ConversationResponse, error) {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	pa, err := s.store.GetOpenPendingAction(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending action: %w", err)
	}
	return &domain.ConversationResponse{Conversation: conv, PendingAction: pa}, nil
}

func (s *Service) GetMessages(ctx context.Context, conversationID string, limit int, after string) ([]domain.Message, error) {
	if _, err := s.conversation(ctx, conversationID); err != nil {
		return nil, err
	}
	messages, err := s.store.GetMessages(ctx, conversationID, limit, after)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

func (s *Service) GetTurn(ctx context.Context, turnID string) (*domain.Turn, error) {
	turn, err := s.store.GetTurn(ctx, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	if turn == nil {
		return nil, domain.ErrTurnNotFound
	}
	return turn, nil
}

func (s *Service) GetTurnEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	events, err := s.store.GetEvents(ctx, turnID, afterTs, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get turn events: %w", err)
	}
	return events, nil
}
