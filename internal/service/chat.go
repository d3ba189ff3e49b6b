package service

import (
	"context"
	"strings"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/loop"
)

// Chat runs a stateless turn over caller-supplied messages. Nothing is
// persisted; a pending action is returned in the stream for the caller to
// keep.
func (s *Service) Chat(ctx context.Context, req domain.ChatRequest, sink loop.Sink) (*loop.Result, error) {
	messages := make([]domain.Message, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		messages = append(messages, m.ToMessage())
	}
	if content := strings.TrimSpace(req.Message); content != "" {
		messages = append(messages, domain.Message{Role: domain.RoleUser, Content: content})
	}
	if len(messages) == 0 {
		return nil, domain.ErrEmptyMessage
	}
	res, err := s.stateless.Run(ctx, loop.Request{ProjectID: req.ProjectID, Messages: messages}, sink)
	if res == nil {
		return nil, err
	}
	return res, nil
}

// Resume continues a stateless turn with the caller's decision.
func (s *Service) Resume(ctx context.Context, req domain.ResumeRequest, sink loop.Sink) (*loop.Result, error) {
	if !req.ApprovalDecision.Valid() {
		return nil, domain.ErrInvalidDecision
	}
	res, err := s.stateless.Resume(ctx, loop.ResumeRequest{
		Request:    loop.Request{ProjectID: req.ProjectID, Messages: req.PriorMessages},
		ToolCallID: req.ToolCallID,
		Decision:   req.ApprovalDecision,
		Reason:     req.Reason,
	}, sink)
	if res == nil {
		return nil, err
	}
	return res, nil
}
