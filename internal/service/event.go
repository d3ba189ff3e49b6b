package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/loop"
)

// recordEvent records an event to the store.
func (s *Service) recordEvent(ctx context.Context, turnID string, eventType domain.EventType, payload any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &domain.Event{
		EventID: "evt_" + uuid.New().String()[:8],
		TurnID:  turnID,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}

	return s.store.CreateEvent(ctx, event)
}

// recordingSink persists every boundary event of a turn before forwarding it.
// Thinking and content fragments are not stored; the turn checkpoint holds
// their accumulated text.
type recordingSink struct {
	s      *Service
	ctx    context.Context
	turnID string
	next   loop.Sink
}

func (s *Service) recordingSink(ctx context.Context, turnID string, next loop.Sink) loop.Sink {
	return &recordingSink{s: s, ctx: context.WithoutCancel(ctx), turnID: turnID, next: next}
}

func (r *recordingSink) Emit(ev domain.StreamEvent) {
	switch ev.Type {
	case domain.EventTypeThinking, domain.EventTypeContent:
	default:
		if err := r.s.recordEvent(r.ctx, r.turnID, ev.Type, ev.Data); err != nil {
			r.s.logger.Warn("failed to record event", "turn_id", r.turnID, "type", ev.Type, "error", err)
		}
	}
	if r.next != nil {
		r.next.Emit(ev)
	}
}
