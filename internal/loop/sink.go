package loop

import (
	"context"
	"sync"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// Sink receives stream events in emission order.
type Sink interface {
	Emit(ev domain.StreamEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev domain.StreamEvent)

func (f SinkFunc) Emit(ev domain.StreamEvent) { f(ev) }

// Collector is a Sink that keeps every event. It is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []domain.StreamEvent
}

func (c *Collector) Emit(ev domain.StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of the collected events.
func (c *Collector) Events() []domain.StreamEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.StreamEvent(nil), c.events...)
}

// Types returns the type of every collected event, in order.
func (c *Collector) Types() []domain.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.EventType, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}

// Recorder persists what the loop produces. Stateless callers use
// NopRecorder.
type Recorder interface {
	AppendMessage(ctx context.Context, m *domain.Message) error
	SaveCheckpoint(ctx context.Context, turnID string, cp domain.Checkpoint) error
	CreatePendingAction(ctx context.Context, p *domain.PendingAction) error
	SavePendingOutcome(ctx context.Context, pendingActionID string, outcome domain.Outcome) error
	UpdateConversationStatus(ctx context.Context, conversationID string, status domain.ConversationStatus) error
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) AppendMessage(context.Context, *domain.Message) error             { return nil }
func (NopRecorder) SaveCheckpoint(context.Context, string, domain.Checkpoint) error  { return nil }
func (NopRecorder) CreatePendingAction(context.Context, *domain.PendingAction) error { return nil }
func (NopRecorder) SavePendingOutcome(context.Context, string, domain.Outcome) error { return nil }
func (NopRecorder) UpdateConversationStatus(context.Context, string, domain.ConversationStatus) error {
	return nil
}
