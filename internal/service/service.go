// Package service owns the conversation lifecycle around the orchestration
// loop: turns, pending action decisions, cancellation and expiry.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/chasecyang/shotrio-sub004/internal/config"
	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/loop"
	"github.com/chasecyang/shotrio-sub004/internal/tools"
)

// Store is the persistence the service needs. *repository.SQLiteStore
// implements it.
type Store interface {
	loop.Recorder

	CreateConversation(ctx context.Context, c *domain.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	GetMessages(ctx context.Context, conversationID string, limit int, after string) ([]domain.Message, error)
	HasToolMessage(ctx context.Context, conversationID, toolCallID string) (bool, error)

	CreateTurn(ctx context.Context, t *domain.Turn) error
	GetTurn(ctx context.Context, turnID string) (*domain.Turn, error)
	FinishTurn(ctx context.Context, turnID string, status domain.TurnStatus, errData json.RawMessage) error
	CreateEvent(ctx context.Context, e *domain.Event) error
	GetEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.Event, error)

	GetPendingAction(ctx context.Context, pendingActionID string) (*domain.PendingAction, error)
	GetOpenPendingAction(ctx context.Context, conversationID string) (*domain.PendingAction, error)
	DecidePendingAction(ctx context.Context, pendingActionID string, status domain.PendingActionStatus, decidedBy, reason string) (bool, error)
	ListExpiredPendingActions(ctx context.Context, cutoff time.Time, limit int) ([]domain.PendingAction, error)

	EnsureProject(ctx context.Context, projectID, name string) error
}

type Service struct {
	store     Store
	loop      *loop.Loop
	stateless *loop.Loop
	catalog   *tools.Catalog
	config    *config.Config
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	active map[string]*activeTurn
}

// activeTurn is the running turn of a conversation.
type activeTurn struct {
	turnID string
	cancel context.CancelFunc
}

// New creates a service. Persisted turns record through store; stateless
// turns record nothing.
func New(store Store, lp *loop.Loop, catalog *tools.Catalog, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		loop:      lp.WithRecorder(store),
		stateless: lp.WithRecorder(loop.NopRecorder{}),
		catalog:   catalog,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
		active:    make(map[string]*activeTurn),
	}
}

// acquire claims a conversation for one turn. The returned release must be
// called when the turn ends.
func (s *Service) acquire(conversationID string) (*activeTurn, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[conversationID]; busy {
		return nil, nil, domain.ErrConversationBusy
	}
	at := &activeTurn{}
	s.active[conversationID] = at
	return at, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.active[conversationID] == at {
			delete(s.active, conversationID)
		}
	}, nil
}

func (s *Service) setActive(at *activeTurn, turnID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at.turnID = turnID
	at.cancel = cancel
}

// running returns the cancel func of a turn held by this process.
func (s *Service) running(turnID string) (context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, at := range s.active {
		if at.turnID == turnID && at.cancel != nil {
			return at.cancel, true
		}
	}
	return nil, false
}

// Busy reports whether a turn is running for the conversation.
func (s *Service) Busy(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.active[conversationID]
	return busy
}

// Operations returns the registered operation catalog.
func (s *Service) Operations() []domain.OperationDescriptor {
	return s.catalog.List()
}
