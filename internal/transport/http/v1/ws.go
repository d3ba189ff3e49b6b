package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/loop"
)

const (
	frameMessage = "message"
	frameDecide  = "decide"

	maxFrameSize = 64 * 1024
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientFrame is a frame sent by a WebSocket client.
type clientFrame struct {
	Type            string          `json:"type"`
	Content         string          `json:"content,omitempty"`
	PendingActionID string          `json:"pending_action_id,omitempty"`
	Decision        domain.Decision `json:"decision,omitempty"`
	Reason          string          `json:"reason,omitempty"`
}

// socket serializes writes to one connection. The first failed write ends
// the connection's context so a running turn stops.
type socket struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	logger *slog.Logger
	failed bool
}

func (s *socket) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return errSocketClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		s.failed = true
		s.logger.Warn("websocket write failed", "error", err)
		s.cancel()
		return err
	}
	return nil
}

func (s *socket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (s *socket) Emit(ev domain.StreamEvent) {
	_ = s.write(ev)
}

// ConversationSocket serves a conversation over WebSocket. Each client frame
// runs one turn; the turn's events are written back as frames. Turns on one
// connection run one at a time.
// GET /v1/conversations/:conversation_id/ws
func (h *Handler) ConversationSocket(c echo.Context) error {
	conversationID := c.Param("conversation_id")
	if _, err := h.service.GetConversation(c.Request().Context(), conversationID); err != nil {
		return errorJSON(c, err)
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return nil
	}
	defer ws.Close()
	ws.SetReadLimit(maxFrameSize)

	// The request context is not cancelled on disconnect once the
	// connection is hijacked.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request().Context()))
	defer cancel()

	sock := &socket{
		conn:   ws,
		cancel: cancel,
		logger: h.logger.With("conversation_id", conversationID),
	}
	frames := make(chan clientFrame)
	go func() {
		defer cancel()
		defer close(frames)
		for {
			var f clientFrame
			if err := ws.ReadJSON(&f); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Warn("websocket read failed", "conversation_id", conversationID, "error", err)
				}
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sock.ping(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for f := range frames {
		var err error
		switch f.Type {
		case frameMessage:
			_, err = h.service.SendMessage(ctx, conversationID, domain.SendMessageRequest{Content: f.Content}, sock)
		case frameDecide:
			_, err = h.service.DecidePendingAction(ctx, conversationID, f.PendingActionID, domain.DecisionRequest{
				Decision:  f.Decision,
				Reason:    f.Reason,
				DecidedBy: "user",
			}, sock)
		default:
			err = errUnknownFrame
		}
		if err != nil {
			sock.Emit(domain.StreamEvent{
				Type: domain.EventTypeError,
				Data: domain.ErrorData{Code: frameErrorCode(err), Message: err.Error()},
			})
		}
	}
	return nil
}

var (
	errUnknownFrame = errors.New("frame type must be message or decide")
	errSocketClosed = errors.New("websocket write after failure")
)

// frameErrorCode names a request error on the socket, where there is no
// status code to carry it.
func frameErrorCode(err error) string {
	if errors.Is(err, errUnknownFrame) {
		return "invalid_frame"
	}
	switch statusFor(err) {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	}
	return domain.ErrorCode(err)
}

var _ loop.Sink = (*socket)(nil)
