package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// MockClient answers every turn by echoing the last user message. It never
// requests an operation.
type MockClient struct {
	chunkSize int
}

// NewMockClient creates a new mock client.
func NewMockClient() *MockClient {
	return &MockClient{chunkSize: 10}
}

// Stream returns the canned reply for req.
func (m *MockClient) Stream(ctx context.Context, req *Request) (DeltaStream, error) {
	reply := m.reply(req)
	deltas := []Delta{{Kind: KindReasoning, Text: "[MOCK] no model is configured."}}
	for _, chunk := range splitIntoChunks(reply, m.chunkSize) {
		deltas = append(deltas, Delta{Kind: KindContent, Text: chunk})
	}
	deltas = append(deltas, Delta{Kind: KindEndOfTurn})
	return &sliceStream{ctx: ctx, deltas: deltas}, nil
}

func (m *MockClient) reply(req *Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(req.Messages[i].Content, 100))
		}
	}
	return "[MOCK] This is a mock response."
}

func splitIntoChunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	var chunks []string
	for len(s) > size {
		cut := size
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	return append(chunks, s)
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return strings.ToValidUTF8(s[:maxLen], "") + "..."
}

// sliceStream replays a fixed list of deltas.
type sliceStream struct {
	ctx    context.Context
	deltas []Delta
	// err is returned once deltas are exhausted instead of io.EOF.
	err error
	// hold blocks after the last delta until ctx is done.
	hold   bool
	closed bool
}

func (s *sliceStream) Next() (Delta, error) {
	if err := s.ctx.Err(); err != nil {
		return Delta{}, err
	}
	if s.closed {
		return Delta{}, io.ErrClosedPipe
	}
	if len(s.deltas) > 0 {
		d := s.deltas[0]
		s.deltas = s.deltas[1:]
		return d, nil
	}
	if s.hold {
		<-s.ctx.Done()
		return Delta{}, s.ctx.Err()
	}
	if s.err != nil {
		return Delta{}, s.err
	}
	return Delta{}, io.EOF
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}
