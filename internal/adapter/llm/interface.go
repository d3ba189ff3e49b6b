// Package llm streams assistant turns from a text-generation backend as a
// sequence of typed deltas.
package llm

import (
	"context"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// DeltaKind tags one fragment of a streamed assistant turn.
type DeltaKind string

const (
	KindReasoning     DeltaKind = "reasoning"
	KindContent       DeltaKind = "content"
	KindToolName      DeltaKind = "tool_name"
	KindToolID        DeltaKind = "tool_id"
	KindToolArguments DeltaKind = "tool_arguments"
	KindEndOfTurn     DeltaKind = "end_of_turn"
)

// Delta is one fragment of a streamed turn. Index identifies the tool call a
// tool fragment belongs to.
type Delta struct {
	Kind  DeltaKind
	Text  string
	Index int
}

// DeltaStream yields deltas in order. Next returns io.EOF once the
// end-of-turn delta has been delivered. A stream cannot be restarted.
type DeltaStream interface {
	Next() (Delta, error)
	Close() error
}

// Request is everything a backend needs to produce the next assistant turn.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []domain.Message
	Tools        []domain.ToolDeclaration
}

// StreamClient opens a streamed turn. Backend and transport failures are
// reported as *domain.UpstreamError.
type StreamClient interface {
	Stream(ctx context.Context, req *Request) (DeltaStream, error)
}

var (
	_ StreamClient = (*Client)(nil)
	_ StreamClient = (*GeminiClient)(nil)
	_ StreamClient = (*MockClient)(nil)
	_ StreamClient = (*ScriptedClient)(nil)
)

func upstream(err error) error {
	if err == nil {
		return nil
	}
	return &domain.UpstreamError{Err: err}
}
