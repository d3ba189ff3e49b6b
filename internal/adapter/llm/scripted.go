package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// ScriptedTurn is one canned model response.
type ScriptedTurn struct {
	Deltas []Delta
	// OpenErr fails Stream itself.
	OpenErr error
	// StreamErr is returned after Deltas instead of the end of turn.
	StreamErr error
	// Hold keeps the stream open after Deltas until the context is cancelled.
	Hold bool
}

// ScriptedClient replays turns in order and records every request it gets.
type ScriptedClient struct {
	mu       sync.Mutex
	turns    []ScriptedTurn
	requests []Request
}

// NewScriptedClient creates a client that plays turns in order.
func NewScriptedClient(turns ...ScriptedTurn) *ScriptedClient {
	return &ScriptedClient{turns: turns}
}

// Push appends more turns to the script.
func (c *ScriptedClient) Push(turns ...ScriptedTurn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turns...)
}

// Requests returns a copy of the requests seen so far.
func (c *ScriptedClient) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.requests...)
}

// Remaining reports how many scripted turns have not been played.
func (c *ScriptedClient) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Stream plays the next scripted turn.
func (c *ScriptedClient) Stream(ctx context.Context, req *Request) (DeltaStream, error) {
	c.mu.Lock()
	snapshot := *req
	snapshot.Messages = append([]domain.Message(nil), req.Messages...)
	c.requests = append(c.requests, snapshot)
	if len(c.turns) == 0 {
		c.mu.Unlock()
		return nil, upstream(errors.New("script exhausted"))
	}
	turn := c.turns[0]
	c.turns = c.turns[1:]
	c.mu.Unlock()

	if turn.OpenErr != nil {
		return nil, turn.OpenErr
	}
	deltas := append([]Delta(nil), turn.Deltas...)
	if turn.StreamErr == nil && !turn.Hold {
		deltas = append(deltas, Delta{Kind: KindEndOfTurn})
	}
	return &sliceStream{ctx: ctx, deltas: deltas, err: turn.StreamErr, hold: turn.Hold}, nil
}

// TextTurn scripts a plain answer with optional reasoning.
func TextTurn(reasoning string, content ...string) ScriptedTurn {
	var deltas []Delta
	if reasoning != "" {
		deltas = append(deltas, Delta{Kind: KindReasoning, Text: reasoning})
	}
	for _, c := range content {
		deltas = append(deltas, Delta{Kind: KindContent, Text: c})
	}
	return ScriptedTurn{Deltas: deltas}
}

// ToolTurn scripts a turn that narrates and then requests one operation.
// Arguments are split into fragments to exercise accumulation.
func ToolTurn(content, id, name, arguments string) ScriptedTurn {
	var deltas []Delta
	if content != "" {
		deltas = append(deltas, Delta{Kind: KindContent, Text: content})
	}
	deltas = append(deltas,
		Delta{Kind: KindToolID, Text: id},
		Delta{Kind: KindToolName, Text: name},
	)
	for _, frag := range splitIntoChunks(arguments, 7) {
		deltas = append(deltas, Delta{Kind: KindToolArguments, Text: frag})
	}
	return ScriptedTurn{Deltas: deltas}
}
