package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chasecyang/shotrio-sub004/internal/config"
	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/logging"
)

func TestMockClientEchoesLastUserMessage(t *testing.T) {
	stream, err := NewMockClient().Stream(context.Background(), &Request{Messages: []domain.Message{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleAssistant, Content: "ok"},
		{Role: domain.RoleUser, Content: "cut the intro"},
	}})
	require.NoError(t, err)

	deltas, err := drain(t, stream)
	require.NoError(t, err)
	require.NotEmpty(t, deltas)
	assert.Equal(t, KindReasoning, deltas[0].Kind)
	assert.Equal(t, KindEndOfTurn, deltas[len(deltas)-1].Kind)

	var content strings.Builder
	for _, d := range deltas {
		if d.Kind == KindContent {
			content.WriteString(d.Text)
		}
	}
	assert.Contains(t, content.String(), `"cut the intro"`)
}

func TestSplitIntoChunksKeepsRunes(t *testing.T) {
	chunks := splitIntoChunks("héllo wörld ünïcode", 4)
	assert.Equal(t, "héllo wörld ünïcode", strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.True(t, strings.ToValidUTF8(c, "?") == c, c)
	}
	assert.Nil(t, splitIntoChunks("", 4))
}

func TestScriptedClient(t *testing.T) {
	boom := &domain.UpstreamError{Err: errors.New("boom")}
	c := NewScriptedClient(
		ToolTurn("ok", "call_1", "get_project", `{"a":"bcdefghijk"}`),
		ScriptedTurn{Deltas: []Delta{{Kind: KindContent, Text: "x"}}, StreamErr: boom},
	)

	stream, err := c.Stream(context.Background(), &Request{Model: "m"})
	require.NoError(t, err)
	deltas, err := drain(t, stream)
	require.NoError(t, err)
	var args strings.Builder
	for _, d := range deltas {
		if d.Kind == KindToolArguments {
			args.WriteString(d.Text)
		}
	}
	assert.Equal(t, `{"a":"bcdefghijk"}`, args.String())

	stream, err = c.Stream(context.Background(), &Request{Model: "m"})
	require.NoError(t, err)
	_, err = drain(t, stream)
	assert.ErrorIs(t, err, boom)

	_, err = c.Stream(context.Background(), &Request{Model: "m"})
	var upErr *domain.UpstreamError
	assert.ErrorAs(t, err, &upErr)
	assert.Len(t, c.Requests(), 3)
	assert.Zero(t, c.Remaining())
}

func TestScriptedClientHoldUntilCancel(t *testing.T) {
	c := NewScriptedClient(ScriptedTurn{Deltas: []Delta{{Kind: KindContent, Text: "partial"}}, Hold: true})
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := c.Stream(ctx, &Request{})
	require.NoError(t, err)
	d, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "partial", d.Text)

	cancel()
	_, err = stream.Next()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewStreamClient(t *testing.T) {
	c, err := NewStreamClient(context.Background(), config.LLMConfig{Provider: "mock"}, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MockClient{}, c)

	c, err = NewStreamClient(context.Background(), config.LLMConfig{Provider: "openai", BaseURL: "http://x/"}, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, "http://x", c.(*Client).baseURL)

	_, err = NewStreamClient(context.Background(), config.LLMConfig{Provider: "llama"}, logging.Nop())
	assert.Error(t, err)
}
