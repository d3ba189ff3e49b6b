package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// Client streams chat completions from an OpenAI-compatible endpoint such as
// LiteLLM.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new OpenAI-compatible streaming client.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type chatCompletionRequest struct {
	Model             string        `json:"model"`
	Messages          []chatMessage `json:"messages"`
	Stream            bool          `json:"stream"`
	Tools             []tool        `json:"tools,omitempty"`
	ParallelToolCalls *bool         `json:"parallel_tool_calls,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type toolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type streamChunk struct {
	ID      string         `json:"id"`
	Choices []streamChoice `json:"choices"`
}

type streamChoice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamDelta struct {
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content"`
	Reasoning        string     `json:"reasoning"`
	ToolCalls        []toolCall `json:"tool_calls"`
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Stream sends a streaming chat completion request and returns its deltas.
func (c *Client) Stream(ctx context.Context, req *Request) (DeltaStream, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, upstream(fmt.Errorf("failed to send request: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return nil, upstream(fmt.Errorf("LLM API error [%d]: %s (type: %s)", resp.StatusCode, errResp.Error.Message, errResp.Error.Type))
		}
		return nil, upstream(fmt.Errorf("LLM API error [%d]: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	return &sseStream{
		ctx:    ctx,
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
		logger: c.logger,
	}, nil
}

func (c *Client) buildRequest(req *Request) *chatCompletionRequest {
	out := &chatCompletionRequest{Model: req.Model, Stream: true}
	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msg := chatMessage{Role: string(m.Role), Content: m.Content}
		switch m.Role {
		case domain.RoleAssistant:
			for _, inv := range m.RequestedOperations {
				args := inv.RawArguments
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, toolCall{
					ID:       inv.ID,
					Type:     "function",
					Function: toolCallFunction{Name: inv.Name, Arguments: args},
				})
			}
		case domain.RoleTool:
			msg.ToolCallID = m.ToolCallRef
		}
		out.Messages = append(out.Messages, msg)
	}
	if len(req.Tools) > 0 {
		for _, t := range req.Tools {
			out.Tools = append(out.Tools, tool{
				Type:     "function",
				Function: toolFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
			})
		}
		parallel := false
		out.ParallelToolCalls = &parallel
	}
	return out
}

// sseStream converts server-sent chat completion chunks into deltas.
type sseStream struct {
	ctx     context.Context
	body    io.ReadCloser
	reader  *bufio.Reader
	logger  *slog.Logger
	pending []Delta
	ended   bool
	warned  bool
}

func (s *sseStream) Next() (Delta, error) {
	for {
		if len(s.pending) > 0 {
			d := s.pending[0]
			s.pending = s.pending[1:]
			return d, nil
		}
		if s.ended {
			return Delta{}, io.EOF
		}
		if err := s.readChunk(); err != nil {
			return Delta{}, err
		}
	}
}

// readChunk reads SSE lines until at least one delta is queued or the turn
// ends.
func (s *sseStream) readChunk() error {
	for len(s.pending) == 0 && !s.ended {
		line, err := s.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if s.ctx.Err() != nil {
				return s.ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return upstream(fmt.Errorf("stream closed before completion: %w", io.ErrUnexpectedEOF))
			}
			return upstream(fmt.Errorf("failed to read stream: %w", err))
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.finish()
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.logger.Warn("skipping malformed stream chunk", "error", err)
			continue
		}
		var errResp errorResponse
		if len(chunk.Choices) == 0 && json.Unmarshal([]byte(data), &errResp) == nil && errResp.Error != nil {
			return upstream(fmt.Errorf("LLM stream error: %s", errResp.Error.Message))
		}
		s.queue(chunk)
	}
	return nil
}

func (s *sseStream) queue(chunk streamChunk) {
	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		d := choice.Delta
		if text := d.ReasoningContent + d.Reasoning; text != "" {
			s.pending = append(s.pending, Delta{Kind: KindReasoning, Text: text})
		}
		if d.Content != "" {
			s.pending = append(s.pending, Delta{Kind: KindContent, Text: d.Content})
		}
		for _, tc := range d.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if idx > 0 {
				if !s.warned {
					s.logger.Warn("dropping parallel tool call fragments", "index", idx)
					s.warned = true
				}
				continue
			}
			if tc.ID != "" {
				s.pending = append(s.pending, Delta{Kind: KindToolID, Text: tc.ID, Index: idx})
			}
			if tc.Function.Name != "" {
				s.pending = append(s.pending, Delta{Kind: KindToolName, Text: tc.Function.Name, Index: idx})
			}
			if tc.Function.Arguments != "" {
				s.pending = append(s.pending, Delta{Kind: KindToolArguments, Text: tc.Function.Arguments, Index: idx})
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			s.finish()
		}
	}
}

func (s *sseStream) finish() {
	if s.ended {
		return
	}
	s.ended = true
	s.pending = append(s.pending, Delta{Kind: KindEndOfTurn})
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
