package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

// GeminiClient streams turns from the Gemini API.
type GeminiClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiClient creates a Gemini client authenticated with apiKey.
func NewGeminiClient(ctx context.Context, apiKey string, logger *slog.Logger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiClient{client: client, logger: logger}, nil
}

// Stream starts a GenerateContentStream call for the conversation.
func (g *GeminiClient) Stream(ctx context.Context, req *Request) (DeltaStream, error) {
	contents := geminiContents(req.Messages)
	config := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema map[string]any
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("invalid parameter schema for %s: %w", t.Name, err)
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: schema,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	g.logger.Debug("gemini stream", "model", req.Model, "messages", len(contents))
	streamCtx, cancel := context.WithCancel(ctx)
	seq := g.client.Models.GenerateContentStream(streamCtx, req.Model, contents, config)
	next, stop := iter.Pull2(seq)
	return &geminiStream{ctx: streamCtx, next: next, stop: stop, cancel: cancel, logger: g.logger}, nil
}

// geminiContents maps conversation messages to Gemini contents. Tool results
// are sent as function responses in a user turn, named after the call that
// produced them.
func geminiContents(messages []domain.Message) []*genai.Content {
	var contents []*genai.Content
	toolNames := make(map[string]string)

	for _, m := range messages {
		var parts []*genai.Part
		role := "user"
		switch m.Role {
		case domain.RoleSystem:
			continue
		case domain.RoleAssistant:
			role = "model"
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, inv := range m.RequestedOperations {
				toolNames[inv.ID] = inv.Name
				args := inv.ParsedArguments
				if args == nil {
					_ = json.Unmarshal([]byte(inv.RawArguments), &args)
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: inv.ID, Name: inv.Name, Args: args}})
			}
		case domain.RoleTool:
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil || response == nil {
				response = map[string]any{"result": m.Content}
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallRef,
				Name:     toolNames[m.ToolCallRef],
				Response: response,
			}})
		default:
			parts = append(parts, &genai.Part{Text: m.Content})
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}
	return contents
}

type geminiStream struct {
	ctx     context.Context
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	cancel  context.CancelFunc
	logger  *slog.Logger
	pending []Delta
	ended   bool
	calls   int
}

func (s *geminiStream) Next() (Delta, error) {
	for {
		if len(s.pending) > 0 {
			d := s.pending[0]
			s.pending = s.pending[1:]
			return d, nil
		}
		if s.ended {
			return Delta{}, io.EOF
		}

		resp, err, ok := s.next()
		if !ok {
			s.ended = true
			s.pending = append(s.pending, Delta{Kind: KindEndOfTurn})
			continue
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return Delta{}, s.ctx.Err()
			}
			return Delta{}, upstream(err)
		}
		s.queue(resp)
	}
}

func (s *geminiStream) queue(resp *genai.GenerateContentResponse) {
	if resp == nil {
		return
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			s.queueCall(part.FunctionCall)
		case part.Thought && part.Text != "":
			s.pending = append(s.pending, Delta{Kind: KindReasoning, Text: part.Text})
		case part.Text != "":
			s.pending = append(s.pending, Delta{Kind: KindContent, Text: part.Text})
		}
	}
}

func (s *geminiStream) queueCall(fc *genai.FunctionCall) {
	s.calls++
	if s.calls > 1 {
		s.logger.Warn("dropping additional function call", "name", fc.Name)
		return
	}
	id := fc.ID
	if id == "" {
		id = "call_" + uuid.New().String()
	}
	args := "{}"
	if len(fc.Args) > 0 {
		b, err := json.Marshal(fc.Args)
		if err == nil {
			args = string(b)
		}
	}
	s.pending = append(s.pending,
		Delta{Kind: KindToolID, Text: id},
		Delta{Kind: KindToolName, Text: fc.Name},
		Delta{Kind: KindToolArguments, Text: args},
	)
}

func (s *geminiStream) Close() error {
	s.stop()
	s.cancel()
	return nil
}
