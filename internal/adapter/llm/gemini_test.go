package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/logging"
)

func TestGeminiContents(t *testing.T) {
	contents := geminiContents([]domain.Message{
		{Role: domain.RoleSystem, Content: "ignored"},
		{Role: domain.RoleUser, Content: "rename it"},
		{Role: domain.RoleAssistant, Content: "Renaming.", RequestedOperations: []domain.OperationInvocation{
			{ID: "c1", Name: "rename_project", RawArguments: `{"name":"Trailer"}`},
		}},
		{Role: domain.RoleTool, ToolCallRef: "c1", Content: `{"success":true}`},
		{Role: domain.RoleTool, ToolCallRef: "c2", Content: "plain"},
	})
	require.Len(t, contents, 4)

	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "Renaming.", contents[1].Parts[0].Text)
	fc := contents[1].Parts[1].FunctionCall
	require.NotNil(t, fc)
	assert.Equal(t, map[string]any{"name": "Trailer"}, fc.Args)

	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "rename_project", fr.Name)
	assert.Equal(t, true, fr.Response["success"])

	assert.Equal(t, map[string]any{"result": "plain"}, contents[3].Parts[0].FunctionResponse.Response)
}

func TestGeminiStreamQueue(t *testing.T) {
	s := &geminiStream{logger: logging.Nop()}
	s.queue(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
		{Text: "hmm", Thought: true},
		{Text: "Sure."},
		{FunctionCall: &genai.FunctionCall{Name: "get_project"}},
		{FunctionCall: &genai.FunctionCall{Name: "get_timeline"}},
	}}}}})

	require.Len(t, s.pending, 5)
	assert.Equal(t, Delta{Kind: KindReasoning, Text: "hmm"}, s.pending[0])
	assert.Equal(t, Delta{Kind: KindContent, Text: "Sure."}, s.pending[1])
	assert.Equal(t, KindToolID, s.pending[2].Kind)
	assert.Contains(t, s.pending[2].Text, "call_")
	assert.Equal(t, Delta{Kind: KindToolName, Text: "get_project"}, s.pending[3])
	assert.Equal(t, Delta{Kind: KindToolArguments, Text: "{}"}, s.pending[4])
}
