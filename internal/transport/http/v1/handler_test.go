package v1

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chasecyang/shotrio-sub004/internal/adapter/llm"
	"github.com/chasecyang/shotrio-sub004/internal/config"
	"github.com/chasecyang/shotrio-sub004/internal/cost"
	"github.com/chasecyang/shotrio-sub004/internal/dispatch"
	"github.com/chasecyang/shotrio-sub004/internal/domain"
	"github.com/chasecyang/shotrio-sub004/internal/logging"
	"github.com/chasecyang/shotrio-sub004/internal/loop"
	"github.com/chasecyang/shotrio-sub004/internal/policy"
	"github.com/chasecyang/shotrio-sub004/internal/repository"
	"github.com/chasecyang/shotrio-sub004/internal/service"
	"github.com/chasecyang/shotrio-sub004/internal/testutil"
	"github.com/chasecyang/shotrio-sub004/internal/tools"
	"github.com/chasecyang/shotrio-sub004/internal/validation"
)

func newTestHandler(t *testing.T, turns ...llm.ScriptedTurn) (*Handler, *repository.SQLiteStore, *llm.ScriptedClient) {
	t.Helper()
	store := testutil.NewSQLiteStoreWithProject(t, "p1")
	cfg := config.Default()

	catalog := tools.DefaultCatalog()
	reg := tools.NewRegistry()
	tools.RegisterBuiltins(reg, store)

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	client := llm.NewScriptedClient(turns...)
	lp := loop.New(loop.Deps{
		Client:     client,
		Catalog:    catalog,
		Validator:  validation.New(),
		Estimator:  cost.NewEstimator(cfg.Cost.Currency, cfg.Cost.Rates, logging.Nop()),
		Dispatcher: dispatch.New(catalog, reg, time.Second, logging.Nop()),
		Gate:       engine,
		Logger:     logging.Nop(),
	}, loop.Options{MaxIterations: 5})

	svc := service.New(store, lp, catalog, cfg, logging.Nop())
	return NewHandler(svc, logging.Nop()), store, client
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

type wireEvent struct {
	Type domain.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

func decodeStream(t *testing.T, body []byte) []wireEvent {
	t.Helper()
	var out []wireEvent
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var ev wireEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), "line %q", sc.Text())
		out = append(out, ev)
	}
	require.NoError(t, sc.Err())
	return out
}

func typesOf(events []wireEvent) []domain.EventType {
	out := make([]domain.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func createConversation(t *testing.T, h *Handler) *domain.Conversation {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/v1/conversations", `{"project_id":"p1","title":"Trailer"}`), rec)
	require.NoError(t, h.CreateConversation(c))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var conv domain.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	return &conv
}

func sendMessage(t *testing.T, h *Handler, conversationID, content string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	body, _ := json.Marshal(domain.SendMessageRequest{Content: content})
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/v1/conversations/"+conversationID+"/messages", string(body)), rec)
	c.SetParamNames("conversation_id")
	c.SetParamValues(conversationID)
	require.NoError(t, h.SendMessage(c))
	return rec
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

	require.NoError(t, h.Health(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestListOperations(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/v1/operations", nil), rec)

	require.NoError(t, h.ListOperations(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Operations []domain.OperationDescriptor `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Operations, 11)
}

func TestCreateConversationRequiresProject(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(jsonRequest(http.MethodPost, "/v1/conversations", `{"title":"x"}`), rec)

	require.NoError(t, h.CreateConversation(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "project_id is required")
}

func TestGetConversation(t *testing.T) {
	h, _, _ := newTestHandler(t)
	conv := createConversation(t, h)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("conversation_id")
	c.SetParamValues(conv.ConversationID)
	require.NoError(t, h.GetConversation(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, conv.ConversationID, resp.Conversation.ConversationID)
	assert.Nil(t, resp.PendingAction)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("conversation_id")
	c.SetParamValues("conv_missing")
	require.NoError(t, h.GetConversation(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessageStreamsNDJSON(t *testing.T) {
	h, _, _ := newTestHandler(t, llm.TextTurn("", "Hello ", "there."))
	conv := createConversation(t, h)

	rec := sendMessage(t, h, conv.ConversationID, "hi")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mimeNDJSON, rec.Header().Get(echo.HeaderContentType))

	events := decodeStream(t, rec.Body.Bytes())
	assert.Equal(t, []domain.EventType{
		domain.EventTypeIterationStart,
		domain.EventTypeContent,
		domain.EventTypeContent,
		domain.EventTypeComplete,
	}, typesOf(events))

	var done domain.CompleteData
	require.NoError(t, json.Unmarshal(events[len(events)-1].Data, &done))
	assert.Equal(t, domain.CompleteReasonDone, done.Reason)
	assert.Equal(t, "Hello there.", done.FinalContent)
}

func TestSendMessageErrorsBeforeStreaming(t *testing.T) {
	h, _, _ := newTestHandler(t)
	conv := createConversation(t, h)

	rec := sendMessage(t, h, conv.ConversationID, "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)

	rec = sendMessage(t, h, "conv_missing", "hi")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecidePendingActionStreamsResumedTurn(t *testing.T) {
	h, store, client := newTestHandler(t,
		llm.ToolTurn("Deleting it.", "call_d", "delete_asset", `{"asset_ids": ["a1"]}`),
	)
	require.NoError(t, store.CreateAsset(context.Background(), &domain.Asset{
		AssetID:   "a1",
		ProjectID: "p1",
		Kind:      domain.AssetKindImage,
		Name:      "frame",
		Status:    domain.AssetStatusReady,
		CreatedAt: time.Now(),
	}))
	conv := createConversation(t, h)

	events := decodeStream(t, sendMessage(t, h, conv.ConversationID, "delete a1").Body.Bytes())
	require.Contains(t, typesOf(events), domain.EventTypePendingAction)
	var pending struct {
		PendingAction domain.PendingAction `json:"pending_action"`
	}
	for _, ev := range events {
		if ev.Type == domain.EventTypePendingAction {
			require.NoError(t, json.Unmarshal(ev.Data, &pending))
		}
	}
	paID := pending.PendingAction.PendingActionID
	require.NotEmpty(t, paID)

	decide := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(jsonRequest(http.MethodPost, "/", body), rec)
		c.SetParamNames("conversation_id", "pending_action_id")
		c.SetParamValues(conv.ConversationID, paID)
		require.NoError(t, h.DecidePendingAction(c))
		return rec
	}

	rec := decide(`{"decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	client.Push(llm.TextTurn("", "Done."))
	rec = decide(`{"decision":"approve"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resumed := decodeStream(t, rec.Body.Bytes())
	assert.Equal(t, domain.EventTypeFunctionStart, resumed[0].Type)
	assert.Equal(t, domain.EventTypeComplete, resumed[len(resumed)-1].Type)

	asset, err := store.GetAsset(context.Background(), "a1")
	require.NoError(t, err)
	assert.Nil(t, asset)

	rec = decide(`{"decision":"reject"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestChatAndResumeStateless(t *testing.T) {
	h, _, _ := newTestHandler(t,
		llm.ToolTurn("", "call_g", "generate_image", `{"prompt": "a red fox at dawn"}`),
		llm.TextTurn("", "Skipped."),
	)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/v1/chat", `{"project_id":"p1","message":"draw a fox"}`), rec)
	require.NoError(t, h.Chat(c))
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeStream(t, rec.Body.Bytes())

	var pending struct {
		PendingAction domain.PendingAction `json:"pending_action"`
	}
	for _, ev := range events {
		if ev.Type == domain.EventTypePendingAction {
			require.NoError(t, json.Unmarshal(ev.Data, &pending))
		}
	}
	require.Equal(t, "call_g", pending.PendingAction.ToolCallID())

	body, err := json.Marshal(domain.ResumeRequest{
		ProjectID:        "p1",
		PriorMessages:    pending.PendingAction.ResumableState.Messages,
		ApprovalDecision: domain.DecisionReject,
		ToolCallID:       "call_g",
	})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/v1/chat/resume", string(body)), rec)
	require.NoError(t, h.ResumeChat(c))
	require.Equal(t, http.StatusOK, rec.Code)

	resumed := decodeStream(t, rec.Body.Bytes())
	require.NotEmpty(t, resumed)
	assert.Equal(t, domain.EventTypeFunctionResult, resumed[0].Type)
	assert.Contains(t, string(resumed[0].Data), "user declined")
	assert.Equal(t, domain.EventTypeComplete, resumed[len(resumed)-1].Type)
}

func TestResumeChatUnknownToolCall(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(jsonRequest(http.MethodPost, "/v1/chat/resume",
		`{"project_id":"p1","prior_messages":[{"role":"user","content":"hi"}],"approval_decision":"approve","tool_call_id":"call_x"}`), rec)

	require.NoError(t, h.ResumeChat(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ErrToolCallNotFound.Error())
}

func TestGetConversationMessages(t *testing.T) {
	h, _, _ := newTestHandler(t, llm.TextTurn("", "one"), llm.TextTurn("", "two"))
	conv := createConversation(t, h)
	sendMessage(t, h, conv.ConversationID, "first")
	sendMessage(t, h, conv.ConversationID, "second")

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/?limit=3", nil), rec)
	c.SetParamNames("conversation_id")
	c.SetParamValues(conv.ConversationID)
	require.NoError(t, h.GetConversationMessages(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []domain.Message `json:"messages"`
		HasMore  bool             `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 3)
	assert.True(t, resp.HasMore)
	assert.Equal(t, "first", resp.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, resp.Messages[1].Role)
}

func TestGetTurnAndEvents(t *testing.T) {
	h, _, _ := newTestHandler(t, llm.TextTurn("", "Hi."))
	conv := createConversation(t, h)
	events := decodeStream(t, sendMessage(t, h, conv.ConversationID, "hi").Body.Bytes())

	var start domain.IterationStartData
	require.NoError(t, json.Unmarshal(events[0].Data, &start))
	require.NotEmpty(t, start.TurnID)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("turn_id")
	c.SetParamValues(start.TurnID)
	require.NoError(t, h.GetTurn(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var turn domain.Turn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	assert.Equal(t, domain.TurnStatusDone, turn.Status)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?types=complete,iteration_start", nil), rec)
	c.SetParamNames("turn_id")
	c.SetParamValues(start.TurnID)
	require.NoError(t, h.GetTurnEvents(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Events []domain.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, domain.EventTypeIterationStart, resp.Events[0].Type)
	assert.Equal(t, domain.EventTypeComplete, resp.Events[1].Type)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("turn_id")
	c.SetParamValues("turn_missing")
	require.NoError(t, h.GetTurnEvents(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationSocket(t *testing.T) {
	h, _, _ := newTestHandler(t, llm.TextTurn("", "Hi over the socket."))
	conv := createConversation(t, h)

	e := echo.New()
	h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/conversations/" + conv.ConversationID + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "bogus"}))
	var ev wireEvent
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, domain.EventTypeError, ev.Type)
	assert.Contains(t, string(ev.Data), "invalid_frame")

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "message", "content": "hello"}))
	var got []domain.EventType
	for {
		var ev wireEvent
		require.NoError(t, ws.ReadJSON(&ev))
		got = append(got, ev.Type)
		if ev.Type == domain.EventTypeComplete {
			break
		}
	}
	assert.Equal(t, domain.EventTypeIterationStart, got[0])
	assert.Contains(t, got, domain.EventTypeContent)
}

func TestConversationSocketUnknownConversation(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("conversation_id")
	c.SetParamValues("conv_missing")

	require.NoError(t, h.ConversationSocket(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSocketWriteFailureCancelsOnce(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- ws
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	ws := <-conns
	require.NoError(t, ws.Close())

	var logs bytes.Buffer
	cancels := 0
	sock := &socket{
		conn:   ws,
		cancel: func() { cancels++ },
		logger: logging.New(&logs, "warn", "json"),
	}
	ev := domain.StreamEvent{Type: domain.EventTypeContent, Data: domain.TextData{Text: "hi", Delta: "hi"}}
	sock.Emit(ev)
	sock.Emit(ev)

	assert.Equal(t, 1, cancels)
	assert.Equal(t, 1, strings.Count(logs.String(), "websocket write failed"))
	assert.ErrorIs(t, sock.write(ev), errSocketClosed)
}
