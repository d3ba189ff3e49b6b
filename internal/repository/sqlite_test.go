package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedConversation(t *testing.T, store *SQLiteStore, conversationID string) {
	t.Helper()
	ctx := context.Background()
	if err := store.EnsureProject(ctx, "p1", "Demo"); err != nil {
		t.Fatalf("EnsureProject failed: %v", err)
	}
	if err := store.CreateConversation(ctx, &domain.Conversation{
		ConversationID: conversationID,
		ProjectID:      "p1",
		Status:         domain.ConversationStatusActive,
		CreatedAt:      time.Now(),
	}); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := store.CreateTurn(ctx, &domain.Turn{
		TurnID:         "turn_" + conversationID,
		ConversationID: conversationID,
		Status:         domain.TurnStatusRunning,
		StartedAt:      time.Now(),
	}); err != nil {
		t.Fatalf("CreateTurn failed: %v", err)
	}
}

func TestSQLiteStoreConversationAndMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedConversation(t, store, "c1")

	got, err := store.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, domain.ConversationStatusActive, got.Status)

	missing, err := store.GetConversation(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.UpdateConversationStatus(ctx, "c1", domain.ConversationStatusAwaitingApproval))
	got, _ = store.GetConversation(ctx, "c1")
	assert.Equal(t, domain.ConversationStatusAwaitingApproval, got.Status)
	assert.ErrorIs(t, store.UpdateConversationStatus(ctx, "nope", domain.ConversationStatusActive), domain.ErrConversationNotFound)

	// Same timestamp on purpose: order comes from append order only.
	now := time.Now()
	msgs := []domain.Message{
		{MessageID: "m1", ConversationID: "c1", Role: domain.RoleUser, Content: "make a poster", CreatedAt: now},
		{MessageID: "m2", ConversationID: "c1", TurnID: "turn_c1", Role: domain.RoleAssistant, ReasoningTrace: "need an image",
			RequestedOperations: []domain.OperationInvocation{{ID: "call_1", Name: "generate_image", RawArguments: `{"prompt":"a poster"}`}}, CreatedAt: now},
		{MessageID: "m3", ConversationID: "c1", TurnID: "turn_c1", Role: domain.RoleTool, ToolCallRef: "call_1", Content: `{"success":true}`, CreatedAt: now},
	}
	for i := range msgs {
		require.NoError(t, store.AppendMessage(ctx, &msgs[i]))
	}

	all, err := store.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{all[0].MessageID, all[1].MessageID, all[2].MessageID})
	assert.Equal(t, "need an image", all[1].ReasoningTrace)
	require.Len(t, all[1].RequestedOperations, 1)
	assert.Equal(t, "generate_image", all[1].RequestedOperations[0].Name)
	assert.Equal(t, "call_1", all[2].ToolCallRef)

	page, err := store.GetMessages(ctx, "c1", 1, "m1")
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m2", page[0].MessageID)

	has, err := store.HasToolMessage(ctx, "c1", "call_1")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = store.HasToolMessage(ctx, "c1", "call_2")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSQLiteStoreTurnCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedConversation(t, store, "c1")

	outcome := &domain.Outcome{Success: true, Data: json.RawMessage(`{"assets":[]}`)}
	require.NoError(t, store.SaveCheckpoint(ctx, "turn_c1", domain.Checkpoint{
		Iteration:  2,
		Reasoning:  "thinking",
		Content:    "partial",
		Iterations: []domain.IterationStep{{Iteration: 1, ContentTrace: "checking", OperationOutcome: outcome}},
	}))

	turn, err := store.GetTurn(ctx, "turn_c1")
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, 2, turn.Iteration)
	assert.Equal(t, "partial", turn.Content)
	require.Len(t, turn.Iterations, 1)
	assert.True(t, turn.Iterations[0].OperationOutcome.Success)
	assert.Nil(t, turn.EndedAt)

	require.NoError(t, store.FinishTurn(ctx, "turn_c1", domain.TurnStatusFailed, json.RawMessage(`{"code":"dispatch_failed"}`)))
	turn, _ = store.GetTurn(ctx, "turn_c1")
	assert.Equal(t, domain.TurnStatusFailed, turn.Status)
	assert.NotNil(t, turn.EndedAt)
	assert.JSONEq(t, `{"code":"dispatch_failed"}`, string(turn.Error))
}

func newPending(id, conversationID string) *domain.PendingAction {
	return &domain.PendingAction{
		PendingActionID: id,
		ConversationID:  conversationID,
		TurnID:          "turn_" + conversationID,
		Invocations:     []domain.OperationInvocation{{ID: "call_" + id, Name: "generate_image", RawArguments: `{"prompt":"a cat"}`}},
		Narration:       "I will generate an image.",
		ResumableState:  domain.ResumableState{ToolCallID: "call_" + id, Messages: []domain.Message{{Role: domain.RoleUser, Content: "cat"}}},
		CostEstimate:    &domain.CostEstimate{Currency: "credits", Total: 2},
		Status:          domain.PendingActionStatusPending,
		CreatedAt:       time.Now(),
	}
}

func TestSQLiteStorePendingActionSingleOutstanding(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedConversation(t, store, "c1")

	require.NoError(t, store.CreatePendingAction(ctx, newPending("pa1", "c1")))
	assert.ErrorIs(t, store.CreatePendingAction(ctx, newPending("pa2", "c1")), ErrPendingActionExists)

	open, err := store.GetOpenPendingAction(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "pa1", open.PendingActionID)
	assert.Equal(t, "call_pa1", open.ToolCallID())
	assert.Equal(t, 2.0, open.CostEstimate.Total)
	require.Len(t, open.ResumableState.Messages, 1)

	ok, err := store.DecidePendingAction(ctx, "pa1", domain.PendingActionStatusApproved, "u1", "fine")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.DecidePendingAction(ctx, "pa1", domain.PendingActionStatusRejected, "u1", "")
	require.NoError(t, err)
	assert.False(t, ok, "second decision must not apply")

	require.NoError(t, store.SavePendingOutcome(ctx, "pa1", domain.Outcome{Success: true, SideEffectRef: "job_1"}))
	got, err := store.GetPendingAction(ctx, "pa1")
	require.NoError(t, err)
	assert.Equal(t, domain.PendingActionStatusApproved, got.Status)
	assert.Equal(t, "u1", got.DecidedBy)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, "job_1", got.Outcome.SideEffectRef)
	assert.NotNil(t, got.DecidedAt)

	// A decided action no longer blocks a new one.
	require.NoError(t, store.CreatePendingAction(ctx, newPending("pa2", "c1")))
}

func TestSQLiteStoreListExpiredPendingActions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedConversation(t, store, "c1")
	seedConversation(t, store, "c2")

	old := newPending("pa_old", "c1")
	old.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.CreatePendingAction(ctx, old))
	require.NoError(t, store.CreatePendingAction(ctx, newPending("pa_new", "c2")))

	expired, err := store.ListExpiredPendingActions(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "pa_old", expired[0].PendingActionID)
}

func TestSQLiteStoreEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedConversation(t, store, "c1")

	for i, typ := range []domain.EventType{domain.EventTypeIterationStart, domain.EventTypeFunctionStart, domain.EventTypeComplete} {
		require.NoError(t, store.CreateEvent(ctx, &domain.Event{
			EventID: "e" + string(rune('1'+i)),
			TurnID:  "turn_c1",
			Ts:      int64(1000 + i),
			Type:    typ,
			Payload: json.RawMessage(`{}`),
		}))
	}

	events, err := store.GetEvents(ctx, "turn_c1", 0, nil, 10)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = store.GetEvents(ctx, "turn_c1", 1000, []string{"complete"}, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeComplete, events[0].Type)
}

func TestSQLiteStoreWorkspace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.EnsureProject(ctx, "p1", "Demo"))
	require.NoError(t, store.EnsureProject(ctx, "p1", "Ignored"))

	project, err := store.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Demo", project.Name)

	job := &domain.GenerationJob{JobID: "job_1", ProjectID: "p1", Operation: "generate_image", Params: `{}`, Status: "queued"}
	assets := []domain.Asset{
		{AssetID: "a1", ProjectID: "p1", Kind: domain.AssetKindImage, Name: "one", Status: domain.AssetStatusProcessing, JobID: "job_1"},
		{AssetID: "a2", ProjectID: "p1", Kind: domain.AssetKindImage, Name: "two", Status: domain.AssetStatusProcessing, JobID: "job_1"},
	}
	require.NoError(t, store.CreateGenerationJob(ctx, job, assets))

	gotJob, err := store.GetGenerationJob(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, "queued", gotJob.Status)

	listed, err := store.ListAssets(ctx, "p1", domain.AssetKindImage, 10)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	require.NoError(t, store.CreateClip(ctx, &domain.Clip{ClipID: "clip1", ProjectID: "p1", AssetID: "a1", DurationMs: 1000}))
	clips, err := store.ListClips(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, clips, 1)

	deleted, err := store.DeleteAssets(ctx, "p1", []string{"a1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, deleted)

	gone, err := store.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	clips, err = store.ListClips(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, clips, "clips of deleted assets are removed")

	renamed, err := store.RenameProject(ctx, "p1", "Trailer")
	require.NoError(t, err)
	assert.True(t, renamed)
}

func TestSQLiteStorePureGoDriver(t *testing.T) {
	store, err := NewSQLiteStore("sqlite", ":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.EnsureProject(ctx, "p1", "Demo"))
	project, err := store.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, project)
	assert.Equal(t, "Demo", project.Name)
}
