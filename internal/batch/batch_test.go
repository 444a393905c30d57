package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottwelch968/Spork-V2-sub003/internal/db"
	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

func TestFingerprint_GroupsSimilarPrompts(t *testing.T) {
	a := Fingerprint("question", model.RequestTypeBatchEligible, "What is the capital of France?")
	b := Fingerprint("question", model.RequestTypeBatchEligible, "what IS the Capital of France")
	assert.Equal(t, a, b, "case and punctuation must not split groups")

	c := Fingerprint("question", model.RequestTypeBatchEligible, "What is the capital of Spain?")
	assert.NotEqual(t, a, c)

	d := Fingerprint("greeting", model.RequestTypeBatchEligible, "What is the capital of France?")
	assert.NotEqual(t, a, d, "category is part of the fingerprint")

	e := Fingerprint("question", model.RequestTypeWebhook, "What is the capital of France?")
	assert.NotEqual(t, a, e, "request type is part of the fingerprint")
}

func TestFingerprint_Deterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		assert.Equal(t,
			Fingerprint("code", model.RequestTypeBatchEligible, "write a function to reverse a string"),
			Fingerprint("code", model.RequestTypeBatchEligible, "write a function to reverse a string"))
	}
}

func seedMember(t *testing.T, store *db.MemStore, id, content string) {
	t.Helper()
	require.NoError(t, store.InsertRequest(context.Background(), model.QueuedRequest{
		ID:          id,
		Payload:     model.ChatPayload{Content: content},
		RequestType: model.RequestTypeBatchEligible,
		Priority:    model.PriorityNormal,
		Status:      model.StatusPending,
		EnqueuedAt:  time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
}

func TestFindOrCreateBatch_ReusesOpenBatch(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	c := NewCoordinator(store, Options{})

	b1, err := c.FindOrCreateBatch(ctx, "hash-a", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	b2, err := c.FindOrCreateBatch(ctx, "hash-a", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	assert.Equal(t, b1.ID, b2.ID)

	other, err := c.FindOrCreateBatch(ctx, "hash-b", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	assert.NotEqual(t, b1.ID, other.ID)
}

func TestFindOrCreateBatch_FullBatchOpensNew(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	c := NewCoordinator(store, Options{MaxBatchSize: 2})

	b1, err := c.FindOrCreateBatch(ctx, "hash-a", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("r%d", i)
		seedMember(t, store, id, "same prompt")
		require.NoError(t, c.AddToBatch(ctx, b1.ID, id))
	}

	b2, err := c.FindOrCreateBatch(ctx, "hash-a", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	assert.NotEqual(t, b1.ID, b2.ID)
}

func TestAddToBatch_StampsBatchID(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	c := NewCoordinator(store, Options{})

	b, err := c.FindOrCreateBatch(ctx, "hash-a", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	seedMember(t, store, "r1", "prompt")
	require.NoError(t, c.AddToBatch(ctx, b.ID, "r1"))

	req, err := store.GetRequest(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, req.BatchID)
	assert.Equal(t, b.ID, *req.BatchID)

	// Claimed members never surface on the individual path.
	claimed, err := store.ClaimNextPending(ctx, "w1", time.Minute, 1)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestAddToBatch_RejectedAfterCollecting(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	c := NewCoordinator(store, Options{})

	b, err := c.FindOrCreateBatch(ctx, "hash-a", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	require.NoError(t, store.UpdateBatchStatus(ctx, b.ID, model.BatchCollecting, model.BatchProcessing))

	seedMember(t, store, "r1", "prompt")
	err = c.AddToBatch(ctx, b.ID, "r1")
	assert.ErrorIs(t, err, db.ErrConflict)

	// The stamp is rolled back: the request stays on the individual path.
	req, err := store.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, req.BatchID)
	claimed, err := store.ClaimNextPending(ctx, "w1", time.Minute, 1)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "r1", claimed.ID)
}

func TestAddToBatch_ClaimedRequestNotAbsorbed(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	c := NewCoordinator(store, Options{})

	b, err := c.FindOrCreateBatch(ctx, "hash-a", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	seedMember(t, store, "r1", "prompt")

	// A worker claims the row between enqueue and absorption.
	claimed, err := store.ClaimNextPending(ctx, "w1", time.Minute, 1)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "r1", claimed.ID)

	err = c.AddToBatch(ctx, b.ID, "r1")
	assert.ErrorIs(t, err, db.ErrConflict)

	// The batch must not keep a member it failed to claim.
	got, err := store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MemberRequestIDs)

	// The worker's claim is untouched.
	req, err := store.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, req.Status)
	assert.Nil(t, req.BatchID)
}

func TestGetReadyBatches(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	c := NewCoordinator(store, Options{MinBatchSize: 2, Window: time.Hour})

	full, err := c.FindOrCreateBatch(ctx, "hash-full", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("f%d", i)
		seedMember(t, store, id, "p")
		require.NoError(t, c.AddToBatch(ctx, full.ID, id))
	}

	// One member, window still open: not ready.
	young, err := c.FindOrCreateBatch(ctx, "hash-young", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	seedMember(t, store, "y1", "p")
	require.NoError(t, c.AddToBatch(ctx, young.ID, "y1"))

	ready, err := c.GetReadyBatches(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, full.ID, ready[0].ID)
}

func TestProcessBatch_DemuxesInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	c := NewCoordinator(store, Options{MinBatchSize: 3})

	b, err := c.FindOrCreateBatch(ctx, "hash-a", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("r%d", i)
		seedMember(t, store, id, fmt.Sprintf("question %d", i))
		require.NoError(t, c.AddToBatch(ctx, b.ID, id))
	}

	var gotPrompt string
	exec := func(_ context.Context, prompt string) (*model.CompletionResult, error) {
		gotPrompt = prompt
		return &model.CompletionResult{
			Text: "=== RESPONSE 1 ===\nanswer one\n" +
				"=== RESPONSE 2 ===\nanswer two\n" +
				"=== RESPONSE 3 ===\nanswer three\n",
			Model: "gpt-4o-mini",
			Usage: model.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150},
		}, nil
	}
	require.NoError(t, c.ProcessBatch(ctx, b.ID, exec))

	assert.Contains(t, gotPrompt, "Request 1:\nquestion 1")
	assert.Contains(t, gotPrompt, "Request 3:\nquestion 3")

	want := map[string]string{"r1": "answer one", "r2": "answer two", "r3": "answer three"}
	for id, answer := range want {
		req, err := store.GetRequest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, req.Status)
		require.NotNil(t, req.Result)
		assert.Equal(t, answer, *req.Result)
	}

	done, err := store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, done.Status)
	assert.Equal(t, "gpt-4o-mini", done.ModelUsed)
	assert.Equal(t, 2, done.APICallsSaved)
	assert.Greater(t, done.TokensSaved, 0)
	assert.Greater(t, done.CostSaved, 0.0)
}

func TestProcessBatch_FailureReleasesMembers(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	c := NewCoordinator(store, Options{MinBatchSize: 2})

	b, err := c.FindOrCreateBatch(ctx, "hash-a", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	for i := 1; i <= 2; i++ {
		id := fmt.Sprintf("r%d", i)
		seedMember(t, store, id, "q")
		require.NoError(t, c.AddToBatch(ctx, b.ID, id))
	}

	exec := func(_ context.Context, _ string) (*model.CompletionResult, error) {
		return nil, errors.New("upstream exploded")
	}
	err = c.ProcessBatch(ctx, b.ID, exec)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrBatchExecutionFailed)

	failed, err := store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchFailed, failed.Status)

	// Members degrade to individual attempts, not failures.
	for i := 1; i <= 2; i++ {
		req, err := store.GetRequest(ctx, fmt.Sprintf("r%d", i))
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, req.Status)
		assert.Nil(t, req.BatchID)
	}
	claimed, err := store.ClaimNextPending(ctx, "w1", time.Minute, 1)
	require.NoError(t, err)
	assert.NotNil(t, claimed)
}

func TestProcessBatch_OnlyCollectingPromotes(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	c := NewCoordinator(store, Options{})

	b, err := c.FindOrCreateBatch(ctx, "hash-a", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	require.NoError(t, store.UpdateBatchStatus(ctx, b.ID, model.BatchCollecting, model.BatchProcessing))

	err = c.ProcessBatch(ctx, b.ID, func(_ context.Context, _ string) (*model.CompletionResult, error) {
		t.Fatal("executor must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, db.ErrConflict)
}

func TestCleanupStaleBatches(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	c := NewCoordinator(store, Options{MinBatchSize: 3})

	// Empty past its window: disbanded.
	require.NoError(t, store.InsertBatch(ctx, model.RequestBatch{
		ID:              "empty",
		SimilarityHash:  "h",
		RequestType:     model.RequestTypeBatchEligible,
		Status:          model.BatchCollecting,
		WindowExpiresAt: time.Now().Add(-time.Minute),
		CreatedAt:       time.Now().Add(-time.Hour),
	}))

	// Past its window with a member: promoted via the ready path, not disbanded.
	require.NoError(t, store.InsertBatch(ctx, model.RequestBatch{
		ID:              "small",
		SimilarityHash:  "h2",
		RequestType:     model.RequestTypeBatchEligible,
		Status:          model.BatchCollecting,
		WindowExpiresAt: time.Now().Add(-time.Minute),
		CreatedAt:       time.Now().Add(-time.Hour),
	}))
	seedMember(t, store, "r1", "q")
	require.NoError(t, store.AppendBatchMember(ctx, "small", "r1"))
	require.NoError(t, store.SetRequestBatchID(ctx, "r1", "small"))

	n, err := c.CleanupStaleBatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetBatch(ctx, "empty")
	assert.ErrorIs(t, err, db.ErrNotFound)

	ready, err := c.GetReadyBatches(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "small", ready[0].ID)
}

func TestExtractResponses_FallbackOnFormatMiss(t *testing.T) {
	got := extractResponses("the model ignored the format entirely", 3)
	require.Len(t, got, 3)
	for _, r := range got {
		assert.Equal(t, "the model ignored the format entirely", r)
	}
}

func TestBatchable(t *testing.T) {
	c := NewCoordinator(db.NewMemStore(), Options{})
	assert.True(t, c.Batchable(model.RequestTypeBatchEligible))
	assert.False(t, c.Batchable(model.RequestTypeChat))
}
