package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

func pendingRequest(id string, priority model.Priority, enqueuedAt time.Time) model.QueuedRequest {
	return model.QueuedRequest{
		ID:            id,
		Payload:       model.ChatPayload{Content: "hello"},
		RequestType:   model.RequestTypeChat,
		Priority:      priority,
		PriorityScore: priority.TierBase(),
		Status:        model.StatusPending,
		MaxRetries:    3,
		EnqueuedAt:    enqueuedAt,
		ExpiresAt:     enqueuedAt.Add(time.Hour),
	}
}

func TestMemStore_ClaimNextPending_HighestTierFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("normal", model.PriorityNormal, now)))
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("critical", model.PriorityCritical, now)))

	claimed, err := s.ClaimNextPending(ctx, "w1", time.Minute, 1.0)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "critical", claimed.ID)
	assert.Equal(t, model.StatusProcessing, claimed.Status)
	require.NotNil(t, claimed.LeaseOwner)
	assert.Equal(t, "w1", *claimed.LeaseOwner)
}

func TestMemStore_ClaimNextPending_AgeBoostOvertakesTier(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()
	// A normal request that has waited past the tier gap (50 points at
	// 1 point/minute) must out-rank a fresh critical arrival.
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("old-normal", model.PriorityNormal, now.Add(-60*time.Minute))))
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("fresh-critical", model.PriorityCritical, now)))

	claimed, err := s.ClaimNextPending(ctx, "w1", time.Minute, 1.0)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "old-normal", claimed.ID)
}

func TestMemStore_ClaimNextPending_FIFOWithinTier(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("second", model.PriorityNormal, now)))
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("first", model.PriorityNormal, now.Add(-time.Second))))

	claimed, err := s.ClaimNextPending(ctx, "w1", time.Minute, 1.0)
	require.NoError(t, err)
	assert.Equal(t, "first", claimed.ID)
}

func TestMemStore_ClaimNextPending_SkipsBatchOwned(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	r := pendingRequest("r1", model.PriorityHigh, time.Now())
	require.NoError(t, s.InsertRequest(ctx, r))
	require.NoError(t, s.SetRequestBatchID(ctx, "r1", "b1"))

	claimed, err := s.ClaimNextPending(ctx, "w1", time.Minute, 1.0)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestMemStore_SetRequestBatchID_RefusesClaimedRow(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("r1", model.PriorityNormal, time.Now())))

	claimed, err := s.ClaimNextPending(ctx, "w1", time.Minute, 1.0)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	assert.ErrorIs(t, s.SetRequestBatchID(ctx, "r1", "b1"), ErrConflict)
}

func TestMemStore_ClearRequestBatchID(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("r1", model.PriorityNormal, time.Now())))
	require.NoError(t, s.SetRequestBatchID(ctx, "r1", "b1"))

	// Wrong batch never clears.
	assert.ErrorIs(t, s.ClearRequestBatchID(ctx, "r1", "b2"), ErrConflict)

	require.NoError(t, s.ClearRequestBatchID(ctx, "r1", "b1"))
	r, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, r.BatchID)

	// Already cleared: nothing to roll back.
	assert.ErrorIs(t, s.ClearRequestBatchID(ctx, "r1", "b1"), ErrConflict)
}

func TestMemStore_ConcurrentClaims_NeverDoubleDispatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()
	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, s.InsertRequest(ctx, pendingRequest(string(rune('a'+i)), model.PriorityNormal, now.Add(time.Duration(i)*time.Millisecond))))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := s.ClaimNextPending(ctx, "w", time.Minute, 1.0)
				require.NoError(t, err)
				if claimed == nil {
					return
				}
				mu.Lock()
				seen[claimed.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "request %s claimed more than once", id)
	}
}

func TestMemStore_RoundTrip_NoResidualLease(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("r1", model.PriorityNormal, time.Now())))

	claimed, err := s.ClaimNextPending(ctx, "w1", time.Minute, 1.0)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	result := "done"
	require.NoError(t, s.UpdateRequestStatus(ctx, "r1", []model.RequestStatus{model.StatusProcessing}, model.StatusCompleted, &result, nil))

	r, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, r.Status)
	assert.Nil(t, r.LeaseOwner)
	assert.Nil(t, r.LeaseExpiresAt)
	require.NotNil(t, r.Result)
	assert.Equal(t, "done", *r.Result)
}

func TestMemStore_UpdateRequestStatus_ConflictOnWrongState(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("r1", model.PriorityNormal, time.Now())))

	err := s.UpdateRequestStatus(ctx, "r1", []model.RequestStatus{model.StatusProcessing}, model.StatusCompleted, nil, nil)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemStore_MarkFailedThenRetry(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	r := pendingRequest("r1", model.PriorityNormal, time.Now())
	r.MaxRetries = 2
	require.NoError(t, s.InsertRequest(ctx, r))

	_, err := s.ClaimNextPending(ctx, "w1", time.Minute, 1.0)
	require.NoError(t, err)

	failed, err := s.MarkRequestFailed(ctx, "r1", "boom")
	require.NoError(t, err)
	assert.Equal(t, 1, failed.RetryCount)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "boom", *failed.LastError)

	require.NoError(t, s.RetryFailed(ctx, "r1"))
	got, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	// Exhaust retries: the second failure leaves the request failed.
	_, err = s.ClaimNextPending(ctx, "w1", time.Minute, 1.0)
	require.NoError(t, err)
	_, err = s.MarkRequestFailed(ctx, "r1", "boom again")
	require.NoError(t, err)
	assert.ErrorIs(t, s.RetryFailed(ctx, "r1"), ErrConflict)
}

func TestMemStore_Heartbeat(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("r1", model.PriorityNormal, time.Now())))
	_, err := s.ClaimNextPending(ctx, "w1", time.Minute, 1.0)
	require.NoError(t, err)

	ok, err := s.Heartbeat(ctx, "r1", "w1", time.Now().Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Heartbeat(ctx, "r1", "intruder", time.Now().Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStore_ExpirePending(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	r := pendingRequest("r1", model.PriorityNormal, time.Now().Add(-2*time.Hour))
	r.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.InsertRequest(ctx, r))
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("r2", model.PriorityNormal, time.Now())))

	n, err := s.ExpirePending(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := s.GetRequest(ctx, "r1")
	assert.Equal(t, model.StatusExpired, got.Status)
}

func TestMemStore_ReclaimAbandoned(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("r1", model.PriorityNormal, time.Now())))
	_, err := s.ClaimNextPending(ctx, "w1", -time.Minute, 1.0) // already-expired lease
	require.NoError(t, err)

	n, err := s.ReclaimAbandoned(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := s.GetRequest(ctx, "r1")
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.LeaseOwner)
}

func TestMemStore_BatchLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()
	b := model.RequestBatch{
		ID:              "b1",
		SimilarityHash:  "h1",
		RequestType:     model.RequestTypeBatchEligible,
		Status:          model.BatchCollecting,
		WindowExpiresAt: now.Add(time.Minute),
		CreatedAt:       now,
	}
	require.NoError(t, s.InsertBatch(ctx, b))

	found, err := s.FindCollectingBatch(ctx, "h1", model.RequestTypeBatchEligible)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "b1", found.ID)

	require.NoError(t, s.AppendBatchMember(ctx, "b1", "r1"))
	require.NoError(t, s.AppendBatchMember(ctx, "b1", "r2"))

	ready, err := s.ListReadyBatches(ctx, 2, now)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, []string{"r1", "r2"}, ready[0].MemberRequestIDs)

	require.NoError(t, s.UpdateBatchStatus(ctx, "b1", model.BatchCollecting, model.BatchProcessing))
	assert.ErrorIs(t, s.AppendBatchMember(ctx, "b1", "r3"), ErrConflict)

	require.NoError(t, s.FinalizeBatch(ctx, "b1", "gpt-4o-mini", 120, 1, 0.004))
	got, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, got.Status)
	assert.Equal(t, 1, got.APICallsSaved)
}

func TestMemStore_ReleaseBatchMembers(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("r1", model.PriorityNormal, time.Now())))
	require.NoError(t, s.InsertRequest(ctx, pendingRequest("r2", model.PriorityNormal, time.Now())))
	require.NoError(t, s.SetRequestBatchID(ctx, "r1", "b1"))
	require.NoError(t, s.SetRequestBatchID(ctx, "r2", "b1"))

	n, err := s.ReleaseBatchMembers(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []string{"r1", "r2"} {
		r, err := s.GetRequest(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, r.BatchID)
		assert.Equal(t, model.StatusPending, r.Status)
	}
}

func TestMemStore_ListStaleBatches(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	now := time.Now()
	require.NoError(t, s.InsertBatch(ctx, model.RequestBatch{
		ID: "empty", SimilarityHash: "h", RequestType: model.RequestTypeBatchEligible,
		Status: model.BatchCollecting, WindowExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-2 * time.Minute),
	}))
	withMember := model.RequestBatch{
		ID: "occupied", SimilarityHash: "h2", RequestType: model.RequestTypeBatchEligible,
		Status: model.BatchCollecting, WindowExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-2 * time.Minute),
		MemberRequestIDs: []string{"r1"},
	}
	require.NoError(t, s.InsertBatch(ctx, withMember))

	stale, err := s.ListStaleBatches(ctx, now)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "empty", stale[0].ID)

	// The occupied batch is ready instead (window passed with >= 1 member).
	ready, err := s.ListReadyBatches(ctx, 5, now)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "occupied", ready[0].ID)
}
