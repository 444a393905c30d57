package db

import (
	"context"
	"errors"
	"time"

	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a compare-and-set update matched no row,
	// meaning the entity was not in the expected state.
	ErrConflict = errors.New("state conflict")
)

// QueueStats summarizes the request queue for monitoring.
type QueueStats struct {
	ByStatus         map[model.RequestStatus]int64 `json:"by_status"`
	OldestPendingAge time.Duration                 `json:"oldest_pending_age"`
}

// BatchStats summarizes batch activity and savings.
type BatchStats struct {
	ByStatus      map[model.BatchStatus]int64 `json:"by_status"`
	TokensSaved   int64                       `json:"tokens_saved"`
	APICallsSaved int64                       `json:"api_calls_saved"`
	CostSaved     float64                     `json:"cost_saved"`
}

// Store is the single source of truth for queue, batch and configuration
// state. Implementations must provide serializable claim semantics on
// ClaimNextPending and compare-and-set semantics on every *Status update,
// or concurrent workers will double-dispatch requests.
type Store interface {
	// Queue
	InsertRequest(ctx context.Context, req model.QueuedRequest) error
	GetRequest(ctx context.Context, id string) (model.QueuedRequest, error)
	ListRequestsByIDs(ctx context.Context, ids []string) ([]model.QueuedRequest, error)

	// ClaimNextPending atomically selects the highest-score pending row
	// (tier base plus ageBoostPerMin per minute of wait), stamps it
	// processing with the worker's lease, and returns it. Returns nil when
	// the queue is empty. Rows with a batch ID are owned by the batch path
	// and are never returned.
	ClaimNextPending(ctx context.Context, workerID string, leaseTTL time.Duration, ageBoostPerMin float64) (*model.QueuedRequest, error)

	// UpdateRequestStatus moves a request from one of the expected states
	// to the target state, clearing any lease. Returns ErrConflict when the
	// request is not in an expected state.
	UpdateRequestStatus(ctx context.Context, id string, expected []model.RequestStatus, to model.RequestStatus, result, lastError *string) error

	// MarkRequestFailed transitions processing→failed, increments the retry
	// counter, records the error, and clears the lease.
	MarkRequestFailed(ctx context.Context, id string, lastError string) (model.QueuedRequest, error)

	// RetryFailed transitions failed→pending when retries remain.
	RetryFailed(ctx context.Context, id string) error

	// Heartbeat extends the lease held by workerID. Returns false when the
	// lease is no longer theirs.
	Heartbeat(ctx context.Context, id, workerID string, extendTo time.Time) (bool, error)

	// ExpirePending sweeps pending rows past their TTL into expired.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)

	// ReclaimAbandoned returns processing rows with expired leases to
	// pending so they become eligible for re-dequeue.
	ReclaimAbandoned(ctx context.Context, now time.Time) (int64, error)

	// SetRequestBatchID stamps a pending, unstamped request as owned by a
	// batch. Returns ErrConflict when the request has been claimed or
	// already belongs to a batch.
	SetRequestBatchID(ctx context.Context, id, batchID string) error

	// ClearRequestBatchID rolls back a stamp that never made it into the
	// batch's member list. Returns ErrConflict unless the request is still
	// pending and stamped with batchID.
	ClearRequestBatchID(ctx context.Context, id, batchID string) error

	// ReleaseBatchMembers clears batch ownership and returns non-terminal
	// members to pending. Used on batch failure and stale-batch disband.
	ReleaseBatchMembers(ctx context.Context, batchID string) (int64, error)

	GetQueueStats(ctx context.Context) (QueueStats, error)

	// Batches
	InsertBatch(ctx context.Context, b model.RequestBatch) error
	GetBatch(ctx context.Context, id string) (model.RequestBatch, error)
	FindCollectingBatch(ctx context.Context, similarityHash string, requestType model.RequestType) (*model.RequestBatch, error)

	// AppendBatchMember appends a request ID while the batch is still
	// collecting. Returns ErrConflict once collection has closed.
	AppendBatchMember(ctx context.Context, batchID, requestID string) error

	ListReadyBatches(ctx context.Context, minSize int, now time.Time) ([]model.RequestBatch, error)
	ListStaleBatches(ctx context.Context, now time.Time) ([]model.RequestBatch, error)
	UpdateBatchStatus(ctx context.Context, id string, expected, to model.BatchStatus) error

	// FinalizeBatch marks a batch completed and records savings accounting.
	FinalizeBatch(ctx context.Context, id, modelUsed string, tokensSaved, apiCallsSaved int, costSaved float64) error

	DeleteBatch(ctx context.Context, id string) error
	GetBatchStats(ctx context.Context) (BatchStats, error)

	// Configuration
	ListActiveMappings(ctx context.Context) ([]model.ActionMapping, error)
	ListActiveModels(ctx context.Context, provider string) ([]model.ModelCandidate, error)
	ListFallbackModels(ctx context.Context) ([]model.ModelCandidate, error)
	GetSystemSetting(ctx context.Context, key string) (string, error)
}
