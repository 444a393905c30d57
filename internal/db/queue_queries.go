package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

const requestColumns = `id, payload, request_type, priority, priority_score, status,
retry_count, max_retries, batch_id, callback_url, result, last_error,
enqueued_at, expires_at, lease_owner, lease_expires_at`

func scanRequest(row pgx.Row) (model.QueuedRequest, error) {
	var r model.QueuedRequest
	var payload []byte
	err := row.Scan(
		&r.ID,
		&payload,
		&r.RequestType,
		&r.Priority,
		&r.PriorityScore,
		&r.Status,
		&r.RetryCount,
		&r.MaxRetries,
		&r.BatchID,
		&r.CallbackURL,
		&r.Result,
		&r.LastError,
		&r.EnqueuedAt,
		&r.ExpiresAt,
		&r.LeaseOwner,
		&r.LeaseExpiresAt,
	)
	if err != nil {
		return model.QueuedRequest{}, err
	}
	if err := json.Unmarshal(payload, &r.Payload); err != nil {
		return model.QueuedRequest{}, err
	}
	return r, nil
}

const insertRequest = `-- name: InsertRequest :exec
INSERT INTO queued_requests (id, payload, request_type, priority, priority_score, status,
  retry_count, max_retries, batch_id, callback_url, enqueued_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

func (q *Queries) InsertRequest(ctx context.Context, req model.QueuedRequest) error {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, insertRequest,
		req.ID,
		payload,
		req.RequestType,
		req.Priority,
		req.PriorityScore,
		req.Status,
		req.RetryCount,
		req.MaxRetries,
		req.BatchID,
		req.CallbackURL,
		req.EnqueuedAt,
		req.ExpiresAt,
	)
	return err
}

const getRequest = `-- name: GetRequest :one
SELECT ` + requestColumns + `
FROM queued_requests
WHERE id = $1
`

func (q *Queries) GetRequest(ctx context.Context, id string) (model.QueuedRequest, error) {
	r, err := scanRequest(q.db.QueryRow(ctx, getRequest, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.QueuedRequest{}, ErrNotFound
	}
	return r, err
}

const listRequestsByIDs = `-- name: ListRequestsByIDs :many
SELECT ` + requestColumns + `
FROM queued_requests
WHERE id = ANY($1::text[])
`

func (q *Queries) ListRequestsByIDs(ctx context.Context, ids []string) ([]model.QueuedRequest, error) {
	rows, err := q.db.Query(ctx, listRequestsByIDs, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byID := make(map[string]model.QueuedRequest, len(ids))
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Preserve caller ordering (batch member order).
	items := make([]model.QueuedRequest, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			items = append(items, r)
		}
	}
	return items, nil
}

// claimNextPending ranks pending rows by tier base plus an age boost of
// $3 points per minute waited, so older requests eventually out-rank
// fresh higher-tier arrivals. SKIP LOCKED makes the claim serializable:
// two concurrent workers can never receive the same row.
const claimNextPending = `-- name: ClaimNextPending :one
WITH next AS (
  SELECT id
  FROM queued_requests
  WHERE status = 'pending' AND batch_id IS NULL AND expires_at > now()
  ORDER BY priority_score + EXTRACT(EPOCH FROM (now() - enqueued_at)) / 60.0 * $3 DESC,
           enqueued_at ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
UPDATE queued_requests q
SET status = 'processing', lease_owner = $1, lease_expires_at = $2
FROM next
WHERE q.id = next.id
RETURNING ` + requestColumns + `
`

func (q *Queries) ClaimNextPending(ctx context.Context, workerID string, leaseTTL time.Duration, ageBoostPerMin float64) (*model.QueuedRequest, error) {
	leaseExpiry := time.Now().Add(leaseTTL)
	r, err := scanRequest(q.db.QueryRow(ctx, claimNextPending, workerID, leaseExpiry, ageBoostPerMin))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const updateRequestStatus = `-- name: UpdateRequestStatus :exec
UPDATE queued_requests
SET status = $2,
    result = COALESCE($3, result),
    last_error = COALESCE($4, last_error),
    lease_owner = NULL,
    lease_expires_at = NULL
WHERE id = $1 AND status = ANY($5::text[])
`

func (q *Queries) UpdateRequestStatus(ctx context.Context, id string, expected []model.RequestStatus, to model.RequestStatus, result, lastError *string) error {
	states := make([]string, len(expected))
	for i, s := range expected {
		states[i] = string(s)
	}
	tag, err := q.db.Exec(ctx, updateRequestStatus, id, to, result, lastError, states)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

const markRequestFailed = `-- name: MarkRequestFailed :one
UPDATE queued_requests
SET status = 'failed',
    retry_count = retry_count + 1,
    last_error = $2,
    lease_owner = NULL,
    lease_expires_at = NULL
WHERE id = $1 AND status = 'processing'
RETURNING ` + requestColumns + `
`

func (q *Queries) MarkRequestFailed(ctx context.Context, id string, lastError string) (model.QueuedRequest, error) {
	r, err := scanRequest(q.db.QueryRow(ctx, markRequestFailed, id, lastError))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.QueuedRequest{}, ErrConflict
	}
	return r, err
}

const retryFailed = `-- name: RetryFailed :exec
UPDATE queued_requests
SET status = 'pending'
WHERE id = $1 AND status = 'failed' AND retry_count < max_retries
`

func (q *Queries) RetryFailed(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, retryFailed, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

const heartbeatRequest = `-- name: Heartbeat :exec
UPDATE queued_requests
SET lease_expires_at = $3
WHERE id = $1 AND lease_owner = $2 AND status = 'processing'
`

func (q *Queries) Heartbeat(ctx context.Context, id, workerID string, extendTo time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, heartbeatRequest, id, workerID, extendTo)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const expirePending = `-- name: ExpirePending :execrows
UPDATE queued_requests
SET status = 'expired'
WHERE status = 'pending' AND expires_at <= $1
`

func (q *Queries) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, expirePending, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const reclaimAbandoned = `-- name: ReclaimAbandoned :execrows
UPDATE queued_requests
SET status = 'pending', lease_owner = NULL, lease_expires_at = NULL
WHERE status = 'processing' AND lease_expires_at IS NOT NULL AND lease_expires_at <= $1
`

func (q *Queries) ReclaimAbandoned(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, reclaimAbandoned, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const setRequestBatchID = `-- name: SetRequestBatchID :exec
UPDATE queued_requests
SET batch_id = $2
WHERE id = $1 AND status = 'pending' AND batch_id IS NULL
`

func (q *Queries) SetRequestBatchID(ctx context.Context, id, batchID string) error {
	tag, err := q.db.Exec(ctx, setRequestBatchID, id, batchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

const clearRequestBatchID = `-- name: ClearRequestBatchID :execrows
UPDATE queued_requests
SET batch_id = NULL
WHERE id = $1 AND batch_id = $2 AND status = 'pending'
`

func (q *Queries) ClearRequestBatchID(ctx context.Context, id, batchID string) error {
	tag, err := q.db.Exec(ctx, clearRequestBatchID, id, batchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

const releaseBatchMembers = `-- name: ReleaseBatchMembers :execrows
UPDATE queued_requests
SET batch_id = NULL, status = 'pending', lease_owner = NULL, lease_expires_at = NULL
WHERE batch_id = $1 AND status IN ('pending', 'processing', 'failed')
`

func (q *Queries) ReleaseBatchMembers(ctx context.Context, batchID string) (int64, error) {
	tag, err := q.db.Exec(ctx, releaseBatchMembers, batchID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const queueStatusCounts = `-- name: QueueStatusCounts :many
SELECT status, COUNT(*)
FROM queued_requests
GROUP BY status
`

const oldestPendingAge = `-- name: OldestPendingAge :one
SELECT COALESCE(EXTRACT(EPOCH FROM (now() - MIN(enqueued_at))), 0)
FROM queued_requests
WHERE status = 'pending'
`

func (q *Queries) GetQueueStats(ctx context.Context) (QueueStats, error) {
	stats := QueueStats{ByStatus: make(map[model.RequestStatus]int64)}

	rows, err := q.db.Query(ctx, queueStatusCounts)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status model.RequestStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	var ageSeconds float64
	if err := q.db.QueryRow(ctx, oldestPendingAge).Scan(&ageSeconds); err != nil {
		return stats, err
	}
	stats.OldestPendingAge = time.Duration(ageSeconds * float64(time.Second))
	return stats, nil
}
