package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

const batchColumns = `id, similarity_hash, request_type, status, member_request_ids,
window_expires_at, created_at, model_used, tokens_saved, api_calls_saved, cost_saved`

func scanBatch(row pgx.Row) (model.RequestBatch, error) {
	var b model.RequestBatch
	err := row.Scan(
		&b.ID,
		&b.SimilarityHash,
		&b.RequestType,
		&b.Status,
		&b.MemberRequestIDs,
		&b.WindowExpiresAt,
		&b.CreatedAt,
		&b.ModelUsed,
		&b.TokensSaved,
		&b.APICallsSaved,
		&b.CostSaved,
	)
	return b, err
}

const insertBatch = `-- name: InsertBatch :exec
INSERT INTO request_batches (id, similarity_hash, request_type, status, member_request_ids,
  window_expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (q *Queries) InsertBatch(ctx context.Context, b model.RequestBatch) error {
	members := b.MemberRequestIDs
	if members == nil {
		members = []string{}
	}
	_, err := q.db.Exec(ctx, insertBatch,
		b.ID,
		b.SimilarityHash,
		b.RequestType,
		b.Status,
		members,
		b.WindowExpiresAt,
		b.CreatedAt,
	)
	return err
}

const getBatch = `-- name: GetBatch :one
SELECT ` + batchColumns + `
FROM request_batches
WHERE id = $1
`

func (q *Queries) GetBatch(ctx context.Context, id string) (model.RequestBatch, error) {
	b, err := scanBatch(q.db.QueryRow(ctx, getBatch, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RequestBatch{}, ErrNotFound
	}
	return b, err
}

const findCollectingBatch = `-- name: FindCollectingBatch :one
SELECT ` + batchColumns + `
FROM request_batches
WHERE similarity_hash = $1 AND request_type = $2 AND status = 'collecting'
  AND window_expires_at > now()
ORDER BY created_at ASC
LIMIT 1
`

func (q *Queries) FindCollectingBatch(ctx context.Context, similarityHash string, requestType model.RequestType) (*model.RequestBatch, error) {
	b, err := scanBatch(q.db.QueryRow(ctx, findCollectingBatch, similarityHash, requestType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

const appendBatchMember = `-- name: AppendBatchMember :exec
UPDATE request_batches
SET member_request_ids = array_append(member_request_ids, $2)
WHERE id = $1 AND status = 'collecting'
`

func (q *Queries) AppendBatchMember(ctx context.Context, batchID, requestID string) error {
	tag, err := q.db.Exec(ctx, appendBatchMember, batchID, requestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

const listReadyBatches = `-- name: ListReadyBatches :many
SELECT ` + batchColumns + `
FROM request_batches
WHERE status = 'collecting'
  AND (cardinality(member_request_ids) >= $1
       OR (cardinality(member_request_ids) >= 1 AND window_expires_at <= $2))
ORDER BY created_at ASC
`

func (q *Queries) ListReadyBatches(ctx context.Context, minSize int, now time.Time) ([]model.RequestBatch, error) {
	return q.listBatches(ctx, listReadyBatches, minSize, now)
}

const listStaleBatches = `-- name: ListStaleBatches :many
SELECT ` + batchColumns + `
FROM request_batches
WHERE status = 'collecting'
  AND window_expires_at <= $1
  AND cardinality(member_request_ids) = 0
ORDER BY created_at ASC
`

func (q *Queries) ListStaleBatches(ctx context.Context, now time.Time) ([]model.RequestBatch, error) {
	return q.listBatches(ctx, listStaleBatches, now)
}

func (q *Queries) listBatches(ctx context.Context, sql string, args ...any) ([]model.RequestBatch, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.RequestBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

const updateBatchStatus = `-- name: UpdateBatchStatus :exec
UPDATE request_batches
SET status = $3
WHERE id = $1 AND status = $2
`

func (q *Queries) UpdateBatchStatus(ctx context.Context, id string, expected, to model.BatchStatus) error {
	tag, err := q.db.Exec(ctx, updateBatchStatus, id, expected, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

const finalizeBatch = `-- name: FinalizeBatch :exec
UPDATE request_batches
SET status = 'completed', model_used = $2, tokens_saved = $3, api_calls_saved = $4, cost_saved = $5
WHERE id = $1 AND status = 'processing'
`

func (q *Queries) FinalizeBatch(ctx context.Context, id, modelUsed string, tokensSaved, apiCallsSaved int, costSaved float64) error {
	tag, err := q.db.Exec(ctx, finalizeBatch, id, modelUsed, tokensSaved, apiCallsSaved, costSaved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

const deleteBatch = `-- name: DeleteBatch :exec
DELETE FROM request_batches
WHERE id = $1
`

func (q *Queries) DeleteBatch(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, deleteBatch, id)
	return err
}

const batchStatusCounts = `-- name: BatchStatusCounts :many
SELECT status, COUNT(*)
FROM request_batches
GROUP BY status
`

const batchSavings = `-- name: BatchSavings :one
SELECT COALESCE(SUM(tokens_saved), 0), COALESCE(SUM(api_calls_saved), 0), COALESCE(SUM(cost_saved), 0)
FROM request_batches
WHERE status = 'completed'
`

func (q *Queries) GetBatchStats(ctx context.Context) (BatchStats, error) {
	stats := BatchStats{ByStatus: make(map[model.BatchStatus]int64)}

	rows, err := q.db.Query(ctx, batchStatusCounts)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status model.BatchStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = q.db.QueryRow(ctx, batchSavings).Scan(&stats.TokensSaved, &stats.APICallsSaved, &stats.CostSaved)
	return stats, err
}
