package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

const listActiveMappings = `-- name: ListActiveMappings :many
SELECT id, intent_key, action_key, action_type, config, params, conditions, priority, active
FROM action_mappings
WHERE active = true
ORDER BY priority DESC, created_at ASC
`

func (q *Queries) ListActiveMappings(ctx context.Context) ([]model.ActionMapping, error) {
	rows, err := q.db.Query(ctx, listActiveMappings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.ActionMapping
	for rows.Next() {
		var m model.ActionMapping
		var config, params, conditions []byte
		if err := rows.Scan(
			&m.ID,
			&m.IntentKey,
			&m.ActionKey,
			&m.ActionType,
			&config,
			&params,
			&conditions,
			&m.Priority,
			&m.Active,
		); err != nil {
			return nil, err
		}
		if len(config) > 0 {
			if err := json.Unmarshal(config, &m.Config); err != nil {
				return nil, err
			}
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &m.Params); err != nil {
				return nil, err
			}
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &m.Conditions); err != nil {
				return nil, err
			}
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const modelCandidateColumns = `id, provider, categories, prompt_cost_per_token,
completion_cost_per_token, free, fallback, default_fallback, active`

func scanModelCandidate(row pgx.Row) (model.ModelCandidate, error) {
	var m model.ModelCandidate
	err := row.Scan(
		&m.ID,
		&m.Provider,
		&m.Categories,
		&m.PromptCostPerTok,
		&m.CompleteCostPerTok,
		&m.Free,
		&m.Fallback,
		&m.DefaultFallback,
		&m.Active,
	)
	return m, err
}

const listActiveModels = `-- name: ListActiveModels :many
SELECT ` + modelCandidateColumns + `
FROM model_candidates
WHERE active = true AND ($1::text = '' OR provider = $1)
ORDER BY id ASC
`

func (q *Queries) ListActiveModels(ctx context.Context, provider string) ([]model.ModelCandidate, error) {
	return q.listModels(ctx, listActiveModels, provider)
}

// listFallbackModels orders default-flagged fallbacks first so the router's
// fallback chain can take the first match.
const listFallbackModels = `-- name: ListFallbackModels :many
SELECT ` + modelCandidateColumns + `
FROM model_candidates
WHERE active = true AND fallback = true
ORDER BY default_fallback DESC, id ASC
`

func (q *Queries) ListFallbackModels(ctx context.Context) ([]model.ModelCandidate, error) {
	return q.listModels(ctx, listFallbackModels)
}

func (q *Queries) listModels(ctx context.Context, sql string, args ...any) ([]model.ModelCandidate, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.ModelCandidate
	for rows.Next() {
		m, err := scanModelCandidate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const getSystemSetting = `-- name: GetSystemSetting :one
SELECT value
FROM system_settings
WHERE key = $1
`

func (q *Queries) GetSystemSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := q.db.QueryRow(ctx, getSystemSetting, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}
