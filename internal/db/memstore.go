package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

// MemStore is an in-memory Store used when no database_url is configured
// and by tests. A single mutex serializes every operation, which gives the
// same claim atomicity the Postgres implementation gets from row locks.
type MemStore struct {
	mu       sync.Mutex
	requests map[string]*model.QueuedRequest
	batches  map[string]*model.RequestBatch
	mappings []model.ActionMapping
	models   []model.ModelCandidate
	settings map[string]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		requests: make(map[string]*model.QueuedRequest),
		batches:  make(map[string]*model.RequestBatch),
		settings: make(map[string]string),
	}
}

var _ Store = (*MemStore)(nil)

// SeedMappings replaces the mapping configuration.
func (s *MemStore) SeedMappings(mappings []model.ActionMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = append([]model.ActionMapping(nil), mappings...)
}

// SeedModels replaces the model catalog.
func (s *MemStore) SeedModels(models []model.ModelCandidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = append([]model.ModelCandidate(nil), models...)
}

// SetSystemSetting sets a key/value system setting.
func (s *MemStore) SetSystemSetting(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
}

func (s *MemStore) InsertRequest(_ context.Context, req model.QueuedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := req
	s.requests[r.ID] = &r
	return nil
}

func (s *MemStore) GetRequest(_ context.Context, id string) (model.QueuedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return model.QueuedRequest{}, ErrNotFound
	}
	return *r, nil
}

func (s *MemStore) ListRequestsByIDs(_ context.Context, ids []string) ([]model.QueuedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]model.QueuedRequest, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.requests[id]; ok {
			items = append(items, *r)
		}
	}
	return items, nil
}

func (s *MemStore) ClaimNextPending(_ context.Context, workerID string, leaseTTL time.Duration, ageBoostPerMin float64) (*model.QueuedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	score := func(r *model.QueuedRequest) float64 {
		return r.PriorityScore + now.Sub(r.EnqueuedAt).Minutes()*ageBoostPerMin
	}

	var best *model.QueuedRequest
	for _, r := range s.requests {
		if r.Status != model.StatusPending || r.BatchID != nil || !r.ExpiresAt.After(now) {
			continue
		}
		if best == nil || score(r) > score(best) ||
			(score(r) == score(best) && r.EnqueuedAt.Before(best.EnqueuedAt)) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}

	expiry := now.Add(leaseTTL)
	best.Status = model.StatusProcessing
	best.LeaseOwner = &workerID
	best.LeaseExpiresAt = &expiry
	claimed := *best
	return &claimed, nil
}

func (s *MemStore) UpdateRequestStatus(_ context.Context, id string, expected []model.RequestStatus, to model.RequestStatus, result, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return ErrConflict
	}
	matched := false
	for _, e := range expected {
		if r.Status == e {
			matched = true
			break
		}
	}
	if !matched {
		return ErrConflict
	}
	r.Status = to
	if result != nil {
		r.Result = result
	}
	if lastError != nil {
		r.LastError = lastError
	}
	r.LeaseOwner = nil
	r.LeaseExpiresAt = nil
	return nil
}

func (s *MemStore) MarkRequestFailed(_ context.Context, id string, lastError string) (model.QueuedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != model.StatusProcessing {
		return model.QueuedRequest{}, ErrConflict
	}
	r.Status = model.StatusFailed
	r.RetryCount++
	r.LastError = &lastError
	r.LeaseOwner = nil
	r.LeaseExpiresAt = nil
	return *r, nil
}

func (s *MemStore) RetryFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != model.StatusFailed || r.RetryCount >= r.MaxRetries {
		return ErrConflict
	}
	r.Status = model.StatusPending
	return nil
}

func (s *MemStore) Heartbeat(_ context.Context, id, workerID string, extendTo time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != model.StatusProcessing || r.LeaseOwner == nil || *r.LeaseOwner != workerID {
		return false, nil
	}
	r.LeaseExpiresAt = &extendTo
	return true, nil
}

func (s *MemStore) ExpirePending(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.requests {
		if r.Status == model.StatusPending && !r.ExpiresAt.After(now) {
			r.Status = model.StatusExpired
			n++
		}
	}
	return n, nil
}

func (s *MemStore) ReclaimAbandoned(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.requests {
		if r.Status == model.StatusProcessing && r.LeaseExpiresAt != nil && !r.LeaseExpiresAt.After(now) {
			r.Status = model.StatusPending
			r.LeaseOwner = nil
			r.LeaseExpiresAt = nil
			n++
		}
	}
	return n, nil
}

func (s *MemStore) SetRequestBatchID(_ context.Context, id, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != model.StatusPending || r.BatchID != nil {
		return ErrConflict
	}
	r.BatchID = &batchID
	return nil
}

func (s *MemStore) ClearRequestBatchID(_ context.Context, id, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Status != model.StatusPending || r.BatchID == nil || *r.BatchID != batchID {
		return ErrConflict
	}
	r.BatchID = nil
	return nil
}

func (s *MemStore) ReleaseBatchMembers(_ context.Context, batchID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.requests {
		if r.BatchID == nil || *r.BatchID != batchID {
			continue
		}
		switch r.Status {
		case model.StatusPending, model.StatusProcessing, model.StatusFailed:
			r.BatchID = nil
			r.Status = model.StatusPending
			r.LeaseOwner = nil
			r.LeaseExpiresAt = nil
			n++
		}
	}
	return n, nil
}

func (s *MemStore) GetQueueStats(_ context.Context) (QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := QueueStats{ByStatus: make(map[model.RequestStatus]int64)}
	now := time.Now()
	for _, r := range s.requests {
		stats.ByStatus[r.Status]++
		if r.Status == model.StatusPending {
			if age := now.Sub(r.EnqueuedAt); age > stats.OldestPendingAge {
				stats.OldestPendingAge = age
			}
		}
	}
	return stats, nil
}

func (s *MemStore) InsertBatch(_ context.Context, b model.RequestBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb := b
	nb.MemberRequestIDs = append([]string(nil), b.MemberRequestIDs...)
	s.batches[nb.ID] = &nb
	return nil
}

func (s *MemStore) GetBatch(_ context.Context, id string) (model.RequestBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return model.RequestBatch{}, ErrNotFound
	}
	return copyBatch(b), nil
}

func (s *MemStore) FindCollectingBatch(_ context.Context, similarityHash string, requestType model.RequestType) (*model.RequestBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var best *model.RequestBatch
	for _, b := range s.batches {
		if b.Status != model.BatchCollecting || b.SimilarityHash != similarityHash ||
			b.RequestType != requestType || !b.WindowExpiresAt.After(now) {
			continue
		}
		if best == nil || b.CreatedAt.Before(best.CreatedAt) {
			best = b
		}
	}
	if best == nil {
		return nil, nil
	}
	c := copyBatch(best)
	return &c, nil
}

func (s *MemStore) AppendBatchMember(_ context.Context, batchID, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.Status != model.BatchCollecting {
		return ErrConflict
	}
	b.MemberRequestIDs = append(b.MemberRequestIDs, requestID)
	return nil
}

func (s *MemStore) ListReadyBatches(_ context.Context, minSize int, now time.Time) ([]model.RequestBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []model.RequestBatch
	for _, b := range s.batches {
		if b.Ready(minSize, now) {
			items = append(items, copyBatch(b))
		}
	}
	sortBatchesByCreation(items)
	return items, nil
}

func (s *MemStore) ListStaleBatches(_ context.Context, now time.Time) ([]model.RequestBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []model.RequestBatch
	for _, b := range s.batches {
		if b.Status == model.BatchCollecting && !b.WindowExpiresAt.After(now) && len(b.MemberRequestIDs) == 0 {
			items = append(items, copyBatch(b))
		}
	}
	sortBatchesByCreation(items)
	return items, nil
}

func (s *MemStore) UpdateBatchStatus(_ context.Context, id string, expected, to model.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok || b.Status != expected {
		return ErrConflict
	}
	b.Status = to
	return nil
}

func (s *MemStore) FinalizeBatch(_ context.Context, id, modelUsed string, tokensSaved, apiCallsSaved int, costSaved float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok || b.Status != model.BatchProcessing {
		return ErrConflict
	}
	b.Status = model.BatchCompleted
	b.ModelUsed = modelUsed
	b.TokensSaved = tokensSaved
	b.APICallsSaved = apiCallsSaved
	b.CostSaved = costSaved
	return nil
}

func (s *MemStore) DeleteBatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, id)
	return nil
}

func (s *MemStore) GetBatchStats(_ context.Context) (BatchStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := BatchStats{ByStatus: make(map[model.BatchStatus]int64)}
	for _, b := range s.batches {
		stats.ByStatus[b.Status]++
		if b.Status == model.BatchCompleted {
			stats.TokensSaved += int64(b.TokensSaved)
			stats.APICallsSaved += int64(b.APICallsSaved)
			stats.CostSaved += b.CostSaved
		}
	}
	return stats, nil
}

func (s *MemStore) ListActiveMappings(_ context.Context) ([]model.ActionMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []model.ActionMapping
	for _, m := range s.mappings {
		if m.Active {
			items = append(items, m)
		}
	}
	return items, nil
}

func (s *MemStore) ListActiveModels(_ context.Context, provider string) ([]model.ModelCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []model.ModelCandidate
	for _, m := range s.models {
		if m.Active && (provider == "" || m.Provider == provider) {
			items = append(items, m)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemStore) ListFallbackModels(_ context.Context) ([]model.ModelCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []model.ModelCandidate
	for _, m := range s.models {
		if m.Active && m.Fallback {
			items = append(items, m)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].DefaultFallback != items[j].DefaultFallback {
			return items[i].DefaultFallback
		}
		return strings.Compare(items[i].ID, items[j].ID) < 0
	})
	return items, nil
}

func (s *MemStore) GetSystemSetting(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func copyBatch(b *model.RequestBatch) model.RequestBatch {
	c := *b
	c.MemberRequestIDs = append([]string(nil), b.MemberRequestIDs...)
	return c
}

func sortBatchesByCreation(items []model.RequestBatch) {
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
}
