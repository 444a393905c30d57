// Package queue implements request admission: priority scoring with an
// age-based anti-starvation boost, leased dequeue, retries, expiry and
// cancellation. The store supplies the atomic claim; this layer owns the
// policy around it.
package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/scottwelch968/Spork-V2-sub003/internal/db"
	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

const (
	// DefaultTTL bounds how long a request may wait before it expires.
	DefaultTTL = 10 * time.Minute

	// DefaultLeaseTTL is how long a claimed request stays owned by a worker
	// before it is considered abandoned.
	DefaultLeaseTTL = 2 * time.Minute

	// DefaultMaxRetries caps failed→pending transitions per request.
	DefaultMaxRetries = 3

	// DefaultAgeBoostPerMin is the score added per minute of waiting. With
	// tier bases 25 apart, a normal request overtakes a fresh high request
	// after 25 minutes.
	DefaultAgeBoostPerMin = 1.0

	// DefaultLoadThreshold is the in-flight count above which interactive
	// requests are pushed onto the queue instead of served inline.
	DefaultLoadThreshold = 32
)

// Options tunes admission behavior. Zero values fall back to defaults.
type Options struct {
	TTL            time.Duration
	LeaseTTL       time.Duration
	MaxRetries     int
	AgeBoostPerMin float64
	LoadThreshold  int
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = DefaultLeaseTTL
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.AgeBoostPerMin <= 0 {
		o.AgeBoostPerMin = DefaultAgeBoostPerMin
	}
	if o.LoadThreshold <= 0 {
		o.LoadThreshold = DefaultLoadThreshold
	}
	return o
}

// Service is the admission queue facade over the store.
type Service struct {
	store db.Store
	opts  Options
}

// NewService creates an admission queue over the given store.
func NewService(store db.Store, opts Options) *Service {
	return &Service{store: store, opts: opts.withDefaults()}
}

// EnqueueOptions carries per-request admission parameters.
type EnqueueOptions struct {
	Priority    model.Priority
	RequestType model.RequestType
	CallbackURL string
	TTL         time.Duration
	MaxRetries  int
}

// Enqueue admits a request and returns its ID. The priority score is the
// tier base; the age boost is applied at claim time so waiting rows rise
// without rewrites.
func (s *Service) Enqueue(ctx context.Context, payload model.ChatPayload, opts EnqueueOptions) (string, error) {
	if opts.Priority == "" {
		opts.Priority = model.PriorityNormal
	}
	if opts.RequestType == "" {
		opts.RequestType = model.RequestTypeChat
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.opts.TTL
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.opts.MaxRetries
	}

	now := time.Now()
	req := model.QueuedRequest{
		ID:            uuid.NewString(),
		Payload:       payload,
		RequestType:   opts.RequestType,
		Priority:      opts.Priority,
		PriorityScore: opts.Priority.TierBase(),
		Status:        model.StatusPending,
		MaxRetries:    maxRetries,
		EnqueuedAt:    now,
		ExpiresAt:     now.Add(ttl),
	}
	if opts.CallbackURL != "" {
		req.CallbackURL = &opts.CallbackURL
	}

	if err := s.store.InsertRequest(ctx, req); err != nil {
		return "", fmt.Errorf("enqueue request: %w", err)
	}
	log.Printf("queue: enqueued %s priority=%s type=%s", req.ID, req.Priority, req.RequestType)
	return req.ID, nil
}

// ShouldQueue decides whether a request must enter the queue. Webhook and
// batch-eligible requests always queue; interactive requests only queue
// once in-flight load crosses the threshold.
func (s *Service) ShouldQueue(requestType model.RequestType, currentLoad int) bool {
	switch requestType {
	case model.RequestTypeWebhook, model.RequestTypeBatchEligible:
		return true
	}
	return currentLoad >= s.opts.LoadThreshold
}

// DequeueNext claims the highest-priority pending request for workerID, or
// returns nil when the queue is empty.
func (s *Service) DequeueNext(ctx context.Context, workerID string) (*model.QueuedRequest, error) {
	req, err := s.store.ClaimNextPending(ctx, workerID, s.opts.LeaseTTL, s.opts.AgeBoostPerMin)
	if err != nil {
		return nil, fmt.Errorf("claim next pending: %w", err)
	}
	return req, nil
}

// Get returns a request by ID.
func (s *Service) Get(ctx context.Context, id string) (model.QueuedRequest, error) {
	return s.store.GetRequest(ctx, id)
}

// Complete transitions processing→completed and records the result.
func (s *Service) Complete(ctx context.Context, id string, result string) error {
	err := s.store.UpdateRequestStatus(ctx, id,
		[]model.RequestStatus{model.StatusProcessing}, model.StatusCompleted, &result, nil)
	if err != nil {
		return fmt.Errorf("complete request %s: %w", id, err)
	}
	return nil
}

// Fail records a failure and re-queues the request while retries remain.
// It reports whether another attempt will happen.
func (s *Service) Fail(ctx context.Context, id string, cause string) (retrying bool, err error) {
	req, err := s.store.MarkRequestFailed(ctx, id, cause)
	if err != nil {
		return false, fmt.Errorf("mark request %s failed: %w", id, err)
	}
	if req.RetryCount >= req.MaxRetries {
		log.Printf("queue: request %s exhausted retries (%d): %s", id, req.RetryCount, cause)
		return false, nil
	}
	if err := s.store.RetryFailed(ctx, id); err != nil {
		return false, fmt.Errorf("retry request %s: %w", id, err)
	}
	log.Printf("queue: request %s retry %d/%d: %s", id, req.RetryCount, req.MaxRetries, cause)
	return true, nil
}

// Cancel transitions a pending or processing request to cancelled. An
// in-flight provider call is allowed to finish; its result is discarded
// when the completion update hits the cancelled state.
func (s *Service) Cancel(ctx context.Context, id string) error {
	err := s.store.UpdateRequestStatus(ctx, id,
		[]model.RequestStatus{model.StatusPending, model.StatusProcessing},
		model.StatusCancelled, nil, nil)
	if err != nil {
		return fmt.Errorf("cancel request %s: %w", id, err)
	}
	log.Printf("queue: cancelled %s", id)
	return nil
}

// Heartbeat extends the worker's lease on a claimed request.
func (s *Service) Heartbeat(ctx context.Context, id, workerID string) (bool, error) {
	return s.store.Heartbeat(ctx, id, workerID, time.Now().Add(s.opts.LeaseTTL))
}

// CleanupExpired sweeps pending rows past their TTL into expired.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.store.ExpirePending(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("expire pending: %w", err)
	}
	if n > 0 {
		log.Printf("queue: expired %d pending requests", n)
	}
	return n, nil
}

// ReclaimAbandoned returns processing rows with dead leases to pending.
func (s *Service) ReclaimAbandoned(ctx context.Context) (int64, error) {
	n, err := s.store.ReclaimAbandoned(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("reclaim abandoned: %w", err)
	}
	if n > 0 {
		log.Printf("queue: reclaimed %d abandoned requests", n)
	}
	return n, nil
}

// Stats returns queue counts by status and the oldest pending age.
func (s *Service) Stats(ctx context.Context) (db.QueueStats, error) {
	return s.store.GetQueueStats(ctx)
}
