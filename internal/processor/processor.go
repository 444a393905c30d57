// Package processor drives the queue: each pass expires stale requests,
// reclaims dead leases, disbands stale batches, executes ready batches
// sequentially, then fans individual requests out to a bounded worker
// pool. Passes are short and re-invoked by the scheduler; nothing here
// runs a long-lived loop.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/scottwelch968/Spork-V2-sub003/internal/action"
	"github.com/scottwelch968/Spork-V2-sub003/internal/batch"
	"github.com/scottwelch968/Spork-V2-sub003/internal/callback"
	"github.com/scottwelch968/Spork-V2-sub003/internal/db"
	"github.com/scottwelch968/Spork-V2-sub003/internal/intent"
	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
	"github.com/scottwelch968/Spork-V2-sub003/internal/prompt"
	"github.com/scottwelch968/Spork-V2-sub003/internal/provider"
	"github.com/scottwelch968/Spork-V2-sub003/internal/queue"
	"github.com/scottwelch968/Spork-V2-sub003/internal/router"
)

// DefaultWorkers is the individual-dispatch pool width per pass.
const DefaultWorkers = 8

// Config wires the processor's collaborators.
type Config struct {
	Store    db.Store
	Queue    *queue.Service
	Batches  *batch.Coordinator
	Resolver *action.Resolver
	Router   *router.Router
	Enhancer *prompt.Enhancer
	Provider provider.Completer
	Notifier *callback.Notifier

	// WorkerID identifies this instance in dequeue leases.
	WorkerID string
	// Workers bounds concurrent individual executions per pass.
	Workers int
}

// Processor executes queued work against the inference provider.
type Processor struct {
	cfg Config
}

// New creates a Processor. Workers defaults when unset.
func New(cfg Config) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "processor"
	}
	return &Processor{cfg: cfg}
}

// PassResult summarizes one processing pass.
type PassResult struct {
	Expired          int64
	Reclaimed        int64
	StaleDisbanded   int
	BatchesProcessed int
	Executed         int
}

// RunPass performs one full processing pass. Individual execution errors
// are absorbed into per-request retry state; only infrastructure failures
// surface as the returned error.
func (p *Processor) RunPass(ctx context.Context) (PassResult, error) {
	var res PassResult
	var err error

	if res.Expired, err = p.cfg.Queue.CleanupExpired(ctx); err != nil {
		return res, fmt.Errorf("processor: %w", err)
	}
	if res.Reclaimed, err = p.cfg.Queue.ReclaimAbandoned(ctx); err != nil {
		return res, fmt.Errorf("processor: %w", err)
	}
	if res.StaleDisbanded, err = p.cfg.Batches.CleanupStaleBatches(ctx); err != nil {
		return res, fmt.Errorf("processor: %w", err)
	}

	if res.BatchesProcessed, err = p.processReadyBatches(ctx); err != nil {
		return res, fmt.Errorf("processor: %w", err)
	}

	res.Executed = p.processIndividual(ctx)
	return res, nil
}

// processReadyBatches promotes and executes every currently-ready batch,
// sequentially. A failed batch releases its members and does not stop the
// remaining batches.
func (p *Processor) processReadyBatches(ctx context.Context) (int, error) {
	ready, err := p.cfg.Batches.GetReadyBatches(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, b := range ready {
		exec := func(ctx context.Context, combined string) (*model.CompletionResult, error) {
			sel, err := p.route(ctx, "", model.AutoModel)
			if err != nil {
				return nil, err
			}
			messages := []model.Message{{Role: "user", Content: combined}}
			return p.cfg.Provider.Complete(ctx, messages, sel.ModelID)
		}

		if err := p.cfg.Batches.ProcessBatch(ctx, b.ID, exec); err != nil {
			if errors.Is(err, db.ErrConflict) {
				continue // another instance took it
			}
			log.Printf("warn: processor: batch %s: %v", b.ID, err)
			continue
		}
		processed++
		p.notifyBatchMembers(ctx, b.ID)
	}
	return processed, nil
}

func (p *Processor) notifyBatchMembers(ctx context.Context, batchID string) {
	b, err := p.cfg.Store.GetBatch(ctx, batchID)
	if err != nil {
		log.Printf("warn: processor: reload batch %s for callbacks: %v", batchID, err)
		return
	}
	members, err := p.cfg.Store.ListRequestsByIDs(ctx, b.MemberRequestIDs)
	if err != nil {
		log.Printf("warn: processor: load members of %s for callbacks: %v", batchID, err)
		return
	}
	for _, m := range members {
		if m.CallbackURL == nil || m.Result == nil {
			continue
		}
		result := &model.CompletionResult{Text: *m.Result, Model: b.ModelUsed}
		p.cfg.Notifier.NotifyCompleted(ctx, *m.CallbackURL, m.ID, result, true)
	}
}

// processIndividual claims up to Workers pending requests and executes
// them concurrently. Returns the number of requests dispatched.
func (p *Processor) processIndividual(ctx context.Context) int {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	dispatched := 0
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("%s-%d", p.cfg.WorkerID, i)
		req, err := p.cfg.Queue.DequeueNext(ctx, workerID)
		if err != nil {
			log.Printf("warn: processor: dequeue: %v", err)
			break
		}
		if req == nil {
			break
		}
		if req.BatchID != nil {
			// Owned by the batch path; its outcome comes from the batch.
			continue
		}
		dispatched++
		r := *req
		g.Go(func() error {
			p.executeOne(gctx, r)
			return nil
		})
	}
	_ = g.Wait()
	return dispatched
}

// executeOne runs the full pipeline for a claimed request: intent
// classification, action resolution, routing, prompt assembly, the
// provider call, then status and callback bookkeeping.
func (p *Processor) executeOne(ctx context.Context, req model.QueuedRequest) {
	cls := intent.Classify(req.Payload.Content)

	plan := p.cfg.Resolver.Resolve(ctx, cls.Category, req.Payload.Content, map[string]any{
		"confidence": cls.Confidence,
	})
	if len(plan.ExecutionOrder) > 0 {
		log.Printf("processor: request %s intent=%s actions=%v complexity=%s",
			req.ID, cls.Category, plan.ExecutionOrder, plan.EstimatedComplexity)
	}

	sel, err := p.route(ctx, cls.Category, req.Payload.RequestedModel)
	if err != nil {
		p.recordFailure(ctx, req, fmt.Sprintf("routing: %v", err))
		return
	}

	messages := p.cfg.Enhancer.Enhance(ctx, req.Payload)
	result, err := p.cfg.Provider.Complete(ctx, messages, sel.ModelID)
	if err != nil {
		p.recordFailure(ctx, req, err.Error())
		return
	}

	if err := p.cfg.Queue.Complete(ctx, req.ID, result.Text); err != nil {
		if errors.Is(err, db.ErrConflict) {
			// Cancelled mid-flight; the result is discarded.
			log.Printf("processor: request %s finished after cancellation, result discarded", req.ID)
			return
		}
		log.Printf("warn: processor: complete %s: %v", req.ID, err)
		return
	}

	log.Printf("processor: completed %s model=%s tokens=%d", req.ID, result.Model, result.Usage.TotalTokens)
	if req.CallbackURL != nil {
		p.cfg.Notifier.NotifyCompleted(ctx, *req.CallbackURL, req.ID, result, false)
	}
}

func (p *Processor) route(ctx context.Context, category, requestedModel string) (model.ModelSelection, error) {
	cfg := router.LoadRoutingConfig(ctx, p.cfg.Store)
	return p.cfg.Router.RouteToModel(ctx, category, cfg, requestedModel)
}

// recordFailure books a failed attempt. Callback delivery is best-effort
// and only fires once retries are exhausted.
func (p *Processor) recordFailure(ctx context.Context, req model.QueuedRequest, cause string) {
	retrying, err := p.cfg.Queue.Fail(ctx, req.ID, cause)
	if err != nil {
		if errors.Is(err, db.ErrConflict) {
			log.Printf("processor: request %s failed after cancellation, ignored", req.ID)
			return
		}
		log.Printf("warn: processor: record failure for %s: %v", req.ID, err)
		return
	}
	if !retrying && req.CallbackURL != nil {
		p.cfg.Notifier.NotifyFailed(ctx, *req.CallbackURL, req.ID, cause)
	}
}
