// Package batch groups similar queued requests behind a single upstream
// call. Grouping keys on a similarity fingerprint of the detected intent
// and the salient prompt tokens; a batch collects members inside a short
// window, then one combined completion is demultiplexed back to every
// member in arrival order.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scottwelch968/Spork-V2-sub003/internal/db"
	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
	"github.com/scottwelch968/Spork-V2-sub003/internal/pricing"
	"github.com/scottwelch968/Spork-V2-sub003/internal/token"
)

const (
	// DefaultMinBatchSize promotes a collecting batch as soon as it has
	// this many members, without waiting for the window.
	DefaultMinBatchSize = 3

	// DefaultMaxBatchSize closes a batch to new members.
	DefaultMaxBatchSize = 10

	// DefaultWindow is the collection deadline for a new batch.
	DefaultWindow = 30 * time.Second

	// salientTokenLimit caps how many prompt tokens feed the fingerprint.
	salientTokenLimit = 12

	// perCallOverheadTokens approximates the fixed prompt overhead
	// (system prompt, message framing) each separate call would repeat.
	perCallOverheadTokens = 200
)

// Options tunes batch collection. Zero values fall back to defaults.
type Options struct {
	MinBatchSize   int
	MaxBatchSize   int
	Window         time.Duration
	BatchableTypes []model.RequestType
}

func (o Options) withDefaults() Options {
	if o.MinBatchSize <= 0 {
		o.MinBatchSize = DefaultMinBatchSize
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = DefaultMaxBatchSize
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.BatchableTypes == nil {
		o.BatchableTypes = []model.RequestType{model.RequestTypeBatchEligible}
	}
	return o
}

// Executor performs the single combined upstream call for a batch.
type Executor func(ctx context.Context, prompt string) (*model.CompletionResult, error)

// Coordinator owns RequestBatch state transitions and the batchId field
// on member requests.
type Coordinator struct {
	store  db.Store
	opts   Options
	tokens *token.Counter
}

// NewCoordinator creates a batch coordinator over the given store.
func NewCoordinator(store db.Store, opts Options) *Coordinator {
	return &Coordinator{store: store, opts: opts.withDefaults(), tokens: token.New()}
}

var (
	tokenSplitRe = regexp.MustCompile(`[^a-z0-9]+`)

	stopwords = map[string]struct{}{
		"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
		"i": {}, "you": {}, "it": {}, "we": {}, "they": {}, "me": {}, "my": {},
		"to": {}, "of": {}, "in": {}, "on": {}, "for": {}, "with": {}, "and": {},
		"or": {}, "do": {}, "does": {}, "can": {}, "could": {}, "would": {},
		"please": {}, "this": {}, "that": {}, "what": {}, "how": {},
	}
)

// Fingerprint computes the similarity hash used for grouping. Two prompts
// group together iff their intent category, request type and salient token
// set coincide.
func Fingerprint(category string, requestType model.RequestType, prompt string) string {
	raw := tokenSplitRe.Split(strings.ToLower(prompt), -1)
	seen := make(map[string]struct{})
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len(tok) < 3 {
			continue
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	if len(tokens) > salientTokenLimit {
		tokens = tokens[:salientTokenLimit]
	}

	sum := sha256.Sum256([]byte(category + "|" + string(requestType) + "|" + strings.Join(tokens, " ")))
	return hex.EncodeToString(sum[:])
}

// Batchable reports whether the request type participates in batching.
func (c *Coordinator) Batchable(t model.RequestType) bool {
	return t.Batchable(c.opts.BatchableTypes)
}

// FindOrCreateBatch returns the open collecting batch for the fingerprint,
// creating one with a fresh collection window when none exists or the
// existing one is full.
func (c *Coordinator) FindOrCreateBatch(ctx context.Context, similarityHash string, requestType model.RequestType) (model.RequestBatch, error) {
	existing, err := c.store.FindCollectingBatch(ctx, similarityHash, requestType)
	if err != nil {
		return model.RequestBatch{}, fmt.Errorf("find collecting batch: %w", err)
	}
	if existing != nil && existing.MemberCount() < c.opts.MaxBatchSize {
		return *existing, nil
	}

	now := time.Now()
	b := model.RequestBatch{
		ID:              uuid.NewString(),
		SimilarityHash:  similarityHash,
		RequestType:     requestType,
		Status:          model.BatchCollecting,
		WindowExpiresAt: now.Add(c.opts.Window),
		CreatedAt:       now,
	}
	if err := c.store.InsertBatch(ctx, b); err != nil {
		return model.RequestBatch{}, fmt.Errorf("insert batch: %w", err)
	}
	log.Printf("batch: opened %s hash=%.12s window=%s", b.ID, similarityHash, c.opts.Window)
	return b, nil
}

// AddToBatch stamps the request's batchId, removing it from the individual
// dequeue path, then appends it to the batch's member list. The stamp comes
// first: a request the individual path has already claimed must never end
// up in the combined prompt. Fails with ErrConflict when the request is no
// longer pending or the batch has left collecting; on the latter the stamp
// is rolled back so the request stays individually claimable, and the
// caller should open a new batch and retry.
func (c *Coordinator) AddToBatch(ctx context.Context, batchID, requestID string) error {
	if err := c.store.SetRequestBatchID(ctx, requestID, batchID); err != nil {
		return fmt.Errorf("stamp batch id on request %s: %w", requestID, err)
	}
	if err := c.store.AppendBatchMember(ctx, batchID, requestID); err != nil {
		if clearErr := c.store.ClearRequestBatchID(ctx, requestID, batchID); clearErr != nil {
			log.Printf("warn: batch: unstamp %s after closed batch %s: %v", requestID, batchID, clearErr)
		}
		return fmt.Errorf("append member to batch %s: %w", batchID, err)
	}
	return nil
}

// GetReadyBatches returns collecting batches that have reached the minimum
// size or whose window has expired with at least one member.
func (c *Coordinator) GetReadyBatches(ctx context.Context) ([]model.RequestBatch, error) {
	return c.store.ListReadyBatches(ctx, c.opts.MinBatchSize, time.Now())
}

// ProcessBatch executes the batch with one combined upstream call and
// demultiplexes the result to every member in arrival order. On executor
// failure the batch fails but the members do not: they are released back
// to individual processing, so a batch failure degrades to N individual
// attempts instead of N failures.
func (c *Coordinator) ProcessBatch(ctx context.Context, batchID string, exec Executor) error {
	if err := c.store.UpdateBatchStatus(ctx, batchID, model.BatchCollecting, model.BatchProcessing); err != nil {
		return fmt.Errorf("promote batch %s: %w", batchID, err)
	}

	b, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch %s: %w", batchID, err)
	}
	members, err := c.store.ListRequestsByIDs(ctx, b.MemberRequestIDs)
	if err != nil {
		return fmt.Errorf("load batch %s members: %w", batchID, err)
	}

	prompt := buildCombinedPrompt(members)
	result, err := exec(ctx, prompt)
	if err != nil {
		log.Printf("warn: batch: %s execution failed, releasing %d members: %v", batchID, len(members), err)
		c.releaseFailed(ctx, batchID)
		return fmt.Errorf("%w: %v", model.ErrBatchExecutionFailed, err)
	}

	responses := extractResponses(result.Text, len(members))
	for i, m := range members {
		if m.Status.Terminal() {
			continue
		}
		resp := responses[i]
		err := c.store.UpdateRequestStatus(ctx, m.ID,
			[]model.RequestStatus{model.StatusPending, model.StatusProcessing},
			model.StatusCompleted, &resp, nil)
		if err != nil {
			log.Printf("warn: batch: %s member %s not completed: %v", batchID, m.ID, err)
		}
	}

	tokensSaved, costSaved := c.savings(members, result)
	apiCallsSaved := len(members) - 1
	if err := c.store.FinalizeBatch(ctx, batchID, result.Model, tokensSaved, apiCallsSaved, costSaved); err != nil {
		return fmt.Errorf("finalize batch %s: %w", batchID, err)
	}
	log.Printf("batch: completed %s members=%d model=%s calls_saved=%d tokens_saved=%d",
		batchID, len(members), result.Model, apiCallsSaved, tokensSaved)
	return nil
}

func (c *Coordinator) releaseFailed(ctx context.Context, batchID string) {
	if err := c.store.UpdateBatchStatus(ctx, batchID, model.BatchProcessing, model.BatchFailed); err != nil {
		log.Printf("warn: batch: mark %s failed: %v", batchID, err)
	}
	n, err := c.store.ReleaseBatchMembers(ctx, batchID)
	if err != nil {
		log.Printf("warn: batch: release members of %s: %v", batchID, err)
		return
	}
	log.Printf("batch: released %d members of %s to individual processing", n, batchID)
}

// CleanupStaleBatches disbands batches whose window has passed with no
// promotable membership. Members re-enter individual admission.
func (c *Coordinator) CleanupStaleBatches(ctx context.Context) (int, error) {
	stale, err := c.store.ListStaleBatches(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("list stale batches: %w", err)
	}
	for _, b := range stale {
		if _, err := c.store.ReleaseBatchMembers(ctx, b.ID); err != nil {
			log.Printf("warn: batch: release members of stale %s: %v", b.ID, err)
			continue
		}
		if err := c.store.DeleteBatch(ctx, b.ID); err != nil {
			log.Printf("warn: batch: delete stale %s: %v", b.ID, err)
		}
	}
	if len(stale) > 0 {
		log.Printf("batch: disbanded %d stale batches", len(stale))
	}
	return len(stale), nil
}

// Stats returns batch counts by status plus cumulative savings.
func (c *Coordinator) Stats(ctx context.Context) (db.BatchStats, error) {
	return c.store.GetBatchStats(ctx)
}

// buildCombinedPrompt concatenates member payloads into one numbered
// prompt whose response format extractResponses can split again.
func buildCombinedPrompt(members []model.QueuedRequest) string {
	var sb strings.Builder
	sb.WriteString("Answer each of the following numbered requests independently.\n")
	sb.WriteString("Format your output with one section per request, each beginning with a line\n")
	sb.WriteString("of the exact form \"=== RESPONSE N ===\" where N is the request number.\n\n")
	for i, m := range members {
		fmt.Fprintf(&sb, "Request %d:\n%s\n\n", i+1, m.Payload.Content)
	}
	return sb.String()
}

var responseMarkerRe = regexp.MustCompile(`(?m)^===\s*RESPONSE\s+\d+\s*===\s*$`)

// extractResponses splits a combined completion back into n per-member
// responses in order. When the model ignored the section format, every
// member receives the full text rather than losing the result.
func extractResponses(text string, n int) []string {
	out := make([]string, n)

	parts := responseMarkerRe.Split(text, -1)
	// parts[0] is any preamble before the first marker.
	sections := make([]string, 0, len(parts))
	for i, p := range parts {
		if i == 0 {
			continue
		}
		sections = append(sections, strings.TrimSpace(p))
	}

	if len(sections) != n {
		full := strings.TrimSpace(text)
		for i := range out {
			out[i] = full
		}
		return out
	}
	copy(out, sections)
	return out
}

// estimateTokens counts with the model's tokenizer when one is known,
// falling back to the rough chars/4 heuristic. Accounting only, never
// billing.
func (c *Coordinator) estimateTokens(modelID, text string) int {
	if n := c.tokens.CountText(modelID, text); n >= 0 {
		return n
	}
	return (len(text) + 3) / 4
}

// savings compares the combined call's actual usage against an estimate of
// what the same members would have consumed as separate calls.
func (c *Coordinator) savings(members []model.QueuedRequest, result *model.CompletionResult) (tokensSaved int, costSaved float64) {
	separate := result.Usage.CompletionTokens
	for _, m := range members {
		separate += c.estimateTokens(result.Model, m.Payload.Content) + perCallOverheadTokens
	}
	tokensSaved = separate - result.Usage.TotalTokens
	if tokensSaved < 0 {
		tokensSaved = 0
	}
	// Attribute saved tokens at the model's prompt rate, since the overhead
	// removed is prompt-side.
	promptCost, _ := pricing.Default().Cost(result.Model, tokensSaved, 0)
	costSaved = promptCost
	return tokensSaved, costSaved
}
