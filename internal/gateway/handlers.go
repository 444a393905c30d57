package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scottwelch968/Spork-V2-sub003/internal/action"
	"github.com/scottwelch968/Spork-V2-sub003/internal/batch"
	"github.com/scottwelch968/Spork-V2-sub003/internal/cache"
	"github.com/scottwelch968/Spork-V2-sub003/internal/db"
	"github.com/scottwelch968/Spork-V2-sub003/internal/intent"
	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
	"github.com/scottwelch968/Spork-V2-sub003/internal/prompt"
	"github.com/scottwelch968/Spork-V2-sub003/internal/provider"
	"github.com/scottwelch968/Spork-V2-sub003/internal/queue"
	"github.com/scottwelch968/Spork-V2-sub003/internal/router"
)

// statsCacheTTL bounds how stale the stats endpoints may serve.
const statsCacheTTL = 5 * time.Second

// DBPinger is the interface for database health checks.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	Store    db.Store
	Queue    *queue.Service
	Batches  *batch.Coordinator
	Resolver *action.Resolver
	Router   *router.Router
	Enhancer *prompt.Enhancer
	Provider provider.Completer
	Cache    cache.Cache
	Pinger   DBPinger // optional

	// inflight counts synchronous dispatches for the backpressure policy.
	inflight atomic.Int64
}

type submitRequest struct {
	Content        string          `json:"content"`
	History        []model.Message `json:"history,omitempty"`
	RequestedModel string          `json:"requested_model,omitempty"`
	ResponseMode   string          `json:"response_mode,omitempty"`
	TenantID       string          `json:"tenant_id,omitempty"`
	PersonaID      string          `json:"persona_id,omitempty"`
	Priority       string          `json:"priority,omitempty"`
	RequestType    string          `json:"request_type,omitempty"`
	CallbackURL    string          `json:"callback_url,omitempty"`
	TTLSeconds     int             `json:"ttl_seconds,omitempty"`
}

type queuedResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	BatchID   string `json:"batch_id,omitempty"`
}

type completionResponse struct {
	Result     string      `json:"result"`
	Model      string      `json:"model"`
	Usage      model.Usage `json:"usage"`
	Cost       float64     `json:"cost"`
	Intent     string      `json:"intent"`
	Confidence float64     `json:"confidence"`
}

// SubmitRequest admits a request. Webhook and batch-eligible requests
// always queue; interactive requests are served inline unless load has
// crossed the backpressure threshold.
func (h *Handlers) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	requestType := model.RequestTypeChat
	if req.RequestType != "" {
		requestType = model.RequestType(req.RequestType)
	}
	payload := model.ChatPayload{
		Content:        req.Content,
		History:        req.History,
		RequestedModel: req.RequestedModel,
		ResponseMode:   req.ResponseMode,
		TenantID:       req.TenantID,
		PersonaID:      req.PersonaID,
	}

	if !h.Queue.ShouldQueue(requestType, int(h.inflight.Load())) {
		h.dispatchSync(w, r, payload)
		return
	}

	opts := queue.EnqueueOptions{
		Priority:    model.Priority(req.Priority),
		RequestType: requestType,
		CallbackURL: req.CallbackURL,
	}
	if req.TTLSeconds > 0 {
		opts.TTL = time.Duration(req.TTLSeconds) * time.Second
	}
	id, err := h.Queue.Enqueue(r.Context(), payload, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := queuedResponse{RequestID: id, Status: string(model.StatusPending)}
	if h.Batches.Batchable(requestType) {
		if batchID := h.absorbIntoBatch(r.Context(), id, requestType, req.Content); batchID != "" {
			resp.BatchID = batchID
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// absorbIntoBatch groups the freshly queued request with similar ones.
// Failures degrade to individual processing and never fail the admission.
func (h *Handlers) absorbIntoBatch(ctx context.Context, requestID string, requestType model.RequestType, content string) string {
	cls := intent.Classify(content)
	hash := batch.Fingerprint(cls.Category, requestType, content)

	for attempt := 0; attempt < 2; attempt++ {
		b, err := h.Batches.FindOrCreateBatch(ctx, hash, requestType)
		if err != nil {
			log.Printf("warn: gateway: find batch for %s: %v", requestID, err)
			return ""
		}
		err = h.Batches.AddToBatch(ctx, b.ID, requestID)
		if err == nil {
			return b.ID
		}
		if !errors.Is(err, db.ErrConflict) {
			log.Printf("warn: gateway: add %s to batch %s: %v", requestID, b.ID, err)
			return ""
		}
		// Either the batch closed between find and add, or a worker claimed
		// the row first. Retrying opens a fresh batch for the former; for
		// the latter the second stamp fails too and the request proceeds
		// individually.
	}
	return ""
}

// dispatchSync serves an interactive request inline, streaming when the
// caller asked for it and the action plan allows it.
func (h *Handlers) dispatchSync(w http.ResponseWriter, r *http.Request, payload model.ChatPayload) {
	h.inflight.Add(1)
	defer h.inflight.Add(-1)

	ctx := r.Context()
	cls := intent.Classify(payload.Content)
	plan := h.Resolver.Resolve(ctx, cls.Category, payload.Content, map[string]any{
		"confidence": cls.Confidence,
	})

	cfg := router.LoadRoutingConfig(ctx, h.Store)
	sel, err := h.Router.RouteToModel(ctx, cls.Category, cfg, payload.RequestedModel)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	messages := h.Enhancer.Enhance(ctx, payload)

	if payload.ResponseMode == "stream" && plan.ShouldStream {
		h.streamCompletion(w, r, messages, sel.ModelID, cls)
		return
	}

	result, err := h.Provider.Complete(ctx, messages, sel.ModelID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, completionResponse{
		Result:     result.Text,
		Model:      result.Model,
		Usage:      result.Usage,
		Cost:       result.Cost,
		Intent:     cls.Category,
		Confidence: cls.Confidence,
	})
}

func (h *Handlers) streamCompletion(w http.ResponseWriter, r *http.Request, messages []model.Message, modelID string, cls intent.Classification) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported by connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	onDelta := func(delta string) {
		chunk, _ := json.Marshal(map[string]string{"delta": delta})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		flusher.Flush()
	}

	result, err := h.Provider.CompleteStream(r.Context(), messages, modelID, onDelta)
	if err != nil {
		chunk, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		flusher.Flush()
		return
	}

	final, _ := json.Marshal(completionResponse{
		Result:     result.Text,
		Model:      result.Model,
		Usage:      result.Usage,
		Cost:       result.Cost,
		Intent:     cls.Category,
		Confidence: cls.Confidence,
	})
	fmt.Fprintf(w, "data: %s\n\n", final)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// GetRequest returns the current state of a queued request.
func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	req, err := h.Queue.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// CancelRequest cancels a pending or processing request. A request already
// in a terminal state returns 409.
func (h *Handlers) CancelRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	if err := h.Queue.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrConflict) {
			writeError(w, http.StatusConflict, "request is not cancellable")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"request_id": id,
		"status":     string(model.StatusCancelled),
	})
}

// QueueStats serves queue counters, briefly cached.
func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	serveCachedStats(w, r, h.Cache, "cosmo:stats:queue", func(ctx context.Context) (any, error) {
		return h.Queue.Stats(ctx)
	})
}

// BatchStats serves batch counters and savings, briefly cached.
func (h *Handlers) BatchStats(w http.ResponseWriter, r *http.Request) {
	serveCachedStats(w, r, h.Cache, "cosmo:stats:batch", func(ctx context.Context) (any, error) {
		return h.Batches.Stats(ctx)
	})
}

func serveCachedStats(w http.ResponseWriter, r *http.Request, c cache.Cache, key string, load func(context.Context) (any, error)) {
	ctx := r.Context()
	if c != nil {
		if data, err := c.Get(ctx, key); err == nil && data != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}

	stats, err := load(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if c != nil {
		if err := c.Set(ctx, key, data, statsCacheTTL); err != nil {
			log.Printf("warn: gateway: cache stats %s: %v", key, err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// RefreshMappings drops the action-mapping cache immediately, independent
// of its TTL.
func (h *Handlers) RefreshMappings(w http.ResponseWriter, r *http.Request) {
	h.Resolver.RefreshCache()
	log.Printf("gateway: mapping cache refreshed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// ListModels returns the active model catalog.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.Store.ListActiveModels(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	models := make([]map[string]any, 0, len(catalog))
	for _, m := range catalog {
		models = append(models, map[string]any{
			"id":         m.ID,
			"object":     "model",
			"provider":   m.Provider,
			"categories": m.Categories,
			"free":       m.Free,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   models,
	})
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) HealthLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *Handlers) HealthReadiness(w http.ResponseWriter, r *http.Request) {
	if h.Pinger != nil {
		if err := h.Pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{
		Error: model.ErrorDetail{Message: msg},
	})
}
