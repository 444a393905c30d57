// Package callback delivers request completion notifications to registered
// HTTP endpoints. Delivery is best-effort: a failed POST is logged and never
// affects the request's own terminal status.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

// Notifier posts request outcomes to callback URLs.
type Notifier struct {
	client *http.Client
}

// NewNotifier creates a Notifier with a short delivery timeout.
func NewNotifier() *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Payload is the JSON body delivered to a callback URL.
type Payload struct {
	Event            string  `json:"event"`
	RequestID        string  `json:"request_id"`
	Status           string  `json:"status"`
	Result           string  `json:"result,omitempty"`
	Error            string  `json:"error,omitempty"`
	Model            string  `json:"model,omitempty"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
	Batched          bool    `json:"batched,omitempty"`
	Timestamp        string  `json:"timestamp"`
}

// NotifyCompleted reports a successful completion.
func (n *Notifier) NotifyCompleted(ctx context.Context, url, requestID string, result *model.CompletionResult, batched bool) {
	p := Payload{
		Event:     "request.completed",
		RequestID: requestID,
		Status:    string(model.StatusCompleted),
		Batched:   batched,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if result != nil {
		p.Result = result.Text
		p.Model = result.Model
		p.PromptTokens = result.Usage.PromptTokens
		p.CompletionTokens = result.Usage.CompletionTokens
		p.Cost = result.Cost
	}
	n.send(ctx, url, p)
}

// NotifyFailed reports terminal failure with the last error preserved
// verbatim.
func (n *Notifier) NotifyFailed(ctx context.Context, url, requestID, errMsg string) {
	n.send(ctx, url, Payload{
		Event:     "request.failed",
		RequestID: requestID,
		Status:    string(model.StatusFailed),
		Error:     errMsg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *Notifier) send(ctx context.Context, url string, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("warn: callback marshal failed: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("warn: callback request failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("warn: callback delivery to %s failed: %v", url, err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("warn: callback delivery to %s returned %d", url, resp.StatusCode)
	}
}
