package model

import "time"

// BatchStatus is the state machine for a RequestBatch.
type BatchStatus string

const (
	BatchCollecting BatchStatus = "collecting"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// RequestBatch groups similar pending requests behind a single upstream call.
type RequestBatch struct {
	ID             string      `json:"id"`
	SimilarityHash string      `json:"similarity_hash"`
	RequestType    RequestType `json:"request_type"`
	Status         BatchStatus `json:"status"`

	// MemberRequestIDs preserves arrival order; response demultiplexing
	// relies on this ordering.
	MemberRequestIDs []string `json:"member_request_ids"`

	WindowExpiresAt time.Time `json:"window_expires_at"`
	CreatedAt       time.Time `json:"created_at"`

	ModelUsed     string  `json:"model_used,omitempty"`
	TokensSaved   int     `json:"tokens_saved"`
	APICallsSaved int     `json:"api_calls_saved"`
	CostSaved     float64 `json:"cost_saved"`
}

// MemberCount returns the number of requests absorbed into the batch.
func (b *RequestBatch) MemberCount() int {
	return len(b.MemberRequestIDs)
}

// Ready reports whether the batch qualifies for promotion to processing.
func (b *RequestBatch) Ready(minSize int, now time.Time) bool {
	if b.Status != BatchCollecting {
		return false
	}
	if b.MemberCount() >= minSize {
		return true
	}
	return b.MemberCount() >= 1 && !now.Before(b.WindowExpiresAt)
}
