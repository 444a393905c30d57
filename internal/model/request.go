package model

import "time"

// RequestType classifies how an inbound request is admitted and dispatched.
type RequestType string

const (
	RequestTypeChat          RequestType = "chat"
	RequestTypeImage         RequestType = "image"
	RequestTypeWebhook       RequestType = "webhook"
	RequestTypeBatchEligible RequestType = "batch_eligible"
)

// Priority is the admission tier assigned at enqueue time.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// TierBase returns the base priority score for the tier.
// The age boost added on top of this is what prevents starvation.
func (p Priority) TierBase() float64 {
	switch p {
	case PriorityCritical:
		return 100
	case PriorityHigh:
		return 75
	case PriorityNormal:
		return 50
	case PriorityLow:
		return 25
	default:
		return 50
	}
}

// RequestStatus is the queue state machine for a QueuedRequest.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
	StatusExpired    RequestStatus = "expired"
	StatusCancelled  RequestStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Message is one turn of chat history carried in the request payload.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatPayload is the original request body preserved through the queue.
type ChatPayload struct {
	Content        string    `json:"content"`
	History        []Message `json:"history,omitempty"`
	RequestedModel string    `json:"requested_model,omitempty"`
	ResponseMode   string    `json:"response_mode,omitempty"` // "stream" or "blocking"
	TenantID       string    `json:"tenant_id,omitempty"`
	PersonaID      string    `json:"persona_id,omitempty"`
}

// QueuedRequest is one admitted unit of work.
type QueuedRequest struct {
	ID            string        `json:"id"`
	Payload       ChatPayload   `json:"payload"`
	RequestType   RequestType   `json:"request_type"`
	Priority      Priority      `json:"priority"`
	PriorityScore float64       `json:"priority_score"`
	Status        RequestStatus `json:"status"`
	RetryCount    int           `json:"retry_count"`
	MaxRetries    int           `json:"max_retries"`

	// BatchID is set once the batch coordinator claims this request.
	// A claimed request is never dequeued by the individual path.
	BatchID     *string `json:"batch_id,omitempty"`
	CallbackURL *string `json:"callback_url,omitempty"`

	Result    *string `json:"result,omitempty"`
	LastError *string `json:"last_error,omitempty"`

	EnqueuedAt     time.Time  `json:"enqueued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LeaseOwner     *string    `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

// Batchable reports whether this request type may enter the batch path.
func (t RequestType) Batchable(allowed []RequestType) bool {
	for _, a := range allowed {
		if t == a {
			return true
		}
	}
	return false
}
