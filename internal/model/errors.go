package model

import "errors"

// Sentinel errors for admission, routing and batch failure classification.
var (
	// ErrConfigMissing means no default or fallback model is configured.
	// Fatal: surfaced to the caller, never retried.
	ErrConfigMissing = errors.New("no default or fallback model configured")

	// ErrAllModelsFailed means the catalog is empty and no fallback exists.
	ErrAllModelsFailed = errors.New("no usable model available")

	// ErrUpstreamCallFailed marks a transient provider failure; the request
	// returns to pending until retries are exhausted.
	ErrUpstreamCallFailed = errors.New("upstream call failed")

	// ErrBatchExecutionFailed marks a batch-level failure. Members are
	// released to individual processing, not failed outright.
	ErrBatchExecutionFailed = errors.New("batch execution failed")

	// ErrConfigStoreUnavailable marks a degraded configuration read.
	ErrConfigStoreUnavailable = errors.New("config store unavailable")
)

// ErrorDetail is the body of one API error.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// ErrorResponse is the wire shape of every gateway error.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}
