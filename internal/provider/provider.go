// Package provider wraps external model-inference services behind a small
// completion capability. Upstream specifics (transport, streaming framing)
// stay here; callers see normalized results with usage and cost metadata.
package provider

import (
	"context"

	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

// Completer is the inference capability injected into the dispatch paths.
type Completer interface {
	// Complete performs a single-shot completion.
	Complete(ctx context.Context, messages []model.Message, modelID string) (*model.CompletionResult, error)

	// CompleteStream performs a streaming completion and returns the
	// accumulated result once the stream ends. Each chunk of text is
	// passed to onDelta as it arrives; onDelta may be nil.
	CompleteStream(ctx context.Context, messages []model.Message, modelID string, onDelta func(string)) (*model.CompletionResult, error)
}
