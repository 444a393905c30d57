package model

// WildcardIntent matches every intent key when used on a mapping.
const WildcardIntent = "*"

// ActionType classifies what executing an action involves.
type ActionType string

const (
	ActionModelCall   ActionType = "model_call"
	ActionExternalAPI ActionType = "external_api"
	ActionInternal    ActionType = "internal"
)

// ConditionKind is the closed set of supported activation predicates.
type ConditionKind string

const (
	// CondPromptContainsAny passes when the prompt contains any keyword
	// (case-insensitive).
	CondPromptContainsAny ConditionKind = "prompt_contains_any"
	// CondContextHasAll passes when every named context key is truthy.
	CondContextHasAll ConditionKind = "context_has_all"
	// CondMinConfidence passes when context confidence >= Threshold.
	CondMinConfidence ConditionKind = "min_confidence"
)

// Condition is one activation predicate on an ActionMapping.
// An empty condition list always passes.
type Condition struct {
	Kind      ConditionKind `json:"kind"`
	Keywords  []string      `json:"keywords,omitempty"`
	Keys      []string      `json:"keys,omitempty"`
	Threshold float64       `json:"threshold,omitempty"`
}

// ParamPattern extracts one parameter from the prompt. Pattern is a regex;
// the first capture group (or whole match) becomes the value. Default is
// used when the pattern does not match.
type ParamPattern struct {
	Pattern string `json:"pattern"`
	Default string `json:"default,omitempty"`
}

// ActionMapping is one externally sourced intent→action configuration row.
type ActionMapping struct {
	ID         string                  `json:"id"`
	IntentKey  string                  `json:"intent_key"`
	ActionKey  string                  `json:"action_key"`
	ActionType ActionType              `json:"action_type"`
	Config     map[string]any          `json:"config,omitempty"`
	Params     map[string]ParamPattern `json:"params,omitempty"`
	Priority   int                     `json:"priority"`
	Conditions []Condition             `json:"conditions,omitempty"`
	Active     bool                    `json:"active"`
}

// Complexity is a coarse estimate of how much work an ActionPlan implies.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// ResolvedAction is one action surviving condition evaluation, with its
// extracted parameters.
type ResolvedAction struct {
	ActionKey       string            `json:"action_key"`
	ActionType      ActionType        `json:"action_type"`
	Config          map[string]any    `json:"config,omitempty"`
	ExtractedParams map[string]string `json:"extracted_params,omitempty"`
	Priority        int               `json:"priority"`
}

// ActionPlan is the ordered result of resolving an intent against the
// mapping configuration.
type ActionPlan struct {
	Actions              []ResolvedAction `json:"actions"`
	ExecutionOrder       []string         `json:"execution_order"`
	EstimatedComplexity  Complexity       `json:"estimated_complexity"`
	ShouldStream         bool             `json:"should_stream"`
	TotalEstimatedTimeMs int              `json:"total_estimated_time_ms"`
}
