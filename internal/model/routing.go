package model

// AutoModel is the sentinel a caller sends to request automatic routing.
const AutoModel = "auto"

// ModelCandidate is one row of the active model catalog. Read-only snapshot;
// routing never mutates it.
type ModelCandidate struct {
	ID                 string   `json:"id"`
	Provider           string   `json:"provider"`
	Categories         []string `json:"categories,omitempty"`
	PromptCostPerTok   float64  `json:"prompt_cost_per_token"`
	CompleteCostPerTok float64  `json:"completion_cost_per_token"`
	Free               bool     `json:"free"`
	Fallback           bool     `json:"fallback"`
	DefaultFallback    bool     `json:"default_fallback"`
	Active             bool     `json:"active"`
}

// TotalCostPerToken is the combined per-token price used for cost tiering.
// Free models always tier as zero-cost.
func (m ModelCandidate) TotalCostPerToken() float64 {
	if m.Free {
		return 0
	}
	return m.PromptCostPerTok + m.CompleteCostPerTok
}

// HasCategory reports whether the candidate declares affinity for category.
func (m ModelCandidate) HasCategory(category string) bool {
	for _, c := range m.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// CostTier is the coarse price partition used by weighted selection.
type CostTier string

const (
	TierLow      CostTier = "low"
	TierBalanced CostTier = "balanced"
	TierPremium  CostTier = "premium"
)

// RoutingConfig is the administrative routing policy in effect for a request.
type RoutingConfig struct {
	AutoRoutingEnabled bool   `json:"auto_routing_enabled"`
	DefaultModel       string `json:"default_model"`
	// CostQualityWeight is 0–100: 0 always picks the cheapest model,
	// 100 the most expensive.
	CostQualityWeight int `json:"cost_quality_weight"`
}

// ModelSelection is the outcome of a routing decision.
type ModelSelection struct {
	ModelID  string   `json:"model_id"`
	Provider string   `json:"provider,omitempty"`
	Tier     CostTier `json:"tier,omitempty"`
	Reason   string   `json:"reason"`
}
