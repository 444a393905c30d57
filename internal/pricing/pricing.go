// Package pricing calculates per-request inference costs from token counts.
// Prices come from an embedded table keyed by model ID; catalog rows can
// override entries at runtime.
package pricing

import (
	_ "embed"
	"encoding/json"
	"strings"
	"sync"
)

//go:embed model_prices.json
var modelPricesJSON []byte

// ModelPrice holds per-token pricing for a model.
type ModelPrice struct {
	InputCostPerToken  float64 `json:"input_cost_per_token"`
	OutputCostPerToken float64 `json:"output_cost_per_token"`
	Provider           string  `json:"provider"`
}

// Calculator resolves model prices and computes request costs.
type Calculator struct {
	mu        sync.RWMutex
	models    map[string]ModelPrice
	overrides map[string]ModelPrice
}

var defaultCalculator *Calculator
var once sync.Once

// Default returns the singleton calculator loaded from the embedded table.
func Default() *Calculator {
	once.Do(func() {
		defaultCalculator = &Calculator{
			models:    make(map[string]ModelPrice),
			overrides: make(map[string]ModelPrice),
		}
		var raw map[string]ModelPrice
		if err := json.Unmarshal(modelPricesJSON, &raw); err == nil {
			defaultCalculator.models = raw
		}
	})
	return defaultCalculator
}

// Cost returns (promptCost, completionCost) in USD for a request.
func (c *Calculator) Cost(model string, promptTokens, completionTokens int) (float64, float64) {
	price, ok := c.lookup(model)
	if !ok {
		return 0, 0
	}
	return float64(promptTokens) * price.InputCostPerToken,
		float64(completionTokens) * price.OutputCostPerToken
}

// TotalCost returns the combined cost for a request.
func (c *Calculator) TotalCost(model string, promptTokens, completionTokens int) float64 {
	prompt, completion := c.Cost(model, promptTokens, completionTokens)
	return prompt + completion
}

// SetOverride registers runtime pricing for a model, taking priority over
// the embedded table. Used when catalog rows carry their own prices.
func (c *Calculator) SetOverride(model string, price ModelPrice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[model] = price
}

// GetModelPrice returns pricing for the given model, if known.
func (c *Calculator) GetModelPrice(model string) (ModelPrice, bool) {
	return c.lookup(model)
}

// lookup checks overrides first, then the embedded table; tries exact match,
// then the bare model name after a provider/ prefix.
func (c *Calculator) lookup(model string) (ModelPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.overrides[model]; ok {
		return p, true
	}
	if p, ok := c.models[model]; ok {
		return p, true
	}
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		if p, ok := c.models[model[idx+1:]]; ok {
			return p, true
		}
	}
	return ModelPrice{}, false
}
