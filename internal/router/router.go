// Package router selects an inference model for a request from the active
// catalog, weighting cost against quality and falling back through
// administrator-configured tiers when the catalog cannot serve.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/scottwelch968/Spork-V2-sub003/internal/db"
	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

// SettingFallbackModel is the system-settings key naming the explicit
// fallback model.
const SettingFallbackModel = "fallback_model"

// Router makes model routing decisions against the configuration store.
type Router struct {
	store db.Store
}

// New creates a Router backed by the given store.
func New(store db.Store) *Router {
	return &Router{store: store}
}

// RouteToModel picks a model for a request.
//
// Decision order: an explicitly requested model is honored verbatim; with
// auto-routing disabled the configured default is used; otherwise the
// active catalog is filtered by category affinity (a miss falls back to
// the unfiltered catalog, never an error) and weighted selection picks
// within it. An unservable catalog triggers the fallback chain; total
// absence of any fallback is a hard error because no request can be served.
func (r *Router) RouteToModel(ctx context.Context, intentCategory string, cfg model.RoutingConfig, requestedModel string) (model.ModelSelection, error) {
	if requestedModel != "" && requestedModel != model.AutoModel {
		return model.ModelSelection{
			ModelID: requestedModel,
			Reason:  "explicit request",
		}, nil
	}

	if !cfg.AutoRoutingEnabled {
		if cfg.DefaultModel != "" {
			return model.ModelSelection{
				ModelID: cfg.DefaultModel,
				Reason:  "auto-routing disabled",
			}, nil
		}
		return r.fallback(ctx, model.ErrConfigMissing)
	}

	catalog, err := r.store.ListActiveModels(ctx, "")
	if err != nil {
		log.Printf("router: catalog read failed: %v", err)
		return r.fallback(ctx, fmt.Errorf("%w: %v", model.ErrConfigStoreUnavailable, err))
	}
	if len(catalog) == 0 {
		return r.fallback(ctx, model.ErrAllModelsFailed)
	}

	candidates := filterByCategory(catalog, intentCategory)

	selected, tier := SelectModelByWeight(candidates, cfg.CostQualityWeight)
	if selected == nil {
		return r.fallback(ctx, model.ErrAllModelsFailed)
	}

	return model.ModelSelection{
		ModelID:  selected.ID,
		Provider: selected.Provider,
		Tier:     tier,
		Reason:   fmt.Sprintf("weighted selection (weight=%d, category=%s)", cfg.CostQualityWeight, intentCategory),
	}, nil
}

// filterByCategory keeps candidates with declared affinity for category.
// A filter that eliminates everything returns the full set; a category
// miss must never make routing fail on its own.
func filterByCategory(catalog []model.ModelCandidate, category string) []model.ModelCandidate {
	if category == "" {
		return catalog
	}
	var filtered []model.ModelCandidate
	for _, m := range catalog {
		if m.HasCategory(category) {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) == 0 {
		return catalog
	}
	return filtered
}

// SelectModelByWeight picks a candidate by cost/quality weight in [0,100].
// Candidates sort ascending by total per-token cost and partition into
// three cost tiers sized by integer ceiling, so one- and two-model sets
// degenerate gracefully. The weight interpolates an index within the
// matching tier's sub-range: weight 0 always yields the cheapest model,
// weight 100 the most expensive, deterministically in between.
func SelectModelByWeight(candidates []model.ModelCandidate, weight int) (*model.ModelCandidate, model.CostTier) {
	if len(candidates) == 0 {
		return nil, ""
	}
	if weight < 0 {
		weight = 0
	}
	if weight > 100 {
		weight = 100
	}

	sorted := append([]model.ModelCandidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := sorted[i].TotalCostPerToken(), sorted[j].TotalCostPerToken()
		if ci != cj {
			return ci < cj
		}
		return sorted[i].ID < sorted[j].ID
	})

	n := len(sorted)
	tierSize := (n + 2) / 3

	var tier model.CostTier
	var tierIdx int
	var lo, hi int // weight sub-range covered by the tier
	switch {
	case weight <= 33:
		tier, tierIdx, lo, hi = model.TierLow, 0, 0, 33
	case weight <= 66:
		tier, tierIdx, lo, hi = model.TierBalanced, 1, 34, 66
	default:
		tier, tierIdx, lo, hi = model.TierPremium, 2, 67, 100
	}

	start := tierIdx * tierSize
	if start > n-1 {
		start = n - 1
	}
	end := start + tierSize
	if end > n {
		end = n
	}

	frac := float64(weight-lo) / float64(hi-lo)
	idx := start + int(math.Round(frac*float64(end-start-1)))
	if idx > n-1 {
		idx = n - 1
	}

	selected := sorted[idx]
	return &selected, tier
}

// fallback walks the administrator-configured fallback chain: the explicit
// fallback setting, then the default-flagged fallback, then any active
// fallback. cause is surfaced when the chain is empty.
func (r *Router) fallback(ctx context.Context, cause error) (model.ModelSelection, error) {
	if id, err := r.store.GetSystemSetting(ctx, SettingFallbackModel); err == nil && id != "" {
		return model.ModelSelection{ModelID: id, Reason: "explicit fallback"}, nil
	} else if err != nil && !errors.Is(err, db.ErrNotFound) {
		log.Printf("router: fallback setting read failed: %v", err)
	}

	// ListFallbackModels orders default-flagged candidates first.
	fallbacks, err := r.store.ListFallbackModels(ctx)
	if err != nil {
		log.Printf("router: fallback catalog read failed: %v", err)
	}
	if len(fallbacks) > 0 {
		fb := fallbacks[0]
		reason := "fallback model"
		if fb.DefaultFallback {
			reason = "default fallback"
		}
		return model.ModelSelection{ModelID: fb.ID, Provider: fb.Provider, Reason: reason}, nil
	}

	return model.ModelSelection{}, fmt.Errorf("routing failed and no fallback model configured: %w", cause)
}
