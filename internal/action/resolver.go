// Package action resolves a detected intent into an ordered plan of
// executable actions using cached mapping configuration.
package action

import (
	"context"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/scottwelch968/Spork-V2-sub003/internal/db"
	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
	"github.com/scottwelch968/Spork-V2-sub003/internal/wildcard"
)

// DefaultCacheTTL is how long a mapping snapshot stays valid without an
// explicit refresh.
const DefaultCacheTTL = 5 * time.Minute

// Per-action-type execution time estimates in milliseconds. Estimates only,
// never used for hard timeouts.
const (
	modelCallTimeMs   = 2000
	externalAPITimeMs = 500
	defaultTimeMs     = 100
)

// snapshot is one immutable cached view of the mapping configuration.
type snapshot struct {
	mappings  []model.ActionMapping
	expiresAt time.Time
}

// Resolver maps intents to action plans. The mapping cache is swapped
// atomically as a whole; there is no partial invalidation.
type Resolver struct {
	store db.Store
	ttl   time.Duration
	cache atomic.Pointer[snapshot]
}

// NewResolver creates a Resolver reading mappings from store.
func NewResolver(store db.Store, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{store: store, ttl: ttl}
}

// Resolve builds an ActionPlan for the intent. On configuration read
// failure it logs and returns an empty plan; action resolution degrades
// to plain model dispatch, it never fails the request.
func (r *Resolver) Resolve(ctx context.Context, intentKey, prompt string, reqCtx map[string]any) model.ActionPlan {
	mappings, err := r.cachedMappings(ctx)
	if err != nil {
		log.Printf("action: mapping load failed, returning empty plan: %v", err)
		return emptyPlan()
	}

	var actions []model.ResolvedAction
	for _, m := range mappings {
		if !intentMatches(m.IntentKey, intentKey) {
			continue
		}
		if !CheckConditions(m.Conditions, prompt, reqCtx) {
			continue
		}
		actions = append(actions, model.ResolvedAction{
			ActionKey:       m.ActionKey,
			ActionType:      m.ActionType,
			Config:          m.Config,
			ExtractedParams: extractParams(m.Params, prompt),
			Priority:        m.Priority,
		})
	}

	// Descending priority; stable sort keeps original order on ties.
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority > actions[j].Priority
	})

	return buildPlan(actions)
}

// RefreshCache drops the cached snapshot immediately, independent of TTL.
func (r *Resolver) RefreshCache() {
	r.cache.Store(nil)
}

func (r *Resolver) cachedMappings(ctx context.Context) ([]model.ActionMapping, error) {
	if snap := r.cache.Load(); snap != nil && time.Now().Before(snap.expiresAt) {
		return snap.mappings, nil
	}

	mappings, err := r.store.ListActiveMappings(ctx)
	if err != nil {
		return nil, err
	}
	r.cache.Store(&snapshot{
		mappings:  mappings,
		expiresAt: time.Now().Add(r.ttl),
	})
	return mappings, nil
}

// intentMatches reports whether a mapping's intent key covers intentKey.
// Keys may be exact ("billing_question"), the catch-all, or a wildcard
// pattern ("billing_*").
func intentMatches(pattern, intentKey string) bool {
	if pattern == intentKey || pattern == model.WildcardIntent {
		return true
	}
	if strings.Contains(pattern, "*") {
		return wildcard.Match(pattern, intentKey) != nil
	}
	return false
}

// CheckConditions evaluates a mapping's activation predicates.
// An empty condition set always passes; all conditions must hold.
func CheckConditions(conditions []model.Condition, prompt string, reqCtx map[string]any) bool {
	lower := strings.ToLower(prompt)
	for _, c := range conditions {
		switch c.Kind {
		case model.CondPromptContainsAny:
			matched := false
			for _, kw := range c.Keywords {
				if strings.Contains(lower, strings.ToLower(kw)) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case model.CondContextHasAll:
			for _, key := range c.Keys {
				if !truthy(reqCtx[key]) {
					return false
				}
			}
		case model.CondMinConfidence:
			conf, ok := reqCtx["confidence"].(float64)
			if !ok || conf < c.Threshold {
				return false
			}
		default:
			// Unknown predicate kinds never pass; a stale config row must
			// not silently activate an action.
			return false
		}
	}
	return true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}

func extractParams(patterns map[string]model.ParamPattern, prompt string) map[string]string {
	if len(patterns) == 0 {
		return nil
	}
	params := make(map[string]string, len(patterns))
	for name, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			log.Printf("action: bad param pattern %q for %q: %v", p.Pattern, name, err)
			if p.Default != "" {
				params[name] = p.Default
			}
			continue
		}
		m := re.FindStringSubmatch(prompt)
		switch {
		case len(m) > 1:
			params[name] = m[1]
		case len(m) == 1:
			params[name] = m[0]
		case p.Default != "":
			params[name] = p.Default
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

func buildPlan(actions []model.ResolvedAction) model.ActionPlan {
	plan := model.ActionPlan{
		Actions:             actions,
		EstimatedComplexity: complexityFor(len(actions)),
	}
	for _, a := range actions {
		plan.ExecutionOrder = append(plan.ExecutionOrder, a.ActionKey)
		switch a.ActionType {
		case model.ActionModelCall:
			plan.ShouldStream = true
			plan.TotalEstimatedTimeMs += modelCallTimeMs
		case model.ActionExternalAPI:
			plan.TotalEstimatedTimeMs += externalAPITimeMs
		default:
			plan.TotalEstimatedTimeMs += defaultTimeMs
		}
	}
	return plan
}

func complexityFor(n int) model.Complexity {
	switch {
	case n <= 1:
		return model.ComplexitySimple
	case n <= 3:
		return model.ComplexityModerate
	default:
		return model.ComplexityComplex
	}
}

func emptyPlan() model.ActionPlan {
	return model.ActionPlan{EstimatedComplexity: model.ComplexitySimple}
}
