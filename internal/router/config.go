package router

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/scottwelch968/Spork-V2-sub003/internal/db"
	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

// System-settings keys for the routing policy.
const (
	SettingAutoRouting       = "auto_routing_enabled"
	SettingDefaultModel      = "default_model"
	SettingCostQualityWeight = "cost_quality_weight"
)

// LoadRoutingConfig reads the routing policy from system settings. Missing
// keys fall back to auto-routing with a balanced weight; a store failure is
// logged and also falls back, so routing can still reach the fallback chain.
func LoadRoutingConfig(ctx context.Context, store db.Store) model.RoutingConfig {
	cfg := model.RoutingConfig{
		AutoRoutingEnabled: true,
		CostQualityWeight:  50,
	}

	if v, err := store.GetSystemSetting(ctx, SettingAutoRouting); err == nil {
		cfg.AutoRoutingEnabled = v == "true"
	} else if !errors.Is(err, db.ErrNotFound) {
		log.Printf("router: read %s: %v", SettingAutoRouting, err)
	}

	if v, err := store.GetSystemSetting(ctx, SettingDefaultModel); err == nil {
		cfg.DefaultModel = v
	} else if !errors.Is(err, db.ErrNotFound) {
		log.Printf("router: read %s: %v", SettingDefaultModel, err)
	}

	if v, err := store.GetSystemSetting(ctx, SettingCostQualityWeight); err == nil {
		if w, convErr := strconv.Atoi(v); convErr == nil && w >= 0 && w <= 100 {
			cfg.CostQualityWeight = w
		}
	} else if !errors.Is(err, db.ErrNotFound) {
		log.Printf("router: read %s: %v", SettingCostQualityWeight, err)
	}

	return cfg
}
