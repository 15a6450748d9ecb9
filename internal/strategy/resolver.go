// Package strategy resolves the pricing strategy that governs a product.
package strategy

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
)

// Fallbacks used when no strategy resolves for a product.
const (
	DefaultMaxDeltaRatio = 0.20
	DefaultTargetMargin  = 0.15
)

// DefaultStageStrategies maps lifecycle stages to strategy names.
var DefaultStageStrategies = map[string]string{
	model.StageLaunch:  "GROWTH",
	model.StageSteady:  "STABLE",
	model.StageDecline: "PROFIT_DEFENSE",
}

// Resolver picks a strategy by product override, then category mapping, then
// lifecycle stage default.
type Resolver struct {
	store         store.Store
	stageDefaults map[string]string
}

// NewResolver creates a Resolver. A nil or empty stageDefaults uses
// DefaultStageStrategies. Stage keys are matched case-insensitively.
func NewResolver(st store.Store, stageDefaults map[string]string) *Resolver {
	if len(stageDefaults) == 0 {
		stageDefaults = DefaultStageStrategies
	}
	norm := make(map[string]string, len(stageDefaults))
	for stage, name := range stageDefaults {
		norm[strings.ToUpper(stage)] = name
	}
	return &Resolver{store: st, stageDefaults: norm}
}

// Resolve returns the strategy for p, or nil when nothing resolves.
func (r *Resolver) Resolve(ctx context.Context, p *model.Product) (*model.PricingStrategy, error) {
	if p == nil {
		return nil, nil
	}

	if p.StrategyID != nil && *p.StrategyID != "" {
		s, err := r.store.GetStrategy(ctx, *p.StrategyID)
		if err != nil {
			return nil, eris.Wrapf(err, "strategy: product override %s", *p.StrategyID)
		}
		if s != nil {
			return s, nil
		}
	}

	if p.CategoryCode != nil && *p.CategoryCode != "" {
		id, err := r.store.GetCategoryStrategyID(ctx, *p.CategoryCode)
		if err != nil {
			return nil, eris.Wrapf(err, "strategy: category %s", *p.CategoryCode)
		}
		if id != "" {
			s, err := r.store.GetStrategy(ctx, id)
			if err != nil {
				return nil, eris.Wrapf(err, "strategy: category strategy %s", id)
			}
			if s != nil {
				return s, nil
			}
		}
	}

	name, ok := r.stageDefaults[strings.ToUpper(p.LifecycleStage)]
	if !ok {
		return nil, nil
	}
	s, err := r.store.GetStrategyByName(ctx, name)
	if err != nil {
		return nil, eris.Wrapf(err, "strategy: stage default %s", name)
	}
	return s, nil
}

// ForRecommendation returns the strategy stored on the recommendation when it
// still exists, otherwise a fresh resolution for the product.
func (r *Resolver) ForRecommendation(ctx context.Context, rec *model.PricingRecommendation, p *model.Product) (*model.PricingStrategy, error) {
	if rec.StrategyID != nil && *rec.StrategyID != "" {
		s, err := r.store.GetStrategy(ctx, *rec.StrategyID)
		if err != nil {
			return nil, eris.Wrapf(err, "strategy: recommendation strategy %s", *rec.StrategyID)
		}
		if s != nil {
			return s, nil
		}
	}
	return r.Resolve(ctx, p)
}

// MaxDeltaRatio returns the strategy's delta bound or the fallback.
func MaxDeltaRatio(s *model.PricingStrategy, fallback float64) float64 {
	if s != nil && s.MaxDeltaRatio > 0 {
		return s.MaxDeltaRatio
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultMaxDeltaRatio
}
