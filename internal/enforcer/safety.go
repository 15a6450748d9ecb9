package enforcer

import (
	"fmt"

	"github.com/sells-group/autoprice/internal/config"
	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/strategy"
)

// Guardrail defaults, in currency minor units where applicable.
const (
	DefaultMaxAbsoluteDelta int64 = 100_000
	DefaultMinPrice         int64 = 1_000
)

// Violation codes.
const (
	ViolationInvalidPrice  = "INVALID_CURRENT_PRICE"
	ViolationDeltaRatio    = "DELTA_RATIO"
	ViolationDeltaAbsolute = "DELTA_ABSOLUTE"
	ViolationBelowMinPrice = "BELOW_MIN_PRICE"
)

// Violation is a failed safety check. It is terminal for the recommendation.
type Violation struct {
	Code   string
	Detail string
}

func (v *Violation) Error() string {
	return v.Detail
}

// Guardrails are the hard limits every recommendation must pass, in every
// mode, before anything else is considered.
type Guardrails struct {
	// MaxDeltaRatio applies when no strategy resolves.
	MaxDeltaRatio    float64
	MaxAbsoluteDelta int64
	MinPrice         int64
}

// GuardrailsFromConfig builds Guardrails from the enforcer config section.
func GuardrailsFromConfig(cfg config.EnforcerConfig) Guardrails {
	g := Guardrails{
		MaxDeltaRatio:    cfg.MaxDeltaRatio,
		MaxAbsoluteDelta: cfg.MaxAbsoluteDelta,
		MinPrice:         cfg.MinPrice,
	}
	if g.MaxDeltaRatio <= 0 {
		g.MaxDeltaRatio = strategy.DefaultMaxDeltaRatio
	}
	if g.MaxAbsoluteDelta <= 0 {
		g.MaxAbsoluteDelta = DefaultMaxAbsoluteDelta
	}
	if g.MinPrice <= 0 {
		g.MinPrice = DefaultMinPrice
	}
	return g
}

// Check returns nil when rec passes, or the first violation found. The delta
// ratio bound comes from s when it sets one.
func (g Guardrails) Check(rec *model.PricingRecommendation, s *model.PricingStrategy) *Violation {
	if rec.CurrentPrice <= 0 {
		return &Violation{
			Code:   ViolationInvalidPrice,
			Detail: fmt.Sprintf("Invalid current price %d", rec.CurrentPrice),
		}
	}

	delta := rec.PriceDelta()
	if delta < 0 {
		delta = -delta
	}

	maxRatio := strategy.MaxDeltaRatio(s, g.MaxDeltaRatio)
	ratio := float64(delta) / float64(rec.CurrentPrice)
	if ratio > maxRatio {
		return &Violation{
			Code:   ViolationDeltaRatio,
			Detail: fmt.Sprintf("Price delta too high: ratio %.4f exceeds %.4f", ratio, maxRatio),
		}
	}
	if delta > g.MaxAbsoluteDelta {
		return &Violation{
			Code:   ViolationDeltaAbsolute,
			Detail: fmt.Sprintf("Price delta too high: %d exceeds %d", delta, g.MaxAbsoluteDelta),
		}
	}
	if rec.RecommendedPrice < g.MinPrice {
		return &Violation{
			Code:   ViolationBelowMinPrice,
			Detail: fmt.Sprintf("Recommended price %d below minimum %d", rec.RecommendedPrice, g.MinPrice),
		}
	}
	return nil
}
