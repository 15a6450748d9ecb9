// Package autonomy implements the tier-gated authorization of autonomous
// price changes and the periodic evolution of segment tiers.
package autonomy

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/config"
	"github.com/sells-group/autoprice/internal/governance"
	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/segment"
	"github.com/sells-group/autoprice/internal/store"
)

// Defaults applied when the configuration leaves a value unset.
const (
	DefaultRiskMarginThreshold = 0.05
	DefaultConfidenceThreshold = model.DefaultConfidenceThreshold
)

// Evaluation is the outcome of one guard evaluation.
type Evaluation struct {
	SegmentKey string         `json:"segment_key"`
	Tier       model.Tier     `json:"tier"`
	Decision   model.Decision `json:"decision"`
	Reasons    []string       `json:"reasons"`
}

// Approved reports whether the change may be executed autonomously.
func (e *Evaluation) Approved() bool {
	return e.Decision == model.DecisionApplied
}

// Guard decides whether a recommendation may take effect without review.
type Guard struct {
	store            store.Store
	gov              *governance.Manager
	riskMargin       float64
	defaultThreshold float64
}

// NewGuard creates a Guard.
func NewGuard(st store.Store, gov *governance.Manager, cfg config.AutonomyConfig) *Guard {
	g := &Guard{
		store:            st,
		gov:              gov,
		riskMargin:       cfg.RiskMarginThreshold,
		defaultThreshold: cfg.DefaultConfidenceThreshold,
	}
	if g.riskMargin <= 0 {
		g.riskMargin = DefaultRiskMarginThreshold
	}
	if g.defaultThreshold <= 0 {
		g.defaultThreshold = DefaultConfidenceThreshold
	}
	return g
}

// Evaluate gates rec for the segment derived from subject and appends exactly
// one decision log entry. fallbackThreshold is the effective account policy
// threshold, used when the segment has no override.
//
// Internal faults, including panics, fail closed to PENDING at tier 0. The
// returned error is non-nil only when the decision could not be logged, in
// which case the evaluation is downgraded to PENDING.
func (g *Guard) Evaluate(ctx context.Context, rec *model.PricingRecommendation, subject segment.Inputs, fallbackThreshold float64) (*Evaluation, error) {
	ev := g.evaluate(ctx, rec, subject, fallbackThreshold)

	err := g.store.InsertDecision(ctx, &model.AutonomyDecision{
		RecommendationID: rec.ID,
		SegmentKey:       ev.SegmentKey,
		TierUsed:         ev.Tier,
		Decision:         ev.Decision,
		Confidence:       rec.Confidence,
		ExpectedMargin:   rec.ExpectedMargin,
		Reasons:          ev.Reasons,
	})
	if err != nil {
		return &Evaluation{
			SegmentKey: ev.SegmentKey,
			Tier:       model.Tier0,
			Decision:   model.DecisionPending,
			Reasons:    append(ev.Reasons, "decision log write failed"),
		}, eris.Wrap(err, "autonomy: log decision")
	}

	zap.L().Debug("autonomy: evaluated",
		zap.String("recommendation_id", rec.ID),
		zap.String("segment_key", ev.SegmentKey),
		zap.Int("tier", int(ev.Tier)),
		zap.String("decision", string(ev.Decision)),
		zap.Strings("reasons", ev.Reasons),
	)
	return ev, nil
}

func (g *Guard) evaluate(ctx context.Context, rec *model.PricingRecommendation, subject segment.Inputs, fallbackThreshold float64) (ev *Evaluation) {
	key := segment.Key(subject)
	defer func() {
		if r := recover(); r != nil {
			ev = failClosed(key, fmt.Errorf("panic: %v", r))
		}
	}()

	ev, err := g.decide(ctx, rec, key, fallbackThreshold)
	if err != nil {
		return failClosed(key, err)
	}
	return ev
}

func (g *Guard) decide(ctx context.Context, rec *model.PricingRecommendation, key string, fallbackThreshold float64) (*Evaluation, error) {
	pending := func(tier model.Tier, reason string) *Evaluation {
		return &Evaluation{SegmentKey: key, Tier: tier, Decision: model.DecisionPending, Reasons: []string{reason}}
	}
	applied := func(tier model.Tier, reason string) *Evaluation {
		return &Evaluation{SegmentKey: key, Tier: tier, Decision: model.DecisionApplied, Reasons: []string{reason}}
	}

	killed, err := g.gov.KillSwitch(ctx, governance.DomainPricing)
	if err != nil {
		return nil, err
	}
	if killed {
		return pending(model.Tier0, "global kill switch"), nil
	}

	policy, err := g.store.GetPolicy(ctx, key)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		// First sighting: register the segment at tier 0 so operators and the
		// tuner can see it. This evaluation still goes to review.
		if _, err := g.gov.EnsurePolicy(ctx, key); err != nil {
			zap.L().Warn("autonomy: register segment", zap.String("segment_key", key), zap.Error(err))
		}
		return pending(model.Tier0, "no policy"), nil
	}
	if policy.Status == model.PolicyFrozen {
		return pending(model.Tier0, "segment frozen"), nil
	}

	risk := g.isRiskMitigation(rec)
	switch policy.Tier {
	case model.Tier0:
		return pending(model.Tier0, "tier 0: manual approval required"), nil
	case model.Tier1:
		if risk {
			return applied(model.Tier1, fmt.Sprintf("tier 1: risk mitigation (expected margin %.4f < %.4f)", rec.ExpectedMargin, g.riskMargin)), nil
		}
		return pending(model.Tier1, "tier 1: not a risk mitigation case"), nil
	case model.Tier2:
		threshold := g.threshold(policy, fallbackThreshold)
		if rec.Confidence >= threshold {
			return applied(model.Tier2, fmt.Sprintf("tier 2: confidence %.4f >= threshold %.4f", rec.Confidence, threshold)), nil
		}
		if risk {
			return applied(model.Tier2, fmt.Sprintf("tier 2: risk mitigation (expected margin %.4f < %.4f)", rec.ExpectedMargin, g.riskMargin)), nil
		}
		return pending(model.Tier2, fmt.Sprintf("tier 2: confidence %.4f below threshold %.4f", rec.Confidence, threshold)), nil
	case model.Tier3:
		return applied(model.Tier3, "tier 3: full autonomy"), nil
	default:
		return nil, eris.Errorf("autonomy: invalid tier %d for segment %s", policy.Tier, key)
	}
}

// isRiskMitigation reports a loss-prevention correction. It looks only at the
// recommendation's expected margin and is independent of the enforcer's delta
// guardrails.
func (g *Guard) isRiskMitigation(rec *model.PricingRecommendation) bool {
	return rec.ExpectedMargin < g.riskMargin
}

func (g *Guard) threshold(p *model.AutonomyPolicy, fallback float64) float64 {
	if p.Config.ConfidenceThreshold != nil {
		return *p.Config.ConfidenceThreshold
	}
	if fallback > 0 {
		return fallback
	}
	return g.defaultThreshold
}

func failClosed(key string, err error) *Evaluation {
	zap.L().Error("autonomy: evaluation failed, failing closed",
		zap.String("segment_key", key),
		zap.Error(err),
	)
	return &Evaluation{
		SegmentKey: key,
		Tier:       model.Tier0,
		Decision:   model.DecisionPending,
		Reasons:    []string{"internal error: " + err.Error()},
	}
}

// RecordRejection logs a REJECTED decision for rec, as when a safety check or
// a reviewer turns it down. The tier recorded is the segment's current tier.
func (g *Guard) RecordRejection(ctx context.Context, rec *model.PricingRecommendation, subject segment.Inputs, reason string) error {
	key := segment.Key(subject)
	tier := model.Tier0
	policy, err := g.store.GetPolicy(ctx, key)
	if err != nil {
		return eris.Wrapf(err, "autonomy: load policy %s", key)
	}
	if policy != nil {
		tier = policy.Tier
	}
	err = g.store.InsertDecision(ctx, &model.AutonomyDecision{
		RecommendationID: rec.ID,
		SegmentKey:       key,
		TierUsed:         tier,
		Decision:         model.DecisionRejected,
		Confidence:       rec.Confidence,
		ExpectedMargin:   rec.ExpectedMargin,
		Reasons:          []string{reason},
	})
	return eris.Wrap(err, "autonomy: log rejection")
}
