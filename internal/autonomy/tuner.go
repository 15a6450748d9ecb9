package autonomy

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/config"
	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
)

// Action is the outcome of evaluating one segment in an evolution cycle.
type Action string

const (
	ActionDemoted              Action = "DEMOTED"
	ActionPromotionRecommended Action = "PROMOTION_RECOMMENDED"
	ActionNoChange             Action = "NO_CHANGE"
	ActionError                Action = "ERROR"
)

// Result reports what an evolution cycle did for one segment.
type Result struct {
	SegmentKey string     `json:"segment_key"`
	Tier       model.Tier `json:"tier"`
	Action     Action     `json:"action"`
	Reason     string     `json:"reason"`
}

// Tuner evaluates segment track records. Demotion is applied immediately;
// promotion is only recommended.
type Tuner struct {
	store store.Store
	cfg   config.AutonomyConfig
	now   func() time.Time
}

// NewTuner creates an autonomy Tuner, filling unset thresholds with defaults.
func NewTuner(st store.Store, cfg config.AutonomyConfig) *Tuner {
	if cfg.PromotionWindowDays <= 0 {
		cfg.PromotionWindowDays = 14
	}
	if cfg.PromotionMinDecisions <= 0 {
		cfg.PromotionMinDecisions = 30
	}
	if cfg.PromotionMinSuccessRate <= 0 {
		cfg.PromotionMinSuccessRate = 0.90
	}
	if cfg.PromotionMinAvgConfidence <= 0 {
		cfg.PromotionMinAvgConfidence = 0.96
	}
	if cfg.DemotionWindowHours <= 0 {
		cfg.DemotionWindowHours = 24
	}
	if cfg.DemotionMinDecisions <= 0 {
		cfg.DemotionMinDecisions = 10
	}
	if cfg.DemotionMaxRejectionRate <= 0 {
		cfg.DemotionMaxRejectionRate = 0.5
	}
	return &Tuner{store: st, cfg: cfg, now: time.Now}
}

// RunCycle evaluates every ACTIVE segment. days overrides the promotion window
// when positive. A failure on one segment is reported in its result and does
// not stop the cycle.
func (t *Tuner) RunCycle(ctx context.Context, days int) ([]Result, error) {
	if days <= 0 {
		days = t.cfg.PromotionWindowDays
	}
	log := zap.L().With(zap.String("component", "autonomy.tuner"))

	policies, err := t.store.ListPolicies(ctx, model.PolicyActive)
	if err != nil {
		return nil, eris.Wrap(err, "autonomy: list active policies")
	}

	results := make([]Result, 0, len(policies))
	for i := range policies {
		if err := ctx.Err(); err != nil {
			return results, eris.Wrap(err, "autonomy: evolution cycle interrupted")
		}
		res, err := t.evaluate(ctx, &policies[i], days)
		if err != nil {
			log.Error("segment evaluation failed",
				zap.String("segment_key", policies[i].SegmentKey),
				zap.Error(err),
			)
			res = Result{SegmentKey: policies[i].SegmentKey, Tier: policies[i].Tier, Action: ActionError, Reason: err.Error()}
		}
		if res.Action != ActionNoChange {
			log.Info("segment evaluated",
				zap.String("segment_key", res.SegmentKey),
				zap.String("action", string(res.Action)),
				zap.String("reason", res.Reason),
			)
		}
		results = append(results, res)
	}
	return results, nil
}

func (t *Tuner) evaluate(ctx context.Context, p *model.AutonomyPolicy, days int) (Result, error) {
	now := t.now().UTC()
	res := Result{SegmentKey: p.SegmentKey, Tier: p.Tier}

	recent, err := t.store.SegmentStats(ctx, p.SegmentKey, now.Add(-time.Duration(t.cfg.DemotionWindowHours)*time.Hour))
	if err != nil {
		return res, eris.Wrap(err, "autonomy: demotion stats")
	}
	if recent.Total >= t.cfg.DemotionMinDecisions && recent.RejectionRate() > t.cfg.DemotionMaxRejectionRate {
		if _, err := t.store.SetPolicyState(ctx, p.SegmentKey, model.Tier0, model.PolicyFrozen); err != nil {
			return res, eris.Wrap(err, "autonomy: demote")
		}
		res.Tier = model.Tier0
		res.Action = ActionDemoted
		res.Reason = fmt.Sprintf("rejection rate %.2f over %d decisions in %dh exceeds %.2f; frozen at tier 0",
			recent.RejectionRate(), recent.Total, t.cfg.DemotionWindowHours, t.cfg.DemotionMaxRejectionRate)
		return res, nil
	}

	if p.Tier >= model.Tier3 {
		res.Action = ActionNoChange
		res.Reason = "already at tier 3"
		return res, nil
	}

	window, err := t.store.SegmentStats(ctx, p.SegmentKey, now.AddDate(0, 0, -days))
	if err != nil {
		return res, eris.Wrap(err, "autonomy: promotion stats")
	}
	switch {
	case window.Total < t.cfg.PromotionMinDecisions:
		res.Action = ActionNoChange
		res.Reason = fmt.Sprintf("%d decisions in %dd, need %d", window.Total, days, t.cfg.PromotionMinDecisions)
	case window.SuccessRate() < t.cfg.PromotionMinSuccessRate:
		res.Action = ActionNoChange
		res.Reason = fmt.Sprintf("success rate %.2f below %.2f", window.SuccessRate(), t.cfg.PromotionMinSuccessRate)
	case window.AvgConfidence < t.cfg.PromotionMinAvgConfidence:
		res.Action = ActionNoChange
		res.Reason = fmt.Sprintf("average confidence %.4f below %.4f", window.AvgConfidence, t.cfg.PromotionMinAvgConfidence)
	default:
		res.Action = ActionPromotionRecommended
		res.Reason = fmt.Sprintf("tier %d -> %d: %d decisions, success rate %.2f, average confidence %.4f",
			p.Tier, p.Tier+1, window.Total, window.SuccessRate(), window.AvgConfidence)
	}
	return res, nil
}
