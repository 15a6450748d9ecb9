package tuning

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
	"github.com/sells-group/autoprice/internal/strategy"
)

// DefaultMaxDeltaStep is how far a saturated strategy's delta bound is widened.
const DefaultMaxDeltaStep = 0.10

// CycleResult reports one tuning cycle.
type CycleResult struct {
	Signals []Signal                     `json:"signals"`
	Created []model.TuningRecommendation `json:"created"`
	Skipped int                          `json:"skipped"`
}

// Tuner proposes guardrail adjustments from drift signals.
type Tuner struct {
	store    store.Store
	detector *Detector
	step     float64
	now      func() time.Time
}

// NewTuner creates a Tuner. A non-positive step uses DefaultMaxDeltaStep.
func NewTuner(st store.Store, detector *Detector, step float64) *Tuner {
	if step <= 0 {
		step = DefaultMaxDeltaStep
	}
	return &Tuner{store: st, detector: detector, step: step, now: time.Now}
}

// RunCycle detects drift and records one PENDING recommendation per
// (strategy, signal) pair that does not already have one.
func (t *Tuner) RunCycle(ctx context.Context) (*CycleResult, error) {
	log := zap.L().With(zap.String("component", "tuning.tuner"))

	signals, err := t.detector.Detect(ctx)
	if err != nil {
		return nil, err
	}
	res := &CycleResult{Signals: signals}

	for _, sig := range signals {
		pending, err := t.store.HasPendingTuning(ctx, sig.StrategyID, sig.Code)
		if err != nil {
			return res, eris.Wrap(err, "tuning: dedup check")
		}
		if pending {
			res.Skipped++
			continue
		}

		s, err := t.store.GetStrategy(ctx, sig.StrategyID)
		if err != nil {
			return res, eris.Wrapf(err, "tuning: load strategy %s", sig.StrategyID)
		}
		if s == nil {
			res.Skipped++
			continue
		}

		rec := &model.TuningRecommendation{
			StrategyID:   s.ID,
			Suggested:    t.suggest(s, sig),
			ReasonCode:   sig.Code,
			ReasonDetail: sig.Detail,
		}
		if err := t.store.CreateTuningRecommendation(ctx, rec); err != nil {
			return res, eris.Wrap(err, "tuning: create recommendation")
		}
		log.Info("tuning recommendation created",
			zap.String("strategy", s.Name),
			zap.String("reason_code", sig.Code),
			zap.String("severity", string(sig.Severity)),
		)
		res.Created = append(res.Created, *rec)
	}
	return res, nil
}

func (t *Tuner) suggest(s *model.PricingStrategy, sig Signal) model.StrategyAdjustment {
	switch sig.Code {
	case model.SignalSafetySaturation:
		next := round4(math.Min(strategy.MaxDeltaRatio(s, 0)+t.step, 1))
		return model.StrategyAdjustment{MaxDeltaRatio: &next}
	case model.SignalMarginDrift:
		target := round4(math.Max(sig.AvgMargin, s.MinMargin))
		return model.StrategyAdjustment{TargetMargin: &target}
	}
	return model.StrategyAdjustment{}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Apply copies the suggested adjustment onto the strategy and marks the
// recommendation APPLIED in one transaction. A recommendation whose strategy
// no longer exists is dismissed instead.
func (t *Tuner) Apply(ctx context.Context, id string) (*model.TuningRecommendation, error) {
	rec, err := t.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	now := t.now().UTC()

	s, err := t.store.GetStrategy(ctx, rec.StrategyID)
	if err != nil {
		return nil, eris.Wrapf(err, "tuning: load strategy %s", rec.StrategyID)
	}
	if s == nil {
		if err := t.store.ResolveTuning(ctx, id, model.TuningDismissed, now); err != nil {
			return nil, eris.Wrap(err, "tuning: dismiss orphaned recommendation")
		}
		zap.L().Warn("tuning: strategy gone, recommendation dismissed",
			zap.String("tuning_id", id), zap.String("strategy_id", rec.StrategyID))
		rec.Status = model.TuningDismissed
		rec.AppliedAt = &now
		return rec, nil
	}

	rec.Suggested.ApplyTo(s)
	if err := t.store.ApplyTuning(ctx, id, s, now); err != nil {
		return nil, eris.Wrap(err, "tuning: apply")
	}
	rec.Status = model.TuningApplied
	rec.AppliedAt = &now
	return rec, nil
}

// Dismiss closes a PENDING recommendation without changing the strategy.
func (t *Tuner) Dismiss(ctx context.Context, id string) (*model.TuningRecommendation, error) {
	rec, err := t.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	now := t.now().UTC()
	if err := t.store.ResolveTuning(ctx, id, model.TuningDismissed, now); err != nil {
		return nil, eris.Wrap(err, "tuning: dismiss")
	}
	rec.Status = model.TuningDismissed
	rec.AppliedAt = &now
	return rec, nil
}

// List returns tuning recommendations, optionally filtered by status.
func (t *Tuner) List(ctx context.Context, status model.TuningStatus) ([]model.TuningRecommendation, error) {
	recs, err := t.store.ListTuningRecommendations(ctx, status)
	return recs, eris.Wrap(err, "tuning: list")
}

func (t *Tuner) pending(ctx context.Context, id string) (*model.TuningRecommendation, error) {
	rec, err := t.store.GetTuningRecommendation(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "tuning: load recommendation %s", id)
	}
	if rec == nil {
		return nil, eris.Errorf("tuning: recommendation not found: %s", id)
	}
	if rec.Status != model.TuningPending {
		return nil, eris.Errorf("tuning: recommendation %s is %s", id, rec.Status)
	}
	return rec, nil
}
