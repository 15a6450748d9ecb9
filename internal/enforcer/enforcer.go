// Package enforcer turns pending price recommendations into market price
// changes, subject to safety guardrails, the autonomy gate and rate limits.
package enforcer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/autonomy"
	"github.com/sells-group/autoprice/internal/config"
	"github.com/sells-group/autoprice/internal/experiment"
	"github.com/sells-group/autoprice/internal/market"
	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/resilience"
	"github.com/sells-group/autoprice/internal/segment"
	"github.com/sells-group/autoprice/internal/store"
	"github.com/sells-group/autoprice/internal/strategy"
)

// DefaultMarketTimeout bounds a single market call.
const DefaultMarketTimeout = 10 * time.Second

// claimGrace is added to the market timeout to size the execution lease.
const claimGrace = time.Minute

// Outcome is what one enforcement attempt did.
type Outcome string

const (
	OutcomeApplied  Outcome = "APPLIED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeFailed   Outcome = "FAIL"
	// OutcomeDeferred leaves the recommendation PENDING for a later pass.
	OutcomeDeferred Outcome = "DEFERRED"
	// OutcomeShadow means the change was evaluated and logged only.
	OutcomeShadow Outcome = "SHADOW"
	// OutcomeSkipped means the recommendation was already terminal or claimed.
	OutcomeSkipped Outcome = "SKIPPED"
)

// Result reports one enforcement attempt.
type Result struct {
	RecommendationID string                     `json:"recommendation_id"`
	Mode             model.Mode                 `json:"mode"`
	Outcome          Outcome                    `json:"outcome"`
	Status           model.RecommendationStatus `json:"status"`
	Reason           string                     `json:"reason,omitempty"`
	SegmentKey       string                     `json:"segment_key,omitempty"`
	ExperimentGroup  model.ExperimentGroup      `json:"experiment_group,omitempty"`
}

// Enforcer executes recommendations against the market.
type Enforcer struct {
	store       store.Store
	market      market.Adapter
	experiments *experiment.Manager
	strategies  *strategy.Resolver
	guard       *autonomy.Guard
	guardrails  Guardrails
	batchSize   int
	timeout     time.Duration
	now         func() time.Time
}

// New creates an Enforcer with all dependencies.
func New(
	st store.Store,
	mkt market.Adapter,
	experiments *experiment.Manager,
	strategies *strategy.Resolver,
	guard *autonomy.Guard,
	cfg config.EnforcerConfig,
	marketTimeout time.Duration,
) *Enforcer {
	if marketTimeout <= 0 {
		marketTimeout = DefaultMarketTimeout
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &Enforcer{
		store:       st,
		market:      mkt,
		experiments: experiments,
		strategies:  strategies,
		guard:       guard,
		guardrails:  GuardrailsFromConfig(cfg),
		batchSize:   batch,
		timeout:     marketTimeout,
		now:         time.Now,
	}
}

// Enforce runs one recommendation through the control loop in the requested
// mode. Policy denials and deferrals leave it PENDING with the reason in its
// note. A returned error means the attempt could not be completed; the
// recommendation is left PENDING unless the result says otherwise.
func (e *Enforcer) Enforce(ctx context.Context, recID string, mode model.Mode) (*Result, error) {
	log := zap.L().With(
		zap.String("component", "enforcer"),
		zap.String("recommendation_id", recID),
	)

	rec, err := e.store.GetRecommendation(ctx, recID)
	if err != nil {
		return nil, eris.Wrapf(err, "enforcer: load recommendation %s", recID)
	}
	if rec == nil {
		return nil, eris.Errorf("enforcer: recommendation not found: %s", recID)
	}

	res := &Result{RecommendationID: rec.ID, Mode: mode, Status: rec.Status}
	if rec.Status.Terminal() {
		res.Outcome = OutcomeSkipped
		res.Reason = "already " + string(rec.Status)
		return res, nil
	}

	product, err := e.store.GetProduct(ctx, rec.ProductID)
	if err != nil {
		return nil, eris.Wrapf(err, "enforcer: load product %s", rec.ProductID)
	}
	if product == nil {
		return nil, eris.Errorf("enforcer: product not found: %s", rec.ProductID)
	}
	account, err := e.store.GetMarketAccount(ctx, rec.MarketAccountID)
	if err != nil {
		return nil, eris.Wrapf(err, "enforcer: load market account %s", rec.MarketAccountID)
	}
	if account == nil {
		return nil, eris.Errorf("enforcer: market account not found: %s", rec.MarketAccountID)
	}

	policy, err := e.experiments.EffectivePolicy(ctx, rec.ProductID, rec.MarketAccountID)
	if err != nil {
		return nil, eris.Wrap(err, "enforcer: effective policy")
	}
	if policy.ExperimentID != "" && rec.ExperimentID == nil {
		if err := e.store.TagRecommendationExperiment(ctx, rec.ID, policy.ExperimentID, policy.Group); err != nil {
			return nil, eris.Wrap(err, "enforcer: tag experiment")
		}
		rec.ExperimentID = &policy.ExperimentID
		rec.ExperimentGroup = policy.Group
	}
	res.ExperimentGroup = rec.ExperimentGroup

	strat, err := e.strategies.ForRecommendation(ctx, rec, product)
	if err != nil {
		return nil, eris.Wrap(err, "enforcer: resolve strategy")
	}
	var strategyID *string
	if strat != nil {
		strategyID = &strat.ID
		if rec.StrategyID == nil {
			if err := e.store.AssignRecommendationStrategy(ctx, rec.ID, strat.ID); err != nil {
				return nil, eris.Wrap(err, "enforcer: record strategy")
			}
			rec.StrategyID = &strat.ID
		}
	}
	subject := segment.For(product, account, strategyID)
	res.SegmentKey = segment.Key(subject)

	resolved := model.ResolveMode(mode, policy.AutoMode)
	res.Mode = resolved
	log = log.With(zap.Stringer("mode", resolved), zap.String("segment_key", res.SegmentKey))

	if v := e.guardrails.Check(rec, strat); v != nil {
		log.Info("enforcer: safety check rejected", zap.String("code", v.Code), zap.String("detail", v.Detail))
		if resolved.Autonomous() {
			if err := e.guard.RecordRejection(ctx, rec, subject, v.Detail); err != nil {
				log.Warn("enforcer: failed to log rejection decision", zap.Error(err))
			}
		}
		return e.finish(ctx, res, model.RecommendationRejected, OutcomeRejected, v.Detail)
	}

	if resolved == model.ModeShadow {
		log.Info("enforcer: shadow evaluation",
			zap.Int64("current_price", rec.CurrentPrice),
			zap.Int64("recommended_price", rec.RecommendedPrice),
			zap.Float64("confidence", rec.Confidence),
		)
		res.Outcome = OutcomeShadow
		res.Reason = fmt.Sprintf("shadow: would change price %d -> %d", rec.CurrentPrice, rec.RecommendedPrice)
		return res, nil
	}

	if resolved.Autonomous() {
		ev, err := e.guard.Evaluate(ctx, rec, subject, policy.ConfidenceThreshold)
		if err != nil {
			log.Warn("enforcer: autonomy evaluation degraded", zap.Error(err))
		}
		if !ev.Approved() {
			return e.postpone(ctx, res, "autonomy: "+strings.Join(ev.Reasons, "; "))
		}
	}

	now := e.now().UTC()
	if policy.Cooldown > 0 {
		recent, err := e.store.CountPriceChanges(ctx, store.PriceChangeFilter{
			ProductID:       rec.ProductID,
			MarketAccountID: rec.MarketAccountID,
			Status:          model.PriceChangeSuccess,
			Since:           now.Add(-policy.Cooldown),
		})
		if err != nil {
			return nil, eris.Wrap(err, "enforcer: cooldown check")
		}
		if recent > 0 {
			return e.postpone(ctx, res, fmt.Sprintf("cooldown: product changed within the last %s", policy.Cooldown))
		}
	}
	if policy.MaxChangesPerHour > 0 {
		hourly, err := e.store.CountPriceChanges(ctx, store.PriceChangeFilter{
			MarketAccountID: rec.MarketAccountID,
			Status:          model.PriceChangeSuccess,
			Since:           now.Add(-time.Hour),
		})
		if err != nil {
			return nil, eris.Wrap(err, "enforcer: throttle check")
		}
		if hourly >= policy.MaxChangesPerHour {
			return e.postpone(ctx, res, fmt.Sprintf("throttle: %d changes in the last hour (max %d)", hourly, policy.MaxChangesPerHour))
		}
	}

	return e.execute(ctx, log, res, rec)
}

// execute claims the recommendation, calls the market and records the
// outcome. Only the holder of the claim may call the market, so concurrent
// passes over the same recommendation produce at most one price change.
func (e *Enforcer) execute(ctx context.Context, log *zap.Logger, res *Result, rec *model.PricingRecommendation) (*Result, error) {
	// Leases are compared against the store's wall clock, not e.now.
	token := uuid.New().String()
	claimed, err := e.store.ClaimRecommendation(ctx, rec.ID, token, time.Now().UTC().Add(e.timeout+claimGrace))
	if err != nil {
		return nil, eris.Wrap(err, "enforcer: claim recommendation")
	}
	if !claimed {
		log.Info("enforcer: recommendation claimed by another pass")
		res.Outcome = OutcomeSkipped
		res.Reason = "claimed by another pass"
		return res, nil
	}

	change := &model.PriceChange{
		RecommendationID: rec.ID,
		ProductID:        rec.ProductID,
		MarketAccountID:  rec.MarketAccountID,
		OldPrice:         rec.CurrentPrice,
		NewPrice:         rec.RecommendedPrice,
		Source:           "enforcer:" + res.Mode.String(),
	}

	listing, err := e.store.GetListing(ctx, rec.ProductID, rec.MarketAccountID)
	if err != nil {
		e.release(ctx, rec.ID, token)
		return nil, eris.Wrap(err, "enforcer: load listing")
	}

	var callErr error
	if listing == nil {
		callErr = eris.Errorf("enforcer: no listing for product %s on account %s", rec.ProductID, rec.MarketAccountID)
	} else {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		callErr = e.market.UpdatePrice(callCtx, rec.MarketAccountID, listing.ListingRef, rec.RecommendedPrice)
		cancel()
	}

	switch {
	case resilience.IsCircuitOpen(callErr):
		e.release(ctx, rec.ID, token)
		return e.postpone(ctx, res, "market: circuit open for account "+rec.MarketAccountID)
	case market.IsNotSent(callErr):
		e.release(ctx, rec.ID, token)
		return e.postpone(ctx, res, "market: rate limit wait exceeded deadline for account "+rec.MarketAccountID)
	}

	if callErr != nil {
		log.Warn("enforcer: market update failed", zap.Error(callErr))
		change.Status = model.PriceChangeFail
		change.Error = callErr.Error()
		if err := e.store.InsertPriceChange(ctx, change); err != nil {
			e.release(ctx, rec.ID, token)
			return nil, eris.Wrap(err, "enforcer: record failed price change")
		}
		return e.complete(ctx, res, token, model.RecommendationFailed, OutcomeFailed, "market: "+callErr.Error())
	}

	// The claim is kept when the audit write fails so no other pass repeats
	// the market call before the lease expires.
	change.Status = model.PriceChangeSuccess
	if err := e.store.InsertPriceChange(ctx, change); err != nil {
		return nil, eris.Wrap(err, "enforcer: record price change")
	}
	log.Info("enforcer: price applied",
		zap.Int64("old_price", change.OldPrice),
		zap.Int64("new_price", change.NewPrice),
	)
	return e.complete(ctx, res, token, model.RecommendationApplied, OutcomeApplied,
		fmt.Sprintf("applied %d -> %d", rec.CurrentPrice, rec.RecommendedPrice))
}

// complete finishes a claimed recommendation.
func (e *Enforcer) complete(ctx context.Context, res *Result, token string, to model.RecommendationStatus, outcome Outcome, reason string) (*Result, error) {
	moved, err := e.store.CompleteClaim(ctx, res.RecommendationID, token, to, reason)
	if err != nil {
		return nil, eris.Wrapf(err, "enforcer: transition to %s", to)
	}
	if !moved {
		zap.L().Error("enforcer: claim lost before completion",
			zap.String("recommendation_id", res.RecommendationID),
			zap.String("wanted", string(to)),
		)
		res.Outcome = OutcomeSkipped
		res.Reason = "claim lost"
		return res, nil
	}
	res.Status = to
	res.Outcome = outcome
	res.Reason = reason
	return res, nil
}

func (e *Enforcer) release(ctx context.Context, recID, token string) {
	if err := e.store.ReleaseClaim(ctx, recID, token); err != nil {
		zap.L().Warn("enforcer: release claim", zap.String("recommendation_id", recID), zap.Error(err))
	}
}

// finish moves an unclaimed recommendation to a terminal status. Losing the
// race to another pass, or to a live claim, is reported as skipped.
func (e *Enforcer) finish(ctx context.Context, res *Result, to model.RecommendationStatus, outcome Outcome, reason string) (*Result, error) {
	moved, err := e.store.TransitionRecommendation(ctx, res.RecommendationID, to, reason)
	if err != nil {
		return nil, eris.Wrapf(err, "enforcer: transition to %s", to)
	}
	if !moved {
		zap.L().Warn("enforcer: recommendation terminal or claimed",
			zap.String("recommendation_id", res.RecommendationID),
			zap.String("wanted", string(to)),
		)
		res.Outcome = OutcomeSkipped
		res.Reason = "already terminal or claimed by another pass"
		return res, nil
	}
	res.Status = to
	res.Outcome = outcome
	res.Reason = reason
	return res, nil
}

// postpone records why the recommendation stays PENDING.
func (e *Enforcer) postpone(ctx context.Context, res *Result, reason string) (*Result, error) {
	if err := e.store.NoteRecommendation(ctx, res.RecommendationID, reason); err != nil {
		return nil, eris.Wrap(err, "enforcer: note deferral")
	}
	zap.L().Debug("enforcer: deferred",
		zap.String("recommendation_id", res.RecommendationID),
		zap.String("reason", reason),
	)
	res.Outcome = OutcomeDeferred
	res.Status = model.RecommendationPending
	res.Reason = reason
	return res, nil
}
