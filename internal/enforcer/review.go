package enforcer

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/segment"
)

// Reject is a reviewer turning down a PENDING recommendation. It moves the
// recommendation to REJECTED and logs a REJECTED autonomy decision for its
// segment so the rejection counts toward demotion. Manual approval is
// Enforce with ModeEnforce.
func (e *Enforcer) Reject(ctx context.Context, recID, reason string) (*Result, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, eris.New("enforcer: rejection reason is required")
	}

	rec, err := e.store.GetRecommendation(ctx, recID)
	if err != nil {
		return nil, eris.Wrapf(err, "enforcer: load recommendation %s", recID)
	}
	if rec == nil {
		return nil, eris.Errorf("enforcer: recommendation not found: %s", recID)
	}
	res := &Result{RecommendationID: rec.ID, Mode: model.ModeEnforce, Status: rec.Status, ExperimentGroup: rec.ExperimentGroup}
	if rec.Status.Terminal() {
		res.Outcome = OutcomeSkipped
		res.Reason = "already " + string(rec.Status)
		return res, nil
	}

	product, err := e.store.GetProduct(ctx, rec.ProductID)
	if err != nil {
		return nil, eris.Wrapf(err, "enforcer: load product %s", rec.ProductID)
	}
	account, err := e.store.GetMarketAccount(ctx, rec.MarketAccountID)
	if err != nil {
		return nil, eris.Wrapf(err, "enforcer: load market account %s", rec.MarketAccountID)
	}

	note := "review: " + reason
	res, err = e.finish(ctx, res, model.RecommendationRejected, OutcomeRejected, note)
	if err != nil || res.Outcome != OutcomeRejected {
		return res, err
	}

	if product == nil || account == nil {
		zap.L().Warn("enforcer: rejected recommendation has no catalog entry, decision not logged",
			zap.String("recommendation_id", rec.ID))
		return res, nil
	}
	strat, err := e.strategies.ForRecommendation(ctx, rec, product)
	if err != nil {
		return res, eris.Wrap(err, "enforcer: resolve strategy")
	}
	var strategyID *string
	if strat != nil {
		strategyID = &strat.ID
	}
	subject := segment.For(product, account, strategyID)
	res.SegmentKey = segment.Key(subject)
	if err := e.guard.RecordRejection(ctx, rec, subject, note); err != nil {
		return res, eris.Wrap(err, "enforcer: log review rejection")
	}
	return res, nil
}
