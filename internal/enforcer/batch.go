package enforcer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
)

// BatchSummary tallies one ProcessRecommendations pass.
type BatchSummary struct {
	Mode      model.Mode `json:"mode"`
	Processed int        `json:"processed"`
	Applied   int        `json:"applied"`
	Rejected  int        `json:"rejected"`
	Failed    int        `json:"failed"`
	Deferred  int        `json:"deferred"`
	Shadow    int        `json:"shadow"`
	Skipped   int        `json:"skipped"`
	Errors    int        `json:"errors"`
	Results   []Result   `json:"results"`
}

func (s *BatchSummary) add(r *Result) {
	switch r.Outcome {
	case OutcomeApplied:
		s.Applied++
	case OutcomeRejected:
		s.Rejected++
	case OutcomeFailed:
		s.Failed++
	case OutcomeDeferred:
		s.Deferred++
	case OutcomeShadow:
		s.Shadow++
	case OutcomeSkipped:
		s.Skipped++
	}
	s.Results = append(s.Results, *r)
}

// ProcessRecommendations enforces up to maxItems PENDING recommendations,
// oldest first. Each item is independent: an item error is logged and
// counted, never aborting the pass. Cancellation stops the pass between
// items and returns the partial summary with the context error.
func (e *Enforcer) ProcessRecommendations(ctx context.Context, mode model.Mode, maxItems int) (*BatchSummary, error) {
	if maxItems <= 0 {
		maxItems = e.batchSize
	}
	log := zap.L().With(zap.String("component", "enforcer.batch"), zap.Stringer("mode", mode))

	recs, err := e.store.ListRecommendations(ctx, store.RecommendationFilter{
		Status:      model.RecommendationPending,
		OldestFirst: true,
		Limit:       maxItems,
	})
	if err != nil {
		return nil, eris.Wrap(err, "enforcer: list pending recommendations")
	}

	summary := &BatchSummary{Mode: mode, Results: make([]Result, 0, len(recs))}
	for i := range recs {
		if err := ctx.Err(); err != nil {
			log.Warn("enforcer: batch interrupted", zap.Int("processed", summary.Processed))
			return summary, eris.Wrap(err, "enforcer: batch interrupted")
		}

		summary.Processed++
		res, err := e.Enforce(ctx, recs[i].ID, mode)
		if err != nil {
			summary.Errors++
			log.Error("enforcer: item failed",
				zap.String("recommendation_id", recs[i].ID),
				zap.Error(err),
			)
			continue
		}
		summary.add(res)
	}

	log.Info("enforcer: batch complete",
		zap.Int("processed", summary.Processed),
		zap.Int("applied", summary.Applied),
		zap.Int("rejected", summary.Rejected),
		zap.Int("failed", summary.Failed),
		zap.Int("deferred", summary.Deferred),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}
