// Package monitoring snapshots engine health, raises webhook alerts and
// schedules the periodic enforcement, tuning and evolution passes.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/autoprice/internal/governance"
	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
	"github.com/sells-group/autoprice/internal/tuning"
)

// MetricsSnapshot holds a point-in-time view of engine health.
type MetricsSnapshot struct {
	// Queue.
	PendingBacklog int `json:"pending_backlog"`
	RejectedTotal  int `json:"rejected_total"`

	// Execution (within lookback window).
	ChangesApplied int     `json:"changes_applied"`
	ChangesFailed  int     `json:"changes_failed"`
	FailureRate    float64 `json:"failure_rate"`

	// Governance.
	FrozenSegments []string                   `json:"frozen_segments"`
	KillSwitches   map[governance.Domain]bool `json:"kill_switches"`

	// Drift.
	HighDrift []tuning.Signal `json:"high_drift,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// DriftDetector abstracts the drift detection the collector reports on.
type DriftDetector interface {
	Detect(ctx context.Context) ([]tuning.Signal, error)
}

// Collector gathers metrics from the store and governance state.
type Collector struct {
	store    store.Store
	gov      *governance.Manager
	detector DriftDetector
}

// NewCollector creates a new metrics collector. detector may be nil.
func NewCollector(st store.Store, gov *governance.Manager, detector DriftDetector) *Collector {
	return &Collector{store: st, gov: gov, detector: detector}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := time.Now().UTC()
	snap := &MetricsSnapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	var err error
	if snap.PendingBacklog, err = c.store.CountRecommendations(ctx, model.RecommendationPending); err != nil {
		return nil, eris.Wrap(err, "monitoring: count pending")
	}
	if snap.RejectedTotal, err = c.store.CountRecommendations(ctx, model.RecommendationRejected); err != nil {
		return nil, eris.Wrap(err, "monitoring: count rejected")
	}

	if snap.ChangesApplied, err = c.store.CountPriceChanges(ctx, store.PriceChangeFilter{
		Status: model.PriceChangeSuccess, Since: cutoff,
	}); err != nil {
		return nil, eris.Wrap(err, "monitoring: count applied changes")
	}
	if snap.ChangesFailed, err = c.store.CountPriceChanges(ctx, store.PriceChangeFilter{
		Status: model.PriceChangeFail, Since: cutoff,
	}); err != nil {
		return nil, eris.Wrap(err, "monitoring: count failed changes")
	}
	if finished := snap.ChangesApplied + snap.ChangesFailed; finished > 0 {
		snap.FailureRate = float64(snap.ChangesFailed) / float64(finished)
	}

	frozen, err := c.store.ListPolicies(ctx, model.PolicyFrozen)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list frozen segments")
	}
	snap.FrozenSegments = make([]string, 0, len(frozen))
	for _, p := range frozen {
		snap.FrozenSegments = append(snap.FrozenSegments, p.SegmentKey)
	}

	if snap.KillSwitches, err = c.gov.KillSwitches(ctx); err != nil {
		return nil, eris.Wrap(err, "monitoring: kill switches")
	}

	if c.detector != nil {
		signals, err := c.detector.Detect(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: drift")
		}
		for _, s := range signals {
			if s.Severity == tuning.SeverityHigh {
				snap.HighDrift = append(snap.HighDrift, s)
			}
		}
	}
	return snap, nil
}
