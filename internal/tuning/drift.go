// Package tuning detects guardrail drift per pricing strategy and turns it
// into tuning recommendations that a human applies or dismisses.
package tuning

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/autoprice/internal/config"
	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
)

// Severity grades a drift signal.
type Severity string

const (
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Signal is one detected drift condition for a strategy.
type Signal struct {
	StrategyID   string   `json:"strategy_id"`
	StrategyName string   `json:"strategy_name"`
	Code         string   `json:"code"`
	Severity     Severity `json:"severity"`
	Detail       string   `json:"detail"`
	Total        int      `json:"total"`
	Rejected     int      `json:"rejected"`
	AvgMargin    float64  `json:"avg_margin"`
	TargetMargin float64  `json:"target_margin"`
}

// Thresholds controls drift detection.
type Thresholds struct {
	WindowDays           int
	MinSamples           int
	RejectionRatio       float64
	HighRejectionRatio   float64
	MarginDriftTolerance float64
}

// ThresholdsFromConfig fills unset values with defaults.
func ThresholdsFromConfig(cfg config.TuningConfig) Thresholds {
	t := Thresholds{
		WindowDays:           cfg.WindowDays,
		MinSamples:           cfg.SaturationMinSamples,
		RejectionRatio:       cfg.SaturationRejectionRatio,
		HighRejectionRatio:   cfg.SaturationHighRatio,
		MarginDriftTolerance: cfg.MarginDriftThreshold,
	}
	if t.WindowDays <= 0 {
		t.WindowDays = 7
	}
	if t.MinSamples <= 0 {
		t.MinSamples = 5
	}
	if t.RejectionRatio <= 0 {
		t.RejectionRatio = 0.30
	}
	if t.HighRejectionRatio <= 0 {
		t.HighRejectionRatio = 0.50
	}
	if t.MarginDriftTolerance <= 0 {
		t.MarginDriftTolerance = 0.05
	}
	return t
}

// Detector scans recent recommendation outcomes per strategy.
type Detector struct {
	store      store.Store
	thresholds Thresholds
	now        func() time.Time
}

// NewDetector creates a Detector.
func NewDetector(st store.Store, t Thresholds) *Detector {
	return &Detector{store: st, thresholds: t, now: time.Now}
}

// Detect returns every drift signal across all strategies.
func (d *Detector) Detect(ctx context.Context) ([]Signal, error) {
	strategies, err := d.store.ListStrategies(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "tuning: list strategies")
	}
	since := d.now().UTC().AddDate(0, 0, -d.thresholds.WindowDays)

	var signals []Signal
	for i := range strategies {
		if err := ctx.Err(); err != nil {
			return signals, eris.Wrap(err, "tuning: detection interrupted")
		}
		s := &strategies[i]
		out, err := d.store.StrategyOutcome(ctx, s.ID, since)
		if err != nil {
			return nil, eris.Wrapf(err, "tuning: outcome for %s", s.Name)
		}
		signals = append(signals, d.evaluate(s, out)...)
	}
	return signals, nil
}

func (d *Detector) evaluate(s *model.PricingStrategy, out *model.StrategyOutcome) []Signal {
	var signals []Signal
	base := Signal{
		StrategyID:   s.ID,
		StrategyName: s.Name,
		Total:        out.Total,
		Rejected:     out.Rejected,
		AvgMargin:    out.AvgExpectedMargin,
		TargetMargin: s.TargetMargin,
	}

	if out.Total >= d.thresholds.MinSamples {
		ratio := float64(out.Rejected) / float64(out.Total)
		if ratio > d.thresholds.RejectionRatio {
			sig := base
			sig.Code = model.SignalSafetySaturation
			sig.Severity = SeverityMedium
			if ratio > d.thresholds.HighRejectionRatio {
				sig.Severity = SeverityHigh
			}
			sig.Detail = fmt.Sprintf("%d of %d recommendations rejected (%.2f) in %dd",
				out.Rejected, out.Total, ratio, d.thresholds.WindowDays)
			signals = append(signals, sig)
		}
	}

	if out.Total > 0 {
		drift := out.AvgExpectedMargin - s.TargetMargin
		if math.Abs(drift) > d.thresholds.MarginDriftTolerance {
			sig := base
			sig.Code = model.SignalMarginDrift
			sig.Severity = SeverityMedium
			sig.Detail = fmt.Sprintf("average expected margin %.4f vs target %.4f (drift %+.4f)",
				out.AvgExpectedMargin, s.TargetMargin, drift)
			signals = append(signals, sig)
		}
	}
	return signals
}
