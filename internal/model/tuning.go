package model

import "time"

// TuningStatus is the lifecycle state of a tuning recommendation.
type TuningStatus string

const (
	TuningPending   TuningStatus = "PENDING"
	TuningApplied   TuningStatus = "APPLIED"
	TuningDismissed TuningStatus = "DISMISSED"
)

// Drift signal codes.
const (
	SignalSafetySaturation = "SAFETY_SATURATION"
	SignalMarginDrift      = "MARGIN_DRIFT"
)

// StrategyAdjustment is a proposed change to a strategy's guardrails.
type StrategyAdjustment struct {
	MaxDeltaRatio *float64 `json:"max_delta_ratio,omitempty"`
	TargetMargin  *float64 `json:"target_margin,omitempty"`
}

// ApplyTo copies every set field onto s.
func (a StrategyAdjustment) ApplyTo(s *PricingStrategy) {
	if a.MaxDeltaRatio != nil {
		s.MaxDeltaRatio = *a.MaxDeltaRatio
	}
	if a.TargetMargin != nil {
		s.TargetMargin = *a.TargetMargin
	}
}

// TuningRecommendation is a guardrail change awaiting human approval.
type TuningRecommendation struct {
	ID           string             `json:"id"`
	StrategyID   string             `json:"strategy_id"`
	Suggested    StrategyAdjustment `json:"suggested"`
	ReasonCode   string             `json:"reason_code"`
	ReasonDetail string             `json:"reason_detail"`
	Status       TuningStatus       `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	AppliedAt    *time.Time         `json:"applied_at,omitempty"`
}
