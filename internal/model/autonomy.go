package model

import "time"

// Tier is the amount of autonomous authority granted to a segment.
type Tier int

const (
	Tier0 Tier = iota // manual only
	Tier1             // risk-mitigation auto
	Tier2             // high-confidence auto
	Tier3             // full auto
)

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= Tier0 && t <= Tier3
}

// PolicyStatus is the orthogonal active/frozen state of a segment.
type PolicyStatus string

const (
	PolicyActive PolicyStatus = "ACTIVE"
	PolicyFrozen PolicyStatus = "FROZEN"
)

// SegmentConfig holds per-segment overrides.
type SegmentConfig struct {
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

// AutonomyPolicy is the autonomy grant for one segment.
type AutonomyPolicy struct {
	SegmentKey string        `json:"segment_key"`
	Tier       Tier          `json:"tier"`
	Status     PolicyStatus  `json:"status"`
	Config     SegmentConfig `json:"config"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Decision is the outcome of one autonomy evaluation.
type Decision string

const (
	DecisionApplied  Decision = "APPLIED"
	DecisionPending  Decision = "PENDING"
	DecisionRejected Decision = "REJECTED"
)

// AutonomyDecision is an append-only autonomy decision log entry.
type AutonomyDecision struct {
	ID               string    `json:"id"`
	RecommendationID string    `json:"recommendation_id"`
	SegmentKey       string    `json:"segment_key"`
	TierUsed         Tier      `json:"tier_used"`
	Decision         Decision  `json:"decision"`
	Confidence       float64   `json:"confidence"`
	ExpectedMargin   float64   `json:"expected_margin"`
	Reasons          []string  `json:"reasons"`
	CreatedAt        time.Time `json:"created_at"`
}

// SegmentStats aggregates decision log entries for one segment.
type SegmentStats struct {
	SegmentKey    string  `json:"segment_key"`
	Total         int     `json:"total"`
	Applied       int     `json:"applied"`
	Pending       int     `json:"pending"`
	Rejected      int     `json:"rejected"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// SuccessRate is the applied share of all decisions.
func (s SegmentStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Applied) / float64(s.Total)
}

// RejectionRate is the rejected share of all decisions.
func (s SegmentStats) RejectionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Rejected) / float64(s.Total)
}

// SystemSetting is a generic key/value row.
type SystemSetting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
