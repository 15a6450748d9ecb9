package model

import "time"

// ExperimentGroup is the cohort a product is assigned to.
type ExperimentGroup string

const (
	GroupControl ExperimentGroup = "CONTROL"
	GroupTest    ExperimentGroup = "TEST"
)

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	ExperimentDraft     ExperimentStatus = "DRAFT"
	ExperimentActive    ExperimentStatus = "ACTIVE"
	ExperimentCompleted ExperimentStatus = "COMPLETED"
)

// PolicyVariant overrides base policy keys for the TEST cohort. Nil fields
// leave the base value untouched.
type PolicyVariant struct {
	AutoMode            *Mode    `json:"auto_mode,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	MaxChangesPerHour   *int     `json:"max_changes_per_hour,omitempty"`
	CooldownHours       *int     `json:"cooldown_hours,omitempty"`
}

// CohortMetrics aggregates recommendation outcomes for one cohort.
type CohortMetrics struct {
	Total             int     `json:"total"`
	Applied           int     `json:"applied"`
	Rejected          int     `json:"rejected"`
	Failed            int     `json:"failed"`
	AvgExpectedMargin float64 `json:"avg_expected_margin"`
}

// ExperimentMetrics holds the last computed cohort comparison.
type ExperimentMetrics struct {
	Control    CohortMetrics `json:"control"`
	Test       CohortMetrics `json:"test"`
	ComputedAt *time.Time    `json:"computed_at,omitempty"`
}

// PricingExperiment is an A/B test over enforcement policy.
type PricingExperiment struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	MarketAccountID *string           `json:"market_account_id,omitempty"`
	TestRatio       float64           `json:"test_ratio"`
	Variant         PolicyVariant     `json:"variant"`
	Status          ExperimentStatus  `json:"status"`
	Metrics         ExperimentMetrics `json:"metrics"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ExperimentAssignment is the sticky cohort of one product.
type ExperimentAssignment struct {
	ExperimentID string          `json:"experiment_id"`
	ProductID    string          `json:"product_id"`
	Group        ExperimentGroup `json:"group"`
	AssignedAt   time.Time       `json:"assigned_at"`
}
