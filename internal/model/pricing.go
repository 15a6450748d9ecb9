package model

import "time"

// RecommendationStatus is the lifecycle state of a pricing recommendation.
type RecommendationStatus string

const (
	RecommendationPending  RecommendationStatus = "PENDING"
	RecommendationApplied  RecommendationStatus = "APPLIED"
	RecommendationRejected RecommendationStatus = "REJECTED"
	RecommendationFailed   RecommendationStatus = "FAIL"
)

// Terminal reports whether no further transitions are allowed.
func (s RecommendationStatus) Terminal() bool {
	return s == RecommendationApplied || s == RecommendationRejected || s == RecommendationFailed
}

// PricingRecommendation is a computed price change awaiting enforcement.
// Prices are in currency minor units.
type PricingRecommendation struct {
	ID               string               `json:"id"`
	ProductID        string               `json:"product_id"`
	MarketAccountID  string               `json:"market_account_id"`
	StrategyID       *string              `json:"strategy_id,omitempty"`
	CurrentPrice     int64                `json:"current_price"`
	RecommendedPrice int64                `json:"recommended_price"`
	Confidence       float64              `json:"confidence"`
	ExpectedMargin   float64              `json:"expected_margin"`
	Status           RecommendationStatus `json:"status"`
	ReasonCodes      []string             `json:"reason_codes,omitempty"`
	ExperimentID     *string              `json:"experiment_id,omitempty"`
	ExperimentGroup  ExperimentGroup      `json:"experiment_group,omitempty"`
	Note             string               `json:"note,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// PriceDelta returns recommended minus current price.
func (r *PricingRecommendation) PriceDelta() int64 {
	return r.RecommendedPrice - r.CurrentPrice
}

// PricingStrategy is the policy a product is priced under.
type PricingStrategy struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	TargetMargin  float64   `json:"target_margin"`
	MinMargin     float64   `json:"min_margin"`
	MaxDeltaRatio float64   `json:"max_delta_ratio"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PriceChangeStatus is the outcome of a market price update.
type PriceChangeStatus string

const (
	PriceChangeSuccess PriceChangeStatus = "SUCCESS"
	PriceChangeFail    PriceChangeStatus = "FAIL"
)

// PriceChange is one row of the append-only execution audit trail.
type PriceChange struct {
	ID               string            `json:"id"`
	RecommendationID string            `json:"recommendation_id,omitempty"`
	ProductID        string            `json:"product_id"`
	MarketAccountID  string            `json:"market_account_id"`
	OldPrice         int64             `json:"old_price"`
	NewPrice         int64             `json:"new_price"`
	Source           string            `json:"source"`
	Status           PriceChangeStatus `json:"status"`
	Error            string            `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// StrategyOutcome aggregates recommendation outcomes for one strategy.
type StrategyOutcome struct {
	StrategyID        string  `json:"strategy_id"`
	Total             int     `json:"total"`
	Pending           int     `json:"pending"`
	Applied           int     `json:"applied"`
	Rejected          int     `json:"rejected"`
	Failed            int     `json:"failed"`
	AvgExpectedMargin float64 `json:"avg_expected_margin"`
}

// PricingSettings is the base enforcement policy for a market account.
type PricingSettings struct {
	MarketAccountID     string    `json:"market_account_id"`
	AutoMode            Mode      `json:"auto_mode"`
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	MaxChangesPerHour   int       `json:"max_changes_per_hour"`
	CooldownHours       int       `json:"cooldown_hours"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Default base policy values applied when an account has no settings row.
const (
	DefaultConfidenceThreshold = 0.97
	DefaultMaxChangesPerHour   = 50
	DefaultCooldownHours       = 24
)

// DefaultPricingSettings returns the base policy for an unconfigured account.
func DefaultPricingSettings(accountID string) PricingSettings {
	return PricingSettings{
		MarketAccountID:     accountID,
		AutoMode:            ModeShadow,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		MaxChangesPerHour:   DefaultMaxChangesPerHour,
		CooldownHours:       DefaultCooldownHours,
	}
}
