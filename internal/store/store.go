package store

import (
	"context"
	"time"

	"github.com/sells-group/autoprice/internal/model"
)

// RecommendationFilter specifies criteria for listing recommendations.
type RecommendationFilter struct {
	Status          model.RecommendationStatus `json:"status,omitempty"`
	ProductID       string                     `json:"product_id,omitempty"`
	MarketAccountID string                     `json:"market_account_id,omitempty"`
	OldestFirst     bool                       `json:"oldest_first,omitempty"`
	Limit           int                        `json:"limit,omitempty"`
	Offset          int                        `json:"offset,omitempty"`
}

// PriceChangeFilter specifies criteria for listing or counting price changes.
type PriceChangeFilter struct {
	ProductID       string                  `json:"product_id,omitempty"`
	MarketAccountID string                  `json:"market_account_id,omitempty"`
	Status          model.PriceChangeStatus `json:"status,omitempty"`
	Since           time.Time               `json:"since,omitempty"`
	Limit           int                     `json:"limit,omitempty"`
}

// DecisionFilter specifies criteria for listing autonomy decisions.
type DecisionFilter struct {
	SegmentKey string    `json:"segment_key,omitempty"`
	Since      time.Time `json:"since,omitempty"`
	Limit      int       `json:"limit,omitempty"`
}

// CatalogStore reads and seeds the product catalog the resolvers work from.
type CatalogStore interface {
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	UpsertProduct(ctx context.Context, p *model.Product) error
	GetMarketAccount(ctx context.Context, id string) (*model.MarketAccount, error)
	UpsertMarketAccount(ctx context.Context, a *model.MarketAccount) error
	GetListing(ctx context.Context, productID, accountID string) (*model.Listing, error)
	UpsertListing(ctx context.Context, l *model.Listing) error
	GetCategoryStrategyID(ctx context.Context, categoryCode string) (string, error)
	SetCategoryStrategy(ctx context.Context, categoryCode, strategyID string) error
}

// StrategyStore persists pricing strategies.
type StrategyStore interface {
	CreateStrategy(ctx context.Context, s *model.PricingStrategy) error
	GetStrategy(ctx context.Context, id string) (*model.PricingStrategy, error)
	GetStrategyByName(ctx context.Context, name string) (*model.PricingStrategy, error)
	ListStrategies(ctx context.Context) ([]model.PricingStrategy, error)
	StrategyOutcome(ctx context.Context, strategyID string, since time.Time) (*model.StrategyOutcome, error)
}

// RecommendationStore persists pricing recommendations. Status only moves
// from PENDING to a terminal state.
type RecommendationStore interface {
	CreateRecommendation(ctx context.Context, r *model.PricingRecommendation) error
	GetRecommendation(ctx context.Context, id string) (*model.PricingRecommendation, error)
	ListRecommendations(ctx context.Context, filter RecommendationFilter) ([]model.PricingRecommendation, error)
	CountRecommendations(ctx context.Context, status model.RecommendationStatus) (int, error)
	// TransitionRecommendation moves a PENDING recommendation to a terminal
	// status. It reports false when the recommendation was no longer PENDING
	// or a live claim holds it.
	TransitionRecommendation(ctx context.Context, id string, to model.RecommendationStatus, note string) (bool, error)
	NoteRecommendation(ctx context.Context, id, note string) error
	TagRecommendationExperiment(ctx context.Context, id, experimentID string, group model.ExperimentGroup) error
	// AssignRecommendationStrategy records the resolved strategy on a PENDING
	// recommendation that has none.
	AssignRecommendationStrategy(ctx context.Context, id, strategyID string) error

	// ClaimRecommendation takes an exclusive lease on a PENDING
	// recommendation until the given time. It reports false when the
	// recommendation is terminal or another unexpired claim holds it.
	ClaimRecommendation(ctx context.Context, id, token string, until time.Time) (bool, error)
	// CompleteClaim moves a claimed recommendation to a terminal status and
	// clears the claim. It reports false when token no longer holds it.
	CompleteClaim(ctx context.Context, id, token string, to model.RecommendationStatus, note string) (bool, error)
	// ReleaseClaim drops token's claim and leaves the recommendation PENDING.
	ReleaseClaim(ctx context.Context, id, token string) error
}

// PriceChangeStore persists the append-only execution audit trail.
type PriceChangeStore interface {
	InsertPriceChange(ctx context.Context, c *model.PriceChange) error
	CountPriceChanges(ctx context.Context, filter PriceChangeFilter) (int, error)
	ListPriceChanges(ctx context.Context, filter PriceChangeFilter) ([]model.PriceChange, error)
}

// PolicyStore persists per-segment autonomy policies.
type PolicyStore interface {
	GetPolicy(ctx context.Context, segmentKey string) (*model.AutonomyPolicy, error)
	UpsertPolicy(ctx context.Context, p *model.AutonomyPolicy) error
	ListPolicies(ctx context.Context, status model.PolicyStatus) ([]model.AutonomyPolicy, error)
	// SetPolicyState writes tier and status in one statement. It reports
	// false when no policy exists for the key.
	SetPolicyState(ctx context.Context, segmentKey string, tier model.Tier, status model.PolicyStatus) (bool, error)
}

// DecisionStore persists the append-only autonomy decision log.
type DecisionStore interface {
	InsertDecision(ctx context.Context, d *model.AutonomyDecision) error
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.AutonomyDecision, error)
	SegmentStats(ctx context.Context, segmentKey string, since time.Time) (*model.SegmentStats, error)
}

// ExperimentStore persists experiments and sticky cohort assignments.
type ExperimentStore interface {
	CreateExperiment(ctx context.Context, e *model.PricingExperiment) error
	GetExperiment(ctx context.Context, id string) (*model.PricingExperiment, error)
	ListExperiments(ctx context.Context) ([]model.PricingExperiment, error)
	GetActiveExperiment(ctx context.Context, accountID string) (*model.PricingExperiment, error)
	SetExperimentStatus(ctx context.Context, id string, status model.ExperimentStatus) error
	UpdateExperimentMetrics(ctx context.Context, id string, metrics model.ExperimentMetrics) error
	GetAssignment(ctx context.Context, experimentID, productID string) (*model.ExperimentAssignment, error)
	// AssignIfAbsent stores a when the product has no assignment yet and
	// returns whichever assignment is stored afterwards.
	AssignIfAbsent(ctx context.Context, a *model.ExperimentAssignment) (*model.ExperimentAssignment, error)
	CohortMetrics(ctx context.Context, experimentID string, group model.ExperimentGroup) (*model.CohortMetrics, error)
}

// SettingsStore persists account settings and global key/value settings.
type SettingsStore interface {
	GetPricingSettings(ctx context.Context, accountID string) (*model.PricingSettings, error)
	UpsertPricingSettings(ctx context.Context, s *model.PricingSettings) error
	GetSetting(ctx context.Context, key string) (*model.SystemSetting, error)
	UpsertSetting(ctx context.Context, key, value string) error
}

// TuningStore persists guardrail tuning recommendations.
type TuningStore interface {
	CreateTuningRecommendation(ctx context.Context, t *model.TuningRecommendation) error
	GetTuningRecommendation(ctx context.Context, id string) (*model.TuningRecommendation, error)
	ListTuningRecommendations(ctx context.Context, status model.TuningStatus) ([]model.TuningRecommendation, error)
	HasPendingTuning(ctx context.Context, strategyID, reasonCode string) (bool, error)
	// ApplyTuning writes the adjusted strategy and marks the recommendation
	// APPLIED in one transaction.
	ApplyTuning(ctx context.Context, id string, strategy *model.PricingStrategy, at time.Time) error
	ResolveTuning(ctx context.Context, id string, status model.TuningStatus, at time.Time) error
}

// Store defines the persistence interface for the pricing engine. Lookups
// return (nil, nil) when the row does not exist.
type Store interface {
	CatalogStore
	StrategyStore
	RecommendationStore
	PriceChangeStore
	PolicyStore
	DecisionStore
	ExperimentStore
	SettingsStore
	TuningStore

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
