package model

// Lifecycle stages a product moves through.
const (
	StageLaunch  = "LAUNCH"
	StageSteady  = "STEADY"
	StageDecline = "DECLINE"
)

// Product is the catalog entry a recommendation prices.
type Product struct {
	ID             string  `json:"id"`
	Vendor         string  `json:"vendor"`
	CategoryCode   *string `json:"category_code,omitempty"`
	StrategyID     *string `json:"strategy_id,omitempty"` // explicit override
	LifecycleStage string  `json:"lifecycle_stage"`
}

// MarketAccount is a seller account on one sales channel.
type MarketAccount struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Channel string `json:"channel"`
}

// Listing links a product to its listing reference on a market account.
type Listing struct {
	ProductID       string `json:"product_id"`
	MarketAccountID string `json:"market_account_id"`
	ListingRef      string `json:"listing_ref"`
}
