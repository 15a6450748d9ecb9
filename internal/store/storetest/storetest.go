// Package storetest provides a migrated SQLite store and seed helpers for
// package tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/segment"
	"github.com/sells-group/autoprice/internal/store"
)

// New opens a migrated SQLite store in a temp dir, closed on cleanup.
func New(t testing.TB) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// Catalog is a seeded product listed on one market account.
type Catalog struct {
	Product model.Product
	Account model.MarketAccount
	Listing model.Listing
}

// SegmentKey returns the segment key of the seeded product/account pair
// governed by strategyID (nil when no strategy resolves).
func (c Catalog) SegmentKey(strategyID *string) string {
	return segment.Key(segment.For(&c.Product, &c.Account, strategyID))
}

// SeedCatalog inserts product p1 on account acct1 with listing L-p1.
func SeedCatalog(t testing.TB, st store.Store) Catalog {
	t.Helper()
	ctx := context.Background()
	c := Catalog{
		Product: model.Product{ID: "p1", Vendor: "acme", LifecycleStage: model.StageSteady},
		Account: model.MarketAccount{ID: "acct1", Name: "Main", Channel: "marketplace"},
		Listing: model.Listing{ProductID: "p1", MarketAccountID: "acct1", ListingRef: "L-p1"},
	}
	require.NoError(t, st.UpsertProduct(ctx, &c.Product))
	require.NoError(t, st.UpsertMarketAccount(ctx, &c.Account))
	require.NoError(t, st.UpsertListing(ctx, &c.Listing))
	return c
}

// SeedPolicy upserts an ACTIVE policy at the given tier.
func SeedPolicy(t testing.TB, st store.Store, segmentKey string, tier model.Tier) {
	t.Helper()
	require.NoError(t, st.UpsertPolicy(context.Background(), &model.AutonomyPolicy{
		SegmentKey: segmentKey, Tier: tier, Status: model.PolicyActive,
	}))
}

// SeedRecommendation inserts a PENDING recommendation for the catalog entry.
// mutate may adjust fields before insert.
func SeedRecommendation(t testing.TB, st store.Store, c Catalog, mutate func(*model.PricingRecommendation)) *model.PricingRecommendation {
	t.Helper()
	r := &model.PricingRecommendation{
		ProductID:        c.Product.ID,
		MarketAccountID:  c.Account.ID,
		CurrentPrice:     10000,
		RecommendedPrice: 10500,
		Confidence:       0.98,
		ExpectedMargin:   0.20,
		ReasonCodes:      []string{"COST_CHANGE"},
	}
	if mutate != nil {
		mutate(r)
	}
	require.NoError(t, st.CreateRecommendation(context.Background(), r))
	return r
}
