package enforcer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/autoprice/internal/autonomy"
	"github.com/sells-group/autoprice/internal/config"
	"github.com/sells-group/autoprice/internal/experiment"
	"github.com/sells-group/autoprice/internal/governance"
	"github.com/sells-group/autoprice/internal/market"
	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/resilience"
	"github.com/sells-group/autoprice/internal/store"
	"github.com/sells-group/autoprice/internal/store/storetest"
	"github.com/sells-group/autoprice/internal/strategy"
	"github.com/sells-group/autoprice/internal/tuning"
)

type mockMarket struct {
	mock.Mock
}

func (m *mockMarket) UpdatePrice(ctx context.Context, accountID, listingRef string, newPrice int64) error {
	args := m.Called(ctx, accountID, listingRef, newPrice)
	return args.Error(0)
}

type fixture struct {
	st  *store.SQLiteStore
	mkt *mockMarket
	gov *governance.Manager
	enf *Enforcer
	cat storetest.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.New(t)
	gov := governance.NewManager(st, 1)
	mkt := &mockMarket{}
	enf := New(
		st,
		mkt,
		experiment.NewManager(st, experiment.WithRand(func() float64 { return 0.99 })),
		strategy.NewResolver(st, nil),
		autonomy.NewGuard(st, gov, config.AutonomyConfig{}),
		config.EnforcerConfig{},
		time.Second,
	)
	return &fixture{st: st, mkt: mkt, gov: gov, enf: enf, cat: storetest.SeedCatalog(t, st)}
}

func (f *fixture) expectUpdate(price int64, err error) *mock.Call {
	return f.mkt.On("UpdatePrice", mock.Anything, "acct1", "L-p1", price).Return(err)
}

func (f *fixture) reload(t *testing.T, id string) *model.PricingRecommendation {
	t.Helper()
	rec, err := f.st.GetRecommendation(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func (f *fixture) changes(t *testing.T) []model.PriceChange {
	t.Helper()
	out, err := f.st.ListPriceChanges(context.Background(), store.PriceChangeFilter{})
	require.NoError(t, err)
	return out
}

func TestEnforce_ManualApply(t *testing.T) {
	f := newFixture(t)
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)
	f.expectUpdate(10500, nil)

	res, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, model.RecommendationApplied, res.Status)
	assert.Equal(t, f.cat.SegmentKey(nil), res.SegmentKey)

	assert.Equal(t, model.RecommendationApplied, f.reload(t, rec.ID).Status)
	changes := f.changes(t)
	require.Len(t, changes, 1)
	assert.Equal(t, rec.ID, changes[0].RecommendationID)
	assert.Equal(t, model.PriceChangeSuccess, changes[0].Status)
	assert.Equal(t, int64(10000), changes[0].OldPrice)
	assert.Equal(t, int64(10500), changes[0].NewPrice)
	assert.Equal(t, "enforcer:ENFORCE", changes[0].Source)
	f.mkt.AssertExpectations(t)
}

func TestEnforce_SafetyRejections(t *testing.T) {
	tests := []struct {
		name    string
		current int64
		target  int64
		mode    model.Mode
		want    string
	}{
		{"ratio in shadow", 10000, 13000, model.ModeShadow, "Price delta too high"},
		{"ratio in enforce", 10000, 7000, model.ModeEnforce, "Price delta too high"},
		{"absolute delta", 1_000_000, 1_150_000, model.ModeEnforce, "Price delta too high"},
		{"below minimum", 1000, 900, model.ModeEnforce, "below minimum"},
		{"invalid current", 0, 5000, model.ModeEnforce, "Invalid current price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := storetest.SeedRecommendation(t, f.st, f.cat, func(r *model.PricingRecommendation) {
				r.CurrentPrice = tt.current
				r.RecommendedPrice = tt.target
			})

			res, err := f.enf.Enforce(context.Background(), rec.ID, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.Contains(t, res.Reason, tt.want)

			stored := f.reload(t, rec.ID)
			assert.Equal(t, model.RecommendationRejected, stored.Status)
			assert.Contains(t, stored.Note, tt.want)
			assert.Empty(t, f.changes(t))
			f.mkt.AssertNotCalled(t, "UpdatePrice", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestEnforce_SafetyRejectionLogsDecisionInAutonomousMode(t *testing.T) {
	f := newFixture(t)
	key := f.cat.SegmentKey(nil)
	storetest.SeedPolicy(t, f.st, key, model.Tier3)
	rec := storetest.SeedRecommendation(t, f.st, f.cat, func(r *model.PricingRecommendation) {
		r.RecommendedPrice = 15000
	})

	res, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforceAuto)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)

	decisions, err := f.st.ListDecisions(context.Background(), store.DecisionFilter{SegmentKey: key})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, model.DecisionRejected, decisions[0].Decision)
	assert.Equal(t, model.Tier3, decisions[0].TierUsed)
}

func TestEnforce_StrategyBoundsDelta(t *testing.T) {
	f := newFixture(t)
	s := &model.PricingStrategy{Name: "TIGHT", TargetMargin: 0.15, MaxDeltaRatio: 0.03}
	require.NoError(t, f.st.CreateStrategy(context.Background(), s))
	rec := storetest.SeedRecommendation(t, f.st, f.cat, func(r *model.PricingRecommendation) {
		r.StrategyID = &s.ID
	})

	res, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, f.cat.SegmentKey(&s.ID), res.SegmentKey)
}

func TestEnforce_ShadowNeverTouchesMarket(t *testing.T) {
	f := newFixture(t)
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)

	res, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeShadow)
	require.NoError(t, err)
	assert.Equal(t, OutcomeShadow, res.Outcome)
	assert.Contains(t, res.Reason, "10000 -> 10500")

	assert.Equal(t, model.RecommendationPending, f.reload(t, rec.ID).Status)
	assert.Empty(t, f.changes(t))
	f.mkt.AssertNotCalled(t, "UpdatePrice", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEnforce_AutoResolvesAgainstSettings(t *testing.T) {
	f := newFixture(t)
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)

	// Unconfigured accounts resolve AUTO to shadow.
	res, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, model.ModeShadow, res.Mode)
	assert.Equal(t, OutcomeShadow, res.Outcome)

	settings := model.DefaultPricingSettings("acct1")
	settings.AutoMode = model.ModeEnforce
	require.NoError(t, f.st.UpsertPricingSettings(context.Background(), &settings))
	f.expectUpdate(10500, nil)

	res, err = f.enf.Enforce(context.Background(), rec.ID, model.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, model.ModeEnforce, res.Mode)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestEnforce_AutonomousModes(t *testing.T) {
	tests := []struct {
		name    string
		tier    *model.Tier
		mode    model.Mode
		applied bool
		reason  string
	}{
		{"no policy", nil, model.ModeEnforceAuto, false, "no policy"},
		{"tier 0", tierPtr(model.Tier0), model.ModeEnforceAuto, false, "tier 0"},
		{"tier 1 not risk", tierPtr(model.Tier1), model.ModeEnforceLite, false, "not a risk mitigation"},
		{"tier 2 confident", tierPtr(model.Tier2), model.ModeEnforceAuto, true, ""},
		{"tier 3 lite", tierPtr(model.Tier3), model.ModeEnforceLite, true, ""},
		{"tier 3 auto", tierPtr(model.Tier3), model.ModeEnforceAuto, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			key := f.cat.SegmentKey(nil)
			if tt.tier != nil {
				storetest.SeedPolicy(t, f.st, key, *tt.tier)
			}
			rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)
			if tt.applied {
				f.expectUpdate(10500, nil)
			}

			res, err := f.enf.Enforce(context.Background(), rec.ID, tt.mode)
			require.NoError(t, err)

			decisions, err := f.st.ListDecisions(context.Background(), store.DecisionFilter{SegmentKey: key})
			require.NoError(t, err)
			require.Len(t, decisions, 1)

			if tt.applied {
				assert.Equal(t, OutcomeApplied, res.Outcome)
				assert.Equal(t, model.DecisionApplied, decisions[0].Decision)
				return
			}
			assert.Equal(t, OutcomeDeferred, res.Outcome)
			assert.Equal(t, model.DecisionPending, decisions[0].Decision)
			stored := f.reload(t, rec.ID)
			assert.Equal(t, model.RecommendationPending, stored.Status)
			assert.Contains(t, stored.Note, tt.reason)
			f.mkt.AssertNotCalled(t, "UpdatePrice", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func tierPtr(t model.Tier) *model.Tier { return &t }

func TestEnforce_KillSwitchBlocksTier3(t *testing.T) {
	f := newFixture(t)
	storetest.SeedPolicy(t, f.st, f.cat.SegmentKey(nil), model.Tier3)
	require.NoError(t, f.gov.SetKillSwitch(context.Background(), governance.DomainPricing, true))
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)

	res, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforceAuto)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Contains(t, res.Reason, "global kill switch")
	f.mkt.AssertNotCalled(t, "UpdatePrice", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// Takes effect on the next evaluation once cleared.
	require.NoError(t, f.gov.SetKillSwitch(context.Background(), governance.DomainPricing, false))
	f.expectUpdate(10500, nil)
	res, err = f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforceAuto)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestEnforce_Cooldown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.st.InsertPriceChange(context.Background(), &model.PriceChange{
		ProductID: "p1", MarketAccountID: "acct1", OldPrice: 9500, NewPrice: 10000,
		Source: "enforcer:ENFORCE", Status: model.PriceChangeSuccess,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}))
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)

	res, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Contains(t, f.reload(t, rec.ID).Note, "cooldown")
	f.mkt.AssertNotCalled(t, "UpdatePrice", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEnforce_CooldownIgnoresFailuresAndOldChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.st.InsertPriceChange(ctx, &model.PriceChange{
		ProductID: "p1", MarketAccountID: "acct1", Status: model.PriceChangeFail,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}))
	require.NoError(t, f.st.InsertPriceChange(ctx, &model.PriceChange{
		ProductID: "p1", MarketAccountID: "acct1", Status: model.PriceChangeSuccess,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}))
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)
	f.expectUpdate(10500, nil)

	res, err := f.enf.Enforce(ctx, rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestEnforce_Throttle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settings := model.DefaultPricingSettings("acct1")
	settings.MaxChangesPerHour = 2
	settings.CooldownHours = 0
	require.NoError(t, f.st.UpsertPricingSettings(ctx, &settings))
	for _, pid := range []string{"p2", "p3"} {
		require.NoError(t, f.st.InsertPriceChange(ctx, &model.PriceChange{
			ProductID: pid, MarketAccountID: "acct1", Status: model.PriceChangeSuccess,
			CreatedAt: time.Now().UTC().Add(-10 * time.Minute),
		}))
	}
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)

	res, err := f.enf.Enforce(ctx, rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Contains(t, res.Reason, "throttle: 2 changes")
	assert.Contains(t, f.reload(t, rec.ID).Note, "throttle")
}

func TestEnforce_MarketFailure(t *testing.T) {
	f := newFixture(t)
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)
	f.expectUpdate(10500, errors.New("listing locked"))

	res, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, model.RecommendationFailed, f.reload(t, rec.ID).Status)

	changes := f.changes(t)
	require.Len(t, changes, 1)
	assert.Equal(t, model.PriceChangeFail, changes[0].Status)
	assert.Contains(t, changes[0].Error, "listing locked")
}

func TestEnforce_MarketTimeoutFails(t *testing.T) {
	f := newFixture(t)
	f.enf.timeout = 20 * time.Millisecond
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)
	f.expectUpdate(10500, context.DeadlineExceeded).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	})

	res, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	f.mkt.AssertNumberOfCalls(t, "UpdatePrice", 1)
}

func TestEnforce_CircuitOpenDefers(t *testing.T) {
	f := newFixture(t)
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)
	f.expectUpdate(10500, eris.Wrap(resilience.ErrCircuitOpen, "resilience: acct1"))

	res, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Equal(t, model.RecommendationPending, f.reload(t, rec.ID).Status)
	assert.Empty(t, f.changes(t))
}

func TestEnforce_RateLimitWaitDefers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)
	f.expectUpdate(10500, eris.Wrapf(market.ErrNotSent, "rate limit wait: %v", context.DeadlineExceeded))

	res, err := f.enf.Enforce(ctx, rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Contains(t, res.Reason, "rate limit")

	stored := f.reload(t, rec.ID)
	assert.Equal(t, model.RecommendationPending, stored.Status)
	assert.Contains(t, stored.Note, "rate limit")
	assert.Empty(t, f.changes(t))

	// The claim was released, so the next pass can pick it up.
	ok, err := f.st.ClaimRecommendation(ctx, rec.ID, "next-pass", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnforce_ConcurrentPassesApplyOnce(t *testing.T) {
	f := newFixture(t)
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)
	f.expectUpdate(10500, nil).Run(func(mock.Arguments) {
		time.Sleep(100 * time.Millisecond)
	})

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforce)
		}(i)
	}
	wg.Wait()

	outcomes := map[Outcome]int{}
	for i := range results {
		require.NoError(t, errs[i])
		outcomes[results[i].Outcome]++
	}
	assert.Equal(t, map[Outcome]int{OutcomeApplied: 1, OutcomeSkipped: 1}, outcomes)
	f.mkt.AssertNumberOfCalls(t, "UpdatePrice", 1)

	changes := f.changes(t)
	require.Len(t, changes, 1)
	assert.Equal(t, model.PriceChangeSuccess, changes[0].Status)
	assert.Equal(t, model.RecommendationApplied, f.reload(t, rec.ID).Status)
}

func TestEnforce_LiveClaimSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)
	ok, err := f.st.ClaimRecommendation(ctx, rec.ID, "other-pass", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.enf.Enforce(ctx, rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "claimed by another pass", res.Reason)
	assert.Equal(t, model.RecommendationPending, f.reload(t, rec.ID).Status)
	f.mkt.AssertNotCalled(t, "UpdatePrice", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEnforce_PersistsResolvedStrategy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stable := &model.PricingStrategy{Name: "STABLE", TargetMargin: 0.20, MinMargin: 0.10, MaxDeltaRatio: 0.10}
	require.NoError(t, f.st.CreateStrategy(ctx, stable))

	// Six of ten stage-resolved recommendations breach the 10% bound.
	for i := 0; i < 10; i++ {
		target := int64(10500)
		if i < 6 {
			target = 13000
		}
		rec := storetest.SeedRecommendation(t, f.st, f.cat, func(r *model.PricingRecommendation) {
			r.RecommendedPrice = target
		})
		res, err := f.enf.Enforce(ctx, rec.ID, model.ModeShadow)
		require.NoError(t, err)
		assert.Equal(t, f.cat.SegmentKey(&stable.ID), res.SegmentKey)

		stored := f.reload(t, rec.ID)
		require.NotNil(t, stored.StrategyID)
		assert.Equal(t, stable.ID, *stored.StrategyID)
	}

	signals, err := tuning.NewDetector(f.st, tuning.ThresholdsFromConfig(config.TuningConfig{})).Detect(ctx)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, model.SignalSafetySaturation, signals[0].Code)
	assert.Equal(t, stable.ID, signals[0].StrategyID)
	assert.Equal(t, 10, signals[0].Total)
	assert.Equal(t, 6, signals[0].Rejected)
	assert.Equal(t, tuning.SeverityHigh, signals[0].Severity)
}

func TestEnforce_MissingListingFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.st.UpsertProduct(ctx, &model.Product{ID: "p2", Vendor: "acme", LifecycleStage: model.StageLaunch}))
	rec := storetest.SeedRecommendation(t, f.st, f.cat, func(r *model.PricingRecommendation) {
		r.ProductID = "p2"
	})

	res, err := f.enf.Enforce(ctx, rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "no listing")
}

func TestEnforce_IdempotentOnTerminal(t *testing.T) {
	f := newFixture(t)
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)
	f.expectUpdate(10500, nil).Once()

	first, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, first.Outcome)

	second, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforce)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, second.Outcome)
	assert.Equal(t, model.RecommendationApplied, second.Status)
	f.mkt.AssertNumberOfCalls(t, "UpdatePrice", 1)
	assert.Len(t, f.changes(t), 1)
}

func TestEnforce_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.enf.Enforce(context.Background(), "missing", model.ModeEnforce)
	assert.ErrorContains(t, err, "recommendation not found")
}

func TestEnforce_ExperimentVariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	enforce := model.ModeEnforce
	require.NoError(t, f.st.CreateExperiment(ctx, &model.PricingExperiment{
		Name:      "auto-enforce",
		TestRatio: 1,
		Variant:   model.PolicyVariant{AutoMode: &enforce},
		Status:    model.ExperimentActive,
	}))
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)
	f.expectUpdate(10500, nil)

	res, err := f.enf.Enforce(ctx, rec.ID, model.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, model.ModeEnforce, res.Mode)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, model.GroupTest, res.ExperimentGroup)

	stored := f.reload(t, rec.ID)
	require.NotNil(t, stored.ExperimentID)
	assert.Equal(t, model.GroupTest, stored.ExperimentGroup)
}
