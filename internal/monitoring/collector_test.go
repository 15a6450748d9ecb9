package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/autoprice/internal/governance"
	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
	"github.com/sells-group/autoprice/internal/store/storetest"
	"github.com/sells-group/autoprice/internal/tuning"
)

type stubDetector struct {
	signals []tuning.Signal
	err     error
}

func (d stubDetector) Detect(context.Context) ([]tuning.Signal, error) {
	return d.signals, d.err
}

func seedChange(t *testing.T, st store.Store, status model.PriceChangeStatus, age time.Duration) {
	t.Helper()
	require.NoError(t, st.InsertPriceChange(context.Background(), &model.PriceChange{
		ProductID: "p1", MarketAccountID: "acct1", Status: status,
		CreatedAt: time.Now().UTC().Add(-age),
	}))
}

func TestCollector_Collect(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	c := storetest.SeedCatalog(t, st)
	gov := governance.NewManager(st, 1)

	storetest.SeedRecommendation(t, st, c, nil)
	storetest.SeedRecommendation(t, st, c, nil)
	rejected := storetest.SeedRecommendation(t, st, c, nil)
	_, err := st.TransitionRecommendation(ctx, rejected.ID, model.RecommendationRejected, "review")
	require.NoError(t, err)

	seedChange(t, st, model.PriceChangeSuccess, time.Hour)
	seedChange(t, st, model.PriceChangeSuccess, time.Hour)
	seedChange(t, st, model.PriceChangeSuccess, time.Hour)
	seedChange(t, st, model.PriceChangeFail, time.Hour)
	seedChange(t, st, model.PriceChangeFail, 48*time.Hour)

	storetest.SeedPolicy(t, st, "seg-frozen", model.Tier2)
	require.NoError(t, gov.FreezeSegment(ctx, "seg-frozen"))
	storetest.SeedPolicy(t, st, "seg-active", model.Tier1)
	require.NoError(t, gov.SetKillSwitch(ctx, governance.DomainPricing, true))

	detector := stubDetector{signals: []tuning.Signal{
		{StrategyID: "s1", Code: model.SignalSafetySaturation, Severity: tuning.SeverityHigh},
		{StrategyID: "s2", Code: model.SignalMarginDrift, Severity: tuning.SeverityMedium},
	}}

	snap, err := NewCollector(st, gov, detector).Collect(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.PendingBacklog)
	assert.Equal(t, 1, snap.RejectedTotal)
	assert.Equal(t, 3, snap.ChangesApplied)
	assert.Equal(t, 1, snap.ChangesFailed)
	assert.InDelta(t, 0.25, snap.FailureRate, 1e-9)
	assert.Equal(t, []string{"seg-frozen"}, snap.FrozenSegments)
	assert.True(t, snap.KillSwitches[governance.DomainPricing])
	assert.False(t, snap.KillSwitches[governance.DomainContent])
	require.Len(t, snap.HighDrift, 1)
	assert.Equal(t, "s1", snap.HighDrift[0].StrategyID)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_EmptyStore(t *testing.T) {
	st := storetest.New(t)
	snap, err := NewCollector(st, governance.NewManager(st, 1), nil).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.PendingBacklog)
	assert.Zero(t, snap.FailureRate)
	assert.Empty(t, snap.FrozenSegments)
	assert.Nil(t, snap.HighDrift)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_DetectorError(t *testing.T) {
	st := storetest.New(t)
	_, err := NewCollector(st, governance.NewManager(st, 1), stubDetector{err: errors.New("boom")}).
		Collect(context.Background(), 24)
	assert.ErrorContains(t, err, "monitoring: drift")
}
