package enforcer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
	"github.com/sells-group/autoprice/internal/store/storetest"
)

func TestReject(t *testing.T) {
	f := newFixture(t)
	key := f.cat.SegmentKey(nil)
	storetest.SeedPolicy(t, f.st, key, model.Tier2)
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)

	res, err := f.enf.Reject(context.Background(), rec.ID, "competitor match looks wrong")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, key, res.SegmentKey)

	stored := f.reload(t, rec.ID)
	assert.Equal(t, model.RecommendationRejected, stored.Status)
	assert.Equal(t, "review: competitor match looks wrong", stored.Note)

	decisions, err := f.st.ListDecisions(context.Background(), store.DecisionFilter{SegmentKey: key})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, model.DecisionRejected, decisions[0].Decision)
	assert.Equal(t, model.Tier2, decisions[0].TierUsed)
}

func TestReject_Terminal(t *testing.T) {
	f := newFixture(t)
	rec := storetest.SeedRecommendation(t, f.st, f.cat, nil)
	f.expectUpdate(10500, nil)
	_, err := f.enf.Enforce(context.Background(), rec.ID, model.ModeEnforce)
	require.NoError(t, err)

	res, err := f.enf.Reject(context.Background(), rec.ID, "too late")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, model.RecommendationApplied, f.reload(t, rec.ID).Status)
}

func TestReject_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.enf.Reject(context.Background(), "any", "  ")
	assert.ErrorContains(t, err, "reason is required")

	_, err = f.enf.Reject(context.Background(), "missing", "no")
	assert.ErrorContains(t, err, "not found")
}
