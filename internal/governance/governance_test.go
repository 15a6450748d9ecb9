package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store/storetest"
)

func TestKillSwitch_DefaultsOff(t *testing.T) {
	m := NewManager(storetest.New(t), 1)

	on, err := m.KillSwitch(context.Background(), DomainPricing)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestKillSwitch_SetAndReadFresh(t *testing.T) {
	st := storetest.New(t)
	a := NewManager(st, 1)
	b := NewManager(st, 1)
	ctx := context.Background()

	require.NoError(t, a.SetKillSwitch(ctx, DomainPricing, true))
	on, err := b.KillSwitch(ctx, DomainPricing)
	require.NoError(t, err)
	assert.True(t, on)

	content, err := b.KillSwitch(ctx, DomainContent)
	require.NoError(t, err)
	assert.False(t, content, "domains are independent")

	require.NoError(t, a.SetKillSwitch(ctx, DomainPricing, false))
	on, err = b.KillSwitch(ctx, DomainPricing)
	require.NoError(t, err)
	assert.False(t, on)

	s, err := st.GetSetting(ctx, "kill_switch.pricing")
	require.NoError(t, err)
	assert.Equal(t, "false", s.Value)
}

func TestKillSwitch_UnknownDomain(t *testing.T) {
	m := NewManager(storetest.New(t), 1)
	assert.Error(t, m.SetKillSwitch(context.Background(), Domain("billing"), true))

	_, err := ParseDomain("billing")
	assert.Error(t, err)
	d, err := ParseDomain("content")
	require.NoError(t, err)
	assert.Equal(t, DomainContent, d)
}

func TestKillSwitch_GarbageValueReadsOff(t *testing.T) {
	st := storetest.New(t)
	require.NoError(t, st.UpsertSetting(context.Background(), KillSwitchKey(DomainPricing), "maybe"))

	on, err := NewManager(st, 1).KillSwitch(context.Background(), DomainPricing)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestKillSwitches(t *testing.T) {
	st := storetest.New(t)
	m := NewManager(st, 1)
	require.NoError(t, m.SetKillSwitch(context.Background(), DomainContent, true))

	all, err := m.KillSwitches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[Domain]bool{DomainPricing: false, DomainContent: true}, all)
}

func TestFreezeSegment(t *testing.T) {
	st := storetest.New(t)
	storetest.SeedPolicy(t, st, "seg1", model.Tier3)
	m := NewManager(st, 1)

	require.NoError(t, m.FreezeSegment(context.Background(), "seg1"))
	p, err := st.GetPolicy(context.Background(), "seg1")
	require.NoError(t, err)
	assert.Equal(t, model.PolicyFrozen, p.Status)
	assert.Equal(t, model.Tier0, p.Tier)

	assert.Error(t, m.FreezeSegment(context.Background(), "missing"))
}

func TestUnfreezeSegment_ConservativeTier(t *testing.T) {
	st := storetest.New(t)
	storetest.SeedPolicy(t, st, "seg1", model.Tier3)
	m := NewManager(st, 1)
	ctx := context.Background()
	require.NoError(t, m.FreezeSegment(ctx, "seg1"))

	err := m.UnfreezeSegment(ctx, "seg1", model.Tier3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds cap")

	require.NoError(t, m.UnfreezeSegment(ctx, "seg1", model.Tier1))
	p, err := st.GetPolicy(ctx, "seg1")
	require.NoError(t, err)
	assert.Equal(t, model.PolicyActive, p.Status)
	assert.Equal(t, model.Tier1, p.Tier)

	assert.Error(t, m.UnfreezeSegment(ctx, "seg1", model.Tier(-1)))
	assert.Error(t, m.UnfreezeSegment(ctx, "missing", model.Tier0))
}

func TestNewManager_InvalidCapFallsBack(t *testing.T) {
	m := NewManager(storetest.New(t), 9)
	assert.Equal(t, model.Tier1, m.maxUnfreezeTier)
}

func TestEnsurePolicyAndSetTier(t *testing.T) {
	st := storetest.New(t)
	m := NewManager(st, 1)
	ctx := context.Background()

	p, err := m.EnsurePolicy(ctx, "seg1")
	require.NoError(t, err)
	assert.Equal(t, model.Tier0, p.Tier)

	require.NoError(t, m.SetTier(ctx, "seg1", model.Tier2))
	p, err = m.EnsurePolicy(ctx, "seg1")
	require.NoError(t, err)
	assert.Equal(t, model.Tier2, p.Tier)

	require.NoError(t, m.FreezeSegment(ctx, "seg1"))
	err = m.SetTier(ctx, "seg1", model.Tier3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frozen")

	require.NoError(t, m.SetTier(ctx, "fresh", model.Tier3))
	p, err = st.GetPolicy(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.Tier3, p.Tier)
	assert.Equal(t, model.PolicyActive, p.Status)

	assert.Error(t, m.SetTier(ctx, "fresh", model.Tier(7)))
}
