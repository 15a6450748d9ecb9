// Package governance holds the operator controls over autonomous pricing:
// kill switches per decision domain and per-segment freezes.
//
// Kill switches live in system settings under the key namespace
// "kill_switch.<domain>" with the values "true" and "false". They are read
// from the store on every call so a change takes effect on the next
// evaluation in every process.
package governance

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
)

// Domain names a class of autonomous decisions a kill switch can halt.
type Domain string

// Known kill switch domains.
const (
	DomainPricing Domain = "pricing"
	DomainContent Domain = "content"
)

// Domains lists every known domain.
var Domains = []Domain{DomainPricing, DomainContent}

// KillSwitchKey returns the system setting key for a domain.
func KillSwitchKey(d Domain) string {
	return "kill_switch." + string(d)
}

// ParseDomain validates a domain name.
func ParseDomain(s string) (Domain, error) {
	for _, d := range Domains {
		if string(d) == s {
			return d, nil
		}
	}
	return "", eris.Errorf("governance: unknown domain %q", s)
}

// Manager applies governance controls.
type Manager struct {
	store           store.Store
	maxUnfreezeTier model.Tier
}

// NewManager creates a governance Manager. Unfreezing is capped at
// maxUnfreezeTier.
func NewManager(st store.Store, maxUnfreezeTier int) *Manager {
	tier := model.Tier(maxUnfreezeTier)
	if !tier.Valid() {
		tier = model.Tier1
	}
	return &Manager{store: st, maxUnfreezeTier: tier}
}

// SetKillSwitch enables or disables the kill switch for a domain.
func (m *Manager) SetKillSwitch(ctx context.Context, d Domain, enabled bool) error {
	if _, err := ParseDomain(string(d)); err != nil {
		return err
	}
	if err := m.store.UpsertSetting(ctx, KillSwitchKey(d), strconv.FormatBool(enabled)); err != nil {
		return eris.Wrapf(err, "governance: set kill switch %s", d)
	}
	zap.L().Warn("governance: kill switch changed",
		zap.String("domain", string(d)),
		zap.Bool("enabled", enabled),
	)
	return nil
}

// KillSwitch reports whether the domain's kill switch is enabled. An unset or
// unparseable value reads as disabled.
func (m *Manager) KillSwitch(ctx context.Context, d Domain) (bool, error) {
	s, err := m.store.GetSetting(ctx, KillSwitchKey(d))
	if err != nil {
		return false, eris.Wrapf(err, "governance: read kill switch %s", d)
	}
	if s == nil {
		return false, nil
	}
	enabled, err := strconv.ParseBool(s.Value)
	if err != nil {
		zap.L().Warn("governance: unparseable kill switch value",
			zap.String("key", s.Key),
			zap.String("value", s.Value),
		)
		return false, nil
	}
	return enabled, nil
}

// KillSwitches returns the state of every domain.
func (m *Manager) KillSwitches(ctx context.Context) (map[Domain]bool, error) {
	out := make(map[Domain]bool, len(Domains))
	for _, d := range Domains {
		on, err := m.KillSwitch(ctx, d)
		if err != nil {
			return nil, err
		}
		out[d] = on
	}
	return out, nil
}

// FreezeSegment sets the segment FROZEN at tier 0 in a single write.
func (m *Manager) FreezeSegment(ctx context.Context, segmentKey string) error {
	ok, err := m.store.SetPolicyState(ctx, segmentKey, model.Tier0, model.PolicyFrozen)
	if err != nil {
		return eris.Wrapf(err, "governance: freeze %s", segmentKey)
	}
	if !ok {
		return eris.Errorf("governance: no policy for segment %s", segmentKey)
	}
	zap.L().Warn("governance: segment frozen", zap.String("segment_key", segmentKey))
	return nil
}

// UnfreezeSegment restores the segment to ACTIVE at the caller's tier, which
// must not exceed the configured unfreeze cap.
func (m *Manager) UnfreezeSegment(ctx context.Context, segmentKey string, tier model.Tier) error {
	if !tier.Valid() {
		return eris.Errorf("governance: invalid tier %d", tier)
	}
	if tier > m.maxUnfreezeTier {
		return eris.Errorf("governance: unfreeze tier %d exceeds cap %d", tier, m.maxUnfreezeTier)
	}
	ok, err := m.store.SetPolicyState(ctx, segmentKey, tier, model.PolicyActive)
	if err != nil {
		return eris.Wrapf(err, "governance: unfreeze %s", segmentKey)
	}
	if !ok {
		return eris.Errorf("governance: no policy for segment %s", segmentKey)
	}
	zap.L().Info("governance: segment unfrozen",
		zap.String("segment_key", segmentKey),
		zap.Int("tier", int(tier)),
	)
	return nil
}

// EnsurePolicy creates an ACTIVE tier-0 policy for a segment that has none.
func (m *Manager) EnsurePolicy(ctx context.Context, segmentKey string) (*model.AutonomyPolicy, error) {
	p, err := m.store.GetPolicy(ctx, segmentKey)
	if err != nil {
		return nil, eris.Wrapf(err, "governance: load policy %s", segmentKey)
	}
	if p != nil {
		return p, nil
	}
	p = &model.AutonomyPolicy{SegmentKey: segmentKey, Tier: model.Tier0, Status: model.PolicyActive}
	if err := m.store.UpsertPolicy(ctx, p); err != nil {
		return nil, eris.Wrapf(err, "governance: create policy %s", segmentKey)
	}
	return p, nil
}

// SetTier sets an ACTIVE segment's tier, as when an operator acts on a
// promotion recommendation. A segment without a policy is created ACTIVE at
// the given tier. Frozen segments must be unfrozen first.
func (m *Manager) SetTier(ctx context.Context, segmentKey string, tier model.Tier) error {
	if !tier.Valid() {
		return eris.Errorf("governance: invalid tier %d", tier)
	}
	p, err := m.store.GetPolicy(ctx, segmentKey)
	if err != nil {
		return eris.Wrapf(err, "governance: load policy %s", segmentKey)
	}
	if p == nil {
		p = &model.AutonomyPolicy{SegmentKey: segmentKey, Tier: tier, Status: model.PolicyActive}
		if err := m.store.UpsertPolicy(ctx, p); err != nil {
			return eris.Wrapf(err, "governance: create policy %s", segmentKey)
		}
		zap.L().Info("governance: segment policy created",
			zap.String("segment_key", segmentKey),
			zap.Int("tier", int(tier)),
		)
		return nil
	}
	if p.Status == model.PolicyFrozen {
		return eris.Errorf("governance: segment %s is frozen", segmentKey)
	}
	if _, err := m.store.SetPolicyState(ctx, segmentKey, tier, model.PolicyActive); err != nil {
		return eris.Wrapf(err, "governance: set tier %s", segmentKey)
	}
	zap.L().Info("governance: segment tier set",
		zap.String("segment_key", segmentKey),
		zap.Int("from", int(p.Tier)),
		zap.Int("to", int(tier)),
	)
	return nil
}
