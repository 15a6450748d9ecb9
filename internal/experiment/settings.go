package experiment

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/model"
)

// AccountSettings returns the stored base policy for an account, or the
// defaults when none is stored.
func (m *Manager) AccountSettings(ctx context.Context, accountID string) (*model.PricingSettings, error) {
	s, err := m.store.GetPricingSettings(ctx, accountID)
	if err != nil {
		return nil, eris.Wrapf(err, "experiment: load settings %s", accountID)
	}
	if s == nil {
		d := model.DefaultPricingSettings(accountID)
		return &d, nil
	}
	return s, nil
}

// UpdateAccountSettings applies the set fields of patch to the account's
// base policy and stores the result.
func (m *Manager) UpdateAccountSettings(ctx context.Context, accountID string, patch model.PolicyVariant) (*model.PricingSettings, error) {
	if err := validateVariant(patch); err != nil {
		return nil, err
	}
	account, err := m.store.GetMarketAccount(ctx, accountID)
	if err != nil {
		return nil, eris.Wrapf(err, "experiment: load account %s", accountID)
	}
	if account == nil {
		return nil, eris.Errorf("experiment: market account not found: %s", accountID)
	}

	s, err := m.AccountSettings(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if patch.AutoMode != nil {
		s.AutoMode = *patch.AutoMode
	}
	if patch.ConfidenceThreshold != nil {
		s.ConfidenceThreshold = *patch.ConfidenceThreshold
	}
	if patch.MaxChangesPerHour != nil {
		s.MaxChangesPerHour = *patch.MaxChangesPerHour
	}
	if patch.CooldownHours != nil {
		s.CooldownHours = *patch.CooldownHours
	}

	if err := m.store.UpsertPricingSettings(ctx, s); err != nil {
		return nil, eris.Wrap(err, "experiment: save settings")
	}
	zap.L().Info("experiment: account settings updated",
		zap.String("market_account_id", accountID),
		zap.Stringer("auto_mode", s.AutoMode),
		zap.Float64("confidence_threshold", s.ConfidenceThreshold),
		zap.Int("max_changes_per_hour", s.MaxChangesPerHour),
		zap.Int("cooldown_hours", s.CooldownHours),
	)
	return s, nil
}

func validateVariant(v model.PolicyVariant) error {
	if v.AutoMode != nil && *v.AutoMode == model.ModeEnforce {
		return eris.New("experiment: ENFORCE is operator-only and cannot be an auto mode")
	}
	if v.ConfidenceThreshold != nil && (*v.ConfidenceThreshold < 0 || *v.ConfidenceThreshold > 1) {
		return eris.Errorf("experiment: confidence threshold %.2f outside 0..1", *v.ConfidenceThreshold)
	}
	if v.MaxChangesPerHour != nil && *v.MaxChangesPerHour < 0 {
		return eris.New("experiment: max changes per hour must be >= 0")
	}
	if v.CooldownHours != nil && *v.CooldownHours < 0 {
		return eris.New("experiment: cooldown hours must be >= 0")
	}
	return nil
}
