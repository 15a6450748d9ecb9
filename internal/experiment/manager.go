// Package experiment assigns products to A/B cohorts and derives the
// effective pricing policy for each cohort.
package experiment

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/model"
	"github.com/sells-group/autoprice/internal/store"
)

// Policy is the account base policy after experiment overrides.
type Policy struct {
	AutoMode            model.Mode            `json:"auto_mode"`
	ConfidenceThreshold float64               `json:"confidence_threshold"`
	MaxChangesPerHour   int                   `json:"max_changes_per_hour"`
	Cooldown            time.Duration         `json:"cooldown"`
	ExperimentID        string                `json:"experiment_id,omitempty"`
	Group               model.ExperimentGroup `json:"group,omitempty"`
}

// Manager resolves effective policies and administers experiments.
type Manager struct {
	store store.Store

	mu   sync.Mutex
	roll func() float64
}

// Option configures a Manager.
type Option func(*Manager)

// WithRand sets the source of uniform [0,1) draws used for cohort assignment.
func WithRand(roll func() float64) Option {
	return func(m *Manager) {
		if roll != nil {
			m.roll = roll
		}
	}
}

// WithSeed makes cohort assignment reproducible.
func WithSeed(seed int64) Option {
	return func(m *Manager) {
		if seed == 0 {
			return
		}
		r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
		m.roll = r.Float64
	}
}

// NewManager creates an experiment Manager.
func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{store: st, roll: rand.Float64}
	for _, o := range opts {
		o(m)
	}
	return m
}

// EffectivePolicy loads the account's base policy and applies the variant of
// the active experiment when the product is in the TEST cohort. The first call
// for a product under an experiment persists its cohort; later calls reuse it.
func (m *Manager) EffectivePolicy(ctx context.Context, productID, accountID string) (*Policy, error) {
	settings, err := m.store.GetPricingSettings(ctx, accountID)
	if err != nil {
		return nil, eris.Wrap(err, "experiment: load settings")
	}
	if settings == nil {
		d := model.DefaultPricingSettings(accountID)
		settings = &d
	}

	p := &Policy{
		AutoMode:            settings.AutoMode,
		ConfidenceThreshold: settings.ConfidenceThreshold,
		MaxChangesPerHour:   settings.MaxChangesPerHour,
		Cooldown:            time.Duration(settings.CooldownHours) * time.Hour,
	}

	exp, err := m.store.GetActiveExperiment(ctx, accountID)
	if err != nil {
		return nil, eris.Wrap(err, "experiment: load active experiment")
	}
	if exp == nil {
		return p, nil
	}

	group, err := m.assign(ctx, exp, productID)
	if err != nil {
		return nil, err
	}
	p.ExperimentID = exp.ID
	p.Group = group

	if group == model.GroupTest {
		applyVariant(p, exp.Variant)
	}
	return p, nil
}

func (m *Manager) assign(ctx context.Context, exp *model.PricingExperiment, productID string) (model.ExperimentGroup, error) {
	existing, err := m.store.GetAssignment(ctx, exp.ID, productID)
	if err != nil {
		return "", eris.Wrap(err, "experiment: load assignment")
	}
	if existing != nil {
		return existing.Group, nil
	}

	group := model.GroupControl
	if m.draw() < exp.TestRatio {
		group = model.GroupTest
	}

	// A concurrent pass may have assigned the product first; the stored
	// group is authoritative.
	stored, err := m.store.AssignIfAbsent(ctx, &model.ExperimentAssignment{
		ExperimentID: exp.ID,
		ProductID:    productID,
		Group:        group,
	})
	if err != nil {
		return "", eris.Wrap(err, "experiment: persist assignment")
	}
	if stored == nil {
		return "", eris.Errorf("experiment: assignment for %s vanished", productID)
	}

	zap.L().Debug("experiment: assigned cohort",
		zap.String("experiment_id", exp.ID),
		zap.String("product_id", productID),
		zap.String("group", string(stored.Group)),
	)
	return stored.Group, nil
}

func (m *Manager) draw() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roll()
}

func applyVariant(p *Policy, v model.PolicyVariant) {
	if v.AutoMode != nil {
		p.AutoMode = *v.AutoMode
	}
	if v.ConfidenceThreshold != nil {
		p.ConfidenceThreshold = *v.ConfidenceThreshold
	}
	if v.MaxChangesPerHour != nil {
		p.MaxChangesPerHour = *v.MaxChangesPerHour
	}
	if v.CooldownHours != nil {
		p.Cooldown = time.Duration(*v.CooldownHours) * time.Hour
	}
}

// Create validates and stores a new DRAFT experiment.
func (m *Manager) Create(ctx context.Context, e *model.PricingExperiment) error {
	if strings.TrimSpace(e.Name) == "" {
		return eris.New("experiment: name is required")
	}
	if e.TestRatio < 0 || e.TestRatio > 1 {
		return eris.Errorf("experiment: test ratio %.2f outside 0..1", e.TestRatio)
	}
	if err := validateVariant(e.Variant); err != nil {
		return err
	}
	e.Status = model.ExperimentDraft
	return m.store.CreateExperiment(ctx, e)
}

// SetStatus moves an experiment DRAFT -> ACTIVE -> COMPLETED. Activation is
// refused while another experiment is active for the same account scope.
// Completing an experiment records its final metrics.
func (m *Manager) SetStatus(ctx context.Context, id string, to model.ExperimentStatus) error {
	e, err := m.store.GetExperiment(ctx, id)
	if err != nil {
		return eris.Wrap(err, "experiment: load")
	}
	if e == nil {
		return eris.Errorf("experiment: %s not found", id)
	}

	switch {
	case e.Status == model.ExperimentDraft && to == model.ExperimentActive:
		account := ""
		if e.MarketAccountID != nil {
			account = *e.MarketAccountID
		}
		active, err := m.store.GetActiveExperiment(ctx, account)
		if err != nil {
			return eris.Wrap(err, "experiment: check active")
		}
		if active != nil {
			return eris.Errorf("experiment: %s is already active for this account", active.ID)
		}
	case e.Status == model.ExperimentActive && to == model.ExperimentCompleted:
		if _, err := m.Summarize(ctx, id); err != nil {
			return err
		}
	default:
		return eris.Errorf("experiment: cannot move %s from %s to %s", id, e.Status, to)
	}

	if err := m.store.SetExperimentStatus(ctx, id, to); err != nil {
		return eris.Wrap(err, "experiment: set status")
	}
	zap.L().Info("experiment: status changed",
		zap.String("experiment_id", id),
		zap.String("from", string(e.Status)),
		zap.String("to", string(to)),
	)
	return nil
}

// Summarize aggregates recommendation outcomes per cohort and persists them
// on the experiment.
func (m *Manager) Summarize(ctx context.Context, id string) (*model.ExperimentMetrics, error) {
	e, err := m.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "experiment: load")
	}
	if e == nil {
		return nil, eris.Errorf("experiment: %s not found", id)
	}

	control, err := m.store.CohortMetrics(ctx, id, model.GroupControl)
	if err != nil {
		return nil, eris.Wrap(err, "experiment: control metrics")
	}
	test, err := m.store.CohortMetrics(ctx, id, model.GroupTest)
	if err != nil {
		return nil, eris.Wrap(err, "experiment: test metrics")
	}

	now := time.Now().UTC()
	metrics := model.ExperimentMetrics{Control: *control, Test: *test, ComputedAt: &now}
	if err := m.store.UpdateExperimentMetrics(ctx, id, metrics); err != nil {
		return nil, eris.Wrap(err, "experiment: save metrics")
	}
	return &metrics, nil
}

// List returns all experiments, newest first.
func (m *Manager) List(ctx context.Context) ([]model.PricingExperiment, error) {
	out, err := m.store.ListExperiments(ctx)
	return out, eris.Wrap(err, "experiment: list")
}
