package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/api"
	"github.com/sells-group/autoprice/internal/autonomy"
	"github.com/sells-group/autoprice/internal/catalog"
	"github.com/sells-group/autoprice/internal/config"
	"github.com/sells-group/autoprice/internal/enforcer"
	"github.com/sells-group/autoprice/internal/experiment"
	"github.com/sells-group/autoprice/internal/governance"
	"github.com/sells-group/autoprice/internal/market"
	"github.com/sells-group/autoprice/internal/monitoring"
	"github.com/sells-group/autoprice/internal/store"
	"github.com/sells-group/autoprice/internal/strategy"
	"github.com/sells-group/autoprice/internal/tuning"
)

// engineEnv holds the store and every engine component the commands use.
type engineEnv struct {
	Store       store.Store
	Governance  *governance.Manager
	Experiments *experiment.Manager
	Strategies  *strategy.Resolver
	Guard       *autonomy.Guard
	Market      market.Adapter
	Enforcer    *enforcer.Enforcer
	Detector    *tuning.Detector
	Tuning      *tuning.Tuner
	Evolution   *autonomy.Tuner
	Collector   *monitoring.Collector
	Alerter     *monitoring.Alerter
	Importer    *catalog.Importer
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// APIDeps returns the handler dependencies for the HTTP server.
func (e *engineEnv) APIDeps() api.Deps {
	return api.Deps{
		Store:       e.Store,
		Enforcer:    e.Enforcer,
		Governance:  e.Governance,
		Evolution:   e.Evolution,
		Tuning:      e.Tuning,
		Experiments: e.Experiments,
		Collector:   e.Collector,
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "autoprice.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine validates config, opens and migrates the store and wires the
// engine. Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	if err := cfg.Validate("engine"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	mkt := market.NewFromConfig(cfg.Market)
	if cfg.Market.BaseURL == "" {
		zap.L().Warn("market.base_url not set, price updates will fail until configured")
	}
	return newEngine(st, mkt, cfg), nil
}

// newEngine wires the components over an open store.
func newEngine(st store.Store, mkt market.Adapter, c *config.Config) *engineEnv {
	env := &engineEnv{Store: st, Market: mkt}

	var expOpts []experiment.Option
	if c.Experiment.Seed != 0 {
		expOpts = append(expOpts, experiment.WithSeed(c.Experiment.Seed))
	}

	env.Governance = governance.NewManager(st, c.Autonomy.MaxUnfreezeTier)
	env.Experiments = experiment.NewManager(st, expOpts...)
	env.Strategies = strategy.NewResolver(st, c.Strategy.StageDefaults)
	env.Guard = autonomy.NewGuard(st, env.Governance, c.Autonomy)
	env.Enforcer = enforcer.New(st, mkt, env.Experiments, env.Strategies, env.Guard, c.Enforcer,
		time.Duration(c.Market.TimeoutSecs)*time.Second)
	env.Detector = tuning.NewDetector(st, tuning.ThresholdsFromConfig(c.Tuning))
	env.Tuning = tuning.NewTuner(st, env.Detector, c.Tuning.MaxDeltaStep)
	env.Evolution = autonomy.NewTuner(st, c.Autonomy)
	env.Collector = monitoring.NewCollector(st, env.Governance, env.Detector)
	env.Alerter = monitoring.NewAlerter(c.Monitoring)
	env.Importer = catalog.NewImporter(st)
	return env
}

// withEngine runs fn against a freshly initialised engine.
func withEngine(ctx context.Context, fn func(*engineEnv) error) error {
	env, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(env)
}
