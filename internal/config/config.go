package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Market     MarketConfig     `yaml:"market" mapstructure:"market"`
	Enforcer   EnforcerConfig   `yaml:"enforcer" mapstructure:"enforcer"`
	Autonomy   AutonomyConfig   `yaml:"autonomy" mapstructure:"autonomy"`
	Tuning     TuningConfig     `yaml:"tuning" mapstructure:"tuning"`
	Experiment ExperimentConfig `yaml:"experiment" mapstructure:"experiment"`
	Strategy   StrategyConfig   `yaml:"strategy" mapstructure:"strategy"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// CircuitConfig configures a circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MarketConfig configures the marketplace price-update adapter.
type MarketConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Token       string        `yaml:"token" mapstructure:"token"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst       int           `yaml:"burst" mapstructure:"burst"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// EnforcerConfig holds the unconditional safety guardrails and batch sizing.
type EnforcerConfig struct {
	DefaultMode      string  `yaml:"default_mode" mapstructure:"default_mode"`
	MaxDeltaRatio    float64 `yaml:"max_delta_ratio" mapstructure:"max_delta_ratio"`
	MaxAbsoluteDelta int64   `yaml:"max_absolute_delta" mapstructure:"max_absolute_delta"`
	MinPrice         int64   `yaml:"min_price" mapstructure:"min_price"`
	BatchSize        int     `yaml:"batch_size" mapstructure:"batch_size"`
}

// AutonomyConfig configures tier gating and the evolution cycle.
type AutonomyConfig struct {
	RiskMarginThreshold        float64 `yaml:"risk_margin_threshold" mapstructure:"risk_margin_threshold"`
	DefaultConfidenceThreshold float64 `yaml:"default_confidence_threshold" mapstructure:"default_confidence_threshold"`
	MaxUnfreezeTier            int     `yaml:"max_unfreeze_tier" mapstructure:"max_unfreeze_tier"`
	PromotionWindowDays        int     `yaml:"promotion_window_days" mapstructure:"promotion_window_days"`
	PromotionMinDecisions      int     `yaml:"promotion_min_decisions" mapstructure:"promotion_min_decisions"`
	PromotionMinSuccessRate    float64 `yaml:"promotion_min_success_rate" mapstructure:"promotion_min_success_rate"`
	PromotionMinAvgConfidence  float64 `yaml:"promotion_min_avg_confidence" mapstructure:"promotion_min_avg_confidence"`
	DemotionWindowHours        int     `yaml:"demotion_window_hours" mapstructure:"demotion_window_hours"`
	DemotionMinDecisions       int     `yaml:"demotion_min_decisions" mapstructure:"demotion_min_decisions"`
	DemotionMaxRejectionRate   float64 `yaml:"demotion_max_rejection_rate" mapstructure:"demotion_max_rejection_rate"`
}

// TuningConfig configures drift detection and strategy tuning.
type TuningConfig struct {
	WindowDays               int     `yaml:"window_days" mapstructure:"window_days"`
	SaturationMinSamples     int     `yaml:"saturation_min_samples" mapstructure:"saturation_min_samples"`
	SaturationRejectionRatio float64 `yaml:"saturation_rejection_ratio" mapstructure:"saturation_rejection_ratio"`
	SaturationHighRatio      float64 `yaml:"saturation_high_ratio" mapstructure:"saturation_high_ratio"`
	MarginDriftThreshold     float64 `yaml:"margin_drift_threshold" mapstructure:"margin_drift_threshold"`
	MaxDeltaStep             float64 `yaml:"max_delta_step" mapstructure:"max_delta_step"`
}

// ExperimentConfig configures cohort assignment. A zero seed draws from the clock.
type ExperimentConfig struct {
	Seed int64 `yaml:"seed" mapstructure:"seed"`
}

// StrategyConfig configures strategy fallbacks.
type StrategyConfig struct {
	StageDefaults map[string]string `yaml:"stage_defaults" mapstructure:"stage_defaults"`
}

// MonitoringConfig configures the pass scheduler and alerting.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	PendingBacklogMax     int     `yaml:"pending_backlog_max" mapstructure:"pending_backlog_max"`
	EnforceIntervalSecs   int     `yaml:"enforce_interval_secs" mapstructure:"enforce_interval_secs"`
	TuningIntervalSecs    int     `yaml:"tuning_interval_secs" mapstructure:"tuning_interval_secs"`
	EvolutionIntervalSecs int     `yaml:"evolution_interval_secs" mapstructure:"evolution_interval_secs"`
	EnforceMode           string  `yaml:"enforce_mode" mapstructure:"enforce_mode"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AUTOPRICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "autoprice.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("market.base_url", "")
	v.SetDefault("market.token", "")
	v.SetDefault("market.timeout_secs", 10)
	v.SetDefault("market.rate_limit", 5.0)
	v.SetDefault("market.burst", 1)
	v.SetDefault("market.circuit.failure_threshold", 5)
	v.SetDefault("market.circuit.reset_timeout_secs", 30)
	v.SetDefault("enforcer.default_mode", "SHADOW")
	v.SetDefault("enforcer.max_delta_ratio", 0.20)
	v.SetDefault("enforcer.max_absolute_delta", 100000)
	v.SetDefault("enforcer.min_price", 1000)
	v.SetDefault("enforcer.batch_size", 50)
	v.SetDefault("autonomy.risk_margin_threshold", 0.05)
	v.SetDefault("autonomy.default_confidence_threshold", 0.97)
	v.SetDefault("autonomy.max_unfreeze_tier", 1)
	v.SetDefault("autonomy.promotion_window_days", 14)
	v.SetDefault("autonomy.promotion_min_decisions", 30)
	v.SetDefault("autonomy.promotion_min_success_rate", 0.90)
	v.SetDefault("autonomy.promotion_min_avg_confidence", 0.96)
	v.SetDefault("autonomy.demotion_window_hours", 24)
	v.SetDefault("autonomy.demotion_min_decisions", 10)
	v.SetDefault("autonomy.demotion_max_rejection_rate", 0.5)
	v.SetDefault("tuning.window_days", 7)
	v.SetDefault("tuning.saturation_min_samples", 5)
	v.SetDefault("tuning.saturation_rejection_ratio", 0.30)
	v.SetDefault("tuning.saturation_high_ratio", 0.50)
	v.SetDefault("tuning.margin_drift_threshold", 0.05)
	v.SetDefault("tuning.max_delta_step", 0.10)
	v.SetDefault("strategy.stage_defaults", map[string]string{
		"LAUNCH":  "GROWTH",
		"STEADY":  "STABLE",
		"DECLINE": "PROFIT_DEFENSE",
	})
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.20)
	v.SetDefault("monitoring.pending_backlog_max", 500)
	v.SetDefault("monitoring.enforce_interval_secs", 60)
	v.SetDefault("monitoring.tuning_interval_secs", 3600)
	v.SetDefault("monitoring.evolution_interval_secs", 86400)
	v.SetDefault("monitoring.enforce_mode", "AUTO")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable for the given command
// mode ("engine" or "serve") and reports every problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "engine", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Enforcer.MaxDeltaRatio <= 0 || c.Enforcer.MaxDeltaRatio > 1 {
		errs = append(errs, "enforcer.max_delta_ratio must be in (0, 1]")
	}
	if c.Enforcer.MinPrice < 0 || c.Enforcer.MaxAbsoluteDelta <= 0 {
		errs = append(errs, "enforcer.min_price must be >= 0 and enforcer.max_absolute_delta > 0")
	}
	if c.Autonomy.MaxUnfreezeTier < 0 || c.Autonomy.MaxUnfreezeTier > 3 {
		errs = append(errs, "autonomy.max_unfreeze_tier must be between 0 and 3")
	}
	if t := c.Autonomy.DefaultConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, "autonomy.default_confidence_threshold must be between 0 and 1")
	}
	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
