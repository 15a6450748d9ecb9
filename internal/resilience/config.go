package resilience

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/autoprice/internal/config"
)

// FromCircuitConfig converts the configured circuit section to a
// BreakerConfig that logs state transitions.
func FromCircuitConfig(c config.CircuitConfig) BreakerConfig {
	cfg := BreakerConfig{
		FailureThreshold: c.FailureThreshold,
		OnStateChange: func(name string, from, to State) {
			zap.L().Warn("resilience: circuit state change",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	}
	if c.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return cfg.withDefaults()
}
