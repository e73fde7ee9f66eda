package server

import (
	"github.com/GriffinCanCode/librarian/internal/infrastructure/config"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/logging"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/librarian/internal/infrastructure/resilience"
	"go.uber.org/zap"
)

// NewBreakers builds the breaker registry from configuration. Every builtin
// and configured breaker exists before the first call; every transition is
// logged and published as metrics.
func NewBreakers(cfg config.BreakerConfig, logger *logging.Logger, metrics *monitoring.Metrics) *resilience.Registry {
	fallback := resilience.Settings{
		FailureThreshold: cfg.DefaultThreshold,
		ResetTimeout:     cfg.DefaultResetTimeout,
	}
	opts := []resilience.Option{resilience.WithDefaults(fallback)}

	builtin := resilience.DefaultSettings()
	overridden := make(map[string]resilience.Settings)
	for name, n := range cfg.Thresholds {
		s := settingsFor(name, builtin, overridden, fallback)
		s.FailureThreshold = n
		overridden[name] = s
	}
	for name, d := range cfg.ResetTimeouts {
		s := settingsFor(name, builtin, overridden, fallback)
		s.ResetTimeout = d
		overridden[name] = s
	}
	for name, s := range overridden {
		opts = append(opts, resilience.WithSettings(name, s))
	}

	log := logger.Named("breaker")
	opts = append(opts, resilience.WithObserver(func(name string, from, to resilience.State, failures int) {
		fields := []zap.Field{
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Int("failures", failures),
		}
		if to == resilience.StateOpen {
			log.Warn("circuit breaker opened", fields...)
			return
		}
		log.Info("circuit breaker state changed", fields...)
	}))
	if metrics != nil {
		opts = append(opts, resilience.WithObserver(metrics.ObserveBreaker))
	}

	registry := resilience.NewRegistry(opts...)
	log.Info("circuit breakers registered", zap.Strings("breakers", registry.Names()))
	return registry
}

func settingsFor(name string, builtin, overridden map[string]resilience.Settings, fallback resilience.Settings) resilience.Settings {
	if s, ok := overridden[name]; ok {
		return s
	}
	if s, ok := builtin[name]; ok {
		return s
	}
	return fallback
}
