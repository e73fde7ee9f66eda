// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// The level and mode come from LOG_LEVEL and LOG_DEV. Components take a
// named child logger so entries can be filtered by "logger" (inventory,
// gateway, breaker, http).
//
// Example Usage:
//
//	logger := logging.NewFromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	logger.Named("gateway").Info("relaying", zap.String("path", path))
//	logger.Error("failed to open pool", zap.Error(err))
package logging
