// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Components take a *zap.Logger in their constructors and name it after
// themselves through Logger.Component, so collector logs read as
// "collector.session", "output.worker" and so on.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("collector starting", zap.String("addr", ":8640"))
//	worker := output.NewWorker(cfg, transport, logger.Component("output"))
package logging
