// Package logging configures log/slog for instrumentd and its delegate
// workers.
//
// Every record carries the service name and version. The hub logs as
// "instruments", workers as "instrument-delegate" with a delegate
// attribute, and each subsystem adds a component attribute:
//
//	logger := logging.New(cfg.Logging, version)
//	hub.SetLogger(logger.Component("dispatch"))
//
// JSON output suits log shippers; text output suits a terminal. API keys,
// JWT secrets and broker passwords are never logged.
package logging
