// Package logging provides structured logging for Callpoint Core.
//
// It wraps the standard library log/slog with:
//   - Configuration-driven level, format, and destination
//   - Default service/version attributes on every record
//   - A Default() logger for early startup before config is loaded
//
// Components that only need a subset of log levels should accept a small
// local interface (Error, Warn, ...) rather than this concrete type, the
// same way the mqtt package does.
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("token issued", "token", tok.Token, "room", tok.Room)
package logging
