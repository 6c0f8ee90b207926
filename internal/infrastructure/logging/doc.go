// Package logging provides structured logging for the ANPR simulator.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler, level and default fields.
//
// # Features
//
//   - JSON output by default (machine-parsable)
//   - Text output for local runs
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("listening", "port", 8080)
//	logger.Component("trigger").Warn("session replaced", "camera", "0")
//
// Lock passwords are never logged, hashed or otherwise.
package logging
