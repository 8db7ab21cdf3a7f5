// Package logging provides structured logging for the Jeedom bridge.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler, level and default fields.
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
//	ingestLog := logger.Component("ingest")
//	ingestLog.Warn("command references unknown device", "cmd_id", 42)
//
// # Security
//
// Never log the Jeedom API key or MQTT password. Use RedactKey when a
// key needs to appear in a diagnostic.
package logging
