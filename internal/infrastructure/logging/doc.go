// Package logging provides structured logging for the I/O bridge.
//
// It wraps log/slog so every entry carries the service name and build
// version. Components take a child via Component, which adds a
// component attribute:
//
//	logger := logging.New(cfg.Logging, version)
//	orch.SetLogger(logger.Component("orchestrator"))
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Never log secrets, tokens or passwords.
package logging
