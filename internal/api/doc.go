// Package api implements the HTTP REST API and WebSocket server for the
// I/O bridge.
//
// This package provides:
//   - Read endpoints for devices, sessions, zone indicators and the diagnostic log
//   - Journal queries over persisted diagnostics and zone edges
//   - Control endpoints to reconnect, reset and drive LEDs
//   - WebSocket hub fed by the telemetry pipeline
//
// # Threading
//
// Indicators and the diagnostic log belong to the consumer goroutine.
// Handlers never touch them directly; they run a snapshot closure through
// consumer.Loop.Query and answer 503 if the loop does not respond in time.
//
// # Security
//
// Reads are open. When api.require_auth is set, control routes need an HS256
// bearer token (see IssueToken) and WebSocket connections need a single-use
// ticket from POST /auth/ws-ticket so the token never appears in a URL.
package api
