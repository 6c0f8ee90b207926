// Package api implements the HTTP surface of the ANPR simulator.
//
// This package provides:
//   - POST /sync: one CDK request per call, answered in the response body
//   - GET /async: the WebSocket push channel (commands in, answers and events out)
//   - /api/v1: a JSON control API for tests and operators
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Push channel
//
// Each WebSocket connection owns one broadcaster subscription. Command
// answers are queued on that subscription, so a client sees answers and
// events in the order they were produced, and a slow client is handled by
// the configured overflow policy like any other subscriber. Recognition and
// trigger-result events are always delivered; configuration, info and trace
// events only after setEnableStreams turns them on.
//
// # Control API
//
//	GET  /api/v1/health            server and dependency status
//	GET  /api/v1/state             full device snapshot
//	POST /api/v1/barrier/open      {"duration_ms": 2000} (body optional)
//	POST /api/v1/barrier/close
//	GET  /api/v1/simulation        current simulation settings
//	PUT  /api/v1/simulation        partial update, omitted fields unchanged
//	GET  /api/v1/generator
//	POST /api/v1/generator         {"enabled": true, "rate": 0.5}
//	GET  /api/v1/triggers/{id}     pending or retained trigger session
//	GET  /api/v1/journal           ?category=recognition&limit=50
//	GET  /api/v1/commands          supported CDK commands
//
// CDK failures are reported inside the CDK answer document with HTTP 200;
// HTTP error statuses are reserved for the control API.
package api
