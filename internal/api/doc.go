// Package api implements the HTTP API and WebSocket console for sqlbridge.
//
// This package provides:
//   - POST /api/v1/scripts/run to run one script and return its JSON result
//   - GET /api/v1/console, a WebSocket that runs one script per message
//   - GET /api/v1/health and GET /api/v1/metrics for monitoring
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - Bearer JWT identification of the caller principal
//
// # Security
//
// A bearer token is optional unless security.require_auth is set. Without
// one the script runs as the anonymous caller and me() returns an empty
// Uint8Array. A token that is present but invalid is always rejected.
// Browsers cannot set headers on WebSocket upgrades, so the console also
// accepts the token in the access_token query parameter.
package api
