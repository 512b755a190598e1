// Package api exposes the policy engine over HTTP: the heartbeat endpoint
// guarded clients call before every paid request, operator endpoints for the
// kill switch and budget top-ups, and read-only status, statistics, journal,
// health and metrics endpoints.
package api
