// Package api hosts the HTTP server, middleware, and REST handlers for the
// menu scanner. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/restaurants returns the current projected list.
//   - POST /v1/refresh searches around {"latitude","longitude"}.
//   - PUT /v1/filters replaces filter and sort preferences.
//   - PUT /v1/restaurants/favorite, POST /v1/restaurants/notes,
//     POST /v1/restaurants/rescan and POST /v1/restaurants/views act on one
//     restaurant identified by place_id, or by name and address.
//   - GET /v1/recommendations?limit=N ranks the projected list.
package api
