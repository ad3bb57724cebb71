// Package api exposes the daemon's HTTP surface over the ping store.
//
// Routes:
//   - POST   /api/v1/pings      — enqueue a ping (store-assigned ID)
//   - GET    /api/v1/pings      — list stored pings, sorted by ID
//   - GET    /api/v1/pings/{id} — fetch one ping
//   - DELETE /api/v1/pings/{id} — acknowledge (remove) one ping; absent IDs
//     succeed with removed=0
//   - GET    /api/v1/health     — occupancy, capacity, lifetime counters
//   - POST   /api/v1/prune      — manual oldest-first eviction pass
//   - GET    /metrics           — Prometheus text exposition of the counters
//
// All responses are JSON except /metrics. BuildStatus is shared with the ws
// hub so both surfaces broadcast the same status document.
package api
