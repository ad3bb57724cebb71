// Package uploader delivers stored pings to the telemetry collector over
// HTTP and acknowledges the delivered subset back to the store.
//
// Each cycle reads every stored ping, sorts by ID (the caller's insertion
// order), and POSTs each payload to the collector base URL joined with the
// ping's destination path. Outcomes:
//
//   - 2xx — delivered; the ping's ID joins the acknowledge set
//   - 4xx — the collector permanently rejects the document; retrying cannot
//     succeed, so the ping is discarded (acknowledged) and counted
//   - 5xx or transport error — the ping stays in the store and the cycle
//     ends early; the next cycle is delayed by truncated exponential
//     backoff (1s→60s, ±25% jitter)
//
// Only explicitly confirmed IDs are ever removed, so a partially successful
// batch keeps its undelivered remainder intact.
//
// Auth to the collector: mTLS, API key header, bearer token, or basic auth,
// with secret values resolved from environment variables by the config
// layer. The do field is injectable for tests.
package uploader
