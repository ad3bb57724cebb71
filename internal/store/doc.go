// Package store persists telemetry pings as one JSON file per record in a
// single directory — the directory is the table, the file name is the key.
//
// Each ping is identified by a caller-assigned, monotonically increasing
// integer ID embedded in the file name (ping-<id>.json); Filename and
// IDFromFilename are exact inverses. The file body holds the destination
// path and the opaque payload document.
//
// Writes publish atomically: the document goes to a uniquely named temp file
// in the same directory and is renamed into place, so an observer of the
// directory never sees a partial record, and the published file holds no
// lock once Put returns.
//
// Capacity is enforced by Prune (oldest-first, smallest IDs evicted), which
// the daemon drives from Run's ticker — never from Put itself. Delivered
// pings are removed individually via Acknowledge, which ignores absent IDs
// so duplicate acks and prune races are harmless.
//
// Files whose contents fail to decode are skipped, skipped silently, or
// quarantined aside depending on the configured CorruptPolicy; a bad file
// never aborts enumeration.
package store
