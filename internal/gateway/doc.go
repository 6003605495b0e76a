// Package gateway is the HTTP surface of the streaming gateway: message
// creation, the long-lived SSE event stream, mapping administration, and
// health.
//
// # Request Flow
//
// POST /api/messages accepts a conversation turn and returns its ids without
// any upstream round trip. GET /api/messages/{id}/events subscribes to the
// message's broker channel and relays events as SSE frames, heartbeating on
// a fixed interval when idle. All /api routes trust the identity headers the
// fronting admission middleware attached.
//
// # Concurrency Guard
//
// StreamGuard enforces at most one active stream per (owner, conversation).
// Admission evicts the previous holder by closing its evict channel and
// waits — outside any lock — for the holder to acknowledge teardown before
// the new stream receives its first event. Cleanup is a separate critical
// section; no lock is ever held across connection teardown or I/O.
//
// # Disconnects
//
// A client disconnect tears down only the transport. The orchestrator's
// background task keeps running and its terminal event stays available to
// late subscribers through the broker.
package gateway
