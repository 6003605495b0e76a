// Package broker provides per-message event channels connecting one
// orchestrator producer to at most one attached subscriber.
//
// # Lifecycle
//
// A channel is created when a message is accepted, fed by Publish, and
// closed for writes by its first terminal event (completed or error). The
// terminal event is cached: a subscriber attaching after closure receives it
// immediately instead of an error, and repeated late subscriptions observe
// identical content. Exactly one terminal event exists per message; the
// producer assigns gap-free sequence numbers and the broker never drops a
// queued event — a full queue fails the publish instead.
//
// # Reclamation
//
// Channel removal is a retention-time policy, not an object-lifetime
// accident. The Janitor sweeps on a fixed interval and reclaims channels
// whose terminal event has been retrieved at least once or whose retention
// window has elapsed.
package broker
