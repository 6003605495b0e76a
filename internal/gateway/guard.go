// ABOUTME: Per-(owner, conversation) single-stream concurrency guard
// ABOUTME: Admission and cleanup are two non-nested critical sections joined by eviction channels

package gateway

import (
	"log/slog"
	"sync"
	"time"
)

// teardownAckTimeout bounds how long admission waits for an evicted stream to
// acknowledge teardown before proceeding anyway.
const teardownAckTimeout = 5 * time.Second

// streamSlot is the record for one active stream. evict is closed by the
// guard to force the holder off; gone is closed by the holder once its
// teardown finished.
type streamSlot struct {
	evict chan struct{}
	gone  chan struct{}
}

// Lease is the holder's handle on an admitted slot.
type Lease struct {
	guard *StreamGuard
	key   string
	slot  *streamSlot
}

// Evicted is closed when a newer stream for the same (owner, conversation)
// was admitted and this one must terminate.
func (l *Lease) Evicted() <-chan struct{} {
	return l.slot.evict
}

// Release gives up the slot and acknowledges teardown. Must be called exactly
// once, after the holder has finished writing to its connection.
func (l *Lease) Release() {
	l.guard.release(l.key, l.slot)
	close(l.slot.gone)
}

// StreamGuard enforces at most one active event stream per (owner,
// conversation) pair. The registry lock is held only for map bookkeeping —
// never across the evicted connection's teardown, and never across any I/O.
type StreamGuard struct {
	mu     sync.Mutex
	slots  map[string]*streamSlot
	logger *slog.Logger
}

// NewStreamGuard creates a guard. Pass nil logger for default.
func NewStreamGuard(logger *slog.Logger) *StreamGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamGuard{
		slots:  make(map[string]*streamSlot),
		logger: logger.With("component", "streamguard"),
	}
}

func guardKey(owner, conversationID string) string {
	return owner + "\x00" + conversationID
}

// Admit acquires the slot for the pair, evicting any previous holder. The
// critical section only swaps the slot and signals eviction; waiting for the
// evicted holder's teardown acknowledgement happens after the lock is
// released, so a stuck teardown can never deadlock admission of other pairs.
func (g *StreamGuard) Admit(owner, conversationID string) *Lease {
	key := guardKey(owner, conversationID)
	slot := &streamSlot{
		evict: make(chan struct{}),
		gone:  make(chan struct{}),
	}

	g.mu.Lock()
	prev := g.slots[key]
	g.slots[key] = slot
	if prev != nil {
		close(prev.evict)
	}
	g.mu.Unlock()

	if prev != nil {
		select {
		case <-prev.gone:
		case <-time.After(teardownAckTimeout):
			g.logger.Warn("evicted stream did not acknowledge teardown",
				"owner", owner,
				"conversation_id", conversationID)
		}
	}

	return &Lease{guard: g, key: key, slot: slot}
}

// release is the cleanup critical section. A slot only removes itself; if a
// newer admission already replaced it, the map entry stays.
func (g *StreamGuard) release(key string, slot *streamSlot) {
	g.mu.Lock()
	if g.slots[key] == slot {
		delete(g.slots, key)
	}
	g.mu.Unlock()
}

// Active reports the number of held slots.
func (g *StreamGuard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}
