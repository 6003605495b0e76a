// ABOUTME: In-memory per-message event channels with bounded queues and terminal caching
// ABOUTME: Gives late subscribers the cached terminal event instead of a failure

package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/strandworks/strand-gateway/internal/event"
)

var (
	// ErrChannelExists is returned by CreateChannel for a duplicate message id.
	ErrChannelExists = errors.New("channel already exists")

	// ErrNoChannel is returned when no channel exists for the message id.
	ErrNoChannel = errors.New("no channel for message")

	// ErrChannelClosed is returned by Publish after a terminal event.
	ErrChannelClosed = errors.New("channel closed for writes")

	// ErrQueueFull is returned by Publish when the bounded queue is at
	// capacity. Dropping deltas would break the gap-free sequence guarantee,
	// so the producer fails instead.
	ErrQueueFull = errors.New("channel queue full")

	// ErrUnauthorized is returned by Subscribe when the requester does not
	// own the channel.
	ErrUnauthorized = errors.New("requester does not own channel")
)

// subscriberBufferSize is the outbound channel buffer handed to each
// subscriber, matching the fan-out hub pattern (64 events).
const subscriberBufferSize = 64

// subscriber is the currently attached consumer of a channel. A newer
// subscriber displaces an older one by closing its stop channel.
type subscriber struct {
	out  chan *event.Event
	stop chan struct{}
}

// channel is the per-message event pipe. Exactly one producer (the
// orchestrator) and at most one attached subscriber at a time. The pending
// queue is bounded; publishing a terminal event closes the channel for
// writes and caches the event for anyone who attaches later.
type channel struct {
	mu             sync.Mutex
	messageID      string
	owner          string
	conversationID string

	pending  []*event.Event
	notify   chan struct{}
	sub      *subscriber
	closed   bool
	terminal *event.Event
	closedAt time.Time

	// retrieved flips once a subscriber has actually received the terminal
	// event; the janitor reclaims retrieved channels on its next sweep.
	retrieved bool
}

func (c *channel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// ChannelInfo is the metadata the transport layer needs to key its
// concurrency guard.
type ChannelInfo struct {
	MessageID      string
	Owner          string
	ConversationID string
}

// Stats is a point-in-time view over broker state.
type Stats struct {
	Channels int `json:"channels"`
	Open     int `json:"open"`
	Closed   int `json:"closed"`
}

// Broker owns the per-message channels. All operations are safe for
// concurrent use.
type Broker struct {
	mu       sync.RWMutex
	channels map[string]*channel
	capacity int
	logger   *slog.Logger
}

// New creates a broker whose channels queue at most capacity pending events.
// Pass nil logger for default.
func New(capacity int, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		channels: make(map[string]*channel),
		capacity: capacity,
		logger:   logger.With("component", "broker"),
	}
}

// CreateChannel registers a channel for the message. Fails with
// ErrChannelExists if one is already registered.
func (b *Broker) CreateChannel(messageID, owner, conversationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.channels[messageID]; ok {
		return ErrChannelExists
	}
	b.channels[messageID] = &channel{
		messageID:      messageID,
		owner:          owner,
		conversationID: conversationID,
		notify:         make(chan struct{}, 1),
	}

	b.logger.Debug("channel created",
		"message_id", messageID,
		"conversation_id", conversationID)
	return nil
}

// Info returns channel metadata for transport-side admission.
func (b *Broker) Info(messageID string) (ChannelInfo, error) {
	b.mu.RLock()
	ch, ok := b.channels[messageID]
	b.mu.RUnlock()
	if !ok {
		return ChannelInfo{}, ErrNoChannel
	}
	return ChannelInfo{
		MessageID:      ch.messageID,
		Owner:          ch.owner,
		ConversationID: ch.conversationID,
	}, nil
}

// Publish appends an event to its message's queue. A terminal event
// (completed or error) is cached instead of queued and closes the channel
// for writes; any further publish fails with ErrChannelClosed. A full queue
// fails with ErrQueueFull rather than dropping.
func (b *Broker) Publish(ev *event.Event) error {
	b.mu.RLock()
	ch, ok := b.channels[ev.MessageID]
	b.mu.RUnlock()
	if !ok {
		return ErrNoChannel
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return ErrChannelClosed
	}
	if ev.Terminal() {
		ch.terminal = ev
		ch.closed = true
		ch.closedAt = time.Now()
		ch.signal()
		b.logger.Debug("channel closed for writes",
			"message_id", ev.MessageID,
			"kind", string(ev.Kind))
		return nil
	}
	if len(ch.pending) >= b.capacity {
		return ErrQueueFull
	}
	ch.pending = append(ch.pending, ev)
	ch.signal()
	return nil
}

// Subscribe attaches the requester as the channel's consumer and returns a
// channel of events that closes after the terminal event. A requester who is
// not the owner gets ErrUnauthorized. If the channel already closed, the
// cached terminal event is delivered immediately. A new subscriber displaces
// any previously attached one.
func (b *Broker) Subscribe(ctx context.Context, messageID, requester string) (<-chan *event.Event, error) {
	b.mu.RLock()
	ch, ok := b.channels[messageID]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrNoChannel
	}
	if requester != ch.owner {
		return nil, ErrUnauthorized
	}

	s := &subscriber{
		out:  make(chan *event.Event, subscriberBufferSize),
		stop: make(chan struct{}),
	}

	ch.mu.Lock()
	if prev := ch.sub; prev != nil {
		close(prev.stop)
	}
	ch.sub = s
	ch.mu.Unlock()

	go b.relay(ctx, ch, s)
	return s.out, nil
}

// relay drains the pending queue into the subscriber, then delivers the
// cached terminal event once the channel closes for writes. It exits when
// displaced, cancelled, or done.
func (b *Broker) relay(ctx context.Context, ch *channel, s *subscriber) {
	defer close(s.out)

	for {
		ch.mu.Lock()
		if ch.sub != s {
			ch.mu.Unlock()
			return
		}
		if len(ch.pending) > 0 {
			ev := ch.pending[0]
			ch.pending = ch.pending[1:]
			ch.mu.Unlock()
			if !b.deliver(ctx, s, ev) {
				b.detach(ch, s)
				return
			}
			continue
		}
		if ch.closed {
			term := ch.terminal
			ch.mu.Unlock()
			if b.deliver(ctx, s, term) {
				ch.mu.Lock()
				ch.retrieved = true
				ch.mu.Unlock()
			}
			b.detach(ch, s)
			return
		}
		ch.mu.Unlock()

		select {
		case <-ch.notify:
		case <-ctx.Done():
			b.detach(ch, s)
			return
		case <-s.stop:
			b.detach(ch, s)
			return
		}
	}
}

// deliver sends one event, bailing out on cancellation or displacement.
func (b *Broker) deliver(ctx context.Context, s *subscriber, ev *event.Event) bool {
	select {
	case s.out <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	}
}

func (b *Broker) detach(ch *channel, s *subscriber) {
	ch.mu.Lock()
	if ch.sub == s {
		ch.sub = nil
	}
	ch.mu.Unlock()
}

// Close removes the channel and releases its queue. Idempotent: closing an
// unknown message id is a no-op.
func (b *Broker) Close(messageID string) {
	b.mu.Lock()
	ch, ok := b.channels[messageID]
	if ok {
		delete(b.channels, messageID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	ch.mu.Lock()
	if ch.sub != nil {
		close(ch.sub.stop)
		ch.sub = nil
	}
	ch.pending = nil
	ch.mu.Unlock()

	b.logger.Debug("channel released", "message_id", messageID)
}

// Stats reports the current channel population. Pure query; no side effects.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{Channels: len(b.channels)}
	for _, ch := range b.channels {
		ch.mu.Lock()
		if ch.closed {
			st.Closed++
		} else {
			st.Open++
		}
		ch.mu.Unlock()
	}
	return st
}

// reclaimable returns the message ids of channels eligible for removal: the
// terminal event has been retrieved at least once, or the channel closed
// longer than retention ago.
func (b *Broker) reclaimable(retention time.Duration, now time.Time) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ids []string
	for id, ch := range b.channels {
		ch.mu.Lock()
		if ch.closed && (ch.retrieved || now.Sub(ch.closedAt) > retention) {
			ids = append(ids, id)
		}
		ch.mu.Unlock()
	}
	return ids
}

// Shutdown releases every channel. Used on process exit.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	channels := b.channels
	b.channels = make(map[string]*channel)
	b.mu.Unlock()

	for _, ch := range channels {
		ch.mu.Lock()
		if ch.sub != nil {
			close(ch.sub.stop)
			ch.sub = nil
		}
		ch.mu.Unlock()
	}
	b.logger.Debug("broker shut down", "released", len(channels))
}
