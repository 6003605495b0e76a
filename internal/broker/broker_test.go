// ABOUTME: Tests for the per-message event broker
// ABOUTME: Covers terminal caching, late subscribers, bounded queues, and sequence ordering

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandworks/strand-gateway/internal/event"
)

const (
	testOwner = "principal-1"
	testConv  = "conv-1"
)

func newTestBroker(t *testing.T, capacity int) *Broker {
	t.Helper()
	return New(capacity, nil)
}

// collect drains events from the channel until it closes or the timeout hits.
func collect(t *testing.T, ch <-chan *event.Event) []*event.Event {
	t.Helper()

	var got []*event.Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestCreateChannel_Duplicate(t *testing.T) {
	b := newTestBroker(t, 16)

	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))
	assert.ErrorIs(t, b.CreateChannel("msg-1", testOwner, testConv), ErrChannelExists)
}

func TestPublish_NoChannel(t *testing.T) {
	b := newTestBroker(t, 16)
	err := b.Publish(event.NewStatus("nope", "corr", event.StatusQueued))
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestSubscribe_Unauthorized(t *testing.T) {
	b := newTestBroker(t, 16)
	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))

	_, err := b.Subscribe(context.Background(), "msg-1", "someone-else")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestPublishSubscribe_OrderAndGapFreeSequence(t *testing.T) {
	b := newTestBroker(t, 16)
	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, b.Publish(event.NewDelta(event.KindContentDelta, "msg-1", "corr", i, "chunk")))
	}
	require.NoError(t, b.Publish(event.NewCompleted("msg-1", "corr", event.Summary{Provider: "openai-chat"})))

	ch, err := b.Subscribe(context.Background(), "msg-1", testOwner)
	require.NoError(t, err)
	got := collect(t, ch)

	require.Len(t, got, 6)
	for i := 0; i < 5; i++ {
		assert.Equal(t, event.KindContentDelta, got[i].Kind)
		assert.Equal(t, int64(i+1), got[i].Seq)
	}
	assert.Equal(t, event.KindCompleted, got[5].Kind)
}

func TestPublish_AfterTerminalFails(t *testing.T) {
	b := newTestBroker(t, 16)
	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))

	require.NoError(t, b.Publish(event.NewCompleted("msg-1", "corr", event.Summary{})))

	err := b.Publish(event.NewDelta(event.KindContentDelta, "msg-1", "corr", 1, "late"))
	assert.ErrorIs(t, err, ErrChannelClosed)

	// A second terminal is refused too: exactly one terminal per message.
	err = b.Publish(event.NewError("msg-1", "corr", event.CodeInternal, "boom"))
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestPublish_QueueFull(t *testing.T) {
	b := newTestBroker(t, 2)
	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))

	require.NoError(t, b.Publish(event.NewDelta(event.KindContentDelta, "msg-1", "corr", 1, "a")))
	require.NoError(t, b.Publish(event.NewDelta(event.KindContentDelta, "msg-1", "corr", 2, "b")))

	err := b.Publish(event.NewDelta(event.KindContentDelta, "msg-1", "corr", 3, "c"))
	assert.ErrorIs(t, err, ErrQueueFull)

	// Terminal events bypass the queue bound; the channel still closes.
	require.NoError(t, b.Publish(event.NewError("msg-1", "corr", event.CodeStreamOverflow, "overflow")))
}

func TestSubscribe_LateSubscriberGetsCachedTerminal(t *testing.T) {
	b := newTestBroker(t, 16)
	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))

	require.NoError(t, b.Publish(event.NewDelta(event.KindContentDelta, "msg-1", "corr", 1, "hello")))
	require.NoError(t, b.Publish(event.NewCompleted("msg-1", "corr", event.Summary{TotalChars: 5})))

	// First subscriber drains everything.
	ch1, err := b.Subscribe(context.Background(), "msg-1", testOwner)
	require.NoError(t, err)
	got1 := collect(t, ch1)
	require.Len(t, got1, 2)

	// Late subscriber: pending already consumed, gets the terminal alone.
	ch2, err := b.Subscribe(context.Background(), "msg-1", testOwner)
	require.NoError(t, err)
	got2 := collect(t, ch2)
	require.Len(t, got2, 1)
	assert.Equal(t, event.KindCompleted, got2[0].Kind)
	require.NotNil(t, got2[0].Completed)
	assert.Equal(t, 5, got2[0].Completed.TotalChars)
}

func TestSubscribe_TerminalIdempotentAcrossSubscribers(t *testing.T) {
	b := newTestBroker(t, 16)
	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))
	require.NoError(t, b.Publish(event.NewError("msg-1", "corr", event.CodeUpstreamFailure, "it broke")))

	for i := 0; i < 2; i++ {
		ch, err := b.Subscribe(context.Background(), "msg-1", testOwner)
		require.NoError(t, err)
		got := collect(t, ch)
		require.Len(t, got, 1)
		assert.Equal(t, event.KindError, got[0].Kind)
		require.NotNil(t, got[0].Error)
		assert.Equal(t, event.CodeUpstreamFailure, got[0].Error.Code)
		assert.Equal(t, "it broke", got[0].Error.Message)
	}
}

func TestSubscribe_LiveDelivery(t *testing.T) {
	b := newTestBroker(t, 16)
	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))

	ch, err := b.Subscribe(context.Background(), "msg-1", testOwner)
	require.NoError(t, err)

	go func() {
		b.Publish(event.NewStatus("msg-1", "corr", event.StatusWorking))
		b.Publish(event.NewDelta(event.KindContentDelta, "msg-1", "corr", 1, "hi"))
		b.Publish(event.NewCompleted("msg-1", "corr", event.Summary{}))
	}()

	got := collect(t, ch)
	require.Len(t, got, 3)
	assert.Equal(t, event.KindStatus, got[0].Kind)
	assert.Equal(t, event.KindContentDelta, got[1].Kind)
	assert.Equal(t, event.KindCompleted, got[2].Kind)
}

func TestSubscribe_CancelledConsumerThenResubscribe(t *testing.T) {
	b := newTestBroker(t, 16)
	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))
	require.NoError(t, b.Publish(event.NewDelta(event.KindContentDelta, "msg-1", "corr", 1, "one")))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "msg-1", testOwner)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, "one", ev.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("first delta never arrived")
	}

	// Drop the consumer mid-stream; its channel closes once the relay
	// notices the cancellation.
	cancel()
	for range ch {
	}

	// The producer is unaffected: later deltas queue and the terminal
	// still closes the channel for writes.
	require.NoError(t, b.Publish(event.NewDelta(event.KindContentDelta, "msg-1", "corr", 2, "two")))
	require.NoError(t, b.Publish(event.NewCompleted("msg-1", "corr", event.Summary{TotalChars: 6})))

	ch2, err := b.Subscribe(context.Background(), "msg-1", testOwner)
	require.NoError(t, err)
	got := collect(t, ch2)

	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Text)
	assert.Equal(t, int64(2), got[0].Seq)
	assert.Equal(t, event.KindCompleted, got[1].Kind)
}

func TestSubscribe_DisplacesPriorSubscriber(t *testing.T) {
	b := newTestBroker(t, 16)
	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))

	ch1, err := b.Subscribe(context.Background(), "msg-1", testOwner)
	require.NoError(t, err)

	ch2, err := b.Subscribe(context.Background(), "msg-1", testOwner)
	require.NoError(t, err)

	// The first subscriber's channel closes without a terminal.
	got1 := collect(t, ch1)
	assert.Empty(t, got1)

	require.NoError(t, b.Publish(event.NewCompleted("msg-1", "corr", event.Summary{})))
	got2 := collect(t, ch2)
	require.Len(t, got2, 1)
	assert.Equal(t, event.KindCompleted, got2[0].Kind)
}

func TestClose_Idempotent(t *testing.T) {
	b := newTestBroker(t, 16)
	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))

	b.Close("msg-1")
	b.Close("msg-1")
	b.Close("never-existed")

	_, err := b.Subscribe(context.Background(), "msg-1", testOwner)
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestInfo(t *testing.T) {
	b := newTestBroker(t, 16)
	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))

	info, err := b.Info("msg-1")
	require.NoError(t, err)
	assert.Equal(t, testOwner, info.Owner)
	assert.Equal(t, testConv, info.ConversationID)

	_, err = b.Info("nope")
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestStats(t *testing.T) {
	b := newTestBroker(t, 16)
	require.NoError(t, b.CreateChannel("open", testOwner, testConv))
	require.NoError(t, b.CreateChannel("closed", testOwner, "conv-2"))
	require.NoError(t, b.Publish(event.NewCompleted("closed", "corr", event.Summary{})))

	st := b.Stats()
	assert.Equal(t, 2, st.Channels)
	assert.Equal(t, 1, st.Open)
	assert.Equal(t, 1, st.Closed)
}

func TestJanitor_ReclaimsRetrievedChannels(t *testing.T) {
	b := newTestBroker(t, 16)
	j := NewJanitor(b, time.Hour, time.Hour, nil)

	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))
	require.NoError(t, b.Publish(event.NewCompleted("msg-1", "corr", event.Summary{})))

	// Not yet retrieved and within retention: survives a sweep.
	j.Sweep(time.Now())
	_, err := b.Info("msg-1")
	require.NoError(t, err)

	ch, err := b.Subscribe(context.Background(), "msg-1", testOwner)
	require.NoError(t, err)
	collect(t, ch)

	j.Sweep(time.Now())
	_, err = b.Info("msg-1")
	assert.ErrorIs(t, err, ErrNoChannel)
	assert.Equal(t, uint64(2), j.Sweeps())
}

func TestJanitor_ReclaimsExpiredChannels(t *testing.T) {
	b := newTestBroker(t, 16)
	j := NewJanitor(b, time.Hour, time.Minute, nil)

	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))
	require.NoError(t, b.Publish(event.NewError("msg-1", "corr", event.CodeInternal, "x")))

	// Terminal never retrieved, but the retention window elapsed.
	j.Sweep(time.Now().Add(2 * time.Minute))
	_, err := b.Info("msg-1")
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestJanitor_LeavesOpenChannelsAlone(t *testing.T) {
	b := newTestBroker(t, 16)
	j := NewJanitor(b, time.Hour, time.Minute, nil)

	require.NoError(t, b.CreateChannel("msg-1", testOwner, testConv))

	j.Sweep(time.Now().Add(24 * time.Hour))
	_, err := b.Info("msg-1")
	require.NoError(t, err)
}

func TestJanitor_StartStop(t *testing.T) {
	b := newTestBroker(t, 16)
	j := NewJanitor(b, 10*time.Millisecond, time.Minute, nil)

	j.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	j.Stop()
	j.Stop() // idempotent

	assert.Greater(t, j.Sweeps(), uint64(0))
}
