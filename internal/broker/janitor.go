// ABOUTME: Supervised retention sweeper reclaiming closed event channels
// ABOUTME: Runs on an explicit interval with start/stop lifecycle, no global state

package broker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Janitor periodically reclaims channels whose terminal event was retrieved
// or whose retention window elapsed. Interval and retention are constructor
// parameters; status is a pure query over task state.
type Janitor struct {
	broker    *Broker
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger

	sweeps atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor creates a janitor for the broker. Pass nil logger for default.
func NewJanitor(b *Broker, interval, retention time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		broker:    b,
		interval:  interval,
		retention: retention,
		logger:    logger.With("component", "janitor"),
	}
}

// Start launches the sweep loop. Calling Start on a running janitor is a
// no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go j.run(ctx, j.done)
	j.logger.Debug("janitor started",
		"interval", j.interval.String(),
		"retention", j.retention.String())
}

// Stop halts the sweep loop and waits for it to exit. Idempotent.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweeps reports how many sweep passes have completed.
func (j *Janitor) Sweeps() uint64 {
	return j.sweeps.Load()
}

func (j *Janitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Sweep reclaims eligible channels once. Exposed so tests and shutdown paths
// can sweep deterministically without waiting on the ticker.
func (j *Janitor) Sweep(now time.Time) {
	ids := j.broker.reclaimable(j.retention, now)
	for _, id := range ids {
		j.broker.Close(id)
	}
	j.sweeps.Add(1)

	if len(ids) > 0 {
		j.logger.Debug("reclaimed channels", "count", len(ids))
	}
}
