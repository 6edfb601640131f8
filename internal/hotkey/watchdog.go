package hotkey

import (
	"context"
	"log/slog"
	"time"

	"github.com/rbright/dictum/internal/observe"
)

// Releaser is the controller hook the watchdog uses to clear stuck keys.
type Releaser interface {
	ForceRelease(ctx context.Context, key string)
}

// Watchdog periodically scans the tracker for keys held past maxHold and
// force-releases them through the same path as a real key-up, so a stuck
// key also stops the session it activated.
type Watchdog struct {
	tracker  *Tracker
	releaser Releaser
	interval time.Duration
	maxHold  time.Duration
	logger   *slog.Logger
	metrics  *observe.Metrics
}

func NewWatchdog(tracker *Tracker, releaser Releaser, interval, maxHold time.Duration, logger *slog.Logger, metrics *observe.Metrics) *Watchdog {
	if metrics == nil {
		metrics = observe.Noop()
	}
	return &Watchdog{
		tracker:  tracker,
		releaser: releaser,
		interval: interval,
		maxHold:  maxHold,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			w.sweep(ctx, now)
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context, now time.Time) {
	// A panicking release must not stop the sweep loop; the next tick has
	// to run regardless.
	defer func() {
		if r := recover(); r != nil && w.logger != nil {
			w.logger.Error("watchdog sweep panicked", "panic", r)
		}
	}()

	for _, key := range w.tracker.HeldLongerThan(w.maxHold, now) {
		if w.logger != nil {
			w.logger.Warn("key held past limit", "key", key, "max_hold", w.maxHold.String())
		}
		w.releaser.ForceRelease(ctx, key)
		w.metrics.ForcedReleases.Add(ctx, 1)
	}
}
