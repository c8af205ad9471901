package state

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

const (
	// LastRunKey holds the start time of the most recent pass in Unix milliseconds
	LastRunKey = "lastRun"

	// DefaultGuardWindow is the minimum time between two passes
	DefaultGuardWindow = time.Hour
)

// Guard decides whether a pass may start, based on the last recorded start time
type Guard struct {
	store  Store
	window time.Duration
	now    func() time.Time
}

// GuardOption configures a Guard
type GuardOption func(*Guard)

// WithClock overrides the time source
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		g.now = now
	}
}

// NewGuard creates a guard over store. A non-positive window uses DefaultGuardWindow.
func NewGuard(store Store, window time.Duration, opts ...GuardOption) *Guard {
	if window <= 0 {
		window = DefaultGuardWindow
	}
	g := &Guard{
		store:  store,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Window returns the configured guard window
func (g *Guard) Window() time.Duration {
	return g.window
}

// Lease records what the guard replaced so it can be restored
type Lease struct {
	StartedAt   time.Time
	previous    string
	hadPrevious bool
}

// Acquire checks the last run time and, if the window has elapsed, records the
// current time before returning. acquired is false when the last pass is still
// inside the window; nothing is written in that case.
func (g *Guard) Acquire(ctx context.Context) (lease *Lease, acquired bool, err error) {
	now := g.now()

	previous, found, err := g.store.Get(ctx, LastRunKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", LastRunKey, err)
	}

	if found {
		lastRun, parseErr := strconv.ParseInt(previous, 10, 64)
		switch {
		case parseErr != nil:
			slog.Warn("Ignoring unreadable run guard value", "key", LastRunKey, "value", previous)
		case now.UnixMilli()-lastRun < g.window.Milliseconds():
			return nil, false, nil
		}
	}

	if err := g.store.Set(ctx, LastRunKey, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return nil, false, fmt.Errorf("failed to write %s: %w", LastRunKey, err)
	}

	return &Lease{
		StartedAt:   now,
		previous:    previous,
		hadPrevious: found,
	}, true, nil
}

// Release restores the value the lease replaced, so the next tick may retry
// immediately. The key is removed when there was no previous value.
func (g *Guard) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	if !lease.hadPrevious {
		if err := g.store.Delete(ctx, LastRunKey); err != nil {
			return fmt.Errorf("failed to clear %s: %w", LastRunKey, err)
		}
		return nil
	}
	if err := g.store.Set(ctx, LastRunKey, lease.previous); err != nil {
		return fmt.Errorf("failed to restore %s: %w", LastRunKey, err)
	}
	return nil
}
