package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gate-checkin/internal/clock"
	"gate-checkin/models"
)

// DefaultStatsThrottle bounds focus-driven refreshes when nothing was
// checked in meanwhile.
const DefaultStatsThrottle = 30 * time.Second

type StatsSource interface {
	Stats(ctx context.Context) (models.AdminStats, error)
}

// StatsAggregator caches the last server-reported counters. It never
// adjusts them locally.
type StatsAggregator struct {
	src      StatsSource
	clock    clock.Clock
	throttle time.Duration
	metrics  Metrics

	mu        sync.RWMutex
	seq       uint64
	appliedAt uint64
	snapshot  models.AdminStats
	fetchedAt time.Time
	loaded    bool
}

func NewStatsAggregator(src StatsSource, clk clock.Clock, throttle time.Duration, m Metrics) *StatsAggregator {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if throttle <= 0 {
		throttle = DefaultStatsThrottle
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &StatsAggregator{src: src, clock: clk, throttle: throttle, metrics: m}
}

// Refresh fetches fresh counters and returns those of eventID. An eventID of
// zero refreshes the event list only.
func (a *StatsAggregator) Refresh(ctx context.Context, eventID int64) (models.Capacity, error) {
	a.mu.Lock()
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	stats, err := a.src.Stats(ctx)
	a.metrics.IncStatsRefresh(err == nil)
	if err != nil {
		return models.Capacity{}, fmt.Errorf("refresh stats: %w", err)
	}

	a.mu.Lock()
	// A slower, older fetch must not overwrite a newer one.
	if seq > a.appliedAt {
		a.appliedAt = seq
		a.snapshot = stats
		a.fetchedAt = a.clock.Now()
		a.loaded = true
	}
	a.mu.Unlock()

	if eventID == 0 {
		return models.Capacity{}, nil
	}
	c, _ := a.Current(eventID)
	return c, nil
}

// RefreshIfStale refreshes only when the cache is older than the throttle.
// The boolean reports whether a fetch happened.
func (a *StatsAggregator) RefreshIfStale(ctx context.Context, eventID int64) (models.Capacity, bool, error) {
	a.mu.RLock()
	fresh := a.loaded && a.clock.Now().Sub(a.fetchedAt) < a.throttle
	a.mu.RUnlock()

	if fresh {
		c, _ := a.Current(eventID)
		return c, false, nil
	}

	c, err := a.Refresh(ctx, eventID)
	return c, true, err
}

// RefreshBestEffort refreshes and logs failures instead of returning them.
func (a *StatsAggregator) RefreshBestEffort(ctx context.Context, eventID int64) (models.Capacity, bool) {
	c, err := a.Refresh(ctx, eventID)
	if err != nil {
		slog.Warn("stats refresh failed", "event_id", eventID, "error", err)
		return models.Capacity{}, false
	}
	return c, true
}

func (a *StatsAggregator) Current(eventID int64) (models.Capacity, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	row, ok := a.snapshot.Event(eventID)
	if !ok {
		return models.Capacity{EventID: eventID}, false
	}
	return row.Capacity(), true
}

// Events returns a copy of the last known event list.
func (a *StatsAggregator) Events() []models.EventStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.EventStats, len(a.snapshot.Events))
	copy(out, a.snapshot.Events)
	return out
}

func (a *StatsAggregator) Event(eventID int64) (models.EventStats, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.snapshot.Event(eventID)
}

func (a *StatsAggregator) FetchedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.fetchedAt
}
