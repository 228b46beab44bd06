package gate

import (
	"context"
	"sync"

	"gate-checkin/internal/status"
	"gate-checkin/models"
)

// Selector binds the gate to exactly one event.
type Selector struct {
	stats *StatsAggregator

	mu     sync.RWMutex
	active *models.EventStats
}

func NewSelector(stats *StatsAggregator) *Selector {
	return &Selector{stats: stats}
}

// Load fetches the event list with live counters.
func (s *Selector) Load(ctx context.Context) ([]models.EventStats, error) {
	if _, err := s.stats.Refresh(ctx, 0); err != nil {
		return nil, err
	}
	return s.stats.Events(), nil
}

// Select makes eventID the active context. Unknown ids are rejected.
func (s *Selector) Select(eventID int64) (models.EventStats, error) {
	ev, ok := s.stats.Event(eventID)
	if !ok {
		return models.EventStats{}, status.ErrUnknownEvent
	}

	s.mu.Lock()
	s.active = &ev
	s.mu.Unlock()
	return ev, nil
}

func (s *Selector) Clear() {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

func (s *Selector) Active() (models.EventStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.active == nil {
		return models.EventStats{}, false
	}
	return *s.active, true
}
