// Package guard implements the scan lock: at most one verification may be
// outstanding per gate device.
package guard

import "sync"

// Episode identifies one scanning episode, from acquisition to release.
// Episodes increase monotonically; the zero value never matches a live episode.
type Episode uint64

type Guard struct {
	mu      sync.Mutex
	held    bool
	episode Episode
}

func New() *Guard {
	return &Guard{}
}

// TryAcquire starts a new episode if the lock is free. Callers that get
// false must drop their candidate without side effects.
func (g *Guard) TryAcquire() (Episode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		return 0, false
	}
	g.held = true
	g.episode++
	return g.episode, true
}

// Release ends episode ep. It is idempotent and reports whether this call
// freed the lock; releasing an episode that is no longer current is a no-op.
func (g *Guard) Release(ep Episode) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.held || ep != g.episode {
		return false
	}
	g.held = false
	return true
}

// ForceRelease abandons whatever episode is live. The episode counter moves
// on, so a result that arrives later for the abandoned episode is stale.
func (g *Guard) ForceRelease() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		g.episode++
	}
	g.held = false
}

// Current reports whether ep is the episode that holds the lock.
func (g *Guard) Current(ep Episode) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held && ep == g.episode
}

func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
