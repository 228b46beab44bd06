package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"gate-checkin/internal/status"
	"gate-checkin/models"
)

type TicketLookup interface {
	Lookup(ctx context.Context, email string) ([]models.Ticket, error)
}

// BulkFlow holds the email lookup results and the operator's selection.
// Both are scoped to the event the lookup ran against.
type BulkFlow struct {
	src TicketLookup

	mu       sync.Mutex
	gen      uint64
	eventID  int64
	email    string
	looked   bool
	results  []models.Ticket
	selected map[models.TicketID]struct{}
}

func NewBulkFlow(src TicketLookup) *BulkFlow {
	return &BulkFlow{src: src, selected: make(map[models.TicketID]struct{})}
}

// ValidEmail is the local check run before any lookup.
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}

// Lookup replaces the result set with the unscanned tickets email holds for
// eventID. An empty result is not an error. If Reset ran while the request
// was in flight the response is discarded with status.ErrContextChanged.
func (f *BulkFlow) Lookup(ctx context.Context, email string, eventID int64) ([]models.Ticket, error) {
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return nil, status.ErrInvalidEmail
	}
	if eventID == 0 {
		return nil, status.ErrNoActiveEvent
	}

	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.results = nil
	f.looked = false
	clear(f.selected)
	f.mu.Unlock()

	tickets, err := f.src.Lookup(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", email, err)
	}

	matches := make([]models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.EventID != eventID || t.IsCheckedIn() {
			continue
		}
		matches = append(matches, t)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen {
		return nil, status.ErrContextChanged
	}
	f.eventID = eventID
	f.email = email
	f.looked = true
	f.results = matches

	out := make([]models.Ticket, len(matches))
	copy(out, matches)
	return out, nil
}

// Toggle flips id in the selection and reports whether it is now selected.
func (f *BulkFlow) Toggle(id models.TicketID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.inResults(id) {
		return false, status.ErrNotInResults
	}
	if _, ok := f.selected[id]; ok {
		delete(f.selected, id)
		return false, nil
	}
	f.selected[id] = struct{}{}
	return true, nil
}

// SelectAll selects every ticket in the result set.
func (f *BulkFlow) SelectAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, t := range f.results {
		f.selected[t.ID] = struct{}{}
	}
}

func (f *BulkFlow) inResults(id models.TicketID) bool {
	for _, t := range f.results {
		if t.ID == id {
			return true
		}
	}
	return false
}

// Selection returns selected ids in result order.
func (f *BulkFlow) Selection() []models.TicketID {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []models.TicketID
	for _, t := range f.results {
		if _, ok := f.selected[t.ID]; ok {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func (f *BulkFlow) Selected(id models.TicketID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.selected[id]
	return ok
}

func (f *BulkFlow) Results() []models.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.Ticket, len(f.results))
	copy(out, f.results)
	return out
}

// Looked reports whether a lookup completed since the last reset.
func (f *BulkFlow) Looked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.looked
}

func (f *BulkFlow) Email() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.email
}

// EventID is the event the current results belong to.
func (f *BulkFlow) EventID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eventID
}

func (f *BulkFlow) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.looked && len(f.selected) > 0
}

// Generation identifies the current result set. It changes on every lookup
// and reset.
func (f *BulkFlow) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

// ResetIf resets the flow only while it still holds the result set of gen.
func (f *BulkFlow) ResetIf(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.gen != gen {
		return false
	}
	f.resetLocked()
	return true
}

// Reset drops results and selection and invalidates in-flight lookups.
func (f *BulkFlow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetLocked()
}

func (f *BulkFlow) resetLocked() {
	f.gen++
	f.eventID = 0
	f.email = ""
	f.looked = false
	f.results = nil
	clear(f.selected)
}
