package gate

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"gate-checkin/internal/gateway"
	"gate-checkin/models"
)

type fakeEvent struct {
	name    string
	sold    int64
	scanned int64
}

type fakeTicket struct {
	eventID   int64
	email     string
	category  string
	sold      bool
	checkedIn *time.Time
}

// fakeBackend is an in-memory ledger that answers like the real backend.
type fakeBackend struct {
	mu      sync.Mutex
	events  map[int64]*fakeEvent
	tickets map[models.TicketID]*fakeTicket

	checkInCalls int
	bulkCalls    int
	lookupCalls  int
	statsCalls   int

	// gate, when set, blocks CheckIn and BulkCheckIn until closed.
	gate    chan struct{}
	entered chan struct{}

	checkInErr error
	statsErr   error
	lookupHook func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		events: map[int64]*fakeEvent{
			7: {name: "Summer Fest"},
			9: {name: "Jazz Night"},
		},
		tickets: make(map[models.TicketID]*fakeTicket),
	}
}

func (f *fakeBackend) addTicket(id models.TicketID, eventID int64, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tickets[id] = &fakeTicket{eventID: eventID, email: email, category: "GA", sold: true}
	f.events[eventID].sold++
}

func (f *fakeBackend) blockMutations() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 16)
}

func (f *fakeBackend) unblock() {
	f.mu.Lock()
	g := f.gate
	f.gate = nil
	f.mu.Unlock()
	if g != nil {
		close(g)
	}
}

func (f *fakeBackend) wait() {
	f.mu.Lock()
	g, entered := f.gate, f.entered
	f.mu.Unlock()
	if g == nil {
		return
	}
	entered <- struct{}{}
	<-g
}

func (f *fakeBackend) counts() (checkIns, bulks, lookups, stats int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkInCalls, f.bulkCalls, f.lookupCalls, f.statsCalls
}

func (f *fakeBackend) ticketCheckedIn(id models.TicketID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	return ok && t.checkedIn != nil
}

func (f *fakeBackend) Stats(ctx context.Context) (models.AdminStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statsCalls++
	if f.statsErr != nil {
		return models.AdminStats{}, f.statsErr
	}
	var out models.AdminStats
	for _, id := range []int64{7, 9} {
		ev := f.events[id]
		out.TotalSold += ev.sold
		out.TotalScanned += ev.scanned
		out.Events = append(out.Events, models.EventStats{EventID: id, EventName: ev.name, Sold: ev.sold, Scanned: ev.scanned})
	}
	return out, nil
}

func (f *fakeBackend) checkLocked(id models.TicketID, eventID int64) *gateway.APIError {
	t, ok := f.tickets[id]
	if !ok {
		return &gateway.APIError{Op: "check-in", StatusCode: http.StatusNotFound, Message: "ticket not found", Code: models.CodeNotFound, TicketID: string(id)}
	}
	if t.eventID != eventID {
		name := f.events[t.eventID].name
		return &gateway.APIError{
			Op: "check-in", StatusCode: http.StatusConflict,
			Message:     fmt.Sprintf("WRONG EVENT: This ticket is for '%s'", name),
			Code:        models.CodeWrongEvent,
			TicketID:    string(id),
			TicketEvent: name,
		}
	}
	if t.checkedIn != nil {
		at := *t.checkedIn
		return &gateway.APIError{
			Op: "check-in", StatusCode: http.StatusConflict,
			Message:     "ALREADY USED: Scanned at " + at.Format("3:04 PM"),
			Code:        models.CodeAlreadyCheckedIn,
			TicketID:    string(id),
			CheckedInAt: &at,
		}
	}
	return nil
}

func (f *fakeBackend) CheckIn(ctx context.Context, id models.TicketID, eventID int64) (models.CheckInResponse, error) {
	f.mu.Lock()
	f.checkInCalls++
	f.mu.Unlock()

	f.wait()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.checkInErr != nil {
		return models.CheckInResponse{}, f.checkInErr
	}
	if apiErr := f.checkLocked(id, eventID); apiErr != nil {
		return models.CheckInResponse{}, apiErr
	}
	t := f.tickets[id]
	now := time.Now()
	t.checkedIn = &now
	f.events[eventID].scanned++

	return models.CheckInResponse{
		Message: "Check-in successful!",
		Data: models.Ticket{
			ID: id, Category: t.category, EventID: eventID, Email: t.email,
			Status: models.StatusCheckedIn, CheckedInAt: &now,
			Event: models.Event{ID: eventID, Name: f.events[eventID].name},
		},
	}, nil
}

func (f *fakeBackend) Lookup(ctx context.Context, email string) ([]models.Ticket, error) {
	f.mu.Lock()
	f.lookupCalls++
	hook := f.lookupHook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Ticket
	for _, id := range sortedIDs(f.tickets) {
		t := f.tickets[id]
		if t.email != email || t.checkedIn != nil || !t.sold {
			continue
		}
		out = append(out, models.Ticket{
			ID: id, Category: t.category, EventID: t.eventID, Email: t.email,
			Event: models.Event{ID: t.eventID, Name: f.events[t.eventID].name},
		})
	}
	return out, nil
}

func (f *fakeBackend) BulkCheckIn(ctx context.Context, eventID int64, ids []models.TicketID) (models.BulkCheckInResponse, error) {
	f.mu.Lock()
	f.bulkCalls++
	f.mu.Unlock()

	f.wait()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.checkInErr != nil {
		return models.BulkCheckInResponse{}, f.checkInErr
	}
	for _, id := range ids {
		if apiErr := f.checkLocked(id, eventID); apiErr != nil {
			apiErr.Op = "bulk check-in"
			return models.BulkCheckInResponse{}, apiErr
		}
	}
	now := time.Now()
	for _, id := range ids {
		f.tickets[id].checkedIn = &now
	}
	f.events[eventID].scanned += int64(len(ids))

	return models.BulkCheckInResponse{
		Message:   fmt.Sprintf("Checked in %d guests!", len(ids)),
		CheckedIn: len(ids),
		TicketIDs: ids,
	}, nil
}

func ptrNow() *time.Time {
	now := time.Now()
	return &now
}

func sortedIDs(m map[models.TicketID]*fakeTicket) []models.TicketID {
	ids := make([]models.TicketID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
