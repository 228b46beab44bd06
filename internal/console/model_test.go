package console

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-checkin/internal/gate"
	"gate-checkin/internal/gateway"
	"gate-checkin/models"
)

// stubBackend serves one event with a fixed set of tickets.
type stubBackend struct {
	mu         sync.Mutex
	scanned    map[models.TicketID]bool
	tickets    []models.Ticket
	checkInErr error
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		scanned: make(map[models.TicketID]bool),
		tickets: []models.Ticket{
			{ID: "abc-123", Category: "VIP", EventID: 7, Email: "guest@example.com"},
			{ID: "abc-456", Category: "GA", EventID: 7, Email: "guest@example.com"},
		},
	}
}

func (s *stubBackend) Stats(context.Context) (models.AdminStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.scanned))
	return models.AdminStats{
		TotalSold:    2,
		TotalScanned: n,
		Events:       []models.EventStats{{EventID: 7, EventName: "Summer Fest", Sold: 2, Scanned: n}},
	}, nil
}

func (s *stubBackend) Lookup(_ context.Context, email string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.tickets {
		if t.Email == email && !s.scanned[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubBackend) CheckIn(_ context.Context, id models.TicketID, eventID int64) (models.CheckInResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkInErr != nil {
		return models.CheckInResponse{}, s.checkInErr
	}
	if s.scanned[id] {
		return models.CheckInResponse{}, &gateway.APIError{Op: "check-in", StatusCode: http.StatusConflict, Code: models.CodeAlreadyCheckedIn, Message: "ALREADY USED"}
	}
	s.scanned[id] = true
	return models.CheckInResponse{
		Message: "Check-in successful!",
		Data:    models.Ticket{ID: id, Category: "VIP", EventID: eventID, Event: models.Event{ID: eventID, Name: "Summer Fest"}},
	}, nil
}

func (s *stubBackend) BulkCheckIn(_ context.Context, _ int64, ids []models.TicketID) (models.BulkCheckInResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.scanned[id] = true
	}
	return models.BulkCheckInResponse{CheckedIn: len(ids), TicketIDs: ids}, nil
}

func newTestModel(t *testing.T, backend *stubBackend) Model {
	t.Helper()
	ctx := context.Background()
	obs := NewChannelObserver()
	session := gate.NewSession(ctx, backend, gate.SessionConfig{Observer: obs})
	model := NewModel(ctx, session, obs)

	model = update(t, model, model.loadEvents()())
	return model
}

// selectedModel is a console bound to Summer Fest.
func selectedModel(t *testing.T, backend *stubBackend) Model {
	t.Helper()
	model := newTestModel(t, backend)
	model, cmd := send(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	return update(t, model, cmd())
}

func update(t *testing.T, model Model, msg tea.Msg) Model {
	t.Helper()
	model, _ = send(t, model, msg)
	return model
}

func send(t *testing.T, model Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := model.Update(msg)
	m, ok := updated.(Model)
	require.True(t, ok)
	return m, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func state(model Model) gate.State {
	return model.session.Snapshot().State
}

func TestModel_EventListAndSelect(t *testing.T) {
	model := newTestModel(t, newStubBackend())

	assert.Equal(t, gate.StateIdle, state(model))
	assert.Contains(t, model.View(), "Select an event")
	assert.Contains(t, model.View(), "Summer Fest  0/2")

	model = selectedModel(t, newStubBackend())
	assert.Equal(t, gate.StateReady, state(model))
	view := model.View()
	assert.Contains(t, view, "Summer Fest")
	assert.Contains(t, view, "Scanned 0 / 2 · 2 remaining · 0%")
}

func TestModel_ManualCheckIn(t *testing.T) {
	model := selectedModel(t, newStubBackend())

	model = update(t, model, runes("m"))
	require.Equal(t, gate.StateManualEntry, state(model))

	model = update(t, model, runes("abc-123"))
	assert.Equal(t, "abc-123", model.input.Value())

	model, cmd := send(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	model = update(t, model, cmd())

	assert.Equal(t, gate.StateResultShown, state(model))
	assert.Contains(t, model.View(), "Guest verified: VIP · Summer Fest")

	model = update(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, gate.StateReady, state(model))
	assert.Contains(t, model.View(), "Scanned 1 / 2")
}

func TestModel_ManualValidationKeepsEntryOpen(t *testing.T) {
	model := selectedModel(t, newStubBackend())
	model = update(t, model, runes("m"))
	model = update(t, model, runes("ab"))

	model, cmd := send(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	model = update(t, model, cmd())

	assert.Equal(t, gate.StateManualEntry, state(model))
	assert.Equal(t, "Ticket ID must be at least 3 characters", model.notice)

	model = update(t, model, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, gate.StateReady, state(model))
	assert.Empty(t, model.notice)
}

func TestModel_NetworkDenialOffersRetry(t *testing.T) {
	backend := newStubBackend()
	backend.checkInErr = &gateway.TransportError{Op: "check-in", Err: errors.New("connection refused")}
	model := selectedModel(t, backend)

	model = update(t, model, runes("m"))
	model = update(t, model, runes("abc-123"))
	model, cmd := send(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	model = update(t, model, cmd())

	require.Equal(t, gate.StateResultShown, state(model))
	assert.Contains(t, model.View(), "Try Again")

	backend.mu.Lock()
	backend.checkInErr = nil
	backend.mu.Unlock()

	model, cmd = send(t, model, runes("t"))
	require.NotNil(t, cmd)
	model = update(t, model, cmd())
	assert.Equal(t, gate.StateResultShown, state(model))
	assert.Contains(t, model.View(), "Guest verified")
}

func TestModel_BulkCheckIn(t *testing.T) {
	model := selectedModel(t, newStubBackend())

	model = update(t, model, runes("b"))
	require.Equal(t, gate.StateBulkLookup, state(model))
	model = update(t, model, runes("guest@example.com"))

	model, cmd := send(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	model = update(t, model, cmd())
	require.False(t, model.editingEmail)
	assert.Contains(t, model.View(), "[ ] abc-123  VIP")

	model = update(t, model, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.Contains(t, model.View(), "[x] abc-123")
	assert.Contains(t, model.View(), "1 selected")

	model, cmd = send(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	model = update(t, model, cmd())

	assert.Equal(t, gate.StateResultShown, state(model))
	assert.Contains(t, model.View(), "1 guest checked in")
	assert.Empty(t, model.session.Snapshot().BulkResults)
}

func TestModel_BulkInvalidEmail(t *testing.T) {
	model := selectedModel(t, newStubBackend())
	model = update(t, model, runes("b"))
	model = update(t, model, runes("nope"))

	model, cmd := send(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	model = update(t, model, cmd())

	assert.Equal(t, "Enter a valid email address", model.notice)
	assert.True(t, model.editingEmail)
}

func TestModel_FocusAndBlur(t *testing.T) {
	model := selectedModel(t, newStubBackend())

	model = update(t, model, runes("c"))
	require.Equal(t, gate.StateScanning, state(model))

	model = update(t, model, tea.BlurMsg{})
	snap := model.session.Snapshot()
	assert.Equal(t, gate.StateReady, snap.State)
	assert.False(t, snap.Focused)

	model = update(t, model, runes("c"))
	assert.Equal(t, "Screen is not focused", model.notice)

	model, cmd := send(t, model, tea.FocusMsg{})
	require.NotNil(t, cmd)
	cmd()
	assert.True(t, model.session.Snapshot().Focused)
}

func TestModel_SwitchEventReturnsToList(t *testing.T) {
	model := selectedModel(t, newStubBackend())

	model, cmd := send(t, model, runes("e"))
	require.NotNil(t, cmd)
	model = update(t, model, cmd())

	assert.Equal(t, gate.StateIdle, state(model))
	assert.True(t, strings.Contains(model.View(), "Select an event"))
}

func TestChannelObserver(t *testing.T) {
	obs := NewChannelObserver()
	for i := 0; i < observerBuffer+10; i++ {
		obs.OnDropped(models.ScanCandidate{}, gate.DropGeometry)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		obs.OnStats(models.Capacity{EventID: 7})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer blocked on a full buffer")
	}

	msg, ok := obs.listen()().(sessionEventMsg)
	require.True(t, ok)
	assert.Equal(t, gate.DropGeometry, msg.dropped)

	obs = NewChannelObserver()
	obs.Close()
	assert.Nil(t, obs.listen()())
}
