// Package console is the interactive operator screen. It renders a
// gate.Session and turns key presses into session operations; every blocking
// operation runs as a tea.Cmd so the screen keeps redrawing.
package console

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"gate-checkin/internal/gate"
	"gate-checkin/internal/status"
	"gate-checkin/models"
)

type eventsLoadedMsg struct {
	events []models.EventStats
	err    error
}

// actionResultMsg reports a finished select, manual, bulk or retry command.
type actionResultMsg struct {
	action  string
	outcome models.Outcome
	err     error
}

type lookupResultMsg struct {
	tickets []models.Ticket
	err     error
}

// Model is the bubbletea model of the operator console.
type Model struct {
	ctx     context.Context
	session *gate.Session
	obs     *ChannelObserver
	keys    KeyMap
	theme   Theme

	input        textinput.Model
	editingEmail bool

	cursor     int
	bulkCursor int
	dropped    int
	notice     string

	width  int
	height int
}

// NewModel builds a console over session. obs must be the observer the
// session was created with.
func NewModel(ctx context.Context, session *gate.Session, obs *ChannelObserver) Model {
	input := textinput.New()
	input.CharLimit = 128
	input.Prompt = "> "
	return Model{
		ctx:     ctx,
		session: session,
		obs:     obs,
		keys:    DefaultKeyMap,
		theme:   DefaultTheme,
		input:   input,
	}
}

// Init starts listening for session notifications and loads the event list.
func (model Model) Init() tea.Cmd {
	return tea.Batch(model.obs.listen(), model.loadEvents())
}

func (model Model) loadEvents() tea.Cmd {
	return func() tea.Msg {
		events, err := model.session.LoadEvents(model.ctx)
		return eventsLoadedMsg{events: events, err: err}
	}
}

func (model Model) selectEvent(eventID int64) tea.Cmd {
	return func() tea.Msg {
		_, err := model.session.SelectEvent(model.ctx, eventID)
		return actionResultMsg{action: "select", err: err}
	}
}

func (model Model) submitManual(text string) tea.Cmd {
	return func() tea.Msg {
		out, err := model.session.SubmitManual(model.ctx, text)
		return actionResultMsg{action: "manual", outcome: out, err: err}
	}
}

func (model Model) lookup(email string) tea.Cmd {
	return func() tea.Msg {
		tickets, err := model.session.BulkLookup(model.ctx, email)
		return lookupResultMsg{tickets: tickets, err: err}
	}
}

func (model Model) submitBulk() tea.Cmd {
	return func() tea.Msg {
		out, err := model.session.SubmitBulk(model.ctx)
		return actionResultMsg{action: "bulk", outcome: out, err: err}
	}
}

func (model Model) retry() tea.Cmd {
	return func() tea.Msg {
		out, err := model.session.Retry(model.ctx)
		return actionResultMsg{action: "retry", outcome: out, err: err}
	}
}

func (model Model) focus() tea.Cmd {
	return func() tea.Msg {
		model.session.Focus(model.ctx)
		return nil
	}
}

// Update routes terminal input by the session's screen state.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height

	case tea.FocusMsg:
		return model, model.focus()

	case tea.BlurMsg:
		model.session.Blur()
		model.input.Blur()

	case sessionEventMsg:
		if message.dropped != "" {
			model.dropped++
		}
		return model, model.obs.listen()

	case eventsLoadedMsg:
		if message.err != nil {
			model.notice = "Could not load events: " + message.err.Error()
			break
		}
		model.notice = ""
		if model.cursor >= len(message.events) {
			model.cursor = 0
		}

	case actionResultMsg:
		model.applyResult(message)

	case lookupResultMsg:
		model.bulkCursor = 0
		switch {
		case errors.Is(message.err, status.ErrInvalidEmail):
			model.notice = "Enter a valid email address"
		case errors.Is(message.err, status.ErrContextChanged):
			model.notice = ""
		case message.err != nil:
			model.notice = "Lookup failed: " + message.err.Error()
		case len(message.tickets) == 0:
			model.notice = "No unscanned tickets for this email"
			model.editingEmail = true
		default:
			model.notice = ""
			model.editingEmail = false
			model.input.Blur()
		}

	case tea.KeyMsg:
		if key.Matches(message, model.keys.Quit) {
			return model, tea.Quit
		}
		return model.handleKey(message)
	}
	return model, nil
}

func (model *Model) applyResult(message actionResultMsg) {
	switch {
	case errors.Is(message.err, status.ErrEpisodeAbandoned):
		model.notice = ""
	case message.err != nil:
		model.notice = errorText(message.err)
	default:
		model.notice = ""
		// Validation denials keep the entry open and are shown inline.
		if d, ok := message.outcome.(models.Denied); ok && d.Kind == models.DenialValidation {
			model.notice = d.Summary()
		}
	}
}

func errorText(err error) string {
	switch {
	case errors.Is(err, status.ErrVerificationInFlight):
		return "A verification is still running"
	case errors.Is(err, status.ErrNoActiveEvent):
		return "Select an event first"
	case errors.Is(err, status.ErrUnknownEvent):
		return "That event is no longer available"
	case errors.Is(err, status.ErrEmptySelection):
		return "Select at least one ticket"
	case errors.Is(err, status.ErrNotFocused):
		return "Screen is not focused"
	default:
		return err.Error()
	}
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	snap := model.session.Snapshot()
	switch snap.State {
	case gate.StateIdle:
		return model.handleEventListKeys(message, snap)
	case gate.StateReady, gate.StateScanning:
		return model.handleScannerKeys(message, snap)
	case gate.StateManualEntry:
		return model.handleManualKeys(message)
	case gate.StateBulkLookup:
		return model.handleBulkKeys(message, snap)
	case gate.StateResultShown:
		return model.handleResultKeys(message, snap)
	}
	return model, nil
}

func (model Model) handleEventListKeys(message tea.KeyMsg, snap gate.Snapshot) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Up):
		if model.cursor > 0 {
			model.cursor--
		}
	case key.Matches(message, model.keys.Down):
		if model.cursor < len(snap.Events)-1 {
			model.cursor++
		}
	case key.Matches(message, model.keys.Reload):
		return model, model.loadEvents()
	case key.Matches(message, model.keys.Select):
		if model.cursor < len(snap.Events) {
			return model, model.selectEvent(snap.Events[model.cursor].EventID)
		}
	}
	return model, nil
}

func (model Model) handleScannerKeys(message tea.KeyMsg, snap gate.Snapshot) (tea.Model, tea.Cmd) {
	var err error
	switch {
	case key.Matches(message, model.keys.Camera):
		if snap.State == gate.StateScanning {
			model.session.StopCamera()
		} else {
			err = model.session.StartCamera()
		}
	case key.Matches(message, model.keys.Manual):
		if err = model.session.OpenManual(); err == nil {
			model.input.Placeholder = "Ticket code"
			model.input.SetValue("")
			model.notice = ""
			return model, model.input.Focus()
		}
	case key.Matches(message, model.keys.Bulk):
		if err = model.session.OpenBulk(); err == nil {
			model.input.Placeholder = "guest@example.com"
			model.input.SetValue("")
			model.editingEmail = true
			model.notice = ""
			return model, model.input.Focus()
		}
	case key.Matches(message, model.keys.Events):
		if err = model.session.ClearEvent(); err == nil {
			model.dropped = 0
			return model, model.loadEvents()
		}
	}
	if err != nil {
		model.notice = errorText(err)
	}
	return model, nil
}

func (model Model) handleManualKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Back):
		_ = model.session.CloseManual()
		model.input.Blur()
		model.notice = ""
		return model, nil
	case key.Matches(message, model.keys.Select):
		return model, model.submitManual(model.input.Value())
	}
	var cmd tea.Cmd
	model.input, cmd = model.input.Update(message)
	return model, cmd
}

func (model Model) handleBulkKeys(message tea.KeyMsg, snap gate.Snapshot) (tea.Model, tea.Cmd) {
	if key.Matches(message, model.keys.Back) {
		_ = model.session.CloseBulk()
		model.input.Blur()
		model.editingEmail = false
		model.notice = ""
		return model, nil
	}

	if model.editingEmail {
		if key.Matches(message, model.keys.Select) {
			return model, model.lookup(model.input.Value())
		}
		var cmd tea.Cmd
		model.input, cmd = model.input.Update(message)
		return model, cmd
	}

	switch {
	case key.Matches(message, model.keys.Up):
		if model.bulkCursor > 0 {
			model.bulkCursor--
		}
	case key.Matches(message, model.keys.Down):
		if model.bulkCursor < len(snap.BulkResults)-1 {
			model.bulkCursor++
		}
	case key.Matches(message, model.keys.Toggle):
		if model.bulkCursor < len(snap.BulkResults) {
			if _, err := model.session.ToggleBulk(snap.BulkResults[model.bulkCursor].ID); err != nil {
				model.notice = errorText(err)
			}
		}
	case key.Matches(message, model.keys.All):
		model.session.Bulk().SelectAll()
	case key.Matches(message, model.keys.Search):
		model.editingEmail = true
		return model, model.input.Focus()
	case key.Matches(message, model.keys.Select):
		if !snap.CanSubmitBulk {
			model.notice = errorText(status.ErrEmptySelection)
			return model, nil
		}
		return model, model.submitBulk()
	}
	return model, nil
}

func (model Model) handleResultKeys(message tea.KeyMsg, snap gate.Snapshot) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Retry):
		if d, ok := snap.Outcome.(models.Denied); ok && d.Retryable() {
			return model, model.retry()
		}
	case key.Matches(message, model.keys.Continue):
		if err := model.session.Acknowledge(); err != nil {
			model.notice = errorText(err)
		}
		model.input.Blur()
		model.editingEmail = false
	}
	return model, nil
}

func (model Model) capacityLine(c models.Capacity) string {
	return fmt.Sprintf("Scanned %d / %d · %d remaining · %d%%", c.Scanned, c.Sold, c.Remaining(), c.Percent())
}
