package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"gate-checkin/internal/gate"
	"gate-checkin/models"
)

// Theme is the console palette. ANSI 256 codes keep it readable on gate
// kiosks with limited terminals.
type Theme struct {
	Title    lipgloss.Style
	Faint    lipgloss.Style
	Selected lipgloss.Style
	Admitted lipgloss.Style
	Denied   lipgloss.Style
	Notice   lipgloss.Style
	Help     lipgloss.Style
}

var DefaultTheme = Theme{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
	Faint:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	Selected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")),
	Admitted: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")).Border(lipgloss.RoundedBorder()).Padding(0, 2),
	Denied:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")).Border(lipgloss.RoundedBorder()).Padding(0, 2),
	Notice:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	Help:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
}

// View renders the current session snapshot.
func (model Model) View() string {
	snap := model.session.Snapshot()

	var b strings.Builder
	b.WriteString(model.renderHeader(snap))
	b.WriteString("\n\n")

	switch snap.State {
	case gate.StateIdle:
		b.WriteString(model.renderEvents(snap))
	case gate.StateReady:
		b.WriteString("Camera off. Press c to start scanning.")
	case gate.StateScanning:
		b.WriteString("Scanning. Hold the code inside the target.")
		if model.dropped > 0 {
			b.WriteString(model.theme.Faint.Render(fmt.Sprintf("  (%d ignored)", model.dropped)))
		}
	case gate.StateManualEntry:
		b.WriteString("Enter ticket code\n")
		b.WriteString(model.input.View())
	case gate.StateBulkLookup:
		b.WriteString(model.renderBulk(snap))
	case gate.StateVerifying:
		b.WriteString("Verifying...")
	case gate.StateResultShown:
		b.WriteString(model.renderOutcome(snap.Outcome))
	}

	if model.notice != "" {
		b.WriteString("\n\n")
		b.WriteString(model.theme.Notice.Render(model.notice))
	}
	b.WriteString("\n\n")
	b.WriteString(model.renderHelp(snap.State))
	return b.String()
}

func (model Model) renderHeader(snap gate.Snapshot) string {
	title := model.theme.Title.Render("GATE CHECK-IN")
	if !snap.HasEvent {
		return title
	}
	return title + "  " + snap.Event.EventName + "\n" + model.theme.Faint.Render(model.capacityLine(snap.Capacity))
}

func (model Model) renderEvents(snap gate.Snapshot) string {
	if len(snap.Events) == 0 {
		return "No events loaded. Press r to reload."
	}
	var b strings.Builder
	b.WriteString("Select an event\n")
	for i, ev := range snap.Events {
		row := fmt.Sprintf("%s  %d/%d", ev.EventName, ev.Scanned, ev.Sold)
		if i == model.cursor {
			b.WriteString(model.theme.Selected.Render("> " + row))
		} else {
			b.WriteString("  " + row)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (model Model) renderBulk(snap gate.Snapshot) string {
	var b strings.Builder
	b.WriteString("Look up tickets by email\n")
	b.WriteString(model.input.View())
	if len(snap.BulkResults) == 0 {
		return b.String()
	}

	selected := make(map[models.TicketID]bool, len(snap.BulkSelection))
	for _, id := range snap.BulkSelection {
		selected[id] = true
	}
	b.WriteString("\n")
	for i, t := range snap.BulkResults {
		mark := "[ ]"
		if selected[t.ID] {
			mark = "[x]"
		}
		row := fmt.Sprintf("%s %s  %s", mark, t.ID, t.Category)
		if i == model.bulkCursor && !model.editingEmail {
			row = model.theme.Selected.Render("> " + row)
		} else {
			row = "  " + row
		}
		b.WriteString("\n" + row)
	}
	b.WriteString("\n\n" + model.theme.Faint.Render(fmt.Sprintf("%d selected", len(snap.BulkSelection))))
	return b.String()
}

func (model Model) renderOutcome(out models.Outcome) string {
	if out == nil {
		return ""
	}
	d, denied := out.(models.Denied)
	if !denied {
		return model.theme.Admitted.Render(out.Summary())
	}

	panel := model.theme.Denied.Render(d.Summary())
	switch d.Affordance() {
	case models.AffordRetry:
		return panel + "\n[t] Try Again   [enter] OK"
	case models.AffordReauth:
		return panel + "\nSign in again: run `gate-checkin login`, then press enter"
	default:
		return panel + "\n[enter] OK"
	}
}

func (model Model) renderHelp(state gate.State) string {
	var bindings []key.Binding
	switch state {
	case gate.StateIdle:
		bindings = []key.Binding{model.keys.Up, model.keys.Down, model.keys.Select, model.keys.Reload}
	case gate.StateReady, gate.StateScanning:
		bindings = []key.Binding{model.keys.Camera, model.keys.Manual, model.keys.Bulk, model.keys.Events}
	case gate.StateManualEntry:
		bindings = []key.Binding{model.keys.Select, model.keys.Back}
	case gate.StateBulkLookup:
		bindings = []key.Binding{model.keys.Toggle, model.keys.All, model.keys.Search, model.keys.Select, model.keys.Back}
	}
	bindings = append(bindings, model.keys.Quit)

	parts := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		help := binding.Help()
		parts = append(parts, help.Key+" "+help.Desc)
	}
	return model.theme.Help.Render(strings.Join(parts, " · "))
}
