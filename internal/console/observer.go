package console

import (
	tea "github.com/charmbracelet/bubbletea"

	"gate-checkin/internal/gate"
	"gate-checkin/models"
)

const observerBuffer = 64

// sessionEventMsg carries one session notification into the update loop.
type sessionEventMsg struct {
	from, to gate.State
	outcome  models.Outcome
	stats    *models.Capacity
	dropped  gate.DropReason
}

// ChannelObserver forwards session notifications to the console. Every
// notification is a redraw trigger, so a full buffer drops it rather than
// stalling a verification goroutine.
type ChannelObserver struct {
	ch chan sessionEventMsg
}

func NewChannelObserver() *ChannelObserver {
	return &ChannelObserver{ch: make(chan sessionEventMsg, observerBuffer)}
}

func (o *ChannelObserver) send(msg sessionEventMsg) {
	select {
	case o.ch <- msg:
	default:
	}
}

func (o *ChannelObserver) OnStateChange(from, to gate.State) {
	o.send(sessionEventMsg{from: from, to: to})
}

func (o *ChannelObserver) OnOutcome(out models.Outcome) {
	o.send(sessionEventMsg{outcome: out})
}

func (o *ChannelObserver) OnStats(c models.Capacity) {
	o.send(sessionEventMsg{stats: &c})
}

func (o *ChannelObserver) OnDropped(_ models.ScanCandidate, reason gate.DropReason) {
	o.send(sessionEventMsg{dropped: reason})
}

// listen returns a command that blocks until the next notification.
func (o *ChannelObserver) listen() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-o.ch
		if !ok {
			return nil
		}
		return msg
	}
}

// Close ends the listen loop. Call it only after Session.Wait has returned.
func (o *ChannelObserver) Close() {
	close(o.ch)
}
