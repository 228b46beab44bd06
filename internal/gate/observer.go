package gate

import (
	"time"

	"gate-checkin/models"
)

// Observer receives session events. Implementations must be safe for
// concurrent use: outcomes arrive from verification goroutines.
type Observer interface {
	// OnStateChange fires after every screen state transition.
	OnStateChange(from, to State)
	// OnOutcome fires once per terminal outcome applied to the screen.
	OnOutcome(o models.Outcome)
	// OnStats fires when the active event's counters were refreshed.
	OnStats(c models.Capacity)
	// OnDropped fires for candidates ignored before reaching the network.
	OnDropped(c models.ScanCandidate, reason DropReason)
}

// DropReason says why a candidate never reached the network.
type DropReason string

const (
	DropNoEvent   DropReason = "no_event"
	DropNotArmed  DropReason = "not_armed"
	DropGeometry  DropReason = "geometry"
	DropInFlight  DropReason = "in_flight"
	DropUnfocused DropReason = "unfocused"
)

type NopObserver struct{}

func (NopObserver) OnStateChange(State, State) {}
func (NopObserver) OnOutcome(models.Outcome) {}
func (NopObserver) OnStats(models.Capacity) {}
func (NopObserver) OnDropped(models.ScanCandidate, DropReason) {}

// Metrics records gate activity; monitoring.GateMetrics implements it.
type Metrics interface {
	ObserveVerification(origin models.Origin, result string, d time.Duration)
	IncDropped(reason string)
	IncStatsRefresh(ok bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveVerification(models.Origin, string, time.Duration) {}
func (nopMetrics) IncDropped(string) {}
func (nopMetrics) IncStatsRefresh(bool) {}

// ResultLabel is the metrics label for an outcome.
func ResultLabel(o models.Outcome) string {
	switch v := o.(type) {
	case models.Admitted, models.BulkAdmitted:
		return "admitted"
	case models.Denied:
		return string(v.Kind)
	default:
		return "unknown"
	}
}
