package models

import (
	"fmt"
	"time"
)

// Outcome is the terminal result of one verification attempt. It is one of
// Admitted, BulkAdmitted or Denied.
type Outcome interface {
	Summary() string
	outcome()
}

// Admitted is a single accepted check-in.
type Admitted struct {
	Ticket Ticket `json:"ticket"`
}

func (Admitted) outcome() {}

func (a Admitted) Summary() string {
	if a.Ticket.Event.Name == "" {
		return fmt.Sprintf("Guest verified: %s", a.Ticket.Category)
	}
	return fmt.Sprintf("Guest verified: %s · %s", a.Ticket.Category, a.Ticket.Event.Name)
}

// BulkAdmitted is an accepted bulk check-in.
type BulkAdmitted struct {
	Count     int        `json:"count"`
	TicketIDs []TicketID `json:"ticket_ids"`
}

func (BulkAdmitted) outcome() {}

func (b BulkAdmitted) Summary() string {
	if b.Count == 1 {
		return "1 guest checked in"
	}
	return fmt.Sprintf("%d guests checked in", b.Count)
}

type DenialKind string

const (
	DenialValidation        DenialKind = "validation"
	DenialAlreadyCheckedIn  DenialKind = "already_checked_in"
	DenialWrongEvent        DenialKind = "wrong_event"
	DenialNotFound          DenialKind = "not_found"
	DenialInvalidIdentifier DenialKind = "invalid_identifier"
	DenialUnauthorized      DenialKind = "unauthorized"
	DenialNetwork           DenialKind = "network"
	DenialServer            DenialKind = "server"
)

// Affordance is what the operator can do from a denial screen.
type Affordance string

const (
	AffordDismiss Affordance = "dismiss"
	AffordRetry   Affordance = "retry"
	AffordReauth  Affordance = "reauth"
)

// Denied is a rejected attempt. Message is the operator-facing text.
type Denied struct {
	Kind            DenialKind `json:"kind"`
	Message         string     `json:"message"`
	TicketID        TicketID   `json:"ticket_id,omitempty"`
	TicketEventName string     `json:"ticket_event_name,omitempty"`
	ActiveEventName string     `json:"active_event_name,omitempty"`
	CheckedInAt     *time.Time `json:"checked_in_at,omitempty"`
}

func (Denied) outcome() {}

func (d Denied) Summary() string {
	switch d.Kind {
	case DenialWrongEvent:
		if d.TicketEventName != "" {
			return fmt.Sprintf("Wrong event: ticket is for %q", d.TicketEventName)
		}
		return "Wrong event"
	case DenialAlreadyCheckedIn:
		if d.CheckedInAt != nil {
			return "Already used at " + d.CheckedInAt.Local().Format("15:04")
		}
		return "Already used"
	}
	if d.Message != "" {
		return d.Message
	}
	return string(d.Kind)
}

// Retryable reports whether the same identifier may succeed on a second try.
func (d Denied) Retryable() bool {
	return d.Kind == DenialNetwork || d.Kind == DenialServer
}

func (d Denied) Affordance() Affordance {
	switch {
	case d.Kind == DenialUnauthorized:
		return AffordReauth
	case d.Retryable():
		return AffordRetry
	default:
		return AffordDismiss
	}
}

// IsAdmitted reports whether o admitted at least one guest.
func IsAdmitted(o Outcome) bool {
	switch o.(type) {
	case Admitted, *Admitted, BulkAdmitted, *BulkAdmitted:
		return true
	}
	return false
}
