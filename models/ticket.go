package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TicketID is an opaque ticket identifier. Older backends serialise it as a
// JSON number, so both forms are accepted.
type TicketID string

func (id *TicketID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = TicketID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("ticket id: %w", err)
	}
	*id = TicketID(n.String())
	return nil
}

func (id TicketID) String() string { return string(id) }

type ScanStatus string

const (
	StatusUnscanned ScanStatus = "unscanned"
	StatusCheckedIn ScanStatus = "checked_in"
)

// Ticket is the gate device's projection of a backend ticket. It is never
// cached beyond a single lookup.
type Ticket struct {
	ID          TicketID   `json:"id"`
	Category    string     `json:"category"`
	EventID     int64      `json:"event_id"`
	Email       string     `json:"email,omitempty"`
	Status      ScanStatus `json:"status,omitempty"`
	CheckedInAt *time.Time `json:"checked_in_at"`
	Event       Event      `json:"event"`
}

func (t Ticket) IsCheckedIn() bool {
	return t.Status == StatusCheckedIn || t.CheckedInAt != nil
}

// CheckInResponse is the success body of PATCH /tickets/{id}/checkin.
type CheckInResponse struct {
	Message string `json:"message"`
	Data    Ticket `json:"data"`
}

// BulkCheckInRequest is the body of POST /admin/tickets/bulk-checkin.
type BulkCheckInRequest struct {
	TicketIDs []TicketID `json:"ticket_ids"`
}

type BulkCheckInResponse struct {
	Message   string     `json:"message"`
	CheckedIn int        `json:"checked_in"`
	TicketIDs []TicketID `json:"ticket_ids,omitempty"`
}

// ErrorBody is the failure body of every backend endpoint. Only Error is
// guaranteed; the remaining fields are filled when the backend knows them.
type ErrorBody struct {
	Error       string     `json:"error"`
	Code        string     `json:"code,omitempty"`
	TicketID    TicketID   `json:"ticket_id,omitempty"`
	TicketEvent string     `json:"ticket_event,omitempty"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
}

// Error codes carried in ErrorBody.Code.
const (
	CodeAlreadyCheckedIn = "already_checked_in"
	CodeWrongEvent       = "wrong_event"
	CodeNotFound         = "not_found"
	CodeNotPaid          = "not_paid"
	CodeInvalidRequest   = "invalid_request"
	CodeUnauthorized     = "unauthorized"
	CodeForbidden        = "forbidden"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}
