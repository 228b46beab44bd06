package status

import "errors"

// Gate device errors.
var (
	ErrNoActiveEvent        = errors.New("gate: no active event")
	ErrUnknownEvent         = errors.New("gate: unknown event")
	ErrVerificationInFlight = errors.New("gate: verification in flight")
	ErrScanLockHeld         = errors.New("gate: scan lock held")
	ErrEpisodeAbandoned     = errors.New("gate: scanning episode abandoned")
	ErrInvalidState         = errors.New("gate: action not allowed in current state")
	ErrInvalidCandidate     = errors.New("gate: invalid candidate")
	ErrContextChanged       = errors.New("gate: event context changed")
	ErrNotFocused           = errors.New("gate: screen not focused")
)

// Bulk lookup errors.
var (
	ErrEmptySelection = errors.New("bulk: selection is empty")
	ErrNotInResults   = errors.New("bulk: ticket not in lookup results")
	ErrInvalidEmail   = errors.New("bulk: invalid email")
)

// Ledger errors, shared by the reference backend and its handlers.
var (
	ErrTicketNotFound     = errors.New("ticket: ticket not found")
	ErrWrongEvent         = errors.New("ticket: wrong event")
	ErrTicketNotPaid      = errors.New("ticket: ticket not paid")
	ErrAlreadyCheckedIn   = errors.New("ticket: already checked in")
	ErrNoTicketsSelected  = errors.New("ticket: no tickets selected")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrForbidden          = errors.New("auth: role not allowed")
)
