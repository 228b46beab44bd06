package gate

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"gate-checkin/internal/gateway"
	"gate-checkin/models"
	"gate-checkin/utils"
)

var wrongEventName = regexp.MustCompile(`(?i)this ticket is for '([^']*)'`)

// ClassifyCheckIn turns one check-in response into an outcome.
func ClassifyCheckIn(ticketID models.TicketID, activeEvent string, resp models.CheckInResponse, err error) models.Outcome {
	if err == nil {
		ticket := resp.Data
		if ticket.ID == "" {
			ticket.ID = ticketID
		}
		return models.Admitted{Ticket: ticket}
	}

	d := deny(err)
	d.TicketID = ticketID
	if d.Kind == models.DenialWrongEvent {
		d.ActiveEventName = activeEvent
	}
	return d
}

// ClassifyBulk turns a bulk check-in response into one aggregate outcome.
func ClassifyBulk(ids []models.TicketID, resp models.BulkCheckInResponse, err error) models.Outcome {
	if err == nil {
		count := resp.CheckedIn
		if count == 0 {
			count = len(ids)
		}
		admitted := resp.TicketIDs
		if len(admitted) == 0 {
			admitted = append([]models.TicketID(nil), ids...)
		}
		return models.BulkAdmitted{Count: count, TicketIDs: admitted}
	}

	d := deny(err)
	if apiErr, ok := gateway.AsAPIError(err); ok {
		d.TicketID = models.TicketID(apiErr.TicketID)
		if d.TicketID == "" {
			d.TicketID = models.TicketID(ticketFromMessage(apiErr.Message, ids))
		}
	}
	return d
}

func deny(err error) models.Denied {
	apiErr, ok := gateway.AsAPIError(err)
	if !ok {
		return models.Denied{Kind: models.DenialNetwork, Message: networkMessage(err)}
	}

	d := models.Denied{
		Kind:        kindOf(apiErr),
		Message:     apiErr.Message,
		CheckedInAt: apiErr.CheckedInAt,
	}

	switch d.Kind {
	case models.DenialWrongEvent:
		d.TicketEventName = apiErr.TicketEvent
		if d.TicketEventName == "" {
			if m := wrongEventName.FindStringSubmatch(apiErr.Message); m != nil {
				d.TicketEventName = m[1]
			}
		}
	case models.DenialServer:
		if d.Message == "" {
			d.Message = "Server error, try again"
		}
	case models.DenialUnauthorized:
		if d.Message == "" {
			d.Message = "Session expired, sign in again"
		}
	}
	if d.Message == "" {
		d.Message = "Invalid Ticket"
	}
	return d
}

func kindOf(e *gateway.APIError) models.DenialKind {
	if e.Unauthorized() {
		return models.DenialUnauthorized
	}
	if k, ok := kindFromCode(e.Code); ok {
		return k
	}
	if k, ok := kindFromMessage(e.Message); ok {
		return k
	}

	switch {
	case e.StatusCode == http.StatusNotFound:
		return models.DenialNotFound
	case e.Temporary():
		return models.DenialServer
	case e.StatusCode >= 400:
		return models.DenialInvalidIdentifier
	default:
		// 2xx with an unreadable body
		return models.DenialServer
	}
}

func kindFromCode(code string) (models.DenialKind, bool) {
	switch code {
	case models.CodeAlreadyCheckedIn:
		return models.DenialAlreadyCheckedIn, true
	case models.CodeWrongEvent:
		return models.DenialWrongEvent, true
	case models.CodeNotFound:
		return models.DenialNotFound, true
	case models.CodeNotPaid, models.CodeInvalidRequest:
		return models.DenialInvalidIdentifier, true
	case models.CodeUnauthorized, models.CodeForbidden:
		return models.DenialUnauthorized, true
	case models.CodeRateLimited, models.CodeInternal:
		return models.DenialServer, true
	}
	return "", false
}

func kindFromMessage(msg string) (models.DenialKind, bool) {
	upper := strings.ToUpper(strings.TrimSpace(msg))
	switch {
	case strings.HasPrefix(upper, "ALREADY USED"):
		return models.DenialAlreadyCheckedIn, true
	case strings.HasPrefix(upper, "WRONG EVENT"):
		return models.DenialWrongEvent, true
	case strings.HasPrefix(upper, "TICKET NOT FOUND"), strings.HasPrefix(upper, "INVALID TICKET CODE"):
		return models.DenialNotFound, true
	case strings.HasPrefix(upper, "INVALID"):
		return models.DenialInvalidIdentifier, true
	}
	return "", false
}

func networkMessage(err error) string {
	var te *gateway.TransportError
	switch {
	case errors.Is(err, utils.ErrCircuitOpen), errors.Is(err, utils.ErrTooManyRequests):
		return "Backend unavailable, try again shortly"
	case errors.As(err, &te) && te.Timeout(), errors.Is(err, context.DeadlineExceeded):
		return "Request timed out, try again"
	default:
		return "Network error, check connection and try again"
	}
}

// ticketFromMessage picks the batch member named in a bulk failure message.
func ticketFromMessage(msg string, ids []models.TicketID) string {
	for _, id := range ids {
		if id != "" && strings.Contains(msg, string(id)) {
			return string(id)
		}
	}
	return ""
}
