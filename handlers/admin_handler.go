package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"gate-checkin/internal/status"
	"gate-checkin/models"
	"gate-checkin/services"
)

type AdminHandler struct {
	ledger   Ledger
	notifier services.Notifier
	metrics  Recorder
}

func NewAdminHandler(ledger Ledger, notifier services.Notifier, metrics Recorder) *AdminHandler {
	if notifier == nil {
		notifier = services.NopNotifier{}
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &AdminHandler{ledger: ledger, notifier: notifier, metrics: metrics}
}

// GetStats handles GET /admin/stats
func (h *AdminHandler) GetStats(c echo.Context) error {
	stats, err := h.ledger.Stats(c.Request().Context())
	if err != nil {
		slog.Error("load stats", "error", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorBody{Error: "Failed to fetch stats", Code: models.CodeInternal})
	}
	return c.JSON(http.StatusOK, stats)
}

// LookupTickets handles GET /admin/tickets/lookup?email=
func (h *AdminHandler) LookupTickets(c echo.Context) error {
	email := strings.TrimSpace(c.QueryParam("email"))
	if at := strings.Index(email, "@"); at <= 0 || at == len(email)-1 {
		return badRequest(c, "A valid email is required")
	}

	tickets, err := h.ledger.Lookup(c.Request().Context(), email)
	if err != nil {
		slog.Error("ticket lookup", "error", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorBody{Error: "Database error", Code: models.CodeInternal})
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return c.JSON(http.StatusOK, tickets)
}

// BulkCheckIn handles POST /admin/tickets/bulk-checkin?event_id=
func (h *AdminHandler) BulkCheckIn(c echo.Context) error {
	eventID, ok := eventIDParam(c)
	if !ok {
		return badRequest(c, "Invalid Event ID format")
	}
	var req models.BulkCheckInRequest
	if err := c.Bind(&req); err != nil || len(req.TicketIDs) == 0 {
		return badRequest(c, "No tickets selected")
	}

	ctx := c.Request().Context()
	ids, scanned, err := h.ledger.BulkCheckIn(ctx, eventID, req.TicketIDs)
	audit(c, "BULK_CHECKIN", "MULTIPLE", eventID, err)
	if errors.Is(err, status.ErrNoTicketsSelected) {
		return badRequest(c, "No tickets selected")
	}
	if err != nil {
		h.metrics.TrackBulkCheckIn(resultOf(err))
		return writeCheckInError(c, err)
	}

	h.metrics.TrackBulkCheckIn("admitted")
	slog.Info("bulk check-in", "event_id", eventID, "details", fmt.Sprintf("Checked in %d tickets via email lookup", len(ids)))
	h.notifier.CheckedIn(ctx, eventID, ids, scanned)
	return c.JSON(http.StatusOK, models.BulkCheckInResponse{
		Message:   fmt.Sprintf("Checked in %d guests!", len(ids)),
		CheckedIn: len(ids),
		TicketIDs: ids,
	})
}
