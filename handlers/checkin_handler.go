package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"

	"gate-checkin/internal/status"
	"gate-checkin/models"
	"gate-checkin/security"
	"gate-checkin/services"
)

// Ledger is the ticket store the handlers serve from.
type Ledger interface {
	CheckIn(ctx context.Context, id models.TicketID, eventID int64) (models.Ticket, int64, error)
	BulkCheckIn(ctx context.Context, eventID int64, ids []models.TicketID) ([]models.TicketID, int64, error)
	Lookup(ctx context.Context, email string) ([]models.Ticket, error)
	Stats(ctx context.Context) (models.AdminStats, error)
	Authenticate(ctx context.Context, email, password string) (models.Operator, error)
}

// Recorder counts check-in results.
type Recorder interface {
	TrackCheckIn(result string)
	TrackBulkCheckIn(result string)
}

type nopRecorder struct{}

func (nopRecorder) TrackCheckIn(string) {}
func (nopRecorder) TrackBulkCheckIn(string) {}

type CheckInHandler struct {
	ledger   Ledger
	notifier services.Notifier
	metrics  Recorder
}

func NewCheckInHandler(ledger Ledger, notifier services.Notifier, metrics Recorder) *CheckInHandler {
	if notifier == nil {
		notifier = services.NopNotifier{}
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &CheckInHandler{ledger: ledger, notifier: notifier, metrics: metrics}
}

// CheckIn handles PATCH /tickets/:id/checkin?event_id=
func (h *CheckInHandler) CheckIn(c echo.Context) error {
	id := models.TicketID(strings.TrimSpace(c.PathParam("id")))
	if id == "" {
		return badRequest(c, "Ticket ID is required")
	}
	eventID, ok := eventIDParam(c)
	if !ok {
		return badRequest(c, "Invalid Event ID format")
	}

	ctx := c.Request().Context()
	ticket, scanned, err := h.ledger.CheckIn(ctx, id, eventID)
	audit(c, "CHECKIN", string(id), eventID, err)
	if err != nil {
		h.metrics.TrackCheckIn(resultOf(err))
		return writeCheckInError(c, err)
	}

	h.metrics.TrackCheckIn("admitted")
	h.notifier.CheckedIn(ctx, eventID, []models.TicketID{id}, scanned)
	return c.JSON(http.StatusOK, models.CheckInResponse{Message: "Check-in successful!", Data: ticket})
}

func eventIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.QueryParam("event_id")), 10, 64)
	return id, err == nil && id > 0
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, models.ErrorBody{Error: msg, Code: models.CodeInvalidRequest})
}

// writeCheckInError maps ledger refusals to 404/409 and anything else to 500.
func writeCheckInError(c echo.Context, err error) error {
	var ce *services.CheckInError
	if !errors.As(err, &ce) {
		slog.Error("check-in failed", "error", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorBody{Error: "Failed to update tickets", Code: models.CodeInternal})
	}

	code := http.StatusConflict
	if errors.Is(err, status.ErrTicketNotFound) {
		code = http.StatusNotFound
	}
	return c.JSON(code, models.ErrorBody{
		Error:       ce.Error(),
		Code:        ce.Code,
		TicketID:    ce.TicketID,
		TicketEvent: ce.EventName,
		CheckedInAt: ce.CheckedInAt,
	})
}

func resultOf(err error) string {
	var ce *services.CheckInError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return "error"
}

// audit records every check-in attempt with the operator that made it.
func audit(c echo.Context, action, target string, eventID int64, err error) {
	attrs := []any{"action", action, "target", target, "event_id", eventID}
	if claims, ok := security.ClaimsFrom(c); ok {
		attrs = append(attrs, "user_id", claims.UserID)
	}
	if err != nil {
		attrs = append(attrs, "result", resultOf(err))
	} else {
		attrs = append(attrs, "result", "admitted")
	}
	slog.Info("audit", attrs...)
}
