package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"gate-checkin/internal/clock"
	"gate-checkin/internal/status"
	"gate-checkin/models"
	"gate-checkin/security"
)

// Checks run in the order the gate reports them: existence, event, payment,
// prior use. Only a ticket passing all four is marked.
const checkInScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {'not_found'}
end
local ev = redis.call('HGET', KEYS[1], 'event_id')
if ev ~= ARGV[1] then
	return {'wrong_event', ev}
end
if redis.call('HGET', KEYS[1], 'sold') ~= '1' then
	return {'not_paid'}
end
local at = redis.call('HGET', KEYS[1], 'checked_in_at')
if at and at ~= '' then
	return {'already_checked_in', at}
end
redis.call('HSET', KEYS[1], 'checked_in_at', ARGV[2])
local scanned = redis.call('HINCRBY', KEYS[2], 'scanned', 1)
return {'ok', ARGV[2], tostring(scanned)}
`

// The whole batch is validated before anything is written. KEYS holds the
// ticket keys followed by the event key.
const bulkCheckInScript = `
local n = #KEYS - 1
for i = 1, n do
	local k = KEYS[i]
	if redis.call('EXISTS', k) == 0 then
		return {'not_found', tostring(i)}
	end
	local ev = redis.call('HGET', k, 'event_id')
	if ev ~= ARGV[1] then
		return {'wrong_event', tostring(i), ev}
	end
	if redis.call('HGET', k, 'sold') ~= '1' then
		return {'not_paid', tostring(i)}
	end
	local at = redis.call('HGET', k, 'checked_in_at')
	if at and at ~= '' then
		return {'already_checked_in', tostring(i), at}
	end
end
for i = 1, n do
	redis.call('HSET', KEYS[i], 'checked_in_at', ARGV[2])
end
local scanned = redis.call('HINCRBY', KEYS[n + 1], 'scanned', n)
return {'ok', tostring(n), tostring(scanned)}
`

func eventKey(id int64) string { return "event:" + strconv.FormatInt(id, 10) }
func ticketKey(id models.TicketID) string { return "ticket:" + string(id) }
func holderKey(email string) string { return "holder:" + normalizeEmail(email) }
func operatorKey(email string) string { return "operator:" + normalizeEmail(email) }
func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }
func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }
func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339, s) }

const eventsKey = "events"

// CheckInError is a refused check-in. The message keeps the wording gate
// devices already recognise.
type CheckInError struct {
	TicketID    models.TicketID
	Code        string
	EventName   string
	CheckedInAt *time.Time
	now         time.Time
}

func (e *CheckInError) Error() string {
	switch e.Code {
	case models.CodeNotFound:
		return "ticket not found"
	case models.CodeWrongEvent:
		return fmt.Sprintf("WRONG EVENT: This ticket is for '%s'", e.EventName)
	case models.CodeNotPaid:
		return "INVALID: This ticket has not been paid for."
	case models.CodeAlreadyCheckedIn:
		if e.CheckedInAt == nil {
			return "ALREADY USED"
		}
		ago := e.now.Sub(*e.CheckedInAt).Round(time.Second)
		return fmt.Sprintf("ALREADY USED: Scanned %s ago at %s", ago, e.CheckedInAt.Format("3:04 PM"))
	default:
		return "check-in refused"
	}
}

func (e *CheckInError) Unwrap() error {
	switch e.Code {
	case models.CodeNotFound:
		return status.ErrTicketNotFound
	case models.CodeWrongEvent:
		return status.ErrWrongEvent
	case models.CodeNotPaid:
		return status.ErrTicketNotPaid
	case models.CodeAlreadyCheckedIn:
		return status.ErrAlreadyCheckedIn
	default:
		return nil
	}
}

// Ledger is the ticket store behind the reference backend.
type Ledger struct {
	redis redis.Cmdable
	clock clock.Clock
}

func NewLedger(redisClient redis.Cmdable, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Ledger{redis: redisClient, clock: clk}
}

// CheckIn marks one ticket as used for eventID. It returns the ticket and
// the event's scanned count after the update.
func (l *Ledger) CheckIn(ctx context.Context, id models.TicketID, eventID int64) (models.Ticket, int64, error) {
	now := l.clock.Now()
	res, err := l.redis.Eval(ctx, checkInScript, []string{ticketKey(id), eventKey(eventID)},
		strconv.FormatInt(eventID, 10), formatTime(now)).StringSlice()
	if err != nil {
		return models.Ticket{}, 0, fmt.Errorf("check in %s: %w", id, err)
	}
	if len(res) == 0 {
		return models.Ticket{}, 0, fmt.Errorf("check in %s: empty script reply", id)
	}
	if res[0] != "ok" {
		return models.Ticket{}, 0, l.refusal(ctx, id, res[0], res[1:], now)
	}

	var scanned int64
	if len(res) > 2 {
		scanned, _ = strconv.ParseInt(res[2], 10, 64)
	}
	// The ticket is already marked, so a failed reload must not turn the
	// admission into an error.
	t, err := l.Ticket(ctx, id)
	if err != nil {
		slog.Warn("reload checked-in ticket", "ticket_id", id, "error", err)
		at := now
		t = models.Ticket{ID: id, EventID: eventID, Status: models.StatusCheckedIn, CheckedInAt: &at}
		t.Event.ID = eventID
	}
	return t, scanned, nil
}

// BulkCheckIn marks every ticket in ids or none of them. It returns the
// distinct ids checked in and the event's scanned count after the update.
func (l *Ledger) BulkCheckIn(ctx context.Context, eventID int64, ids []models.TicketID) ([]models.TicketID, int64, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, 0, status.ErrNoTicketsSelected
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, ticketKey(id))
	}
	keys = append(keys, eventKey(eventID))

	now := l.clock.Now()
	res, err := l.redis.Eval(ctx, bulkCheckInScript, keys, strconv.FormatInt(eventID, 10), formatTime(now)).StringSlice()
	if err != nil {
		return nil, 0, fmt.Errorf("bulk check in: %w", err)
	}
	if len(res) < 2 {
		return nil, 0, fmt.Errorf("bulk check in: short script reply %v", res)
	}
	if res[0] != "ok" {
		idx, err := strconv.Atoi(res[1])
		if err != nil || idx < 1 || idx > len(ids) {
			return nil, 0, fmt.Errorf("bulk check in: bad ticket index %q", res[1])
		}
		return nil, 0, l.refusal(ctx, ids[idx-1], res[0], res[2:], now)
	}

	n, err := strconv.Atoi(res[1])
	if err != nil || n != len(ids) {
		return nil, 0, fmt.Errorf("bulk check in: bad count %q for %d tickets", res[1], len(ids))
	}
	var scanned int64
	if len(res) > 2 {
		scanned, _ = strconv.ParseInt(res[2], 10, 64)
	}
	return ids, scanned, nil
}

func (l *Ledger) refusal(ctx context.Context, id models.TicketID, code string, extra []string, now time.Time) error {
	ce := &CheckInError{TicketID: id, Code: code, now: now}
	switch code {
	case models.CodeWrongEvent:
		if len(extra) > 0 {
			if evID, err := strconv.ParseInt(extra[0], 10, 64); err == nil {
				ce.EventName, _ = l.redis.HGet(ctx, eventKey(evID), "name").Result()
			}
		}
	case models.CodeAlreadyCheckedIn:
		if len(extra) > 0 {
			if at, err := parseTime(extra[0]); err == nil {
				ce.CheckedInAt = &at
			}
		}
	case models.CodeNotFound, models.CodeNotPaid:
	default:
		return fmt.Errorf("check in %s: unexpected script result %q", id, code)
	}
	return ce
}

// Ticket loads one ticket with its event summary.
func (l *Ledger) Ticket(ctx context.Context, id models.TicketID) (models.Ticket, error) {
	h, err := l.redis.HGetAll(ctx, ticketKey(id)).Result()
	if err != nil {
		return models.Ticket{}, fmt.Errorf("load ticket %s: %w", id, err)
	}
	if len(h) == 0 {
		return models.Ticket{}, status.ErrTicketNotFound
	}
	t := ticketFromHash(id, h)
	ev, err := l.event(ctx, t.EventID)
	if err != nil {
		return models.Ticket{}, err
	}
	t.Event = ev.summary()
	return t, nil
}

// Lookup returns the sold, unscanned tickets held by email, across events.
func (l *Ledger) Lookup(ctx context.Context, email string) ([]models.Ticket, error) {
	members, err := l.redis.SMembers(ctx, holderKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", email, err)
	}
	slices.Sort(members)

	events := make(map[int64]models.Event)
	out := make([]models.Ticket, 0, len(members))
	for _, m := range members {
		id := models.TicketID(m)
		h, err := l.redis.HGetAll(ctx, ticketKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", email, err)
		}
		if len(h) == 0 || h["sold"] != "1" || h["checked_in_at"] != "" {
			continue
		}
		t := ticketFromHash(id, h)
		ev, ok := events[t.EventID]
		if !ok {
			row, err := l.event(ctx, t.EventID)
			if err != nil {
				return nil, err
			}
			ev = row.summary()
			events[t.EventID] = ev
		}
		t.Event = ev
		out = append(out, t)
	}
	return out, nil
}

// Stats reports revenue and counters for every event, ordered by id.
func (l *Ledger) Stats(ctx context.Context) (models.AdminStats, error) {
	members, err := l.redis.SMembers(ctx, eventsKey).Result()
	if err != nil {
		return models.AdminStats{}, fmt.Errorf("load events: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			slog.Warn("skipping malformed event id", "member", m)
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	stats := models.AdminStats{TotalRevenue: decimal.Zero, Events: make([]models.EventStats, 0, len(ids))}
	for _, id := range ids {
		row, err := l.event(ctx, id)
		if err != nil {
			if errors.Is(err, status.ErrUnknownEvent) {
				continue
			}
			return models.AdminStats{}, err
		}
		stats.TotalRevenue = stats.TotalRevenue.Add(row.Revenue)
		stats.TotalSold += row.Sold
		stats.TotalScanned += row.Scanned
		stats.Events = append(stats.Events, row.EventStats)
	}
	return stats, nil
}

type eventRecord struct {
	models.EventStats
	date string
}

func (r eventRecord) summary() models.Event {
	return models.Event{ID: r.EventID, Name: r.EventName, Venue: r.Venue, Date: r.date}
}

func (l *Ledger) event(ctx context.Context, id int64) (eventRecord, error) {
	h, err := l.redis.HGetAll(ctx, eventKey(id)).Result()
	if err != nil {
		return eventRecord{}, fmt.Errorf("load event %d: %w", id, err)
	}
	if len(h) == 0 {
		return eventRecord{}, fmt.Errorf("event %d: %w", id, status.ErrUnknownEvent)
	}
	revenue, err := decimal.NewFromString(defaultString(h["revenue"], "0"))
	if err != nil {
		revenue = decimal.Zero
	}
	sold, _ := strconv.ParseInt(h["sold"], 10, 64)
	scanned, _ := strconv.ParseInt(h["scanned"], 10, 64)
	return eventRecord{
		EventStats: models.EventStats{
			EventID:   id,
			EventName: h["name"],
			Venue:     h["venue"],
			Revenue:   revenue,
			Sold:      sold,
			Scanned:   scanned,
		},
		date: h["date"],
	}, nil
}

// Authenticate checks an operator's password.
func (l *Ledger) Authenticate(ctx context.Context, email, password string) (models.Operator, error) {
	h, err := l.redis.HGetAll(ctx, operatorKey(email)).Result()
	if err != nil {
		return models.Operator{}, fmt.Errorf("load operator: %w", err)
	}
	if len(h) == 0 || !security.CheckPassword(h["password_hash"], password) {
		return models.Operator{}, status.ErrInvalidCredentials
	}
	return models.Operator{
		ID:    h["id"],
		Email: normalizeEmail(email),
		Name:  h["name"],
		Role:  h["role"],
	}, nil
}

func ticketFromHash(id models.TicketID, h map[string]string) models.Ticket {
	eventID, _ := strconv.ParseInt(h["event_id"], 10, 64)
	t := models.Ticket{
		ID:       id,
		Category: h["category"],
		EventID:  eventID,
		Email:    h["email"],
		Status:   models.StatusUnscanned,
	}
	if at, err := parseTime(h["checked_in_at"]); err == nil {
		t.CheckedInAt = &at
		t.Status = models.StatusCheckedIn
	}
	return t
}

func dedupe(ids []models.TicketID) []models.TicketID {
	seen := make(map[models.TicketID]struct{}, len(ids))
	out := make([]models.TicketID, 0, len(ids))
	for _, id := range ids {
		id = models.TicketID(strings.TrimSpace(string(id)))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
