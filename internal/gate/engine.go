package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gate-checkin/internal/guard"
	"gate-checkin/internal/status"
	"gate-checkin/models"
)

// DefaultMinTicketIDLength rejects obviously truncated manual input.
const DefaultMinTicketIDLength = 3

// Backend is the subset of the check-in API the gate needs.
// gateway.Client implements it.
type Backend interface {
	StatsSource
	TicketLookup
	CheckIn(ctx context.Context, ticketID models.TicketID, eventID int64) (models.CheckInResponse, error)
	BulkCheckIn(ctx context.Context, eventID int64, ids []models.TicketID) (models.BulkCheckInResponse, error)
}

type EngineOptions struct {
	MinTicketIDLength int
	Metrics           Metrics
	// OnUnauthorized hands a rejected credential back to the session owner.
	OnUnauthorized func()
	Logger         *slog.Logger
}

// Engine runs verifications under a single-flight guard. One Engine serves
// one gate screen.
type Engine struct {
	backend        Backend
	guard          *guard.Guard
	stats          *StatsAggregator
	minLen         int
	metrics        Metrics
	onUnauthorized func()
	log            *slog.Logger
}

func NewEngine(backend Backend, g *guard.Guard, stats *StatsAggregator, opts EngineOptions) *Engine {
	if opts.MinTicketIDLength <= 0 {
		opts.MinTicketIDLength = DefaultMinTicketIDLength
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		backend:        backend,
		guard:          g,
		stats:          stats,
		minLen:         opts.MinTicketIDLength,
		metrics:        opts.Metrics,
		onUnauthorized: opts.OnUnauthorized,
		log:            opts.Logger,
	}
}

func (e *Engine) Guard() *guard.Guard { return e.guard }

// Validate checks the identifier locally. A non-nil Denied means no network
// call may be made.
func (e *Engine) Validate(c models.ScanCandidate) (models.TicketID, *models.Denied) {
	id := c.TicketID()
	switch {
	case id == "":
		return "", &models.Denied{Kind: models.DenialValidation, Message: "Enter a ticket ID"}
	case len([]rune(string(id))) < e.minLen:
		return id, &models.Denied{
			Kind:     models.DenialValidation,
			Message:  fmt.Sprintf("Ticket ID must be at least %d characters", e.minLen),
			TicketID: id,
		}
	}
	return id, nil
}

// Pending is a verification that won the guard and has not yet reached the
// network.
type Pending struct {
	Episode guard.Episode
	Origin  models.Origin
	Event   models.EventStats

	ticketID models.TicketID
	bulk     []models.TicketID
	engine   *Engine
}

// TicketIDs lists the identifiers this verification covers.
func (p *Pending) TicketIDs() []models.TicketID {
	if p.bulk != nil {
		return append([]models.TicketID(nil), p.bulk...)
	}
	return []models.TicketID{p.ticketID}
}

// Admit is the synchronous stage: validate, then take the guard. Exactly one
// of the results is set: a Pending to run, an immediate validation outcome,
// or an error meaning the candidate was dropped.
func (e *Engine) Admit(c models.ScanCandidate, event models.EventStats) (*Pending, models.Outcome, error) {
	if event.EventID == 0 {
		return nil, nil, status.ErrNoActiveEvent
	}

	id, invalid := e.Validate(c)
	if invalid != nil {
		e.metrics.ObserveVerification(c.Origin, string(models.DenialValidation), 0)
		return nil, *invalid, nil
	}

	ep, ok := e.guard.TryAcquire()
	if !ok {
		return nil, nil, status.ErrVerificationInFlight
	}
	return &Pending{Episode: ep, Origin: c.Origin, Event: event, ticketID: id, engine: e}, nil, nil
}

// AdmitBulk is Admit for a batch from the bulk lookup.
func (e *Engine) AdmitBulk(ids []models.TicketID, event models.EventStats) (*Pending, models.Outcome, error) {
	if event.EventID == 0 {
		return nil, nil, status.ErrNoActiveEvent
	}
	if len(ids) == 0 {
		e.metrics.ObserveVerification(models.OriginBulk, string(models.DenialValidation), 0)
		return nil, models.Denied{Kind: models.DenialValidation, Message: "No tickets selected"}, nil
	}

	ep, ok := e.guard.TryAcquire()
	if !ok {
		return nil, nil, status.ErrVerificationInFlight
	}
	batch := append([]models.TicketID(nil), ids...)
	return &Pending{Episode: ep, Origin: models.OriginBulk, Event: event, bulk: batch, engine: e}, nil, nil
}

// Run issues the single network mutation, classifies the response and
// refreshes the event's counters. If the episode was abandoned meanwhile the
// outcome is returned with status.ErrEpisodeAbandoned and must not be shown.
// The guard stays held until Acknowledge, except after Unauthorized.
func (p *Pending) Run(ctx context.Context) (models.Outcome, error) {
	e := p.engine
	start := time.Now()

	var outcome models.Outcome
	if p.bulk != nil {
		resp, err := e.backend.BulkCheckIn(ctx, p.Event.EventID, p.bulk)
		outcome = ClassifyBulk(p.bulk, resp, err)
	} else {
		resp, err := e.backend.CheckIn(ctx, p.ticketID, p.Event.EventID)
		outcome = ClassifyCheckIn(p.ticketID, p.Event.EventName, resp, err)
	}

	result := ResultLabel(outcome)
	e.metrics.ObserveVerification(p.Origin, result, time.Since(start))
	e.log.Info("verification finished",
		"episode", uint64(p.Episode),
		"origin", string(p.Origin),
		"event_id", p.Event.EventID,
		"tickets", len(p.TicketIDs()),
		"result", result,
		"duration", time.Since(start),
	)

	if d, ok := outcome.(models.Denied); ok && d.Kind == models.DenialUnauthorized {
		e.guard.Release(p.Episode)
		if e.onUnauthorized != nil {
			e.onUnauthorized()
		}
		return outcome, nil
	}

	// Counters are server truth; refresh whatever happened to the episode.
	e.stats.RefreshBestEffort(ctx, p.Event.EventID)

	if !e.guard.Current(p.Episode) {
		e.log.Debug("discarding outcome of abandoned episode", "episode", uint64(p.Episode), "result", result)
		return outcome, status.ErrEpisodeAbandoned
	}
	return outcome, nil
}

// Verify runs both stages for one candidate.
func (e *Engine) Verify(ctx context.Context, c models.ScanCandidate, event models.EventStats) (models.Outcome, guard.Episode, error) {
	p, immediate, err := e.Admit(c, event)
	if err != nil {
		return nil, 0, err
	}
	if immediate != nil {
		return immediate, 0, nil
	}
	out, err := p.Run(ctx)
	return out, p.Episode, err
}

// VerifyBulk runs both stages for a batch.
func (e *Engine) VerifyBulk(ctx context.Context, ids []models.TicketID, event models.EventStats) (models.Outcome, guard.Episode, error) {
	p, immediate, err := e.AdmitBulk(ids, event)
	if err != nil {
		return nil, 0, err
	}
	if immediate != nil {
		return immediate, 0, nil
	}
	out, err := p.Run(ctx)
	return out, p.Episode, err
}

// Acknowledge releases the guard for ep once the operator has seen the
// outcome.
func (e *Engine) Acknowledge(ep guard.Episode) bool {
	return e.guard.Release(ep)
}
