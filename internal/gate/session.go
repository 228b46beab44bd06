package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gate-checkin/internal/clock"
	"gate-checkin/internal/geometry"
	"gate-checkin/internal/guard"
	"gate-checkin/internal/status"
	"gate-checkin/models"
)

// State is the screen state.
type State int

const (
	StateIdle State = iota
	StateReady
	StateScanning
	StateManualEntry
	StateBulkLookup
	StateVerifying
	StateResultShown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateScanning:
		return "scanning"
	case StateManualEntry:
		return "manual_entry"
	case StateBulkLookup:
		return "bulk_lookup"
	case StateVerifying:
		return "verifying"
	case StateResultShown:
		return "result_shown"
	default:
		return "unknown"
	}
}

type SessionConfig struct {
	Target            geometry.Rect
	MinTicketIDLength int
	StatsThrottle     time.Duration
	Clock             clock.Clock
	Observer          Observer
	Metrics           Metrics
	OnUnauthorized    func()
	Logger            *slog.Logger
}

// Snapshot is a consistent copy of the session for rendering.
type Snapshot struct {
	State         State
	Focused       bool
	Camera        bool
	Event         models.EventStats
	HasEvent      bool
	Capacity      models.Capacity
	Outcome       models.Outcome
	Episode       guard.Episode
	BulkEmail     string
	BulkResults   []models.Ticket
	BulkSelection []models.TicketID
	CanSubmitBulk bool
	Events        []models.EventStats
}

// Session is one gate screen: it owns the guard, the bulk selection and the
// event binding, and sequences them through the screen states.
type Session struct {
	ctx      context.Context
	engine   *Engine
	selector *Selector
	stats    *StatsAggregator
	bulk     *BulkFlow
	target   geometry.Rect
	obs      Observer
	metrics  Metrics
	log      *slog.Logger

	wg sync.WaitGroup

	mu         sync.Mutex
	state      State
	focused    bool
	camera     bool
	outcome    models.Outcome
	episode    guard.Episode
	inFlight   guard.Episode
	lastOrigin models.Origin
	lastManual string
}

// NewSession wires a session over backend. Background verifications run
// under ctx; they are not cancelled by focus loss.
func NewSession(ctx context.Context, backend Backend, cfg SessionConfig) *Session {
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Target.Size.Width == 0 {
		cfg.Target = geometry.TargetRegion(geometry.Viewport{Width: 390, Height: 844}, geometry.DefaultTargetSize, geometry.DefaultTargetOffset)
	}

	stats := NewStatsAggregator(backend, cfg.Clock, cfg.StatsThrottle, cfg.Metrics)
	engine := NewEngine(backend, guard.New(), stats, EngineOptions{
		MinTicketIDLength: cfg.MinTicketIDLength,
		Metrics:           cfg.Metrics,
		OnUnauthorized:    cfg.OnUnauthorized,
		Logger:            cfg.Logger,
	})

	return &Session{
		ctx:      ctx,
		engine:   engine,
		selector: NewSelector(stats),
		stats:    stats,
		bulk:     NewBulkFlow(backend),
		target:   cfg.Target,
		obs:      cfg.Observer,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		state:    StateIdle,
		focused:  true,
	}
}

func (s *Session) Engine() *Engine { return s.engine }
func (s *Session) Stats() *StatsAggregator { return s.stats }
func (s *Session) Bulk() *BulkFlow { return s.bulk }
func (s *Session) Target() geometry.Rect { return s.target }
func (s *Session) Selector() *Selector { return s.selector }

// Wait blocks until background verifications have returned.
func (s *Session) Wait() { s.wg.Wait() }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:   s.state,
		Focused: s.focused,
		Camera:  s.camera,
		Outcome: s.outcome,
		Episode: s.episode,
	}
	s.mu.Unlock()

	snap.Event, snap.HasEvent = s.selector.Active()
	if snap.HasEvent {
		snap.Capacity, _ = s.stats.Current(snap.Event.EventID)
	}
	snap.BulkEmail = s.bulk.Email()
	snap.BulkResults = s.bulk.Results()
	snap.BulkSelection = s.bulk.Selection()
	snap.CanSubmitBulk = s.bulk.CanSubmit()
	snap.Events = s.stats.Events()
	return snap
}

// moveLocked changes state and returns the notification to send once the
// lock is released.
func (s *Session) moveLocked(to State) func() {
	from := s.state
	if from == to {
		return func() {}
	}
	s.state = to
	s.log.Debug("gate state change", "from", from.String(), "to", to.String())
	return func() { s.obs.OnStateChange(from, to) }
}

// restingLocked is where the screen returns after a result or a modal.
func (s *Session) restingLocked() State {
	if _, ok := s.selector.Active(); !ok {
		return StateIdle
	}
	if s.camera && s.focused {
		return StateScanning
	}
	return StateReady
}

func (s *Session) publishStats(eventID int64) {
	if c, ok := s.stats.Current(eventID); ok {
		s.obs.OnStats(c)
	}
}

// Focus marks the screen visible and refreshes counters if they are stale.
func (s *Session) Focus(ctx context.Context) {
	s.mu.Lock()
	s.focused = true
	s.mu.Unlock()

	ev, ok := s.selector.Active()
	if !ok {
		return
	}
	if _, fetched, err := s.stats.RefreshIfStale(ctx, ev.EventID); err != nil {
		s.log.Warn("stats refresh on focus failed", "event_id", ev.EventID, "error", err)
	} else if fetched {
		s.publishStats(ev.EventID)
	}
}

// Blur handles the screen losing focus: the camera stops, the guard is
// released and any in-flight outcome will be discarded.
func (s *Session) Blur() {
	s.mu.Lock()
	s.focused = false
	s.camera = false
	s.engine.guard.ForceRelease()
	s.inFlight = 0
	s.outcome = nil
	s.episode = 0
	notify := s.moveLocked(s.restingLocked())
	s.mu.Unlock()
	notify()
}

// LoadEvents fetches the events the operator can bind to.
func (s *Session) LoadEvents(ctx context.Context) ([]models.EventStats, error) {
	return s.selector.Load(ctx)
}

// SelectEvent binds the screen to eventID. It is refused while a
// verification is in flight; otherwise the guard is force released and the
// bulk selection cleared before the new context applies.
func (s *Session) SelectEvent(ctx context.Context, eventID int64) (models.EventStats, error) {
	s.mu.Lock()
	if s.state == StateVerifying {
		s.mu.Unlock()
		return models.EventStats{}, status.ErrVerificationInFlight
	}
	ev, err := s.selector.Select(eventID)
	if err != nil {
		s.mu.Unlock()
		return models.EventStats{}, err
	}
	s.engine.guard.ForceRelease()
	s.bulk.Reset()
	s.camera = false
	s.outcome = nil
	s.episode = 0
	s.inFlight = 0
	notify := s.moveLocked(StateReady)
	s.mu.Unlock()
	notify()

	s.log.Info("event context selected", "event_id", ev.EventID, "event_name", ev.EventName)
	if _, ok := s.stats.RefreshBestEffort(ctx, ev.EventID); ok {
		s.publishStats(ev.EventID)
	}
	return ev, nil
}

// ClearEvent returns to Idle.
func (s *Session) ClearEvent() error {
	s.mu.Lock()
	if s.state == StateVerifying {
		s.mu.Unlock()
		return status.ErrVerificationInFlight
	}
	s.selector.Clear()
	s.engine.guard.ForceRelease()
	s.bulk.Reset()
	s.camera = false
	s.outcome = nil
	s.episode = 0
	notify := s.moveLocked(StateIdle)
	s.mu.Unlock()
	notify()
	return nil
}

func (s *Session) StartCamera() error {
	s.mu.Lock()
	if !s.focused {
		s.mu.Unlock()
		return status.ErrNotFocused
	}
	if _, ok := s.selector.Active(); !ok {
		s.mu.Unlock()
		return status.ErrNoActiveEvent
	}

	notify := func() {}
	switch s.state {
	case StateScanning:
	case StateReady:
		s.camera = true
		notify = s.moveLocked(StateScanning)
	case StateVerifying, StateResultShown:
		// Resume into the camera once the result is acknowledged.
		s.camera = true
	default:
		s.mu.Unlock()
		return status.ErrInvalidState
	}
	s.mu.Unlock()
	notify()
	return nil
}

func (s *Session) StopCamera() {
	s.mu.Lock()
	s.camera = false
	var notify func()
	if s.state == StateScanning {
		notify = s.moveLocked(StateReady)
	}
	s.mu.Unlock()
	if notify != nil {
		notify()
	}
}

func (s *Session) drop(c models.ScanCandidate, reason DropReason) {
	s.metrics.IncDropped(string(reason))
	s.obs.OnDropped(c, reason)
}

// HandleCandidate runs the synchronous stage for a camera candidate (state,
// target region, guard) and starts the verification in the background. It
// reports whether the candidate was accepted.
func (s *Session) HandleCandidate(c models.ScanCandidate) bool {
	s.mu.Lock()
	reason, ok := s.armedLocked(c)
	if !ok {
		s.mu.Unlock()
		s.drop(c, reason)
		return false
	}

	ev, _ := s.selector.Active()
	p, immediate, err := s.engine.Admit(c, ev)
	switch {
	case err != nil:
		s.mu.Unlock()
		if errors.Is(err, status.ErrVerificationInFlight) {
			s.drop(c, DropInFlight)
		} else {
			s.drop(c, DropNoEvent)
		}
		return false
	case immediate != nil:
		s.lastOrigin = c.Origin
		s.outcome = immediate
		s.episode = 0
		notify := s.moveLocked(StateResultShown)
		s.mu.Unlock()
		notify()
		s.obs.OnOutcome(immediate)
		return true
	}

	notify := s.beginLocked(p, c)
	s.mu.Unlock()
	notify()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		out, err := p.Run(s.ctx)
		s.finish(p, out, err)
	}()
	return true
}

func (s *Session) armedLocked(c models.ScanCandidate) (DropReason, bool) {
	if !s.focused {
		return DropUnfocused, false
	}
	if _, ok := s.selector.Active(); !ok {
		return DropNoEvent, false
	}
	switch s.state {
	case StateScanning:
	case StateVerifying, StateResultShown:
		// The episode is still outstanding; the guard decides.
		if s.engine.guard.Held() {
			return DropInFlight, false
		}
		return DropNotArmed, false
	default:
		return DropNotArmed, false
	}
	if c.Origin != models.OriginCamera {
		return DropNotArmed, false
	}
	if c.NeedsGeometry() && !geometry.InTarget(c.Bounds, s.target) {
		return DropGeometry, false
	}
	return "", true
}

func (s *Session) beginLocked(p *Pending, c models.ScanCandidate) func() {
	s.inFlight = p.Episode
	s.lastOrigin = c.Origin
	s.outcome = nil
	s.episode = 0
	return s.moveLocked(StateVerifying)
}

// finish applies a verification result if its episode is still the one the
// screen is waiting for.
func (s *Session) finish(p *Pending, out models.Outcome, err error) bool {
	if errors.Is(err, status.ErrEpisodeAbandoned) {
		return false
	}

	s.mu.Lock()
	if s.state != StateVerifying || s.inFlight != p.Episode {
		s.mu.Unlock()
		s.log.Debug("dropping stale outcome", "episode", uint64(p.Episode))
		return false
	}
	s.inFlight = 0
	s.outcome = out
	s.episode = p.Episode
	if d, ok := out.(models.Denied); ok && d.Kind == models.DenialUnauthorized {
		// The engine already released the guard.
		s.episode = 0
		s.camera = false
	}
	notify := s.moveLocked(StateResultShown)
	s.mu.Unlock()

	notify()
	s.obs.OnOutcome(out)
	s.publishStats(p.Event.EventID)
	return true
}

// Run feeds candidates from ch until ctx ends or ch closes. Candidates are
// never queued: each one is accepted or dropped on arrival.
func (s *Session) Run(ctx context.Context, ch <-chan models.ScanCandidate) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			s.HandleCandidate(c)
		}
	}
}

func (s *Session) OpenManual() error {
	return s.openModal(StateManualEntry)
}

func (s *Session) CloseManual() error {
	return s.closeModal(StateManualEntry)
}

func (s *Session) OpenBulk() error {
	return s.openModal(StateBulkLookup)
}

// CloseBulk leaves the bulk modal and drops its results.
func (s *Session) CloseBulk() error {
	if err := s.closeModal(StateBulkLookup); err != nil {
		return err
	}
	s.bulk.Reset()
	return nil
}

func (s *Session) openModal(to State) error {
	s.mu.Lock()
	if !s.focused {
		s.mu.Unlock()
		return status.ErrNotFocused
	}
	if _, ok := s.selector.Active(); !ok {
		s.mu.Unlock()
		return status.ErrNoActiveEvent
	}
	if s.state != StateReady && s.state != StateScanning {
		s.mu.Unlock()
		return status.ErrInvalidState
	}
	notify := s.moveLocked(to)
	s.mu.Unlock()
	notify()
	return nil
}

func (s *Session) closeModal(from State) error {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return status.ErrInvalidState
	}
	notify := s.moveLocked(s.restingLocked())
	s.mu.Unlock()
	notify()
	return nil
}

// SubmitManual verifies typed input. It blocks until the outcome is known.
// Validation failures keep the manual entry open and never reach the network.
func (s *Session) SubmitManual(ctx context.Context, text string) (models.Outcome, error) {
	c := models.ManualCandidate(text)

	s.mu.Lock()
	if s.state != StateManualEntry {
		s.mu.Unlock()
		return nil, status.ErrInvalidState
	}
	ev, _ := s.selector.Active()
	p, immediate, err := s.engine.Admit(c, ev)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.lastManual = text
	if immediate != nil {
		s.mu.Unlock()
		s.obs.OnOutcome(immediate)
		return immediate, nil
	}
	notify := s.beginLocked(p, c)
	s.mu.Unlock()
	notify()

	out, err := p.Run(ctx)
	if !s.finish(p, out, err) {
		return nil, status.ErrEpisodeAbandoned
	}
	return out, nil
}

// BulkLookup searches the holder's unscanned tickets for the active event.
func (s *Session) BulkLookup(ctx context.Context, email string) ([]models.Ticket, error) {
	s.mu.Lock()
	if s.state != StateBulkLookup {
		s.mu.Unlock()
		return nil, status.ErrInvalidState
	}
	ev, _ := s.selector.Active()
	s.mu.Unlock()

	tickets, err := s.bulk.Lookup(ctx, email, ev.EventID)
	if err != nil {
		return nil, err
	}
	s.log.Info("bulk lookup", "event_id", ev.EventID, "matches", len(tickets))
	return tickets, nil
}

func (s *Session) ToggleBulk(id models.TicketID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateBulkLookup {
		return false, status.ErrInvalidState
	}
	return s.bulk.Toggle(id)
}

// SubmitBulk checks in the selection as one batch. Results and selection are
// cleared once the backend answers, whatever the answer.
func (s *Session) SubmitBulk(ctx context.Context) (models.Outcome, error) {
	s.mu.Lock()
	if s.state != StateBulkLookup {
		s.mu.Unlock()
		return nil, status.ErrInvalidState
	}
	ev, _ := s.selector.Active()
	if !s.bulk.CanSubmit() || s.bulk.EventID() != ev.EventID {
		s.mu.Unlock()
		return nil, status.ErrEmptySelection
	}
	ids := s.bulk.Selection()
	gen := s.bulk.Generation()
	p, immediate, err := s.engine.AdmitBulk(ids, ev)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if immediate != nil {
		s.mu.Unlock()
		s.obs.OnOutcome(immediate)
		return immediate, nil
	}
	notify := s.beginLocked(p, models.ScanCandidate{Origin: models.OriginBulk})
	s.mu.Unlock()
	notify()

	out, err := p.Run(ctx)
	if errors.Is(err, status.ErrEpisodeAbandoned) {
		return nil, err
	}
	// A lookup made after the submit owns the flow now.
	s.bulk.ResetIf(gen)
	if !s.finish(p, out, err) {
		return nil, status.ErrEpisodeAbandoned
	}
	return out, nil
}

// Acknowledge dismisses the shown outcome, releases the guard and resumes
// scanning or returns to Ready.
func (s *Session) Acknowledge() error {
	s.mu.Lock()
	if s.state != StateResultShown {
		s.mu.Unlock()
		return status.ErrInvalidState
	}
	if s.episode != 0 {
		s.engine.Acknowledge(s.episode)
	}
	s.outcome = nil
	s.episode = 0
	notify := s.moveLocked(s.restingLocked())
	s.mu.Unlock()
	notify()
	return nil
}

// Retry acknowledges a retryable denial. A manual entry is submitted again;
// a camera scan resumes scanning so the operator can present the code again.
func (s *Session) Retry(ctx context.Context) (models.Outcome, error) {
	s.mu.Lock()
	d, ok := s.outcome.(models.Denied)
	if s.state != StateResultShown || !ok || !d.Retryable() {
		s.mu.Unlock()
		return nil, status.ErrInvalidState
	}
	origin, text := s.lastOrigin, s.lastManual
	s.mu.Unlock()

	if err := s.Acknowledge(); err != nil {
		return nil, err
	}
	if origin != models.OriginManual {
		return nil, nil
	}
	if err := s.OpenManual(); err != nil {
		return nil, err
	}
	return s.SubmitManual(ctx, text)
}
