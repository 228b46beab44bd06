package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-checkin/internal/gateway"
	"gate-checkin/internal/geometry"
	"gate-checkin/internal/status"
	"gate-checkin/models"
)

type recordingObserver struct {
	mu       sync.Mutex
	moves    [][2]State
	outcomes []models.Outcome
	stats    []models.Capacity
	drops    []DropReason
}

func (r *recordingObserver) OnStateChange(from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, [2]State{from, to})
}

func (r *recordingObserver) OnOutcome(o models.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingObserver) OnStats(c models.Capacity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, c)
}

func (r *recordingObserver) OnDropped(_ models.ScanCandidate, reason DropReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops = append(r.drops, reason)
}

func (r *recordingObserver) dropped() []DropReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DropReason(nil), r.drops...)
}

func (r *recordingObserver) outcomeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

// inside is anchored within the default 390pt-wide target square.
var (
	inside  = geometry.Rect{Origin: geometry.Point{X: 120, Y: 180}, Size: geometry.Size{Width: 80, Height: 80}}
	outside = geometry.Rect{Origin: geometry.Point{X: 5, Y: 700}, Size: geometry.Size{Width: 80, Height: 80}}
)

func newTestSession(t *testing.T, fb *fakeBackend) (*Session, *recordingObserver) {
	t.Helper()
	obs := &recordingObserver{}
	s := NewSession(context.Background(), fb, SessionConfig{Observer: obs})
	_, err := s.LoadEvents(context.Background())
	require.NoError(t, err)
	return s, obs
}

func scanningSession(t *testing.T, fb *fakeBackend) (*Session, *recordingObserver) {
	t.Helper()
	s, obs := newTestSession(t, fb)
	_, err := s.SelectEvent(context.Background(), 7)
	require.NoError(t, err)
	require.NoError(t, s.StartCamera())
	require.Equal(t, StateScanning, s.Snapshot().State)
	return s, obs
}

func TestSession_CameraFlow(t *testing.T) {
	fb := newFakeBackend()
	fb.addTicket("abc-123", 7, "guest@example.com")
	s, obs := newTestSession(t, fb)
	ctx := context.Background()

	assert.Equal(t, StateIdle, s.Snapshot().State)
	assert.ErrorIs(t, s.StartCamera(), status.ErrNoActiveEvent)

	_, err := s.SelectEvent(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.Snapshot().State)

	require.NoError(t, s.StartCamera())
	assert.True(t, s.HandleCandidate(models.CameraCandidate("abc-123", inside)))
	s.Wait()

	snap := s.Snapshot()
	assert.Equal(t, StateResultShown, snap.State)
	assert.True(t, models.IsAdmitted(snap.Outcome))
	assert.Equal(t, int64(1), snap.Capacity.Scanned)

	require.NoError(t, s.Acknowledge())
	assert.Equal(t, StateScanning, s.Snapshot().State)
	assert.False(t, s.Engine().Guard().Held())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, [][2]State{
		{StateIdle, StateReady},
		{StateReady, StateScanning},
		{StateScanning, StateVerifying},
		{StateVerifying, StateResultShown},
		{StateResultShown, StateScanning},
	}, obs.moves)
	require.Len(t, obs.outcomes, 1)
	assert.NotEmpty(t, obs.stats)
}

// The stream keeps draining while one request is out.
func TestSession_DropsCandidatesWhileVerifying(t *testing.T) {
	fb := newFakeBackend()
	fb.addTicket("abc-123", 7, "guest@example.com")
	fb.blockMutations()
	s, obs := scanningSession(t, fb)

	assert.True(t, s.HandleCandidate(models.CameraCandidate("abc-123", inside)))
	<-fb.entered
	for i := 0; i < 5; i++ {
		assert.False(t, s.HandleCandidate(models.CameraCandidate("abc-123", inside)))
	}
	assert.Equal(t, StateVerifying, s.Snapshot().State)

	fb.unblock()
	s.Wait()

	checkIns, _, _, _ := fb.counts()
	assert.Equal(t, 1, checkIns)
	assert.Equal(t, 1, obs.outcomeCount())
	for _, r := range obs.dropped() {
		assert.Equal(t, DropInFlight, r)
	}

	// Still held until acknowledged.
	assert.False(t, s.HandleCandidate(models.CameraCandidate("abc-123", inside)))
	require.NoError(t, s.Acknowledge())
}

// Codes anchored outside the target never reach the network.
func TestSession_GeometryFilter(t *testing.T) {
	fb := newFakeBackend()
	fb.addTicket("abc-123", 7, "guest@example.com")
	s, obs := scanningSession(t, fb)

	assert.False(t, s.HandleCandidate(models.CameraCandidate("abc-123", outside)))
	assert.False(t, s.HandleCandidate(models.ScanCandidate{Data: "abc-123", Origin: models.OriginCamera}))

	checkIns, _, _, _ := fb.counts()
	assert.Equal(t, 0, checkIns)
	assert.Equal(t, []DropReason{DropGeometry, DropGeometry}, obs.dropped())
	assert.Equal(t, StateScanning, s.Snapshot().State)
	assert.False(t, s.Engine().Guard().Held())
}

func TestSession_NoEventDropsCandidates(t *testing.T) {
	fb := newFakeBackend()
	s, obs := newTestSession(t, fb)

	assert.False(t, s.HandleCandidate(models.CameraCandidate("abc-123", inside)))
	assert.Equal(t, []DropReason{DropNoEvent}, obs.dropped())
}

// A rejected manual entry keeps the entry screen open.
func TestSession_ManualValidationStaysInEntry(t *testing.T) {
	fb := newFakeBackend()
	s, _ := scanningSession(t, fb)
	ctx := context.Background()

	require.NoError(t, s.OpenManual())
	out, err := s.SubmitManual(ctx, "  ")
	require.NoError(t, err)

	denied, ok := out.(models.Denied)
	require.True(t, ok)
	assert.Equal(t, models.DenialValidation, denied.Kind)
	assert.Equal(t, StateManualEntry, s.Snapshot().State)

	checkIns, _, _, _ := fb.counts()
	assert.Equal(t, 0, checkIns)

	require.NoError(t, s.CloseManual())
	assert.Equal(t, StateScanning, s.Snapshot().State)
}

func TestSession_ManualRetryAfterNetworkError(t *testing.T) {
	fb := newFakeBackend()
	fb.addTicket("abc-123", 7, "guest@example.com")
	fb.checkInErr = &gateway.TransportError{Op: "check-in", Err: context.DeadlineExceeded}
	s, _ := newTestSession(t, fb)
	ctx := context.Background()

	_, err := s.SelectEvent(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, s.OpenManual())

	out, err := s.SubmitManual(ctx, "abc-123")
	require.NoError(t, err)
	denied, ok := out.(models.Denied)
	require.True(t, ok)
	assert.Equal(t, models.DenialNetwork, denied.Kind)
	assert.Equal(t, models.AffordRetry, denied.Affordance())

	fb.mu.Lock()
	fb.checkInErr = nil
	fb.mu.Unlock()

	out, err = s.Retry(ctx)
	require.NoError(t, err)
	assert.True(t, models.IsAdmitted(out))
	assert.Equal(t, StateResultShown, s.Snapshot().State)

	checkIns, _, _, _ := fb.counts()
	assert.Equal(t, 2, checkIns)
}

func TestSession_RetryRefusedForFinalDenial(t *testing.T) {
	fb := newFakeBackend()
	s, _ := newTestSession(t, fb)
	ctx := context.Background()

	_, err := s.SelectEvent(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, s.OpenManual())

	out, err := s.SubmitManual(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, models.DenialNotFound, out.(models.Denied).Kind)

	_, err = s.Retry(ctx)
	assert.ErrorIs(t, err, status.ErrInvalidState)
}

func TestSession_BlurDiscardsInFlightOutcome(t *testing.T) {
	fb := newFakeBackend()
	fb.addTicket("abc-123", 7, "guest@example.com")
	fb.blockMutations()
	s, obs := scanningSession(t, fb)

	require.True(t, s.HandleCandidate(models.CameraCandidate("abc-123", inside)))
	<-fb.entered

	s.Blur()
	snap := s.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.False(t, snap.Camera)
	assert.False(t, s.Engine().Guard().Held())
	assert.False(t, s.HandleCandidate(models.CameraCandidate("abc-123", inside)))

	fb.unblock()
	s.Wait()

	// The request completed server-side but nothing reached the screen.
	assert.True(t, fb.ticketCheckedIn("abc-123"))
	assert.Equal(t, 0, obs.outcomeCount())
	assert.Nil(t, s.Snapshot().Outcome)
	assert.Contains(t, obs.dropped(), DropUnfocused)
}

func TestSession_SelectEventRefusedWhileVerifying(t *testing.T) {
	fb := newFakeBackend()
	fb.addTicket("abc-123", 7, "guest@example.com")
	fb.blockMutations()
	s, _ := scanningSession(t, fb)
	ctx := context.Background()

	require.True(t, s.HandleCandidate(models.CameraCandidate("abc-123", inside)))
	<-fb.entered

	_, err := s.SelectEvent(ctx, 9)
	assert.ErrorIs(t, err, status.ErrVerificationInFlight)
	assert.ErrorIs(t, s.ClearEvent(), status.ErrVerificationInFlight)

	fb.unblock()
	s.Wait()
	require.NoError(t, s.Acknowledge())

	ev, err := s.SelectEvent(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "Jazz Night", ev.EventName)
	assert.Equal(t, StateReady, s.Snapshot().State)
}

func TestSession_SelectUnknownEvent(t *testing.T) {
	s, _ := newTestSession(t, newFakeBackend())

	_, err := s.SelectEvent(context.Background(), 42)
	assert.ErrorIs(t, err, status.ErrUnknownEvent)
	assert.Equal(t, StateIdle, s.Snapshot().State)
}

// Look up a holder, check in two of three tickets at once.
func TestSession_BulkCheckIn(t *testing.T) {
	fb := newFakeBackend()
	fb.addTicket("t-1", 7, "guest@example.com")
	fb.addTicket("t-2", 7, "guest@example.com")
	fb.addTicket("t-3", 7, "guest@example.com")
	s, _ := newTestSession(t, fb)
	ctx := context.Background()

	_, err := s.SelectEvent(ctx, 7)
	require.NoError(t, err)
	before := s.Snapshot().Capacity

	require.NoError(t, s.OpenBulk())
	_, err = s.SubmitBulk(ctx)
	assert.ErrorIs(t, err, status.ErrEmptySelection)

	tickets, err := s.BulkLookup(ctx, "guest@example.com")
	require.NoError(t, err)
	require.Len(t, tickets, 3)

	_, err = s.ToggleBulk("t-1")
	require.NoError(t, err)
	_, err = s.ToggleBulk("t-3")
	require.NoError(t, err)

	out, err := s.SubmitBulk(ctx)
	require.NoError(t, err)
	bulk, ok := out.(models.BulkAdmitted)
	require.True(t, ok)
	assert.Equal(t, 2, bulk.Count)

	snap := s.Snapshot()
	assert.Equal(t, StateResultShown, snap.State)
	assert.Empty(t, snap.BulkSelection)
	assert.Empty(t, snap.BulkResults)
	assert.Equal(t, before.Scanned+2, snap.Capacity.Scanned)
	assert.False(t, fb.ticketCheckedIn("t-2"))

	require.NoError(t, s.Acknowledge())
	assert.Equal(t, StateReady, s.Snapshot().State)
}

func TestSession_AbandonedBulkKeepsNewSelection(t *testing.T) {
	fb := newFakeBackend()
	fb.addTicket("t-1", 7, "guest@example.com")
	fb.addTicket("n-1", 7, "next@example.com")
	s, obs := newTestSession(t, fb)
	ctx := context.Background()

	_, err := s.SelectEvent(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, s.OpenBulk())
	_, err = s.BulkLookup(ctx, "guest@example.com")
	require.NoError(t, err)
	_, err = s.ToggleBulk("t-1")
	require.NoError(t, err)

	fb.blockMutations()
	done := make(chan error, 1)
	go func() {
		_, err := s.SubmitBulk(ctx)
		done <- err
	}()
	<-fb.entered

	s.Blur()
	s.Focus(ctx)
	require.NoError(t, s.OpenBulk())
	_, err = s.BulkLookup(ctx, "next@example.com")
	require.NoError(t, err)
	_, err = s.ToggleBulk("n-1")
	require.NoError(t, err)

	fb.unblock()
	assert.ErrorIs(t, <-done, status.ErrEpisodeAbandoned)

	snap := s.Snapshot()
	assert.Equal(t, StateBulkLookup, snap.State)
	assert.Equal(t, []models.TicketID{"n-1"}, snap.BulkSelection)
	assert.Len(t, snap.BulkResults, 1)
	assert.True(t, snap.CanSubmitBulk)
	assert.Equal(t, 0, obs.outcomeCount())
}

// Switching events clears the bulk selection.
func TestSession_ContextSwitchClearsBulk(t *testing.T) {
	fb := newFakeBackend()
	fb.addTicket("t-1", 7, "guest@example.com")
	s, _ := newTestSession(t, fb)
	ctx := context.Background()

	_, err := s.SelectEvent(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, s.OpenBulk())
	_, err = s.BulkLookup(ctx, "guest@example.com")
	require.NoError(t, err)
	_, err = s.ToggleBulk("t-1")
	require.NoError(t, err)

	_, err = s.SelectEvent(ctx, 9)
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Empty(t, snap.BulkSelection)
	assert.Empty(t, snap.BulkResults)
	assert.False(t, snap.CanSubmitBulk)
}

func TestSession_FocusRefreshIsThrottled(t *testing.T) {
	fb := newFakeBackend()
	s, _ := newTestSession(t, fb)
	ctx := context.Background()

	_, err := s.SelectEvent(ctx, 7)
	require.NoError(t, err)
	_, _, _, before := fb.counts()

	s.Blur()
	s.Focus(ctx)
	_, _, _, after := fb.counts()
	assert.Equal(t, before, after)
}

func TestSession_RunDrainsChannel(t *testing.T) {
	fb := newFakeBackend()
	fb.addTicket("abc-123", 7, "guest@example.com")
	s, obs := scanningSession(t, fb)

	ch := make(chan models.ScanCandidate, 3)
	ch <- models.CameraCandidate("abc-123", outside)
	ch <- models.CameraCandidate("abc-123", inside)
	ch <- models.CameraCandidate("abc-123", inside)
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx, ch))
	s.Wait()

	checkIns, _, _, _ := fb.counts()
	assert.Equal(t, 1, checkIns)
	drops := obs.dropped()
	require.Len(t, drops, 2)
	assert.Equal(t, DropGeometry, drops[0])
}
