package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-checkin/models"
	"gate-checkin/utils"
)

func newTestClient(t *testing.T, h http.Handler, creds CredentialProvider) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Options{
		BaseURL:     srv.URL + "/",
		Timeout:     time.Second,
		Credentials: creds,
		HTTPClient:  srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
}

func TestClient_CheckIn_SendsPathQueryAndBearer(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotRequestID, gotMethod string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("event_id")
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Check-in successful!",
			"data": map[string]any{
				"id": 17, "category": "VIP", "event_id": 3,
				"event": map[string]any{"id": 3, "name": "Summer Fest"},
			},
		})
	})
	c := newTestClient(t, h, StaticToken{Value: "tok"})

	resp, err := c.CheckIn(context.Background(), "17", 3)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/tickets/17/checkin", gotPath)
	assert.Equal(t, "3", gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, models.TicketID("17"), resp.Data.ID)
	assert.Equal(t, "Summer Fest", resp.Data.Event.Name)
}

func TestClient_CheckIn_ConflictBecomesAPIError(t *testing.T) {
	checked := time.Date(2026, 11, 1, 19, 30, 0, 0, time.UTC)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, models.ErrorBody{
			Error:       "ALREADY USED: Scanned at 19:30",
			Code:        models.CodeAlreadyCheckedIn,
			CheckedInAt: &checked,
		})
	})
	c := newTestClient(t, h, StaticToken{Value: "tok"})

	_, err := c.CheckIn(context.Background(), "17", 3)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, models.CodeAlreadyCheckedIn, apiErr.Code)
	assert.Equal(t, "ALREADY USED: Scanned at 19:30", apiErr.Message)
	require.NotNil(t, apiErr.CheckedInAt)
	assert.True(t, checked.Equal(*apiErr.CheckedInAt))
}

func TestClient_PlainTextErrorBody(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})
	c := newTestClient(t, h, StaticToken{Value: "tok"})

	_, err := c.CheckIn(context.Background(), "17", 3)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "upstream exploded", apiErr.Message)
	assert.True(t, apiErr.Temporary())
}

func TestClient_MutationsAreNeverRetried(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := newTestClient(t, h, StaticToken{Value: "tok"})

	_, err := c.CheckIn(context.Background(), "17", 3)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = c.BulkCheckIn(context.Background(), 3, []models.TicketID{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ReadsAreRetried(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, models.AdminStats{
			TotalSold: 10,
			Events:    []models.EventStats{{EventID: 1, EventName: "Summer Fest", Sold: 10, Scanned: 4}},
		})
	})
	c := newTestClient(t, h, StaticToken{Value: "tok"})

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(10), stats.TotalSold)
	require.Len(t, stats.Events, 1)
	assert.Equal(t, int64(4), stats.Events[0].Scanned)
}

func TestClient_Lookup(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/tickets/lookup", r.URL.Path)
		assert.Equal(t, "guest+1@example.com", r.URL.Query().Get("email"))
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "a", "category": "GA", "event_id": 1},
			{"id": "b", "category": "GA", "event_id": 2},
		})
	})
	c := newTestClient(t, h, StaticToken{Value: "tok"})

	tickets, err := c.Lookup(context.Background(), "guest+1@example.com")
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, models.TicketID("b"), tickets[1].ID)
}

func TestClient_BulkCheckIn_SendsBody(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "5", r.URL.Query().Get("event_id"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req models.BulkCheckInRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []models.TicketID{"a", "b"}, req.TicketIDs)

		writeJSON(w, http.StatusOK, models.BulkCheckInResponse{Message: "Checked in 2 guests!", CheckedIn: 2})
	})
	c := newTestClient(t, h, StaticToken{Value: "tok"})

	resp, err := c.BulkCheckIn(context.Background(), 5, []models.TicketID{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.CheckedIn)
}

func TestClient_UnauthorizedNotifiesProvider(t *testing.T) {
	var notified atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, models.ErrorBody{Error: "Invalid token", Code: models.CodeUnauthorized})
	})
	c := newTestClient(t, h, StaticToken{Value: "stale", OnUnauthorized: func() { notified.Add(1) }})

	_, err := c.Stats(context.Background())
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.Unauthorized())
	assert.Equal(t, int32(1), notified.Load())
}

func TestClient_MissingCredentialIsUnauthorized(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	c := newTestClient(t, h, FileToken{Path: filepath.Join(t.TempDir(), "missing")})

	_, err := c.CheckIn(context.Background(), "17", 3)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.True(t, apiErr.Unauthorized())
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_TimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := New(Options{
		BaseURL:     srv.URL,
		Timeout:     50 * time.Millisecond,
		RetryMax:    -1,
		Credentials: StaticToken{Value: "tok"},
		HTTPClient:  srv.Client(),
	})
	require.NoError(t, err)

	_, err = c.CheckIn(context.Background(), "17", 3)
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.True(t, transportErr.Timeout())
}

func TestClient_BreakerOpensOnServerErrorsOnly(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusConflict)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, int(status.Load()), models.ErrorBody{Error: "WRONG EVENT"})
	})
	c := newTestClient(t, h, StaticToken{Value: "tok"})

	for i := 0; i < 10; i++ {
		_, _ = c.CheckIn(context.Background(), "17", 3)
	}
	assert.Equal(t, utils.StateClosed, c.BreakerState())

	status.Store(http.StatusInternalServerError)
	for i := 0; i < 20; i++ {
		_, _ = c.CheckIn(context.Background(), "17", 3)
	}
	assert.Equal(t, utils.StateOpen, c.BreakerState())

	_, err := c.CheckIn(context.Background(), "17", 3)
	assert.ErrorIs(t, err, utils.ErrCircuitOpen)
	var transportErr *TransportError
	assert.True(t, errors.As(err, &transportErr))
}

func TestClient_Login(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		var req models.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "agent@example.com", req.Email)
		writeJSON(w, http.StatusOK, models.LoginResponse{Token: "jwt", Name: "Agent", Role: "agent"})
	})
	c := newTestClient(t, h, nil)

	resp, err := c.Login(context.Background(), "agent@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "jwt", resp.Token)
}

func TestFileToken_ReadsFreshValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")
	ft := FileToken{Path: path}

	_, err := ft.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, WriteTokenFile(path, "first"))
	tok, err := ft.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, WriteTokenFile(path, "second"))
	tok, err = ft.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", tok)
}
