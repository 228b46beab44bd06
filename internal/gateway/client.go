package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gate-checkin/models"
	"gate-checkin/utils"
)

const (
	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 20
)

type Options struct {
	BaseURL     string
	Timeout     time.Duration
	RetryMax    int
	Credentials CredentialProvider
	// HTTPClient overrides the transport stack; tests pass httptest clients.
	HTTPClient *http.Client
	Breaker    *utils.CircuitBreaker
	UserAgent  string
}

// Client talks to the check-in backend. Every call runs under its own
// timeout and through the circuit breaker.
type Client struct {
	base      *url.URL
	http      *http.Client
	creds     CredentialProvider
	breaker   *utils.CircuitBreaker
	timeout   time.Duration
	userAgent string
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("gateway: base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("gateway: unsupported scheme %q", base.Scheme)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryMax := opts.RetryMax
	if retryMax == 0 {
		retryMax = defaultRetryMax
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	rt := hc.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	hc = &http.Client{
		Transport:     &retryTransport{base: rt, retryMax: retryMax},
		CheckRedirect: hc.CheckRedirect,
		Jar:           hc.Jar,
	}

	breaker := opts.Breaker
	if breaker == nil {
		breaker = NewBreaker("gateway")
	}

	creds := opts.Credentials
	if creds == nil {
		creds = StaticToken{}
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = "gate-checkin"
	}

	return &Client{
		base:      base,
		http:      hc,
		creds:     creds,
		breaker:   breaker,
		timeout:   timeout,
		userAgent: ua,
	}, nil
}

// NewBreaker returns a breaker that only counts transport failures and
// server errors; a rejected ticket is a healthy backend.
func NewBreaker(name string) *utils.CircuitBreaker {
	return utils.NewCircuitBreakerWithSettings(utils.Settings{
		Name:        name,
		MinRequests: 5,
		Timeout:     15 * time.Second,
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			if apiErr, ok := AsAPIError(err); ok {
				return !apiErr.Temporary()
			}
			return false
		},
		OnStateChange: func(name string, from, to utils.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

func (c *Client) BreakerState() utils.State {
	return c.breaker.State()
}

// Stats fetches GET /admin/stats.
func (c *Client) Stats(ctx context.Context) (models.AdminStats, error) {
	var out models.AdminStats
	err := c.do(ctx, "stats", http.MethodGet, "/admin/stats", nil, nil, &out, true)
	return out, err
}

// CheckIn issues PATCH /tickets/{id}/checkin?event_id=.
func (c *Client) CheckIn(ctx context.Context, ticketID models.TicketID, eventID int64) (models.CheckInResponse, error) {
	q := url.Values{"event_id": {strconv.FormatInt(eventID, 10)}}
	path := "/tickets/" + url.PathEscape(ticketID.String()) + "/checkin"

	var out models.CheckInResponse
	err := c.do(ctx, "check-in", http.MethodPatch, path, q, nil, &out, true)
	return out, err
}

// Lookup fetches the unscanned tickets held by email.
func (c *Client) Lookup(ctx context.Context, email string) ([]models.Ticket, error) {
	q := url.Values{"email": {email}}

	var out []models.Ticket
	err := c.do(ctx, "lookup", http.MethodGet, "/admin/tickets/lookup", q, nil, &out, true)
	return out, err
}

// BulkCheckIn issues POST /admin/tickets/bulk-checkin for a batch.
func (c *Client) BulkCheckIn(ctx context.Context, eventID int64, ids []models.TicketID) (models.BulkCheckInResponse, error) {
	q := url.Values{"event_id": {strconv.FormatInt(eventID, 10)}}
	body := models.BulkCheckInRequest{TicketIDs: ids}

	var out models.BulkCheckInResponse
	err := c.do(ctx, "bulk check-in", http.MethodPost, "/admin/tickets/bulk-checkin", q, body, &out, true)
	return out, err
}

// Login exchanges operator credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (models.LoginResponse, error) {
	body := models.LoginRequest{Email: email, Password: password}

	var out models.LoginResponse
	err := c.do(ctx, "login", http.MethodPost, "/auth/login", nil, body, &out, false)
	return out, err
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any, auth bool) error {
	var token string
	if auth {
		t, err := c.creds.Token(ctx)
		if err != nil {
			if errors.Is(err, ErrNoCredential) {
				c.creds.Unauthorized(ctx)
				return &APIError{Op: op, StatusCode: http.StatusUnauthorized, Message: "Sign in required", Code: models.CodeUnauthorized}
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		token = t
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.breaker.Execute(ctx, func() (any, error) {
		return nil, c.roundTrip(ctx, op, method, path, query, body, out, token)
	})
	if err != nil {
		if errors.Is(err, utils.ErrCircuitOpen) || errors.Is(err, utils.ErrTooManyRequests) {
			return &TransportError{Op: op, Err: err}
		}
		if apiErr, ok := AsAPIError(err); ok && apiErr.Unauthorized() {
			c.creds.Unauthorized(ctx)
		}
		return err
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, query url.Values, body, out any, token string) error {
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(op, resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error(), Code: models.CodeInternal}
	}
	return nil
}

func decodeError(op string, status int, raw []byte) *APIError {
	apiErr := &APIError{Op: op, StatusCode: status}

	var body models.ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Code = body.Code
		apiErr.TicketID = body.TicketID.String()
		apiErr.TicketEvent = body.TicketEvent
		apiErr.CheckedInAt = body.CheckedInAt
		return apiErr
	}

	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	apiErr.Message = text
	return apiErr
}
