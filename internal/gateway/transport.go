package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
)

const defaultRetryMax = 2

// retryTransport stamps every request with a request id and retries
// replayable requests on transport errors and gateway failures.
type retryTransport struct {
	base     http.RoundTripper
	retryMax int
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}

	// Only GET/HEAD without a body can be replayed; check-ins go out once.
	canRetry := (req.Method == http.MethodGet || req.Method == http.MethodHead) && req.Body == nil
	max := t.retryMax
	if max < 0 || !canRetry {
		max = 0
	}

	requestID := req.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var lastErr error
	for attempt := 0; attempt <= max; attempt++ {
		r := req.Clone(req.Context())
		r.Header.Set("X-Request-ID", requestID)

		resp, err := t.base.RoundTrip(r)
		if err == nil {
			if attempt < max && retryableStatus(resp.StatusCode) {
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				continue
			}
			return resp, nil
		}
		lastErr = err
		if req.Context().Err() != nil {
			return nil, lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("retries exhausted")
	}
	return nil, lastErr
}

func retryableStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}
