package netutil

import (
	"io"
	"net/http"
	"strconv"
	"time"
)

const maxRetryAfter = 10 * time.Second

// RetryTransport retries requests that failed with a transient network error
// (see ShouldRetry). With RetryStatuses set, idempotent requests answered
// with a gateway or overload status are retried too, honouring Retry-After.
type RetryTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	// Backoff is multiplied by the attempt number.
	Backoff       time.Duration
	RetryStatuses bool
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := max(t.MaxRetries+1, 1)

	var (
		resp *http.Response
		err  error
	)
	for attempt := 1; ; attempt++ {
		cur, rerr := rewind(req, attempt)
		if rerr != nil {
			return nil, rerr
		}

		resp, err = base.RoundTrip(cur)
		if attempt == attempts {
			return resp, err
		}
		delay, again := t.next(req, resp, err, attempt)
		if !again {
			return resp, err
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			_ = resp.Body.Close()
		}
		if !wait(req, delay) {
			return nil, req.Context().Err()
		}
	}
}

func (t *RetryTransport) next(req *http.Request, resp *http.Response, err error, attempt int) (time.Duration, bool) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return 0, false
	}
	backoff := t.Backoff * time.Duration(attempt)
	if err != nil {
		return backoff, ShouldRetry(err)
	}
	if !t.RetryStatuses || !Idempotent(req.Method) || !RetryStatus(resp.StatusCode) {
		return 0, false
	}
	if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
		return d, true
	}
	return backoff, true
}

// rewind returns the request for attempt with a fresh body.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 {
		return req, nil
	}
	if req.GetBody == nil {
		return req.Clone(req.Context()), nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	cur := req.Clone(req.Context())
	cur.Body = body
	return cur, nil
}

func retryAfter(v string) (time.Duration, bool) {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter), true
}

func wait(req *http.Request, d time.Duration) bool {
	if d <= 0 {
		return req.Context().Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return false
	case <-timer.C:
		return true
	}
}
