// Package seerr is a client for the request-management application's HTTP API.
// Every call is authenticated with the per-user API key of the linked account.
package seerr

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

	"github.com/m3rciful/seerrbot/core/logger"
)

var (
	// ErrUpstream matches every non-2xx response and transport failure.
	ErrUpstream = errors.New("seerr: upstream error")
	// ErrDuplicateRequest is returned when the title was already requested.
	ErrDuplicateRequest = errors.New("seerr: already requested")
	// ErrAlreadyDecided is returned when approving or declining a request that is no longer pending.
	ErrAlreadyDecided = errors.New("seerr: request already decided")
)

// StatusError carries the HTTP status of a failed call.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("seerr: %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Is makes every StatusError match ErrUpstream.
func (e *StatusError) Is(target error) bool {
	return target == ErrUpstream
}

// Code is picked up by the handler summary logger as err_code.
func (e *StatusError) Code() string { return "UPSTREAM_" + strconv.Itoa(e.StatusCode) }

// Client talks to the application API. It is safe for concurrent use; WithToken
// returns a shallow copy bound to one user's credential.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// New builds a client for baseURL. A nil httpClient uses a 15s timeout default client.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("seerr: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("seerr: base url must be absolute: %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: u, http: httpClient}, nil
}

// WithToken returns a copy authenticated as the owner of token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Search looks up titles by free text.
func (c *Client) Search(ctx context.Context, query string) ([]MediaItem, error) {
	q := url.Values{"query": {query}}
	var out listResponse[MediaItem]
	if err := c.do(ctx, http.MethodGet, "/api/v1/search", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// SubmitRequest asks for a movie or show. A 409 maps to ErrDuplicateRequest.
func (c *Client) SubmitRequest(ctx context.Context, mediaType MediaType, mediaID int64) (Request, error) {
	var out Request
	err := c.do(ctx, http.MethodPost, "/api/v1/request", nil, submitBody{MediaType: mediaType, MediaID: mediaID}, &out)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
		return Request{}, ErrDuplicateRequest
	}
	return out, err
}

// MyRequests lists the caller's own requests, newest first.
func (c *Client) MyRequests(ctx context.Context) ([]Request, error) {
	var out listResponse[Request]
	if err := c.do(ctx, http.MethodGet, "/api/v1/request/mine", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// PendingRequests lists requests awaiting an admin decision.
func (c *Client) PendingRequests(ctx context.Context) ([]Request, error) {
	q := url.Values{"filter": {StatusPending}}
	var out listResponse[Request]
	if err := c.do(ctx, http.MethodGet, "/api/v1/request", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Approve approves a pending request.
func (c *Client) Approve(ctx context.Context, requestID int64) error {
	return c.decide(ctx, requestID, "approve")
}

// Decline declines a pending request.
func (c *Client) Decline(ctx context.Context, requestID int64) error {
	return c.decide(ctx, requestID, "decline")
}

func (c *Client) decide(ctx context.Context, requestID int64, action string) error {
	path := "/api/v1/request/" + strconv.FormatInt(requestID, 10) + "/" + action
	err := c.do(ctx, http.MethodPost, path, nil, nil, nil)
	var se *StatusError
	if errors.As(err, &se) && (se.StatusCode == http.StatusConflict || se.StatusCode == http.StatusBadRequest) {
		return ErrAlreadyDecided
	}
	return err
}

// ServiceHealth returns the health snapshot. Admin credentials only.
func (c *Client) ServiceHealth(ctx context.Context) (Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/api/v1/status/services", nil, nil, &out)
	return out, err
}

// Trending lists trending titles of the given type.
func (c *Client) Trending(ctx context.Context, mediaType MediaType) ([]MediaItem, error) {
	q := url.Values{"type": {string(mediaType)}}
	var out listResponse[MediaItem]
	if err := c.do(ctx, http.MethodGet, "/api/v1/discover/trending", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// RecentlyAdded lists the newest library items.
func (c *Client) RecentlyAdded(ctx context.Context) ([]MediaItem, error) {
	var out listResponse[MediaItem]
	if err := c.do(ctx, http.MethodGet, "/api/v1/media/recent", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("seerr: encode body: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("seerr: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn(ctx, "seerr", "api.call",
			slog.String("status", "fail"),
			slog.String("method", method),
			slog.String("path", path),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("%w: %s %s: %v", ErrUpstream, method, path, err)
	}
	defer resp.Body.Close()

	logger.Debug(ctx, "seerr", "api.call",
		slog.String("status", "ok"),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("http_status", resp.StatusCode),
		slog.Duration("duration", logger.Took(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, path, err)
	}
	return nil
}
