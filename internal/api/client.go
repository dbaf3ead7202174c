// Package api is the REST client of the proximity backend. Every request
// carries the bearer token of the current session; a 401 triggers the
// client's unauthorized hook so the session can force a logout.
package api

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
	"strings"
	"time"

	"github.com/haasonsaas/proximo/internal/backoff"
)

const (
	defaultTimeout   = 15 * time.Second
	maxErrorBodySize = 4096
)

// TokenSource returns the bearer token to send, or "".
type TokenSource interface {
	Token() string
}

// RequestObserver records request outcomes. route is the path template.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Retry applies to idempotent reads only.
	Retry  backoff.Policy
	Logger *slog.Logger
	// OnUnauthorized is called after any 401 response.
	OnUnauthorized func()
	Observer       RequestObserver
}

// Client talks to the REST API.
type Client struct {
	baseURL        string
	tokens         TokenSource
	httpClient     *http.Client
	retry          backoff.Policy
	logger         *slog.Logger
	onUnauthorized func()
	observer       RequestObserver
}

// NewClient creates a client. tokens may be nil for unauthenticated use.
func NewClient(opts Options, tokens TokenSource) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = backoff.RequestPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		tokens:         tokens,
		httpClient:     httpClient,
		retry:          retry.WithDefaults(),
		logger:         logger.With("component", "api"),
		onUnauthorized: opts.OnUnauthorized,
		observer:       opts.Observer,
	}
}

// SetOnUnauthorized replaces the 401 hook.
func (c *Client) SetOnUnauthorized(fn func()) {
	c.onUnauthorized = fn
}

type request struct {
	method string
	// route is the path template used in logs and metrics.
	route string
	path  string
	query url.Values
	body  any
	out   any

	// Pre-encoded body, used for multipart uploads.
	raw         []byte
	contentType string
}

func (c *Client) getJSON(ctx context.Context, route, path string, query url.Values, out any) error {
	_, err := backoff.Retry(ctx, c.retry, func(int) (struct{}, error) {
		err := c.do(ctx, request{method: http.MethodGet, route: route, path: path, query: query, out: out})
		if err == nil {
			return struct{}{}, nil
		}
		var apiErr *Error
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	})
	if errors.Is(err, backoff.ErrMaxAttemptsExhausted) {
		// Surface the last failure, not the retry bookkeeping.
		if inner := unwrapJoined(err); inner != nil {
			return inner
		}
	}
	return err
}

func unwrapJoined(err error) error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return nil
	}
	for _, e := range joined.Unwrap() {
		if !errors.Is(e, backoff.ErrMaxAttemptsExhausted) {
			return e
		}
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, route, path string, body, out any) error {
	return c.do(ctx, request{method: method, route: route, path: path, body: body, out: out})
}

func (c *Client) do(ctx context.Context, r request) error {
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	contentType := r.contentType
	switch {
	case r.raw != nil:
		body = bytes.NewReader(r.raw)
	case r.body != nil:
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.route, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(r, 0, start)
		return fmt.Errorf("%s %s: %w", r.method, r.route, err)
	}
	defer resp.Body.Close()
	c.observe(r, resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.failure(r, resp)
	}

	if r.out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s: %w", r.route, err)
	}
	return nil
}

func (c *Client) failure(r request, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	apiErr := &Error{
		Status:  resp.StatusCode,
		Code:    codeForStatus(resp.StatusCode),
		Message: parseErrorMessage(body),
		Method:  r.method,
		Path:    r.route,
	}
	c.logger.Debug("request failed", "method", r.method, "route", r.route, "status", resp.StatusCode, "message", apiErr.Message)

	if apiErr.Code == ErrCodeUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
	return apiErr
}

func (c *Client) observe(r request, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveRequest(r.method, r.route, status, time.Since(start))
	}
}

func escape(segment string) string {
	return url.PathEscape(segment)
}
