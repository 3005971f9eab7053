package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/reelsync/internal/shared"
)

// Result is the final state of a request after retries.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// URL is the location after redirects.
	URL      *url.URL
	Attempts int
	// Err holds a network or context error. Non-2xx statuses leave it nil.
	Err error
}

// OK reports a 2xx response.
func (r *Result) OK() bool {
	return r != nil && r.Err == nil && IsSuccess(r.StatusCode)
}

// Failure describes why the request did not succeed, or returns nil.
func (r *Result) Failure() error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: no response", shared.ErrAPIRequest)
	case r.Err != nil:
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, r.Err)
	case !IsSuccess(r.StatusCode):
		return fmt.Errorf("%w: status %d: %s", shared.ErrAPIRequest, r.StatusCode, StatusMessage(r.StatusCode))
	}
	return nil
}

// Decode unmarshals the JSON body into v.
func (r *Result) Decode(v any) error {
	if err := r.Failure(); err != nil {
		return err
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Client sends requests under a [Policy].
type Client struct {
	http    *http.Client
	policy  Policy
	clock   shared.Clock
	logger  *log.Logger
	timeout time.Duration
}

// Option configures a [Client].
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithClock(clock shared.Clock) Option  { return func(c *Client) { c.clock = clock } }
func WithLogger(l *log.Logger) Option      { return func(c *Client) { c.logger = l } }

// WithTimeout bounds each attempt separately. Zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// New creates a [Client] using policy.
func New(policy Policy, opts ...Option) *Client {
	c := &Client{
		http:   http.DefaultClient,
		policy: policy,
		clock:  shared.RealClock{},
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the retry policy in use.
func (c *Client) Policy() Policy { return c.policy }

// Do sends req, retrying transient failures. It never returns nil.
func (c *Client) Do(ctx context.Context, req *http.Request) *Result {
	var payload []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return &Result{Err: fmt.Errorf("failed to read request body: %w", err)}
		}
		payload = b
	}

	res := &Result{}
	attempt := func(ctx context.Context, n int) Outcome {
		status, header, body, final, err := c.send(ctx, req, payload)
		res.StatusCode, res.Header, res.Body, res.URL, res.Err = status, header, body, final, err

		o := Outcome{Status: status, Err: err}
		if err == nil && header != nil {
			if d, ok := ParseRetryAfter(header, c.clock.Now()); ok {
				o.RetryAfter = d
			}
		}
		return o
	}
	onRetry := func(n int, o Outcome, wait time.Duration) {
		kv := []any{"method", req.Method, "url", req.URL.String(), "attempt", fmt.Sprintf("%d/%d", n, c.policy.MaxAttempts), "wait", wait}
		if o.Err != nil {
			c.logger.Warn("network error, retrying", append(kv, "error", o.Err)...)
		} else {
			c.logger.Warn("server returned retryable status", append(kv, "status", o.Status, "reason", StatusMessage(o.Status))...)
		}
	}

	last, attempts := c.policy.Run(ctx, c.clock, attempt, onRetry)
	res.Attempts = attempts
	if last.Err != nil {
		res.Err = last.Err
	}

	switch {
	case res.Err != nil && c.policy.ShouldRetry(last):
		c.logger.Error("max retry attempts reached, request failed", "method", req.Method, "url", req.URL.String(), "error", res.Err)
	case res.Err != nil:
		c.logger.Error("request failed", "method", req.Method, "url", req.URL.String(), "error", res.Err)
	case c.policy.ShouldRetry(last):
		c.logger.Error("max retry attempts reached, request failed", "method", req.Method, "url", req.URL.String(), "status", res.StatusCode)
	case !IsSuccess(res.StatusCode) && !isRedirect(res.StatusCode):
		c.logger.Error("request failed", "method", req.Method, "url", req.URL.String(), "status", res.StatusCode, "reason", StatusMessage(res.StatusCode))
	}
	return res
}

func (c *Client) send(ctx context.Context, req *http.Request, payload []byte) (int, http.Header, []byte, *url.URL, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	r := req.Clone(ctx)
	if payload != nil {
		r.Body = io.NopCloser(bytes.NewReader(payload))
		r.ContentLength = int64(len(payload))
		r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(payload)), nil }
	}

	resp, err := c.http.Do(r)
	if err != nil {
		return 0, nil, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	final := r.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	return resp.StatusCode, resp.Header, body, final, nil
}

func isRedirect(code int) bool { return code >= 300 && code < 400 }

// Get sends a GET with optional headers.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) *Result {
	return c.request(ctx, http.MethodGet, rawURL, header, nil)
}

// Head sends a HEAD request; redirects are followed and reported through [Result.URL].
func (c *Client) Head(ctx context.Context, rawURL string, header http.Header) *Result {
	return c.request(ctx, http.MethodHead, rawURL, header, nil)
}

// PostJSON marshals v and sends it as a JSON POST.
func (c *Client) PostJSON(ctx context.Context, rawURL string, header http.Header, v any) *Result {
	data, err := json.Marshal(v)
	if err != nil {
		return &Result{Err: fmt.Errorf("failed to encode request: %w", err)}
	}
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/json")
	return c.request(ctx, http.MethodPost, rawURL, h, data)
}

func (c *Client) request(ctx context.Context, method, rawURL string, header http.Header, body []byte) *Result {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return &Result{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.Do(ctx, req)
}
