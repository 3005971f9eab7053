package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	tu "github.com/desertthunder/reelsync/internal/testing"
)

func newTestClient(attempts int, opts ...Option) (*Client, *tu.FakeClock, *bytes.Buffer) {
	clock := tu.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	var buf bytes.Buffer
	opts = append([]Option{WithClock(clock), WithLogger(log.New(&buf))}, opts...)
	return New(DefaultPolicy(attempts, time.Second), opts...), clock, &buf
}

func TestClient(t *testing.T) {
	t.Run("retries 503 then succeeds", func(t *testing.T) {
		var mu sync.Mutex
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		c, clock, _ := newTestClient(5)
		res := c.Get(context.Background(), srv.URL, nil)

		if !res.OK() {
			t.Fatalf("expected success, got status %d err %v", res.StatusCode, res.Err)
		}
		if res.Attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", res.Attempts)
		}
		if slept := clock.Slept(); len(slept) != 1 || slept[0] != time.Second {
			t.Errorf("expected one 1s backoff, got %v", slept)
		}

		var body struct{ OK bool }
		if err := res.Decode(&body); err != nil || !body.OK {
			t.Errorf("Decode() = %v, body %+v", err, body)
		}
	})

	t.Run("honours Retry-After", func(t *testing.T) {
		rt := tu.NewSequenceRoundTripper(
			tu.Reply{Status: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"4"}}},
			tu.Reply{Status: http.StatusOK},
		)
		c, clock, _ := newTestClient(5, WithHTTPClient(&http.Client{Transport: rt}))

		res := c.Get(context.Background(), "https://api.trakt.tv/sync/ratings", nil)
		if !res.OK() {
			t.Fatalf("expected success, got %d", res.StatusCode)
		}
		if slept := clock.Slept(); len(slept) != 1 || slept[0] != 4*time.Second {
			t.Errorf("expected a 4s wait from Retry-After, got %v", slept)
		}
	})

	t.Run("gives up after MaxAttempts", func(t *testing.T) {
		rt := tu.NewSequenceRoundTripper(tu.Reply{Status: http.StatusBadGateway})
		c, clock, buf := newTestClient(3, WithHTTPClient(&http.Client{Transport: rt}))

		res := c.Get(context.Background(), "https://api.trakt.tv/sync/watchlist", nil)
		if res.OK() {
			t.Fatal("expected failure")
		}
		if res.Err != nil {
			t.Errorf("status failures should not set Err, got %v", res.Err)
		}
		if rt.Calls() != 3 || res.Attempts != 3 {
			t.Errorf("expected 3 calls, got %d (attempts %d)", rt.Calls(), res.Attempts)
		}
		if slept := clock.Slept(); len(slept) != 2 || slept[1] != 2*time.Second {
			t.Errorf("expected waits of 1s and 2s, got %v", slept)
		}
		if !strings.Contains(buf.String(), "max retry attempts reached") {
			t.Errorf("expected exhaustion to be logged, got %q", buf.String())
		}
		if err := res.Failure(); err == nil || !strings.Contains(err.Error(), "502") {
			t.Errorf("Failure() should mention the status, got %v", err)
		}
	})

	t.Run("does not retry permanent 4xx", func(t *testing.T) {
		rt := tu.NewSequenceRoundTripper(tu.Reply{Status: http.StatusUnprocessableEntity})
		c, clock, buf := newTestClient(5, WithHTTPClient(&http.Client{Transport: rt}))

		res := c.PostJSON(context.Background(), "https://api.trakt.tv/sync/history", nil, map[string]any{"movies": []any{}})
		if res.StatusCode != http.StatusUnprocessableEntity || res.Attempts != 1 {
			t.Errorf("expected single 422 attempt, got %d after %d", res.StatusCode, res.Attempts)
		}
		if len(clock.Slept()) != 0 {
			t.Errorf("no backoff expected, got %v", clock.Slept())
		}
		if !strings.Contains(buf.String(), "validation errors") {
			t.Errorf("expected explanation in log, got %q", buf.String())
		}
	})

	t.Run("retries network errors and replays the body", func(t *testing.T) {
		rt := tu.NewSequenceRoundTripper(
			tu.Reply{Err: errors.New("connection reset by peer")},
			tu.Reply{Status: http.StatusCreated},
		)
		c, _, _ := newTestClient(5, WithHTTPClient(&http.Client{Transport: rt}))

		res := c.PostJSON(context.Background(), "https://api.trakt.tv/sync/ratings", http.Header{"trakt-api-version": []string{"2"}}, map[string]int{"rating": 8})
		if !res.OK() {
			t.Fatalf("expected success after retry, got %d err %v", res.StatusCode, res.Err)
		}
		if len(rt.Bodies) != 2 || rt.Bodies[0] != rt.Bodies[1] || rt.Bodies[1] != `{"rating":8}` {
			t.Errorf("body should be replayed on every attempt, got %q", rt.Bodies)
		}
		if got := rt.Requests[1].Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected JSON content type, got %q", got)
		}
		if got := rt.Requests[1].Header.Get("trakt-api-version"); got != "2" {
			t.Errorf("caller headers should be forwarded, got %q", got)
		}
	})

	t.Run("follows redirects for HEAD", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/title/tt0000001/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/title/tt0000002/", http.StatusMovedPermanently)
		})
		mux.HandleFunc("/title/tt0000002/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		c, _, _ := newTestClient(1)
		res := c.Head(context.Background(), srv.URL+"/title/tt0000001/", nil)
		if !res.OK() {
			t.Fatalf("expected success, got %d err %v", res.StatusCode, res.Err)
		}
		if res.URL.Path != "/title/tt0000002/" {
			t.Errorf("expected final URL after redirect, got %s", res.URL)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c, _, _ := newTestClient(5, WithHTTPClient(&http.Client{Transport: tu.NewSequenceRoundTripper(tu.Reply{Status: 200})}))
		res := c.Get(ctx, "https://api.trakt.tv/", nil)
		if !errors.Is(res.Err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", res.Err)
		}
		if res.OK() {
			t.Error("cancelled request should not be OK")
		}
	})

	t.Run("unreadable response body", func(t *testing.T) {
		resp := &http.Response{StatusCode: 200, Body: io.NopCloser(&tu.FCloser{}), Header: http.Header{}}
		c, _, _ := newTestClient(2, WithHTTPClient(&http.Client{Transport: tu.NewMockRoundTripper(resp, nil)}))

		res := c.Get(context.Background(), "https://api.trakt.tv/", nil)
		if res.Err == nil || res.Attempts != 2 {
			t.Errorf("read failures should be retried then surfaced, got err %v after %d", res.Err, res.Attempts)
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		c, _, _ := newTestClient(3)
		res := c.Get(context.Background(), "://bad", nil)
		if res.Err == nil {
			t.Error("expected request construction error")
		}
	})
}
