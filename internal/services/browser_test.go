package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/reelsync/internal/shared"
)

// fakeDriver is a minimal W3C WebDriver endpoint with a single session and element.
type fakeDriver struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string]string
	status   int
}

func newFakeDriver(t *testing.T) (*fakeDriver, *httptest.Server) {
	t.Helper()
	fd := &fakeDriver{bodies: map[string]string{}, status: 200}
	ts := httptest.NewServer(http.HandlerFunc(fd.serve))
	t.Cleanup(ts.Close)
	return fd, ts
}

func (fd *fakeDriver) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	key := r.Method + " " + r.URL.Path

	fd.mu.Lock()
	fd.requests = append(fd.requests, key)
	fd.bodies[key] = string(body)
	status := fd.status
	fd.mu.Unlock()

	reply := func(code int, value any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{"value": value})
	}

	const el = "/session/s-1/element/el-1"
	switch key {
	case "POST /session":
		reply(200, map[string]any{"sessionId": "s-1", "capabilities": map[string]any{}})
	case "POST /session/s-1/element":
		var find map[string]string
		json.Unmarshal(body, &find)
		if find["value"] == "#missing" {
			reply(404, map[string]string{"error": "no such element", "message": "Unable to locate element"})
			return
		}
		reply(200, map[string]string{webElementKey: "el-1"})
	case "POST /session/s-1/execute/sync":
		if strings.Contains(string(body), "performance") {
			reply(200, status)
			return
		}
		reply(200, nil)
	case "GET /session/s-1/url":
		reply(200, "https://www.imdb.com/title/tt0111161/reference")
	case "GET " + el + "/text":
		reply(200, "8")
	case "GET " + el + "/property/value":
		reply(200, "draft")
	case "GET " + el + "/attribute/data-titleinlist":
		reply(200, nil)
	case "POST /session/s-1/timeouts", "POST /session/s-1/url", "POST " + el + "/clear", "POST " + el + "/value", "DELETE /session/s-1":
		reply(200, nil)
	default:
		reply(500, map[string]string{"error": "unknown command", "message": key})
	}
}

func (fd *fakeDriver) calls() []string {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return append([]string(nil), fd.requests...)
}

func (fd *fakeDriver) body(key string) string {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.bodies[key]
}

func TestWebDriver(t *testing.T) {
	ctx := context.Background()

	t.Run("Session", func(t *testing.T) {
		fd, ts := newFakeDriver(t)
		d := NewWebDriver(shared.IMDbConfig{WebDriverURL: ts.URL + "/", Headless: true, ProfileDir: "/tmp/profile"}, nil, nil)

		if ok, status := d.LoadPage(ctx, "https://www.imdb.com/title/tt0111161/"); !ok || status != 200 {
			t.Fatalf("expected page to load, got %v %d", ok, status)
		}
		if _, err := d.CurrentURL(ctx); err != nil {
			t.Fatalf("CurrentURL failed: %v", err)
		}

		if got := slices.Index(fd.calls(), "POST /session"); got != 0 {
			t.Errorf("expected session to start first, calls %v", fd.calls())
		}
		if n := strings.Count(strings.Join(fd.calls(), "\n"), "POST /session\n"); n != 1 {
			t.Errorf("expected one session, got %d", n)
		}

		caps := fd.body("POST /session")
		for _, want := range []string{"--headless=new", "--user-data-dir=/tmp/profile"} {
			if !strings.Contains(caps, want) {
				t.Errorf("capabilities %s should contain %s", caps, want)
			}
		}

		if err := d.Close(ctx); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if !slices.Contains(fd.calls(), "DELETE /session/s-1") {
			t.Error("expected session to be deleted")
		}
		if err := d.Close(ctx); err != nil {
			t.Errorf("expected closing twice to be a no-op, got %v", err)
		}
	})

	t.Run("LoadPage", func(t *testing.T) {
		tc := []struct {
			name   string
			status int
			ok     bool
		}{
			{"found", 200, true},
			{"not found", 404, false},
			{"unknown", 0, false},
		}
		for _, c := range tc {
			t.Run(c.name, func(t *testing.T) {
				fd, ts := newFakeDriver(t)
				fd.status = c.status
				d := NewWebDriver(shared.IMDbConfig{WebDriverURL: ts.URL}, nil, nil)
				ok, status := d.LoadPage(ctx, "https://www.imdb.com/")
				if ok != c.ok || status != c.status {
					t.Errorf("LoadPage = %v, %d; want %v, %d", ok, status, c.ok, c.status)
				}
			})
		}
	})

	t.Run("Elements", func(t *testing.T) {
		fd, ts := newFakeDriver(t)
		d := NewWebDriver(shared.IMDbConfig{WebDriverURL: ts.URL}, nil, nil)

		if text, err := d.ReadField(ctx, ".score"); err != nil || text != "8" {
			t.Errorf("ReadField = %q, %v", text, err)
		}
		if value, err := d.ReadAttribute(ctx, "#text-input__0", "value"); err != nil || value != "draft" {
			t.Errorf("ReadAttribute(value) = %q, %v", value, err)
		}
		if value, err := d.ReadAttribute(ctx, "//div[@id='x']", "data-titleinlist"); err != nil || value != "" {
			t.Errorf("ReadAttribute(null) = %q, %v", value, err)
		}
		if !strings.Contains(fd.body("POST /session/s-1/element"), `"using":"xpath"`) {
			t.Errorf("expected XPath lookup, got %s", fd.body("POST /session/s-1/element"))
		}

		if err := d.Fill(ctx, "#textarea__0", "hello"); err != nil {
			t.Fatalf("Fill failed: %v", err)
		}
		if !strings.Contains(fd.body("POST /session/s-1/element/el-1/value"), `"text":"hello"`) {
			t.Error("expected text to be sent to the element")
		}

		if err := d.FindAndClick(ctx, "button.submit"); err != nil {
			t.Fatalf("FindAndClick failed: %v", err)
		}
		if !strings.Contains(fd.body("POST /session/s-1/execute/sync"), webElementKey) {
			t.Error("expected click script to reference the element")
		}

		if err := d.FindAndClick(ctx, "#missing"); !errors.Is(err, shared.ErrElementNotFound) {
			t.Errorf("expected ErrElementNotFound, got %v", err)
		}
	})

	t.Run("Unavailable", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()

		d := NewWebDriver(shared.IMDbConfig{WebDriverURL: ts.URL}, nil, nil)
		if _, err := d.CurrentURL(ctx); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
		if ok, status := d.LoadPage(ctx, "https://www.imdb.com/"); ok || status != 0 {
			t.Errorf("expected failed load, got %v %d", ok, status)
		}
	})
}
