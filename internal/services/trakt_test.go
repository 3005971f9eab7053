package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/reelsync/internal/dispatch"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/shared"
	tu "github.com/desertthunder/reelsync/internal/testing"
	"github.com/desertthunder/reelsync/internal/transport"
)

// fakeTrakt serves canned list responses and records mutation bodies.
type fakeTrakt struct {
	mu       sync.Mutex
	posts    map[string][]string
	headers  []http.Header
	failures map[string]int // remaining 503 replies per path
}

func newFakeTrakt(t *testing.T) (*fakeTrakt, *httptest.Server) {
	t.Helper()
	ft := &fakeTrakt{posts: map[string][]string{}, failures: map[string]int{}}
	ts := httptest.NewServer(http.HandlerFunc(ft.serve))
	t.Cleanup(ts.Close)
	return ft, ts
}

func (ft *fakeTrakt) serve(w http.ResponseWriter, r *http.Request) {
	ft.mu.Lock()
	ft.headers = append(ft.headers, r.Header.Clone())
	if n := ft.failures[r.URL.Path]; n > 0 {
		ft.failures[r.URL.Path] = n - 1
		ft.mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	ft.mu.Unlock()

	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		ft.mu.Lock()
		ft.posts[r.URL.Path] = append(ft.posts[r.URL.Path], string(body))
		ft.mu.Unlock()

		if r.URL.Path == "/oauth/token" {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"access_token":"exchanged","refresh_token":"refresh","token_type":"bearer","expires_in":7776000}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{}`)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/sync/ratings":
		io.WriteString(w, `[
			{"rated_at":"2024-01-01T10:00:00.000Z","rating":9,"type":"movie","movie":{"title":"The Shawshank Redemption","year":1994,"ids":{"trakt":1,"imdb":"tt0111161"}}},
			{"rated_at":"2024-02-01T10:00:00.000Z","rating":8,"type":"episode","episode":{"season":1,"number":1,"title":"Pilot","ids":{"imdb":"tt0959621"}},"show":{"title":"Breaking Bad","year":2008,"ids":{"imdb":"tt0903747"}}},
			{"rated_at":"2024-03-01T10:00:00.000Z","rating":7,"type":"season","season":{"number":1},"show":{"title":"Breaking Bad","year":2008,"ids":{"imdb":"tt0903747"}}}
		]`)
	case "/sync/watchlist":
		io.WriteString(w, `[{"listed_at":"2023-05-06T00:00:00.000Z","type":"show","show":{"title":"The Sopranos","year":1999,"ids":{"imdb":"tt0141842"}}}]`)
	case "/sync/history":
		w.Header().Set("X-Pagination-Page-Count", "2")
		if r.URL.Query().Get("page") == "1" {
			io.WriteString(w, `[{"watched_at":"2024-01-02T00:00:00.000Z","type":"movie","movie":{"title":"One","ids":{"imdb":"tt0000001"}}}]`)
		} else {
			io.WriteString(w, `[{"watched_at":"2024-01-03T00:00:00.000Z","type":"movie","movie":{"title":"Two","ids":{"imdb":"tt0000002"}}}]`)
		}
	case "/users/settings":
		io.WriteString(w, `{"user":{"username":"Jane Doe","ids":{"slug":"jane-doe"}}}`)
	case "/users/jane-doe/comments/all/all":
		io.WriteString(w, `[{"type":"movie","comment":{"id":1,"comment":"A long review","spoiler":true,"created_at":"2024-04-01T00:00:00.000Z"},"movie":{"title":"The Godfather","year":1972,"ids":{"imdb":"tt0068646"}}}]`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (ft *fakeTrakt) bodies(path string) []string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]string(nil), ft.posts[path]...)
}

func newTestTrakt(t *testing.T, baseURL string, creds map[string]string) *TraktService {
	t.Helper()
	if creds == nil {
		creds = map[string]string{}
	}
	creds["client_id"] = "test_client_id"
	creds["client_secret"] = "test_client_secret"

	clock := tu.NewFakeClock(time.Now())
	srv, err := NewTraktService(creds,
		WithTraktBaseURL(baseURL),
		WithTraktTransport(transport.DefaultPolicy(3, time.Second), transport.WithClock(clock)),
	)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return srv
}

func authenticated(t *testing.T, baseURL string) *TraktService {
	t.Helper()
	srv := newTestTrakt(t, baseURL, nil)
	if err := srv.Authenticate(context.Background(), map[string]string{"access_token": "tok"}); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	return srv
}

func TestTraktService(t *testing.T) {
	t.Run("NewTraktService", func(t *testing.T) {
		t.Run("With Valid Credentials", func(t *testing.T) {
			srv, err := NewTraktService(map[string]string{"client_id": "id", "client_secret": "secret"})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if srv.Name() != "Trakt" || srv.ID() != models.Primary {
				t.Errorf("unexpected identity %s/%s", srv.Name(), srv.ID())
			}
			if srv.config.RedirectURL != "http://127.0.0.1:3000/callback" {
				t.Errorf("expected default redirect URI, got %s", srv.config.RedirectURL)
			}
		})

		t.Run("Missing Credentials", func(t *testing.T) {
			for _, creds := range []map[string]string{
				{"client_secret": "secret"},
				{"client_id": "id"},
			} {
				if _, err := NewTraktService(creds); !errors.Is(err, shared.ErrMissingCredentials) {
					t.Errorf("expected ErrMissingCredentials for %v, got %v", creds, err)
				}
			}
		})
	})

	t.Run("AuthURL", func(t *testing.T) {
		srv, _ := NewTraktService(map[string]string{"client_id": "test_client_id", "client_secret": "s"})
		authURL := srv.AuthURL("test_state")
		for _, want := range []string{"trakt.tv/oauth/authorize", "test_client_id", "test_state"} {
			if !strings.Contains(authURL, want) {
				t.Errorf("auth URL %q should contain %q", authURL, want)
			}
		}
	})

	t.Run("Authenticate", func(t *testing.T) {
		ft, ts := newFakeTrakt(t)

		t.Run("WithAuthCode", func(t *testing.T) {
			srv := newTestTrakt(t, ts.URL, nil)
			if err := srv.Authenticate(context.Background(), map[string]string{"auth_code": "code"}); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			token, err := srv.Token()
			if err != nil || token.AccessToken != "exchanged" || token.RefreshToken != "refresh" {
				t.Errorf("unexpected token %+v, %v", token, err)
			}
			if body := ft.bodies("/oauth/token"); len(body) != 1 || !strings.Contains(body[0], "client_secret=test_client_secret") {
				t.Errorf("expected client credentials in token request body, got %v", body)
			}
		})

		t.Run("expired stored token is refreshed", func(t *testing.T) {
			before := len(ft.bodies("/oauth/token"))
			creds := shared.TraktConfig{
				AccessToken:  "stale",
				RefreshToken: "stored-refresh",
				Expiry:       time.Now().Add(-48 * time.Hour),
			}.Map()

			srv := newTestTrakt(t, ts.URL, nil)
			if err := srv.Authenticate(context.Background(), creds); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			token, err := srv.Token()
			if err != nil || token.AccessToken != "exchanged" {
				t.Fatalf("expected a refreshed token, got %+v, %v", token, err)
			}

			bodies := ft.bodies("/oauth/token")
			if len(bodies) != before+1 {
				t.Fatalf("expected one refresh request, got %d", len(bodies)-before)
			}
			last := bodies[len(bodies)-1]
			if !strings.Contains(last, "grant_type=refresh_token") || !strings.Contains(last, "refresh_token=stored-refresh") {
				t.Errorf("unexpected refresh body %q", last)
			}
		})

		t.Run("bad expiry", func(t *testing.T) {
			srv := newTestTrakt(t, ts.URL, nil)
			err := srv.Authenticate(context.Background(), map[string]string{"access_token": "tok", "expiry": "soon"})
			if !errors.Is(err, shared.ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials, got %v", err)
			}
		})

		t.Run("WithoutCredentials", func(t *testing.T) {
			srv := newTestTrakt(t, ts.URL, nil)
			if err := srv.Authenticate(context.Background(), map[string]string{}); !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
			if _, err := srv.Token(); !errors.Is(err, shared.ErrNotAuthenticated) {
				t.Errorf("expected ErrNotAuthenticated, got %v", err)
			}
			if _, err := srv.Snapshot(context.Background(), models.Ratings); !errors.Is(err, shared.ErrNotAuthenticated) {
				t.Errorf("expected ErrNotAuthenticated from Snapshot, got %v", err)
			}
		})
	})

	t.Run("Snapshot", func(t *testing.T) {
		ft, ts := newFakeTrakt(t)
		srv := authenticated(t, ts.URL)
		ctx := context.Background()

		t.Run("ratings", func(t *testing.T) {
			snap, err := srv.Snapshot(ctx, models.Ratings)
			if err != nil {
				t.Fatalf("Snapshot failed: %v", err)
			}
			records := snap.Records()
			if len(records) != 2 {
				t.Fatalf("expected seasons to be skipped, got %d records", len(records))
			}
			if records[0].Value.Rating != 9 || records[0].AddedAt.Day() != 1 {
				t.Errorf("unexpected movie record %+v", records[0])
			}
			ep := records[1]
			if ep.Kind != models.KindEpisode || ep.Title != "Breaking Bad" || ep.SeasonNumber != 1 || ep.EpisodeNumber != 1 || ep.ExternalID != "tt0959621" {
				t.Errorf("unexpected episode record %+v", ep)
			}

			ft.mu.Lock()
			h := ft.headers[len(ft.headers)-1]
			ft.mu.Unlock()
			if h.Get("trakt-api-version") != "2" || h.Get("trakt-api-key") != "test_client_id" || h.Get("Authorization") != "Bearer tok" {
				t.Errorf("missing API headers: %v", h)
			}
		})

		t.Run("watchlist", func(t *testing.T) {
			snap, err := srv.Snapshot(ctx, models.Watchlist)
			if err != nil {
				t.Fatalf("Snapshot failed: %v", err)
			}
			r := snap.Records()[0]
			if r.Kind != models.KindShow || r.AddedAt.Year() != 2023 {
				t.Errorf("unexpected watchlist record %+v", r)
			}
		})

		t.Run("history is paginated", func(t *testing.T) {
			snap, err := srv.Snapshot(ctx, models.History)
			if err != nil {
				t.Fatalf("Snapshot failed: %v", err)
			}
			if snap.Len() != 2 {
				t.Fatalf("expected 2 records across pages, got %d", snap.Len())
			}
			if snap.Records()[1].Value.WatchedAt.Day() != 3 {
				t.Error("expected watched_at to be carried as the value")
			}
		})

		t.Run("reviews look up the username", func(t *testing.T) {
			snap, err := srv.Snapshot(ctx, models.Reviews)
			if err != nil {
				t.Fatalf("Snapshot failed: %v", err)
			}
			r := snap.Records()[0]
			if r.Value.Review.Text != "A long review" || !r.Value.Review.Spoiler {
				t.Errorf("unexpected review %+v", r.Value.Review)
			}
			if name, _ := srv.Username(ctx); name != "jane-doe" {
				t.Errorf("expected slug to be cached as username, got %q", name)
			}
		})
	})

	t.Run("Mutation", func(t *testing.T) {
		ft, ts := newFakeTrakt(t)
		srv := authenticated(t, ts.URL)
		d := dispatch.New(dispatch.Options{Clock: tu.NewFakeClock(time.Now())})
		ctx := context.Background()

		t.Run("ratings are posted in one partitioned batch", func(t *testing.T) {
			m, err := srv.Mutation(models.Ratings, dispatch.Set)
			if err != nil || !m.Batched() {
				t.Fatalf("expected bulk ratings mutation, got %v", err)
			}

			records := []models.Record{
				tu.Rated(t, "tt0111161", 9, "2024-01-01"),
				tu.Rated(t, "tt0068646", 10, "2024-01-02"),
				{ExternalID: "tt0959621", Kind: models.KindEpisode, Value: models.Value{Rating: 8}},
			}
			report, err := m.Run(ctx, d, dispatch.Job{Service: models.Primary, Category: models.Ratings, Action: dispatch.Set, Records: records})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if report.Succeeded != 3 || report.Batches != 1 {
				t.Errorf("unexpected report %+v", report)
			}

			var payload map[string][]map[string]any
			if err := json.Unmarshal([]byte(ft.bodies("/sync/ratings")[0]), &payload); err != nil {
				t.Fatalf("invalid payload: %v", err)
			}
			if len(payload["movies"]) != 2 || len(payload["episodes"]) != 1 {
				t.Errorf("unexpected partition %v", payload)
			}
			first := payload["movies"][0]
			if first["rating"] != float64(9) || first["rated_at"] != "2024-01-01T00:00:00.000Z" {
				t.Errorf("unexpected entry %v", first)
			}
		})

		t.Run("history drops shows", func(t *testing.T) {
			m, _ := srv.Mutation(models.History, dispatch.Set)
			records := []models.Record{
				{ExternalID: "tt1", Kind: models.KindMovie, Value: models.Value{WatchedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}},
				{ExternalID: "tt2", Kind: models.KindShow},
			}
			if _, err := m.Run(ctx, d, dispatch.Job{Category: models.History, Action: dispatch.Set, Records: records}); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			body := ft.bodies("/sync/history")[0]
			if strings.Contains(body, "shows") || !strings.Contains(body, `"watched_at":"2024-01-01T00:00:00.000Z"`) {
				t.Errorf("unexpected history payload %s", body)
			}
		})

		t.Run("watchlist removal retries", func(t *testing.T) {
			ft.mu.Lock()
			ft.failures["/sync/watchlist/remove"] = 1
			ft.mu.Unlock()

			m, _ := srv.Mutation(models.Watchlist, dispatch.Remove)
			batch := dispatch.NewBatch(nil)
			batch.Add(tu.Movie(t, "tt0111161", "2024-01-01"))

			res := m.Sink(ctx, batch)
			if !res.OK() || res.Attempts != 2 {
				t.Errorf("expected success on the second attempt, got status %d after %d", res.StatusCode, res.Attempts)
			}
		})

		t.Run("reviews are posted as comments", func(t *testing.T) {
			m, _ := srv.Mutation(models.Reviews, dispatch.Set)
			if m.Batched() {
				t.Fatal("reviews should be applied one at a time")
			}
			r := models.Record{ExternalID: "tt0068646", Kind: models.KindMovie, Value: models.Value{Review: models.Review{Text: "An offer", Spoiler: true}}}
			if err := m.Apply(ctx, r); err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			body := ft.bodies("/comments")[0]
			if !strings.Contains(body, `"movie":{"ids":{"imdb":"tt0068646"}}`) || !strings.Contains(body, `"spoiler":true`) {
				t.Errorf("unexpected comment body %s", body)
			}
		})

		t.Run("unsupported", func(t *testing.T) {
			if _, err := srv.Mutation(models.Ratings, dispatch.Remove); !errors.Is(err, shared.ErrNotImplemented) {
				t.Errorf("expected ErrNotImplemented, got %v", err)
			}
		})
	})
}
