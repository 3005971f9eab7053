package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/reelsync/internal/models"
	tu "github.com/desertthunder/reelsync/internal/testing"
	"github.com/desertthunder/reelsync/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type titleServer struct {
	*httptest.Server
	heads atomic.Int32
	gets  atomic.Int32
}

// newTitleServer serves:
//
//	tt0000001 -> redirects to tt0000002
//	tt0000002 -> canonical
//	tt0000003 -> HEAD not allowed, GET works
//	anything else -> 404
func newTitleServer(t *testing.T) *titleServer {
	t.Helper()
	ts := &titleServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			ts.heads.Add(1)
		} else {
			ts.gets.Add(1)
		}
		switch r.URL.Path {
		case "/title/tt0000001/":
			http.Redirect(w, r, "/title/tt0000002/", http.StatusMovedPermanently)
		case "/title/tt0000002/":
			w.WriteHeader(http.StatusOK)
		case "/title/tt0000003/":
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newResolver(ts *titleServer) *Resolver {
	client := transport.New(transport.DefaultPolicy(1, time.Millisecond), transport.WithClock(tu.NewFakeClock(time.Now())))
	return New(client, WithBaseURL(ts.URL), WithWorkers(2))
}

func TestResolveOne(t *testing.T) {
	t.Run("follows redirect to canonical id", func(t *testing.T) {
		ts := newTitleServer(t)
		r := newResolver(ts)

		assert.Equal(t, "tt0000002", r.ResolveOne(context.Background(), "tt0000001"))
		assert.Equal(t, Stats{Resolved: 1}, r.Stats())
	})

	t.Run("second lookup is a cache hit", func(t *testing.T) {
		ts := newTitleServer(t)
		r := newResolver(ts)

		first := r.ResolveOne(context.Background(), "tt0000001")
		second := r.ResolveOne(context.Background(), "tt0000001")

		assert.Equal(t, first, second)
		assert.Equal(t, 1, r.Stats().CacheHits)
		assert.Equal(t, int32(2), ts.heads.Load(), "one lookup: the request and its redirect hop")
	})

	t.Run("falls back to a page fetch", func(t *testing.T) {
		ts := newTitleServer(t)
		r := newResolver(ts)

		assert.Equal(t, "tt0000003", r.ResolveOne(context.Background(), "tt0000003"))
		assert.Equal(t, int32(1), ts.gets.Load())
		assert.Equal(t, 1, r.Stats().Resolved)
	})

	t.Run("failure maps id to itself", func(t *testing.T) {
		ts := newTitleServer(t)
		r := newResolver(ts)

		assert.Equal(t, "tt9999999", r.ResolveOne(context.Background(), "tt9999999"))
		assert.Equal(t, Stats{Errors: 1}, r.Stats())

		assert.Equal(t, "tt9999999", r.ResolveOne(context.Background(), "tt9999999"))
		assert.Equal(t, 1, r.Stats().Errors, "failures are cached too")
		assert.Equal(t, int32(1), ts.gets.Load())
	})

	t.Run("empty id is passed through", func(t *testing.T) {
		ts := newTitleServer(t)
		r := newResolver(ts)
		assert.Equal(t, "", r.ResolveOne(context.Background(), ""))
		assert.Equal(t, Stats{}, r.Stats())
	})
}

func TestResolve(t *testing.T) {
	ts := newTitleServer(t)
	r := newResolver(ts)

	got, err := r.Resolve(context.Background(), []string{"tt0000001", "tt0000002", "tt0000001", "", "tt0000003"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"tt0000001": "tt0000002",
		"tt0000002": "tt0000002",
		"tt0000003": "tt0000003",
	}, got)
	assert.Equal(t, 3, r.Stats().Resolved)

	mapped, ok := r.Lookup("tt0000001")
	assert.True(t, ok)
	assert.Equal(t, "tt0000002", mapped)
}

func TestResolveCancelled(t *testing.T) {
	ts := newTitleServer(t)
	r := newResolver(ts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, []string{"tt0000001"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApply(t *testing.T) {
	ts := newTitleServer(t)
	r := newResolver(ts)

	snap := models.NewSnapshot(models.Secondary, models.Ratings, []models.Record{
		{ExternalID: "tt0000001", Kind: models.KindMovie, Value: models.Value{Rating: 8}},
		{ExternalID: "tt0000002", Kind: models.KindMovie},
		{ExternalID: "", Title: "unknown"},
	})

	out, changed, err := r.Apply(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	recs := out.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "tt0000002", recs[0].ExternalID)
	assert.Equal(t, 8, recs[0].Value.Rating)
	assert.Equal(t, "tt0000001", snap.Records()[0].ExternalID, "input snapshot is untouched")
}

func TestCanonicalID(t *testing.T) {
	tc := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"https://www.imdb.com/title/tt0111161/", "tt0111161", true},
		{"https://www.imdb.com/title/tt0111161/reference", "tt0111161", true},
		{"https://www.imdb.com/title/tt0111161", "tt0111161", true},
		{"https://www.imdb.com/name/nm0000151/", "", false},
		{"https://www.imdb.com/title/", "", false},
	}
	for _, tt := range tc {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)
			got, ok := CanonicalID(u)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
