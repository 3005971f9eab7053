package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeExchanger struct {
	codes []string
	err   error
}

func (f *fakeExchanger) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh"}, nil
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestOAuthHandler(t *testing.T) {
	t.Run("exchanges the code", func(t *testing.T) {
		ex := &fakeExchanger{}
		h := NewOAuthHandler(ex, "state-1", "")

		rec := serve(h, http.MethodGet, "/callback?state=state-1&code=abc")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Connected to Trakt")

		result := <-h.Result()
		require.NoError(t, result.Error())
		assert.Equal(t, "access-abc", result.Token.AccessToken)
		assert.Equal(t, []string{"abc"}, ex.codes)
	})

	t.Run("rejects a mismatched state", func(t *testing.T) {
		ex := &fakeExchanger{}
		h := NewOAuthHandler(ex, "state-1", "")

		rec := serve(h, http.MethodGet, "/callback?state=forged&code=abc")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		result := <-h.Result()
		assert.ErrorIs(t, result.Error(), shared.ErrAuthFailed)
		assert.Empty(t, ex.codes)
	})

	t.Run("reports a denied authorization", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{}, "s", "")

		rec := serve(h, http.MethodGet, "/callback?state=s&error=access_denied&error_description=user+denied")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		result := <-h.Result()
		require.Error(t, result.Error())
		assert.Contains(t, result.Error().Error(), "access_denied - user denied")
	})

	t.Run("exchange failure", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{err: shared.ErrAuthFailed}, "s", "")

		rec := serve(h, http.MethodGet, "/callback?state=s&code=abc")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		result := <-h.Result()
		assert.ErrorIs(t, result.Error(), shared.ErrAuthFailed)
	})

	t.Run("only the first callback is processed", func(t *testing.T) {
		ex := &fakeExchanger{}
		h := NewOAuthHandler(ex, "s", "/oauth/trakt")
		assert.Equal(t, []string{"/oauth/trakt"}, h.Routes())

		serve(h, http.MethodGet, "/oauth/trakt?state=s&code=first")
		rec := serve(h, http.MethodGet, "/oauth/trakt?state=s&code=second")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, []string{"first"}, ex.codes)

		result, ok := <-h.Result()
		require.True(t, ok)
		assert.Equal(t, "access-first", result.Token.AccessToken)
		_, ok = <-h.Result()
		assert.False(t, ok, "result channel should be closed after one result")
	})
}

func TestBasicRouter(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	router := NewBasicRouter()
	router.Use(mw("outer"), mw("inner"))
	router.Handle(http.MethodPost, "/hook", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := serve(router, http.MethodPost, "/hook")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)

	rec = serve(router, http.MethodGet, "/hook")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

	rec = serve(router, http.MethodGet, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallbackServer(t *testing.T) {
	logger := log.New(io.Discard)

	t.Run("returns the exchanged token", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{}, "s", "")
		srv := NewCallbackServer("127.0.0.1:0", h, logger)
		require.NoError(t, srv.Start())

		go func() {
			resp, err := http.Get("http://" + srv.Addr() + "/callback?state=s&code=xyz")
			if err == nil {
				resp.Body.Close()
			}
		}()

		token, err := srv.Wait(context.Background(), 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "access-xyz", token.AccessToken)
	})

	t.Run("times out", func(t *testing.T) {
		srv := NewCallbackServer("127.0.0.1:0", NewOAuthHandler(&fakeExchanger{}, "s", ""), logger)
		require.NoError(t, srv.Start())

		_, err := srv.Wait(context.Background(), 20*time.Millisecond)
		assert.ErrorIs(t, err, shared.ErrTimeout)
	})

	t.Run("cancelled", func(t *testing.T) {
		srv := NewCallbackServer("127.0.0.1:0", NewOAuthHandler(&fakeExchanger{}, "s", ""), logger)
		require.NoError(t, srv.Start())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := srv.Wait(ctx, time.Minute)
		assert.ErrorIs(t, err, shared.ErrInterrupted)
	})

	t.Run("address in use", func(t *testing.T) {
		first := NewCallbackServer("127.0.0.1:0", NewOAuthHandler(&fakeExchanger{}, "s", ""), logger)
		require.NoError(t, first.Start())
		defer first.shutdown()

		second := NewCallbackServer(first.Addr(), NewOAuthHandler(&fakeExchanger{}, "s", ""), logger)
		err := second.Start()
		assert.True(t, errors.Is(err, shared.ErrServiceUnavailable), "got %v", err)
		assert.True(t, strings.HasPrefix(second.Addr(), "127.0.0.1:"))
	})
}
