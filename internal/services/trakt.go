// Trakt API implementation of [Service]
//
// Trakt API types based on https://trakt.docs.apiary.io/
package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/reelsync/internal/dispatch"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/desertthunder/reelsync/internal/transport"
	"golang.org/x/oauth2"
)

const (
	traktAuthURL    = "https://trakt.tv/oauth/authorize"
	traktBaseURL    = "https://api.trakt.tv"
	traktAPIVersion = "2"
	traktPageSize   = 1000
	traktTimeFormat = "2006-01-02T15:04:05.000Z"
)

// TraktIDs holds the identifiers Trakt attaches to media objects.
type TraktIDs struct {
	Trakt int    `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDb  string `json:"imdb,omitempty"`
	TMDb  int    `json:"tmdb,omitempty"`
}

// TraktMedia is a movie, show or episode object.
type TraktMedia struct {
	Title  string   `json:"title"`
	Year   int      `json:"year,omitempty"`
	Season int      `json:"season,omitempty"`
	Number int      `json:"number,omitempty"`
	IDs    TraktIDs `json:"ids"`
}

// TraktComment is the comment body returned by the comments endpoints.
type TraktComment struct {
	ID        int       `json:"id"`
	Comment   string    `json:"comment"`
	Spoiler   bool      `json:"spoiler"`
	Review    bool      `json:"review"`
	CreatedAt time.Time `json:"created_at"`
}

// TraktItem is one entry of the ratings, watchlist, history or comments lists.
type TraktItem struct {
	Type      string        `json:"type"`
	Rating    int           `json:"rating,omitempty"`
	RatedAt   time.Time     `json:"rated_at,omitzero"`
	ListedAt  time.Time     `json:"listed_at,omitzero"`
	WatchedAt time.Time     `json:"watched_at,omitzero"`
	Comment   *TraktComment `json:"comment,omitempty"`
	Movie     *TraktMedia   `json:"movie,omitempty"`
	Show      *TraktMedia   `json:"show,omitempty"`
	Episode   *TraktMedia   `json:"episode,omitempty"`
}

// TraktSettings is the subset of /users/settings used to find the username.
type TraktSettings struct {
	User struct {
		Username string   `json:"username"`
		IDs      TraktIDs `json:"ids"`
	} `json:"user"`
}

// Record converts the item into a record of cat. Seasons and lists are not media items and report false.
func (i TraktItem) Record(cat models.Category) (models.Record, bool) {
	var (
		media *TraktMedia
		r     models.Record
	)
	switch i.Type {
	case "movie":
		media, r.Kind = i.Movie, models.KindMovie
	case "show":
		media, r.Kind = i.Show, models.KindShow
	case "episode":
		media, r.Kind = i.Episode, models.KindEpisode
	default:
		return r, false
	}
	if media == nil {
		return r, false
	}

	r.ExternalID = media.IDs.IMDb
	r.Title, r.Year = media.Title, media.Year
	if r.Kind == models.KindEpisode {
		r.SeasonNumber, r.EpisodeNumber = media.Season, media.Number
		if i.Show != nil {
			r.Title, r.Year = i.Show.Title, i.Show.Year
		}
	}

	switch cat {
	case models.Ratings:
		r.Value.Rating, r.AddedAt = i.Rating, i.RatedAt
	case models.Watchlist:
		r.AddedAt = i.ListedAt
	case models.History:
		r.AddedAt, r.Value.WatchedAt = i.WatchedAt, i.WatchedAt
	case models.Reviews:
		if i.Comment == nil {
			return r, false
		}
		r.Value.Review = models.Review{Text: i.Comment.Comment, Spoiler: i.Comment.Spoiler}
		r.AddedAt = i.Comment.CreatedAt
	}
	return r, true
}

// traktEntry is one element of a bulk sync payload.
type traktEntry struct {
	IDs       TraktIDs `json:"ids"`
	Rating    int      `json:"rating,omitempty"`
	RatedAt   string   `json:"rated_at,omitempty"`
	WatchedAt string   `json:"watched_at,omitempty"`
}

// TraktService implements [OAuthService] for Trakt.
// Uses [oauth2] for authentication and [transport.Client] for retries.
type TraktService struct {
	config        *oauth2.Config
	source        oauth2.TokenSource
	client        *transport.Client
	policy        transport.Policy
	transportOpts []transport.Option
	baseURL       string
	username      string
	logger        *log.Logger
}

// TraktOption configures a [TraktService].
type TraktOption func(*TraktService)

// WithTraktBaseURL points API and token requests at another host. Used by tests.
func WithTraktBaseURL(u string) TraktOption {
	return func(s *TraktService) {
		s.baseURL = strings.TrimRight(u, "/")
		s.config.Endpoint.TokenURL = s.baseURL + "/oauth/token"
	}
}

// WithTraktTransport sets the retry policy and client options used for API calls.
func WithTraktTransport(p transport.Policy, opts ...transport.Option) TraktOption {
	return func(s *TraktService) {
		s.policy = p
		s.transportOpts = opts
	}
}

func WithTraktLogger(l *log.Logger) TraktOption { return func(s *TraktService) { s.logger = l } }

// NewTraktService creates a new Trakt service with the given OAuth2 credentials.
func NewTraktService(credentials map[string]string, opts ...TraktOption) (*TraktService, error) {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI, ok := credentials["redirect_uri"]
	if !ok || redirectURI == "" {
		redirectURI = "http://127.0.0.1:3000/callback"
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   traktAuthURL,
			TokenURL:  traktBaseURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	s := &TraktService{
		config:   config,
		policy:   transport.DefaultPolicy(5, time.Second),
		baseURL:  traktBaseURL,
		username: credentials["username"],
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *TraktService) ID() models.Service { return models.Primary }
func (s *TraktService) Name() string       { return "Trakt" }

// Authenticate performs OAuth2 authentication with Trakt. Expects either an "access_token" or "auth_code" in credentials.
// A stored token with a past "expiry" is refreshed on first use.
func (s *TraktService) Authenticate(ctx context.Context, credentials map[string]string) error {
	if accessToken, ok := credentials["access_token"]; ok && accessToken != "" {
		token := &oauth2.Token{
			AccessToken:  accessToken,
			RefreshToken: credentials["refresh_token"],
			TokenType:    "Bearer",
		}
		if raw := credentials["expiry"]; raw != "" {
			expiry, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return fmt.Errorf("%w: bad expiry %q", shared.ErrInvalidCredentials, raw)
			}
			token.Expiry = expiry
		}
		s.UseToken(ctx, token)
		return nil
	}

	if authCode, ok := credentials["auth_code"]; ok && authCode != "" {
		token, err := s.Exchange(ctx, authCode)
		if err != nil {
			return err
		}
		s.UseToken(ctx, token)
		return nil
	}

	return fmt.Errorf("%w: missing access_token or auth_code", shared.ErrMissingCredentials)
}

// UseToken installs token; expired tokens are refreshed on demand with the refresh token.
func (s *TraktService) UseToken(ctx context.Context, token *oauth2.Token) {
	s.source = s.config.TokenSource(ctx, token)
	opts := append(slices.Clone(s.transportOpts), transport.WithHTTPClient(oauth2.NewClient(ctx, s.source)))
	s.client = transport.New(s.policy, opts...)
}

// AuthURL returns the OAuth2 authorization URL for user login.
func (s *TraktService) AuthURL(state string) string {
	return s.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token.
func (s *TraktService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrAuthFailed, err)
	}
	return token, nil
}

// Token returns the current token so a refreshed one can be persisted.
func (s *TraktService) Token() (*oauth2.Token, error) {
	if s.source == nil {
		return nil, shared.ErrNotAuthenticated
	}
	return s.source.Token()
}

func (s *TraktService) header() http.Header {
	h := http.Header{}
	h.Set("trakt-api-version", traktAPIVersion)
	h.Set("trakt-api-key", s.config.ClientID)
	return h
}

func (s *TraktService) get(ctx context.Context, path string, v any) (*transport.Result, error) {
	if s.client == nil {
		return nil, fmt.Errorf("%w: call Authenticate first", shared.ErrNotAuthenticated)
	}
	res := s.client.Get(ctx, s.baseURL+path, s.header())
	return res, res.Decode(v)
}

// pages walks a paginated list until X-Pagination-Page-Count is reached.
func (s *TraktService) pages(ctx context.Context, path string, fn func([]TraktItem)) error {
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(traktPageSize))

		var items []TraktItem
		res, err := s.get(ctx, path+"?"+q.Encode(), &items)
		if err != nil {
			return err
		}
		fn(items)

		count, err := strconv.Atoi(res.Header.Get("X-Pagination-Page-Count"))
		if err != nil || page >= count {
			return nil
		}
	}
}

// Username returns the configured username, asking the API when none is set.
func (s *TraktService) Username(ctx context.Context) (string, error) {
	if s.username != "" {
		return s.username, nil
	}

	var settings TraktSettings
	if _, err := s.get(ctx, "/users/settings", &settings); err != nil {
		return "", err
	}
	s.username = settings.User.IDs.Slug
	if s.username == "" {
		s.username = settings.User.Username
	}
	if s.username == "" {
		return "", fmt.Errorf("%w: could not determine trakt username", shared.ErrAPIRequest)
	}
	return s.username, nil
}

// Snapshot fetches one category. History and comments are paginated.
func (s *TraktService) Snapshot(ctx context.Context, cat models.Category) (models.Snapshot, error) {
	var items []TraktItem
	collect := func(page []TraktItem) { items = append(items, page...) }

	var err error
	switch cat {
	case models.Ratings:
		_, err = s.get(ctx, "/sync/ratings", &items)
	case models.Watchlist:
		_, err = s.get(ctx, "/sync/watchlist", &items)
	case models.History:
		err = s.pages(ctx, "/sync/history", collect)
	case models.Reviews:
		var username string
		if username, err = s.Username(ctx); err == nil {
			err = s.pages(ctx, "/users/"+url.PathEscape(username)+"/comments/all/all", collect)
		}
	default:
		err = fmt.Errorf("%w: unknown category %q", shared.ErrInvalidArgument, cat)
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to fetch trakt %s: %w", cat.Label(), err)
	}

	records := make([]models.Record, 0, len(items))
	for _, item := range items {
		if r, ok := item.Record(cat); ok {
			records = append(records, r)
		}
	}
	s.logger.Debug("fetched snapshot", "category", cat, "items", len(items), "records", len(records))
	return models.NewSnapshot(models.Primary, cat, records), nil
}

// Mutation returns bulk sinks for ratings, watchlist and history, and a
// per-item comment poster for reviews.
func (s *TraktService) Mutation(cat models.Category, action dispatch.Action) (Mutation, error) {
	switch {
	case cat == models.Ratings && action == dispatch.Set:
		return Mutation{Sink: s.sink(cat, "/sync/ratings")}, nil
	case cat == models.Watchlist && action == dispatch.Set:
		return Mutation{Sink: s.sink(cat, "/sync/watchlist")}, nil
	case cat == models.Watchlist && action == dispatch.Remove:
		return Mutation{Sink: s.sink(cat, "/sync/watchlist/remove")}, nil
	case cat == models.History && action == dispatch.Set:
		return Mutation{Sink: s.sink(cat, "/sync/history")}, nil
	case cat == models.Reviews && action == dispatch.Set:
		return Mutation{Apply: s.postComment}, nil
	default:
		return Mutation{}, unsupported(s, cat, action)
	}
}

// Close is a no-op; Trakt holds no session.
func (s *TraktService) Close(ctx context.Context) error { return nil }

// sink posts a batch as {"movies": [...], "shows": [...], "episodes": [...]}.
// Shows never go to history: marking a show watched marks every episode.
func (s *TraktService) sink(cat models.Category, path string) dispatch.Sink {
	return func(ctx context.Context, b *dispatch.Batch) *transport.Result {
		if s.client == nil {
			return &transport.Result{Err: shared.ErrNotAuthenticated}
		}

		payload := make(map[string][]traktEntry)
		for bucket, records := range b.Groups() {
			if cat == models.History && bucket == models.KindShow.Plural() {
				continue
			}
			for _, r := range records {
				payload[bucket] = append(payload[bucket], entryFor(cat, r))
			}
		}
		return s.client.PostJSON(ctx, s.baseURL+path, s.header(), payload)
	}
}

func entryFor(cat models.Category, r models.Record) traktEntry {
	e := traktEntry{IDs: TraktIDs{IMDb: r.ExternalID}}
	switch cat {
	case models.Ratings:
		e.Rating = r.Value.Rating
		e.RatedAt = formatTraktTime(r.AddedAt)
	case models.History:
		watched := r.Value.WatchedAt
		if watched.IsZero() {
			watched = r.AddedAt
		}
		e.WatchedAt = formatTraktTime(watched)
	}
	return e
}

func formatTraktTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(traktTimeFormat)
}

// postComment publishes a review as a Trakt comment.
func (s *TraktService) postComment(ctx context.Context, r models.Record) error {
	if s.client == nil {
		return shared.ErrNotAuthenticated
	}
	body := map[string]any{
		"comment":      r.Value.Review.Text,
		"spoiler":      r.Value.Review.Spoiler,
		string(r.Kind): map[string]any{"ids": TraktIDs{IMDb: r.ExternalID}},
	}
	return s.client.PostJSON(ctx, s.baseURL+"/comments", s.header(), body).Failure()
}
