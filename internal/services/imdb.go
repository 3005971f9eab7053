// IMDb implementation of [Service]
//
// Snapshots come from the CSV list exports; mutations drive the title pages through a [BrowserAgent].
package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/reelsync/internal/dispatch"
	"github.com/desertthunder/reelsync/internal/formatter"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/desertthunder/reelsync/internal/transport"
)

const (
	imdbBaseURL       = "https://www.imdb.com"
	imdbContributeURL = "https://contribute.imdb.com"

	reviewTitleInput = "#text-input__0"
	reviewBodyInput  = "#textarea__0"
	reviewSpoilerYes = "#is_spoiler-0"
	reviewSpoilerNo  = "#is_spoiler-1"
	reviewSubmit     = "button[aria-label='Submit']"
	reviewHeadline   = "My Review"
	pageLoadAttempts = 5
)

// IMDbService implements [Service] for IMDb.
type IMDbService struct {
	exports       shared.IMDbConfig
	agent         BrowserAgent
	policy        transport.Policy
	clock         shared.Clock
	baseURL       string
	contributeURL string
	logger        *log.Logger
}

// IMDbOption configures an [IMDbService].
type IMDbOption func(*IMDbService)

// WithIMDbURLs points title and review pages at other hosts. Used by tests.
func WithIMDbURLs(base, contribute string) IMDbOption {
	return func(s *IMDbService) {
		s.baseURL = strings.TrimRight(base, "/")
		s.contributeURL = strings.TrimRight(contribute, "/")
	}
}

// WithPageLoadPolicy sets the retry policy for page loads.
func WithPageLoadPolicy(p transport.Policy) IMDbOption { return func(s *IMDbService) { s.policy = p } }

func WithIMDbClock(c shared.Clock) IMDbOption { return func(s *IMDbService) { s.clock = c } }
func WithIMDbLogger(l *log.Logger) IMDbOption { return func(s *IMDbService) { s.logger = l } }

// NewIMDbService creates the secondary service. agent may be nil when only snapshots are needed.
func NewIMDbService(exports shared.IMDbConfig, agent BrowserAgent, opts ...IMDbOption) *IMDbService {
	s := &IMDbService{
		exports:       exports,
		agent:         agent,
		policy:        transport.DefaultPolicy(pageLoadAttempts, time.Second),
		clock:         shared.RealClock{},
		baseURL:       imdbBaseURL,
		contributeURL: imdbContributeURL,
		logger:        log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *IMDbService) ID() models.Service { return models.Secondary }
func (s *IMDbService) Name() string       { return "IMDb" }

// Snapshot reads the category's CSV export.
func (s *IMDbService) Snapshot(ctx context.Context, cat models.Category) (models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.Snapshot{}, err
	}
	records, skipped, err := formatter.ReadIMDbExportFile(s.exports.ExportPath(cat), cat)
	if err != nil {
		return models.Snapshot{}, err
	}
	for _, row := range skipped {
		s.logger.Warn("skipped export row", "category", cat, "line", row.Line, "id", row.ID, "error", row.Err)
	}
	s.logger.Debug("read export", "category", cat, "records", len(records))
	return models.NewSnapshot(models.Secondary, cat, records), nil
}

// Mutation returns single-item mutations; IMDb has no bulk API.
func (s *IMDbService) Mutation(cat models.Category, action dispatch.Action) (Mutation, error) {
	var apply dispatch.Apply
	switch {
	case cat == models.Ratings && action == dispatch.Set:
		apply = s.onTitle(func(ctx context.Context, l PageLayout, r models.Record) error {
			if r.Value.Rating < 1 || r.Value.Rating > 10 {
				return fmt.Errorf("%w: rating %d out of range", shared.ErrInvalidInput, r.Value.Rating)
			}
			return l.Rate(ctx, s.agent, r.Value.Rating)
		})
	case cat == models.Watchlist && action == dispatch.Set:
		apply = s.onTitle(func(ctx context.Context, l PageLayout, _ models.Record) error {
			return l.AddToWatchlist(ctx, s.agent)
		})
	case cat == models.Watchlist && action == dispatch.Remove:
		apply = s.onTitle(func(ctx context.Context, l PageLayout, _ models.Record) error {
			return l.RemoveFromWatchlist(ctx, s.agent)
		})
	case cat == models.History && action == dispatch.Set:
		apply = s.onTitle(func(ctx context.Context, l PageLayout, _ models.Record) error {
			return l.AddToHistory(ctx, s.agent)
		})
	case cat == models.Reviews && action == dispatch.Set:
		apply = s.submitReview
	default:
		return Mutation{}, unsupported(s, cat, action)
	}

	if s.agent == nil {
		return Mutation{}, fmt.Errorf("%w: no browser agent configured for %s", shared.ErrMissingConfig, s.Name())
	}
	return Mutation{Apply: apply}, nil
}

// Close ends the browser session.
func (s *IMDbService) Close(ctx context.Context) error {
	if s.agent == nil {
		return nil
	}
	return s.agent.Close(ctx)
}

func (s *IMDbService) titleURL(id string) string {
	return s.baseURL + "/title/" + url.PathEscape(id) + "/"
}

func (s *IMDbService) reviewURL(id string) string {
	return s.contributeURL + "/review/" + url.PathEscape(id) + "/add?bus=imdb"
}

// onTitle loads the record's title page and hands the matching layout to fn.
func (s *IMDbService) onTitle(fn func(ctx context.Context, l PageLayout, r models.Record) error) dispatch.Apply {
	return func(ctx context.Context, r models.Record) error {
		if err := s.loadPage(ctx, s.titleURL(r.ExternalID)); err != nil {
			return err
		}
		current, err := s.agent.CurrentURL(ctx)
		if err != nil {
			return err
		}
		layout := LayoutFor(current)
		s.logger.Debug("title page loaded", "id", r.ExternalID, "layout", layout.Name())
		return fn(ctx, layout, r)
	}
}

// loadPage retries transient load failures (no status, 408, 425, 429, 5xx) under the page-load policy.
func (s *IMDbService) loadPage(ctx context.Context, pageURL string) error {
	var loaded bool
	attempt := func(ctx context.Context, n int) transport.Outcome {
		ok, status := s.agent.LoadPage(ctx, pageURL)
		loaded = ok
		switch {
		case ok:
			return transport.Outcome{Status: http.StatusOK}
		case status == 0:
			return transport.Outcome{Err: fmt.Errorf("%w: status unavailable", shared.ErrPageLoad)}
		default:
			return transport.Outcome{Status: status}
		}
	}
	onRetry := func(n int, o transport.Outcome, wait time.Duration) {
		s.logger.Warn("page load failed, retrying", "url", pageURL, "attempt", n, "status", o.Status, "wait", wait)
	}

	last, attempts := s.policy.Run(ctx, s.clock, attempt, onRetry)
	switch {
	case loaded:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case last.Err != nil:
		return fmt.Errorf("%w: %s after %d attempts: %v", shared.ErrPageLoad, pageURL, attempts, last.Err)
	default:
		return fmt.Errorf("%w: %s: status %d (%s)", shared.ErrPageLoad, pageURL, last.Status, transport.StatusMessage(last.Status))
	}
}

// submitReview fills the contribution form unless a draft or earlier review is already there.
func (s *IMDbService) submitReview(ctx context.Context, r models.Record) error {
	text := strings.TrimSpace(r.Value.Review.Text)
	if text == "" {
		return fmt.Errorf("%w: empty review", shared.ErrInvalidInput)
	}
	if err := s.loadPage(ctx, s.reviewURL(r.ExternalID)); err != nil {
		return err
	}

	for _, field := range []string{reviewTitleInput, reviewBodyInput} {
		existing, err := s.agent.ReadAttribute(ctx, field, "value")
		if err != nil {
			return err
		}
		if strings.TrimSpace(existing) != "" {
			return fmt.Errorf("%w: a review already exists", shared.ErrAlreadyPresent)
		}
	}

	if err := s.agent.Fill(ctx, reviewTitleInput, reviewHeadline); err != nil {
		return err
	}
	if err := s.agent.Fill(ctx, reviewBodyInput, text); err != nil {
		return err
	}

	spoiler := reviewSpoilerNo
	if r.Value.Review.Spoiler {
		spoiler = reviewSpoilerYes
	}
	if err := s.agent.FindAndClick(ctx, spoiler); err != nil {
		return err
	}
	return s.agent.FindAndClick(ctx, reviewSubmit)
}
