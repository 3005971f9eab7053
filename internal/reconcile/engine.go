package reconcile

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/reelsync/internal/models"
)

// Options selects which rules the [Engine] applies.
type Options struct {
	// Sync lists the categories whose missing items are copied across.
	Sync map[models.Category]bool
	// RemoveWatched removes watched titles from both watchlists.
	RemoveWatched bool
	// MarkRatedAsWatched adds rated, unwatched, non-show titles to both histories.
	MarkRatedAsWatched bool
	// WatchlistMaxAgeDays removes watchlist items older than this many days. Zero disables it.
	WatchlistMaxAgeDays int
	MinReviewLength     int
	// Now anchors age-based removal. Zero means time.Now.
	Now time.Time
}

// Engine turns fetched snapshots into a [SyncPlan].
type Engine struct {
	opts   Options
	logger *log.Logger
}

// NewEngine creates an [Engine]. A nil logger discards output.
func NewEngine(opts Options, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Engine{opts: opts, logger: logger}
}

// Build plans every category present in input. Build does not modify input.
func (e *Engine) Build(input map[models.Category]Pair) *SyncPlan {
	now := e.opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	snaps := make(map[models.Category]Pair, len(input))
	for cat, pair := range input {
		snaps[cat] = Pair{Primary: clean(pair.Primary), Secondary: clean(pair.Secondary)}
	}

	plans := make(map[models.Category]*Plan, len(snaps))
	for cat, pair := range snaps {
		p := Diff(pair.Primary, pair.Secondary)
		p.Category = cat
		plans[cat] = &p
	}

	if ratings, ok := snaps[models.Ratings]; ok {
		e.applyRatingConflicts(plans[models.Ratings], ratings)
	}
	if _, ok := snaps[models.Reviews]; ok {
		e.applyReviewLength(plans[models.Reviews])
	}
	if e.opts.MarkRatedAsWatched {
		e.markRatedAsWatched(plans, snaps)
	}
	if p, ok := plans[models.History]; ok {
		p.ToPrimary = WithoutShows(p.ToPrimary)
	}
	if watchlist, ok := snaps[models.Watchlist]; ok {
		p := plans[models.Watchlist]
		if e.opts.RemoveWatched {
			e.removeWatched(p, watchlist, snaps[models.History])
		}
		if e.opts.WatchlistMaxAgeDays > 0 {
			e.removeStale(p, watchlist, now)
		}
	}

	out := &SyncPlan{Snapshots: snaps}
	for _, cat := range models.Categories {
		p, ok := plans[cat]
		if !ok {
			continue
		}
		if !e.opts.Sync[cat] {
			p.ToPrimary, p.ToSecondary = nil, nil
		}
		p.normalize()
		out.Plans = append(out.Plans, p)
	}
	return out
}

func (e *Engine) applyRatingConflicts(p *Plan, ratings Pair) {
	toPrimary, toSecondary := RatingConflicts(ratings.Primary, ratings.Secondary)
	if n := len(toPrimary) + len(toSecondary); n > 0 {
		e.logger.Debug("resolved rating conflicts", "to_primary", len(toPrimary), "to_secondary", len(toSecondary))
	}
	p.ToPrimary = append(p.ToPrimary, toPrimary...)
	p.ToSecondary = append(p.ToSecondary, toSecondary...)
}

func (e *Engine) applyReviewLength(p *Plan) {
	before := len(p.ToSecondary)
	p.ToSecondary = LongReviews(p.ToSecondary, e.opts.MinReviewLength)
	if dropped := before - len(p.ToSecondary); dropped > 0 {
		e.logger.Debug("skipped short reviews", "count", dropped, "min_length", e.opts.MinReviewLength)
	}
}

// markRatedAsWatched synthesizes history entries for rated titles that neither
// history contains and merges them into the history snapshots. It needs both
// ratings and history to have been fetched.
func (e *Engine) markRatedAsWatched(plans map[models.Category]*Plan, snaps map[models.Category]Pair) {
	ratings, ok := snaps[models.Ratings]
	if !ok {
		return
	}
	history, ok := snaps[models.History]
	if !ok {
		return
	}
	p, ok := plans[models.History]
	if !ok {
		p = &Plan{Category: models.History}
		plans[models.History] = p
	}

	watched := WatchedIDs(history)
	var added []models.Record
	for _, r := range Dedup(append(ratings.Primary.Records(), ratings.Secondary.Records()...)) {
		if r.Kind == models.KindShow {
			continue
		}
		if _, ok := watched[r.ExternalID]; ok {
			continue
		}
		added = append(added, asWatched(r))
	}
	if len(added) == 0 {
		snaps[models.History] = history
		return
	}

	e.logger.Debug("marking rated titles as watched", "count", len(added))
	p.ToPrimary = append(p.ToPrimary, added...)
	p.ToSecondary = append(p.ToSecondary, added...)
	snaps[models.History] = Pair{
		Primary:   history.Primary.Derive(Dedup(append(history.Primary.Records(), added...))),
		Secondary: history.Secondary.Derive(Dedup(append(history.Secondary.Records(), added...))),
	}
}

func (e *Engine) removeWatched(p *Plan, watchlist, history Pair) {
	watched := WatchedIDs(history)
	p.ToPrimary = Without(p.ToPrimary, watched)
	p.ToSecondary = Without(p.ToSecondary, watched)
	p.RemoveFromPrimary = append(p.RemoveFromPrimary, Within(watchlist.Primary.Records(), watched)...)
	p.RemoveFromSecondary = append(p.RemoveFromSecondary, Within(watchlist.Secondary.Records(), watched)...)
}

// removeStale removes items older than the threshold from whichever watchlist holds them.
func (e *Engine) removeStale(p *Plan, watchlist Pair, now time.Time) {
	combined := Dedup(append(watchlist.Primary.Records(), watchlist.Secondary.Records()...))
	stale := idSet(OlderThan(combined, e.opts.WatchlistMaxAgeDays, now))
	if len(stale) == 0 {
		return
	}

	p.ToPrimary = Without(p.ToPrimary, stale)
	p.ToSecondary = Without(p.ToSecondary, stale)
	p.RemoveFromPrimary = append(p.RemoveFromPrimary, Within(watchlist.Primary.Records(), stale)...)
	p.RemoveFromSecondary = append(p.RemoveFromSecondary, Within(watchlist.Secondary.Records(), stale)...)
}

// clean drops records without an ID and repeated IDs.
func clean(s models.Snapshot) models.Snapshot {
	var kept []models.Record
	for _, r := range s.Records() {
		if r.Resolvable() {
			kept = append(kept, r)
		}
	}
	return s.Derive(Dedup(kept))
}
