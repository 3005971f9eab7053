package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/reelsync/internal/dispatch"
	"github.com/desertthunder/reelsync/internal/formatter"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/reconcile"
	"github.com/desertthunder/reelsync/internal/services"
	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/dustin/go-humanize"
)

// prepare runs FetchPrimary through ApplyCapsAndLimits.
// Only an interrupt is returned as an error; everything else is recorded per category.
func (e *SyncEngine) prepare(ctx context.Context, st *runState) (*reconcile.SyncPlan, error) {
	if e.primary == nil || e.secondary == nil {
		return nil, fmt.Errorf("%w: both services are required", shared.ErrServiceUnavailable)
	}

	cats := e.categories()
	for _, cat := range cats {
		st.summary.Category(cat)
	}
	if len(cats) == 0 {
		st.logger.Warn("no categories enabled")
	}

	primary, err := e.fetch(ctx, st, e.primary, cats)
	if err != nil {
		return nil, err
	}
	secondary, err := e.fetch(ctx, st, e.secondary, cats)
	if err != nil {
		return nil, err
	}
	for _, cat := range cats {
		p, okP := primary[cat]
		s, okS := secondary[cat]
		if okP && okS {
			st.input[cat] = reconcile.Pair{Primary: p, Secondary: s}
		}
	}

	if err := e.resolve(ctx, st, cats); err != nil {
		return nil, err
	}

	plan := e.build(st)
	st.sendProgress(planUpdate(plan))

	e.applyCaps(st, plan)
	e.applyReviewGuard(st, plan)
	st.sendProgress(limitsUpdate(plan))

	for _, p := range plan.Plans {
		c := st.summary.Category(p.Category)
		for _, svc := range []models.Service{models.Primary, models.Secondary} {
			c.Toward(svc).Pending = len(p.Sets(svc))
			c.Toward(svc).PendingRemovals = len(p.Removals(svc))
		}
	}
	return plan, nil
}

// fetch snapshots every category from svc. A failing category is skipped for
// the rest of the run.
func (e *SyncEngine) fetch(ctx context.Context, st *runState, svc services.Service, cats []models.Category) (map[models.Category]models.Snapshot, error) {
	out := make(map[models.Category]models.Snapshot, len(cats))
	phase := fetchPhase(svc.ID())

	for i, cat := range cats {
		if st.summary.Category(cat).Error != "" {
			continue
		}
		st.sendProgress(fetchUpdate(svc.ID(), cat, i+1, len(cats)))

		snap, err := svc.Snapshot(ctx, cat)
		if err != nil {
			if abort := interrupted(ctx, err); abort != nil {
				return nil, abort
			}
			st.fail(phase, cat, fmt.Errorf("%s: %w", svc.Name(), err))
			continue
		}

		st.logger.Debug("fetched snapshot", "service", svc.Name(), "category", cat.Label(), "records", snap.Len())
		st.sendProgress(fetchedUpdate(snap, i+1, len(cats)))
		out[cat] = snap
	}
	return out, nil
}

// resolve rewrites outdated IDs on both sides of every remaining category.
func (e *SyncEngine) resolve(ctx context.Context, st *runState, cats []models.Category) error {
	if e.resolver == nil {
		return nil
	}

	for i, cat := range cats {
		pair, ok := st.input[cat]
		if !ok {
			continue
		}
		st.sendProgress(resolveUpdate(i+1, len(cats), cat))

		primary, n1, err := e.resolver.Apply(ctx, pair.Primary)
		if err == nil {
			var n2 int
			pair.Secondary, n2, err = e.resolver.Apply(ctx, pair.Secondary)
			pair.Primary = primary
			st.summary.RewrittenID += n1 + n2
		}
		if err != nil {
			if abort := interrupted(ctx, err); abort != nil {
				return abort
			}
			st.fail(ResolveIDs, cat, err)
			continue
		}
		st.input[cat] = pair
	}
	return nil
}

// build plans the remaining categories. Plans the engine derives for categories
// that were not fetched (history from mark-rated-as-watched) are discarded.
func (e *SyncEngine) build(st *runState) *reconcile.SyncPlan {
	sync := make(map[models.Category]bool, len(models.Categories))
	for _, cat := range models.Categories {
		sync[cat] = e.syncs(cat)
	}

	engine := reconcile.NewEngine(reconcile.Options{
		Sync:                sync,
		RemoveWatched:       e.opts.Sync.RemoveWatched,
		MarkRatedAsWatched:  e.opts.Sync.MarkRatedAsWatched,
		WatchlistMaxAgeDays: e.opts.Sync.RemoveWatchlistOlderThanDays,
		MinReviewLength:     e.opts.Sync.MinReviewLength,
		Now:                 e.opts.Clock.Now(),
	}, st.logger)

	plan := engine.Build(st.input)

	kept := plan.Plans[:0]
	for _, p := range plan.Plans {
		if _, ok := st.input[p.Category]; ok {
			kept = append(kept, p)
		} else {
			st.logger.Debug("discarding plan for unfetched category", "category", p.Category.Label(), "operations", p.Total())
		}
	}
	plan.Plans = kept
	return plan
}

// applyCaps drops every pending addition to a secondary list that is already at its size limit.
func (e *SyncEngine) applyCaps(st *runState, plan *reconcile.SyncPlan) {
	limits := map[models.Category]int{
		models.Watchlist: e.opts.Limits.IMDbWatchlistMax,
		models.History:   e.opts.Limits.IMDbHistoryMax,
	}

	for _, cat := range []models.Category{models.Watchlist, models.History} {
		pair, ok := st.input[cat]
		limit := limits[cat]
		if !ok || limit <= 0 || pair.Secondary.Len() < limit {
			continue
		}

		dropped := plan.For(cat).DropSets(models.Secondary)
		st.summary.Category(cat).ToSecondary.Dropped = dropped
		if dropped == 0 {
			continue
		}
		st.logger.Warn("list is full; dropping additions",
			"service", models.Secondary.DisplayName(),
			"category", cat.Label(),
			"size", humanize.Comma(int64(pair.Secondary.Len())),
			"max", humanize.Comma(int64(limit)),
			"dropped", dropped,
		)
		st.sendProgress(capUpdate(cat, pair.Secondary.Len(), dropped))
	}
}

// applyReviewGuard holds back secondary reviews when the last submission is too recent.
// A ledger read failure holds them back as well.
func (e *SyncEngine) applyReviewGuard(st *runState, plan *reconcile.SyncPlan) {
	days := e.opts.Sync.ReviewGuardDays
	p := plan.For(models.Reviews)
	if days <= 0 || e.reviews == nil || len(p.ToSecondary) == 0 {
		return
	}

	now := e.opts.Clock.Now()
	last, ok, err := e.reviews.Last()
	var when string
	switch {
	case err != nil:
		st.logger.Warn("failed to read review submissions", "error", err)
		when = "unknown"
	case !ok || now.Sub(last) >= time.Duration(days)*24*time.Hour:
		return
	default:
		when = humanize.RelTime(last, now, "ago", "from now")
	}

	held := p.DropSets(models.Secondary)
	st.summary.Category(models.Reviews).ToSecondary.Held = held
	st.logger.Info("holding reviews", "count", held, "last_submission", when, "guard_days", days)
	st.sendProgress(reviewGuardUpdate(held, when))
}

// dispatchPlan applies the plan category by category, primary before secondary and
// sets before removals. Only an interrupt stops it early.
func (e *SyncEngine) dispatchPlan(ctx context.Context, st *runState, plan *reconcile.SyncPlan) error {
	defer e.recordReviews(st)

	t := e.opts.Transport
	observe := func(o dispatch.Outcome) { e.observe(st, o) }

	bulk := dispatch.New(dispatch.Options{
		BatchSize: t.BatchSize,
		Delay:     t.BatchDelay,
		LongDelay: t.BatchLongDelay,
		LongEvery: t.LongDelayEvery,
		Clock:     e.opts.Clock,
		Logger:    shared.WithLogger(st.logger, "component", "dispatch"),
		Observer:  observe,
	})
	single := dispatch.New(dispatch.Options{
		Delay:     t.ItemDelay,
		LongDelay: t.ItemLongDelay,
		LongEvery: t.LongDelayEvery,
		Clock:     e.opts.Clock,
		Logger:    shared.WithLogger(st.logger, "component", "dispatch"),
		Observer:  observe,
	})

	for _, p := range plan.Plans {
		c := st.summary.Category(p.Category)
		if c.Error != "" {
			continue
		}

		for _, svc := range []services.Service{e.primary, e.secondary} {
			for _, action := range []dispatch.Action{dispatch.Set, dispatch.Remove} {
				records := p.Sets(svc.ID())
				if action == dispatch.Remove {
					records = p.Removals(svc.ID())
				}
				if len(records) == 0 {
					continue
				}

				job := dispatch.Job{Service: svc.ID(), Category: p.Category, Action: action, Records: records}
				st.sendProgress(jobUpdate(job))

				report, err := e.runJob(ctx, st, svc, job, bulk, single)
				dir := c.Toward(svc.ID())
				if action == dispatch.Set {
					dir.Set.Add(report)
				} else {
					dir.Remove.Add(report)
				}
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *SyncEngine) runJob(ctx context.Context, st *runState, svc services.Service, job dispatch.Job, bulk, single *dispatch.Dispatcher) (dispatch.Report, error) {
	m, err := svc.Mutation(job.Category, job.Action)
	if err == nil {
		d := single
		if m.Batched() {
			d = bulk
		}
		var report dispatch.Report
		report, err = m.Run(ctx, d, job)
		if err == nil || errors.Is(err, shared.ErrInterrupted) {
			return report, err
		}
	}

	st.logger.Error("cannot apply job", "service", svc.Name(), "category", job.Category.Label(),
		"action", job.Action, "items", len(job.Records), "error", err)
	return e.failJob(st, job, err), nil
}

// failJob reports every record of a job that could not start as failed.
func (e *SyncEngine) failJob(st *runState, job dispatch.Job, err error) dispatch.Report {
	report := dispatch.Report{Attempted: len(job.Records), Failed: len(job.Records)}
	for i, r := range job.Records {
		report.Failures = append(report.Failures, dispatch.Failure{ExternalID: r.ExternalID, Title: r.DisplayTitle(), Reason: err.Error()})
		e.observe(st, dispatch.Outcome{Job: job, Record: r, Position: i + 1, Total: len(job.Records), Err: err})
	}
	return report
}

func (e *SyncEngine) observe(st *runState, o dispatch.Outcome) {
	if e.opts.Output != nil {
		fmt.Fprintln(e.opts.Output, formatter.ItemLine(o))
	}
	st.sendProgress(itemUpdate(o))

	job := o.Job
	if o.OK && !o.Skipped && job.Service == models.Secondary && job.Category == models.Reviews && job.Action == dispatch.Set {
		st.submitted = append(st.submitted, o.Record.ExternalID)
	}
}

// recordReviews stores this run's secondary review submissions for the review guard.
func (e *SyncEngine) recordReviews(st *runState) {
	if len(st.submitted) == 0 || e.reviews == nil || !st.persisted {
		return
	}
	if err := e.reviews.Record(st.run.ID(), st.submitted, e.opts.Clock.Now()); err != nil {
		st.logger.Warn("failed to record review submissions", "count", len(st.submitted), "error", err)
	}
}
