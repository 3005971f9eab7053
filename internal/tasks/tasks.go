package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/reelsync/internal/formatter"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/reconcile"
	"github.com/desertthunder/reelsync/internal/resolver"
	"github.com/desertthunder/reelsync/internal/services"
	"github.com/desertthunder/reelsync/internal/shared"
)

const teardownTimeout = 10 * time.Second

// IDResolver rewrites outdated IDs in a snapshot to their canonical form.
type IDResolver interface {
	Apply(ctx context.Context, snap models.Snapshot) (models.Snapshot, int, error)
	Stats() resolver.Stats
}

// RunLedger persists one entry per run.
type RunLedger interface {
	Create(run *models.Run) error
	Update(run *models.Run) error
}

// ReviewLedger remembers when reviews were last submitted to the secondary service.
type ReviewLedger interface {
	Last() (time.Time, bool, error)
	Record(runID string, externalIDs []string, at time.Time) error
}

// Engine runs one sync and reports its progress.
type Engine interface {
	Run(ctx context.Context, progress chan<- ProgressUpdate) (*formatter.RunSummary, error)
}

// Options configures a [SyncEngine].
type Options struct {
	Sync      shared.SyncConfig
	Transport shared.TransportConfig
	Limits    shared.LimitsConfig
	// DryRun stops after caps and limits are applied.
	DryRun bool
	// Only restricts the run to these categories, enabling them regardless of Sync.
	Only  []models.Category
	Clock shared.Clock
	// Output receives one line per dispatched item. Nil discards them.
	Output io.Writer
}

// SyncEngine implements [Engine] as a fixed sequence of phases:
// fetch both sides, resolve IDs, build the plan, apply caps, dispatch, summarize.
type SyncEngine struct {
	primary   services.Service
	secondary services.Service
	resolver  IDResolver
	opts      Options
	logger    *log.Logger

	runs    RunLedger
	reviews ReviewLedger
}

// NewSyncEngine creates a new SyncEngine with the provided services.
func NewSyncEngine(primary, secondary services.Service, res IDResolver, opts Options, logger *log.Logger) *SyncEngine {
	if opts.Clock == nil {
		opts.Clock = shared.RealClock{}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &SyncEngine{
		primary:   primary,
		secondary: secondary,
		resolver:  res,
		opts:      opts,
		logger:    logger,
	}
}

// UseLedger persists runs and enables the review guard. Either argument may be nil.
func (e *SyncEngine) UseLedger(runs RunLedger, reviews ReviewLedger) *SyncEngine {
	e.runs = runs
	e.reviews = reviews
	return e
}

// runState is owned by a single call to Run or Plan.
type runState struct {
	run       *models.Run
	persisted bool
	summary   *formatter.RunSummary
	progress  chan<- ProgressUpdate
	logger    *log.Logger

	// input holds the resolved snapshots of every category that can still be dispatched.
	input     map[models.Category]reconcile.Pair
	submitted []string
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (st *runState) sendProgress(update ProgressUpdate) {
	if st.progress == nil {
		return
	}
	select {
	case st.progress <- update:
		// Sent successfully
	default:
		// Channel full, skip this update
	}
}

// fail marks cat as undispatchable for the rest of the run.
func (st *runState) fail(phase Phase, cat models.Category, err error) {
	st.logger.Warn("skipping category", "phase", phase, "category", cat.Label(), "error", err)
	st.summary.Category(cat).Error = err.Error()
	delete(st.input, cat)
	st.sendProgress(categoryFailedUpdate(phase, cat, err))
}

// Run performs a full sync and records it in the ledger.
//
// Fetch, resolve and plan failures skip only the affected category. A cancelled
// context aborts the run with an error wrapping [shared.ErrInterrupted]. A panic
// anywhere in the run is recovered and returned wrapping [shared.ErrRunPanicked].
// Both services are closed before Run returns.
func (e *SyncEngine) Run(ctx context.Context, progress chan<- ProgressUpdate) (summary *formatter.RunSummary, err error) {
	st := e.start(progress, true)
	summary = st.summary

	defer e.teardown(st.logger)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", shared.ErrRunPanicked, r, debug.Stack())
		}
		e.finish(st, err)
	}()

	plan, err := e.prepare(ctx, st)
	if err != nil {
		return summary, err
	}
	if e.opts.DryRun {
		return summary, nil
	}
	return summary, e.dispatchPlan(ctx, st, plan)
}

// Plan runs every phase up to dispatch and returns the plan without mutating either
// service or touching the run ledger. Panics are recovered as in [SyncEngine.Run].
func (e *SyncEngine) Plan(ctx context.Context, progress chan<- ProgressUpdate) (plan *reconcile.SyncPlan, summary *formatter.RunSummary, err error) {
	st := e.start(progress, false)
	summary = st.summary

	defer e.teardown(st.logger)
	defer func() {
		summary.Status = models.RunStatusDryRun
		if r := recover(); r != nil {
			plan = nil
			err = fmt.Errorf("%w: %v\n%s", shared.ErrRunPanicked, r, debug.Stack())
			summary.Status = models.RunStatusFailed
			summary.Error, _, _ = strings.Cut(err.Error(), "\n")
			st.logger.Error("plan failed", "error", err)
		}
		summary.DryRun = true
		summary.FinishedAt = e.opts.Clock.Now()
		if e.resolver != nil {
			summary.Resolver = e.resolver.Stats()
		}
	}()

	plan, err = e.prepare(ctx, st)
	return plan, summary, err
}

func (e *SyncEngine) start(progress chan<- ProgressUpdate, persist bool) *runState {
	run := models.NewRun(0, e.opts.DryRun)
	run.SetID(shared.GenerateID())

	st := &runState{
		run:      run,
		progress: progress,
		logger:   shared.WithLogger(e.logger, "run", run.ID()),
		input:    make(map[models.Category]reconcile.Pair),
	}

	if persist && e.runs != nil {
		if err := e.runs.Create(run); err != nil {
			st.logger.Warn("run will not be recorded", "error", err)
		} else {
			st.persisted = true
		}
	}

	st.summary = &formatter.RunSummary{
		RunID:     run.ID(),
		Sequence:  run.Sequence(),
		Status:    models.RunStatusRunning,
		DryRun:    e.opts.DryRun,
		StartedAt: e.opts.Clock.Now(),
	}
	st.logger.Info("run started", "sequence", run.Sequence(), "dry_run", e.opts.DryRun)
	return st
}

// finish moves the run to its terminal status, then reports and records it.
func (e *SyncEngine) finish(st *runState, err error) {
	s := st.summary
	switch {
	case errors.Is(err, shared.ErrInterrupted):
		s.Status = models.RunStatusAborted
	case err != nil:
		s.Status = models.RunStatusFailed
	case e.opts.DryRun:
		s.Status = models.RunStatusDryRun
	default:
		s.Status = models.RunStatusCompleted
	}
	if err != nil {
		s.Error, _, _ = strings.Cut(err.Error(), "\n")
	}
	s.FinishedAt = e.opts.Clock.Now()
	if e.resolver != nil {
		s.Resolver = e.resolver.Stats()
	}

	if err != nil {
		st.logger.Error("run failed", "status", s.Status, "error", err)
	} else {
		st.logger.Info("run finished", "status", s.Status, "failed", s.Failed(), "duration", s.Duration())
	}
	st.sendProgress(summaryUpdate(s))

	if !st.persisted {
		return
	}
	st.run.SetReviewsSubmitted(len(st.submitted))
	st.run.Finish(s.Status, s.Error)
	if data, jerr := shared.MarshalJSON(s, false); jerr != nil {
		st.logger.Warn("failed to encode run summary", "error", jerr)
	} else {
		st.run.SetSummary(string(data))
	}
	if uerr := e.runs.Update(st.run); uerr != nil {
		st.logger.Warn("failed to record run", "error", uerr)
	}
}

// teardown closes both services with a fresh context so it also runs after cancellation.
func (e *SyncEngine) teardown(logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	for _, svc := range []services.Service{e.primary, e.secondary} {
		if svc == nil {
			continue
		}
		if err := svc.Close(ctx); err != nil {
			logger.Warn("failed to close service", "service", svc.Name(), "error", err)
		}
	}
}

// categories lists the categories to fetch, in dispatch order.
func (e *SyncEngine) categories() []models.Category {
	var out []models.Category
	for _, cat := range models.Categories {
		if len(e.opts.Only) > 0 {
			if slices.Contains(e.opts.Only, cat) {
				out = append(out, cat)
			}
			continue
		}
		if e.opts.Sync.Enabled(cat) {
			out = append(out, cat)
		}
	}
	return out
}

func (e *SyncEngine) syncs(cat models.Category) bool {
	if len(e.opts.Only) > 0 {
		return slices.Contains(e.opts.Only, cat)
	}
	return e.opts.Sync.Syncs(cat)
}

// interrupted converts err into an abort when ctx has been cancelled.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(err, shared.ErrInterrupted) {
		return err
	}
	return fmt.Errorf("%w: %v", shared.ErrInterrupted, ctx.Err())
}
