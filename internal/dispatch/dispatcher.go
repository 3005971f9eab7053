package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/desertthunder/reelsync/internal/transport"
)

// Action is what a job does to the target list.
type Action string

const (
	Set    Action = "set"
	Remove Action = "remove"
)

// Job is an ordered list of records bound for one service, category and action.
type Job struct {
	Service  models.Service
	Category models.Category
	Action   Action
	Records  []models.Record
}

// Outcome is reported once per record.
type Outcome struct {
	Job      Job
	Record   models.Record
	Position int // 1-based
	Total    int
	OK       bool
	// Skipped marks items the target already had.
	Skipped bool
	Err     error
}

// Failure identifies a record that could not be applied.
type Failure struct {
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Reason     string `json:"reason"`
}

// Report summarises a job.
type Report struct {
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped,omitempty"`
	Batches   int       `json:"batches"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Add folds o into r.
func (r *Report) Add(o Report) {
	r.Attempted += o.Attempted
	r.Succeeded += o.Succeeded
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Batches += o.Batches
	r.Failures = append(r.Failures, o.Failures...)
}

// Sink submits one flushed batch.
type Sink func(ctx context.Context, b *Batch) *transport.Result

// Apply performs a single-item mutation.
type Apply func(ctx context.Context, r models.Record) error

// Options configures a [Dispatcher].
type Options struct {
	// BatchSize caps the records per flush.
	BatchSize int
	Delay     time.Duration
	// LongDelay replaces Delay after every LongEvery-th call.
	LongDelay time.Duration
	LongEvery int
	Partition Partition
	Clock     shared.Clock
	Logger    *log.Logger
	// Observer receives every per-item outcome.
	Observer func(Outcome)
}

// Dispatcher runs jobs through a [Sink] or an [Apply] function with a two-tier throttle.
type Dispatcher struct {
	opts Options
}

// New creates a [Dispatcher], filling unset options.
func New(opts Options) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.LongEvery <= 0 {
		opts.LongEvery = 10
	}
	if opts.LongDelay < opts.Delay {
		opts.LongDelay = opts.Delay
	}
	if opts.Clock == nil {
		opts.Clock = shared.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Dispatcher{opts: opts}
}

// Submit sends job.Records through sink in batches of at most BatchSize.
//
// A 2xx result marks the whole flush succeeded; anything else marks every
// record in it failed. Failed flushes never stop later ones. Only a
// cancelled context ends Submit early, with an error wrapping [shared.ErrInterrupted].
func (d *Dispatcher) Submit(ctx context.Context, job Job, sink Sink) (Report, error) {
	var (
		report Report
		batch  = NewBatch(d.opts.Partition)
		sent   int
	)
	total := len(job.Records)

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		if err := d.pause(ctx, report.Batches); err != nil {
			return err
		}

		res := sink(ctx, batch)
		report.Batches++
		if err := ctx.Err(); err != nil && !res.OK() {
			return fmt.Errorf("%w: %v", shared.ErrInterrupted, err)
		}

		var reason error
		if !res.OK() {
			reason = res.Failure()
		}
		for _, r := range batch.Records() {
			sent++
			d.record(&report, Outcome{Job: job, Record: r, Position: sent, Total: total, OK: reason == nil, Err: reason})
		}
		batch.reset()
		return nil
	}

	for _, r := range job.Records {
		batch.Add(r)
		if batch.Len() >= d.opts.BatchSize {
			if err := flush(); err != nil {
				return report, err
			}
		}
	}
	if err := flush(); err != nil {
		return report, err
	}

	d.opts.Logger.Debug("job finished", "service", job.Service, "category", job.Category, "action", job.Action,
		"succeeded", report.Succeeded, "failed", report.Failed, "batches", report.Batches)
	return report, nil
}

// Each applies job.Records one at a time with the same throttle as [Dispatcher.Submit].
// Errors wrapping [shared.ErrAlreadyPresent] count as skipped.
func (d *Dispatcher) Each(ctx context.Context, job Job, apply Apply) (Report, error) {
	var report Report
	total := len(job.Records)

	for i, r := range job.Records {
		if err := d.pause(ctx, report.Batches); err != nil {
			return report, err
		}

		err := apply(ctx, r)
		report.Batches++
		if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
			return report, fmt.Errorf("%w: %v", shared.ErrInterrupted, ctxErr)
		}

		o := Outcome{Job: job, Record: r, Position: i + 1, Total: total}
		switch {
		case err == nil:
			o.OK = true
		case errors.Is(err, shared.ErrAlreadyPresent):
			o.OK, o.Skipped = true, true
		default:
			o.Err = err
		}
		d.record(&report, o)
	}
	return report, nil
}

// pause waits before the next call: nothing before the first, LongDelay after
// every LongEvery-th, Delay otherwise.
func (d *Dispatcher) pause(ctx context.Context, done int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInterrupted, err)
	}
	if done == 0 {
		return nil
	}

	wait := d.opts.Delay
	if done%d.opts.LongEvery == 0 {
		wait = d.opts.LongDelay
	}
	if wait <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", shared.ErrInterrupted, ctx.Err())
	case <-d.opts.Clock.After(wait):
		return nil
	}
}

func (d *Dispatcher) record(report *Report, o Outcome) {
	report.Attempted++
	switch {
	case o.Skipped:
		report.Skipped++
	case o.OK:
		report.Succeeded++
	default:
		report.Failed++
		report.Failures = append(report.Failures, Failure{ExternalID: o.Record.ExternalID, Title: o.Record.DisplayTitle(), Reason: errString(o.Err)})
		d.opts.Logger.Error("item failed",
			"position", fmt.Sprintf("%d of %d", o.Position, o.Total),
			"title", o.Record.DisplayTitle(),
			"service", o.Job.Service.DisplayName(),
			"category", o.Job.Category.Label(),
			"action", o.Job.Action,
			"id", o.Record.ExternalID,
			"error", o.Err,
		)
	}
	if d.opts.Observer != nil {
		d.opts.Observer(o)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
