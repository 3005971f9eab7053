package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/desertthunder/reelsync/internal/formatter"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/repositories"
	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/urfave/cli/v3"
)

// runView is the JSON shape of a ledger entry.
type runView struct {
	ID               string                `json:"id"`
	Sequence         int                   `json:"sequence"`
	Status           models.RunStatus      `json:"status"`
	DryRun           bool                  `json:"dry_run"`
	StartedAt        time.Time             `json:"started_at"`
	FinishedAt       *time.Time            `json:"finished_at,omitempty"`
	Error            string                `json:"error,omitempty"`
	ReviewsSubmitted int                   `json:"reviews_submitted"`
	Summary          *formatter.RunSummary `json:"summary,omitempty"`
}

func newRunView(run *models.Run) (runView, error) {
	v := runView{
		ID:               run.ID(),
		Sequence:         run.Sequence(),
		Status:           run.Status(),
		DryRun:           run.DryRun(),
		StartedAt:        run.StartedAt(),
		FinishedAt:       run.FinishedAt(),
		Error:            run.ErrorMessage(),
		ReviewsSubmitted: run.ReviewsSubmitted(),
	}
	if run.Summary() != "" {
		v.Summary = &formatter.RunSummary{}
		if err := json.Unmarshal([]byte(run.Summary()), v.Summary); err != nil {
			return v, fmt.Errorf("failed to decode run summary: %w", err)
		}
	}
	return v, nil
}

// RunsList prints recent ledger entries.
func (r *Runner) RunsList(ctx context.Context, cmd *cli.Command) error {
	repo, _, closeDB, err := r.ledger()
	if err != nil {
		return err
	}
	defer closeDB()

	runs, err := repo.List(map[string]any{"limit": int(cmd.Int("limit")), "status": cmd.String("status")})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		views := make([]runView, 0, len(runs))
		for _, run := range runs {
			v, err := newRunView(run)
			if err != nil {
				return err
			}
			v.Summary = nil
			views = append(views, v)
		}
		return r.writeJSON(views, true)
	}

	if len(runs) == 0 {
		return r.writePlain("No runs recorded yet\n")
	}
	return formatter.WriteRuns(r.output, runs, time.Now())
}

// RunsShow prints one run. The argument is a sequence number or run ID; the latest run is shown without one.
func (r *Runner) RunsShow(ctx context.Context, cmd *cli.Command) error {
	repo, _, closeDB, err := r.ledger()
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := findRun(repo, cmd.Args().First())
	if errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("%w: no run matching %q", shared.ErrInvalidArgument, cmd.Args().First())
	}
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		v, err := newRunView(run)
		if err != nil {
			return err
		}
		return r.writeJSON(v, true)
	}
	return formatter.WriteRun(r.output, run, r.styled())
}

func findRun(repo *repositories.RunRepository, ref string) (*models.Run, error) {
	if ref == "" {
		return repo.Latest()
	}
	if seq, err := strconv.Atoi(ref); err == nil {
		return repo.GetBySequence(seq)
	}
	return repo.Get(ref)
}
