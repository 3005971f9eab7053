package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/desertthunder/reelsync/internal/formatter"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/reconcile"
	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/desertthunder/reelsync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// parseCategories validates --only values. "watch_history" and "watch-history" are accepted for history.
func parseCategories(values []string) ([]models.Category, error) {
	var out []models.Category
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if part == "watch_history" || part == "watch-history" {
				part = string(models.History)
			}
			cat := models.Category(part)
			if !slices.Contains(models.Categories, cat) {
				return nil, fmt.Errorf("%w: unknown category %q", shared.ErrInvalidArgument, part)
			}
			if !slices.Contains(out, cat) {
				out = append(out, cat)
			}
		}
	}
	return out, nil
}

func (r *Runner) engineOptions(dryRun bool, only []models.Category) tasks.Options {
	return tasks.Options{
		Sync:      r.config.Sync,
		Transport: r.config.Transport,
		Limits:    r.config.Limits,
		DryRun:    dryRun,
		Only:      only,
	}
}

// reviewsEnabled reports whether the run could submit reviews.
func (r *Runner) reviewsEnabled(only []models.Category) bool {
	if len(only) > 0 {
		return slices.Contains(only, models.Reviews)
	}
	return r.config.Sync.Reviews
}

// printProgress writes phase messages until progress is closed. Item lines are
// written by the engine itself through [tasks.Options.Output].
func (r *Runner) printProgress(progress <-chan tasks.ProgressUpdate) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range progress {
			switch update.Phase {
			case tasks.Dispatch:
				if update.Step == 0 {
					r.writePlain("\n→ %s\n", update.Message)
				}
			case tasks.Summarize:
			default:
				r.writePlain("  %s\n", update.Message)
			}
		}
	}()
	return &wg
}

// Sync runs a full sync, or a dry run with --dry-run.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	only, err := parseCategories(cmd.StringSlice("only"))
	if err != nil {
		return err
	}
	asJSON := cmd.Bool("json")

	primary, secondary, res, err := r.connect(ctx)
	if err != nil {
		return err
	}

	runs, reviews, closeDB, err := r.ledger()
	if err != nil {
		if r.reviewsEnabled(only) && !cmd.Bool("dry-run") {
			return fmt.Errorf("run ledger is required to sync reviews: %w", err)
		}
		r.logger.Warn("run ledger unavailable, this run will not be recorded", "error", err)
	} else {
		defer closeDB()
	}

	opts := r.engineOptions(cmd.Bool("dry-run"), only)
	if cmd.Bool("tui") {
		return r.syncTUI(ctx, primary, secondary, res, opts, runs, reviews)
	}
	if !asJSON {
		// The engine writes item lines while printProgress writes phase lines.
		out := r.output
		r.output = &lockedWriter{w: out}
		defer func() { r.output = out }()
		opts.Output = r.output
	}

	engine := tasks.NewSyncEngine(primary, secondary, res, opts, r.logger)
	if runs != nil {
		engine.UseLedger(runs, reviews)
	}

	var progress chan tasks.ProgressUpdate
	var printer *sync.WaitGroup
	if !asJSON {
		progress = make(chan tasks.ProgressUpdate, 100)
		printer = r.printProgress(progress)
	}

	summary, runErr := engine.Run(ctx, progress)
	if progress != nil {
		close(progress)
		printer.Wait()
	}
	r.persistToken()

	if summary != nil {
		if asJSON {
			if err := r.writeJSON(summary, cmd.Bool("pretty")); err != nil {
				return err
			}
		} else {
			r.writePlain("\n")
			if err := formatter.WriteSummary(r.output, summary, r.styled()); err != nil {
				return err
			}
		}
	}
	return runErr
}

// Plan prints the operations a sync would perform without touching either service or the ledger.
func (r *Runner) Plan(ctx context.Context, cmd *cli.Command) error {
	only, err := parseCategories(cmd.StringSlice("only"))
	if err != nil {
		return err
	}
	format := cmd.String("format")
	if !slices.Contains([]string{"text", "json", "csv"}, format) {
		return fmt.Errorf("%w: format must be text, json or csv", shared.ErrInvalidArgument)
	}

	primary, secondary, res, err := r.connect(ctx)
	if err != nil {
		return err
	}

	engine := tasks.NewSyncEngine(primary, secondary, res, r.engineOptions(true, only), r.logger)
	plan, summary, err := engine.Plan(ctx, nil)
	r.persistToken()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	switch format {
	case "json":
		data, err := shared.MarshalJSON(struct {
			*reconcile.SyncPlan
			Summary *formatter.RunSummary `json:"summary"`
		}{plan, summary}, true)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	case "csv":
		data, err := formatter.PlanToCSV(plan)
		if err != nil {
			return err
		}
		buf.Write(data)
	default:
		writePlanText(&buf, plan)
		if err := formatter.WriteSummary(&buf, summary, false); err != nil {
			return err
		}
	}

	if path := cmd.String("output"); path != "" {
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("failed to write plan: %w", err)
		}
		r.logger.Info("plan written", "path", path, "operations", plan.Total())
		return r.writePlain("✓ %d operations written to %s\n", plan.Total(), path)
	}
	_, err = r.output.Write(buf.Bytes())
	return err
}

func writePlanText(w io.Writer, plan *reconcile.SyncPlan) {
	for _, p := range plan.Plans {
		if p.Total() == 0 {
			continue
		}
		fmt.Fprintf(w, "%s\n", strings.ToUpper(p.Category.Label()))
		for _, svc := range []models.Service{models.Primary, models.Secondary} {
			if sets := p.Sets(svc); len(sets) > 0 {
				fmt.Fprintf(w, "  → %s: %d to set\n", svc.DisplayName(), len(sets))
				for _, rec := range sets {
					fmt.Fprintf(w, "    + %s (%s)\n", rec.DisplayTitle(), rec.ExternalID)
				}
			}
			if removals := p.Removals(svc); len(removals) > 0 {
				fmt.Fprintf(w, "  → %s: %d to remove\n", svc.DisplayName(), len(removals))
				for _, rec := range removals {
					fmt.Fprintf(w, "    - %s (%s)\n", rec.DisplayTitle(), rec.ExternalID)
				}
			}
		}
		fmt.Fprintln(w)
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// styled reports whether summaries should be colored.
func (r *Runner) styled() bool {
	out := r.output
	if l, ok := out.(*lockedWriter); ok {
		out = l.w
	}
	return out == io.Writer(os.Stdout)
}
