package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/reelsync/internal/dispatch"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/resolver"
	"github.com/dustin/go-humanize"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
)

// Direction counts what happened to one service within a category.
type Direction struct {
	Set    dispatch.Report `json:"set"`
	Remove dispatch.Report `json:"remove"`
	// Pending and PendingRemovals are the planned counts before dispatch.
	Pending         int `json:"pending"`
	PendingRemovals int `json:"pending_removals"`
	// Dropped counts sets discarded because the target list is full.
	Dropped int `json:"dropped,omitempty"`
	// Held counts reviews kept back by the review guard.
	Held int `json:"held,omitempty"`
}

// CategorySummary is the outcome of one category.
type CategorySummary struct {
	Category    models.Category `json:"category"`
	ToPrimary   Direction       `json:"to_primary"`
	ToSecondary Direction       `json:"to_secondary"`
	Error       string          `json:"error,omitempty"`
}

// Toward returns the direction whose target is svc.
func (c *CategorySummary) Toward(svc models.Service) *Direction {
	if svc == models.Primary {
		return &c.ToPrimary
	}
	return &c.ToSecondary
}

// RunSummary is what a run reports and what the ledger stores as JSON.
type RunSummary struct {
	RunID       string            `json:"run_id"`
	Sequence    int               `json:"sequence"`
	Status      models.RunStatus  `json:"status"`
	DryRun      bool              `json:"dry_run"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at,omitzero"`
	Categories  []CategorySummary `json:"categories"`
	Resolver    resolver.Stats    `json:"resolver"`
	RewrittenID int               `json:"rewritten_ids"`
	Error       string            `json:"error,omitempty"`
}

// Category returns the entry for cat, creating it in call order.
func (s *RunSummary) Category(cat models.Category) *CategorySummary {
	for i := range s.Categories {
		if s.Categories[i].Category == cat {
			return &s.Categories[i]
		}
	}
	s.Categories = append(s.Categories, CategorySummary{Category: cat})
	return &s.Categories[len(s.Categories)-1]
}

// Failed totals failed items across categories and directions.
func (s *RunSummary) Failed() int {
	var n int
	for _, c := range s.Categories {
		n += c.ToPrimary.Set.Failed + c.ToPrimary.Remove.Failed + c.ToSecondary.Set.Failed + c.ToSecondary.Remove.Failed
	}
	return n
}

// Duration is the elapsed run time.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// ItemLine renders one dispatch outcome in a stable, parseable form:
//
//	Rated movie (1 of 1): The Shawshank Redemption (1994) on IMDb ratings (tt0111161)
func ItemLine(o dispatch.Outcome) string {
	verb, phrase := verbFor(o.Job)
	switch {
	case o.Skipped:
		verb = "Skipped"
	case !o.OK:
		verb = "Failed"
	}
	return fmt.Sprintf("%s %s (%d of %d): %s %s %s %s (%s)",
		verb, o.Record.Kind, o.Position, o.Total, o.Record.DisplayTitle(),
		phrase, o.Job.Service.DisplayName(), o.Job.Category.Label(), o.Record.ExternalID)
}

func verbFor(job dispatch.Job) (string, string) {
	if job.Action == dispatch.Remove {
		return "Removed", "from"
	}
	switch job.Category {
	case models.Ratings:
		return "Rated", "on"
	case models.Reviews:
		return "Reviewed", "on"
	default:
		return "Added", "to"
	}
}

// WriteSummary writes the per-category report. styled enables terminal colours for the header.
func WriteSummary(w io.Writer, s *RunSummary, styled bool) error {
	var b strings.Builder

	title := fmt.Sprintf("reelsync run #%d %s", s.Sequence, s.Status)
	if d := s.Duration(); d > 0 {
		title += " in " + d.Round(time.Millisecond).String()
	}
	if s.DryRun {
		title += " (dry run)"
	}
	if styled {
		title = headerStyle.Render(title)
	}
	b.WriteString(title + "\n")

	width := 0
	for _, c := range s.Categories {
		width = max(width, len(c.Category.Label()))
	}

	for _, c := range s.Categories {
		label := c.Category.Label() + strings.Repeat(" ", width-len(c.Category.Label()))
		if c.Error != "" {
			line := fmt.Sprintf("%s  error: %s", label, c.Error)
			if styled {
				line = errorStyle.Render(line)
			}
			b.WriteString(line + "\n")
			continue
		}

		fmt.Fprintf(&b, "%s  → %s: %s | → %s: %s\n", label,
			models.Primary.DisplayName(), setCounts(c.ToPrimary, s.DryRun),
			models.Secondary.DisplayName(), setCounts(c.ToSecondary, s.DryRun))

		indent := strings.Repeat(" ", width+2)
		if line := removalCounts(c, s.DryRun); line != "" {
			b.WriteString(indent + line + "\n")
		}
		if c.ToPrimary.Dropped > 0 || c.ToSecondary.Dropped > 0 {
			fmt.Fprintf(&b, "%sdropped at list cap: %s %d, %s %d\n", indent,
				models.Primary.DisplayName(), c.ToPrimary.Dropped, models.Secondary.DisplayName(), c.ToSecondary.Dropped)
		}
		if c.ToSecondary.Held > 0 {
			fmt.Fprintf(&b, "%sheld by review guard: %s %d\n", indent, models.Secondary.DisplayName(), c.ToSecondary.Held)
		}
	}

	fmt.Fprintf(&b, "resolver: cache_hits=%d resolved=%d errors=%d rewritten=%d\n",
		s.Resolver.CacheHits, s.Resolver.Resolved, s.Resolver.Errors, s.RewrittenID)
	if s.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", s.Error)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func setCounts(d Direction, dryRun bool) string {
	if dryRun {
		return fmt.Sprintf("%s pending", humanize.Comma(int64(d.Pending)))
	}
	s := fmt.Sprintf("%s set, %s failed", humanize.Comma(int64(d.Set.Succeeded)), humanize.Comma(int64(d.Set.Failed)))
	if d.Set.Skipped > 0 {
		s += fmt.Sprintf(", %s skipped", humanize.Comma(int64(d.Set.Skipped)))
	}
	return s
}

func removalCounts(c CategorySummary, dryRun bool) string {
	if dryRun {
		if c.ToPrimary.PendingRemovals == 0 && c.ToSecondary.PendingRemovals == 0 {
			return ""
		}
		return fmt.Sprintf("pending removals: %s %d, %s %d",
			models.Primary.DisplayName(), c.ToPrimary.PendingRemovals, models.Secondary.DisplayName(), c.ToSecondary.PendingRemovals)
	}
	if c.ToPrimary.Remove.Attempted == 0 && c.ToSecondary.Remove.Attempted == 0 {
		return ""
	}
	return fmt.Sprintf("removed: %s %d (%d failed), %s %d (%d failed)",
		models.Primary.DisplayName(), c.ToPrimary.Remove.Succeeded, c.ToPrimary.Remove.Failed,
		models.Secondary.DisplayName(), c.ToSecondary.Remove.Succeeded, c.ToSecondary.Remove.Failed)
}

// WriteRuns lists ledger entries newest first, with start times relative to now.
func WriteRuns(w io.Writer, runs []*models.Run, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tSTATUS\tSTARTED\tDURATION\tREVIEWS")
	for _, run := range runs {
		duration := "-"
		if run.FinishedAt() != nil {
			duration = run.Duration().Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			run.Sequence(), run.ID(), run.Status(),
			humanize.RelTime(run.StartedAt(), now, "ago", "from now"),
			duration, run.ReviewsSubmitted())
	}
	return tw.Flush()
}

// WriteRun prints one ledger entry followed by its stored summary.
func WriteRun(w io.Writer, run *models.Run, styled bool) error {
	fmt.Fprintf(w, "Run:      %s\n", run.ID())
	fmt.Fprintf(w, "Sequence: %d\n", run.Sequence())
	fmt.Fprintf(w, "Status:   %s\n", run.Status())
	fmt.Fprintf(w, "Started:  %s (%s)\n", run.StartedAt().Format(time.RFC3339), humanize.Time(run.StartedAt()))
	if run.ErrorMessage() != "" {
		fmt.Fprintf(w, "Error:    %s\n", run.ErrorMessage())
	}
	if run.Summary() == "" {
		return nil
	}

	var summary RunSummary
	if err := json.Unmarshal([]byte(run.Summary()), &summary); err != nil {
		return fmt.Errorf("failed to decode run summary: %w", err)
	}
	fmt.Fprintln(w)
	return WriteSummary(w, &summary, styled)
}
