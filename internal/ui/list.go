package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/reelsync/internal/dispatch"
	"github.com/desertthunder/reelsync/internal/formatter"
	"github.com/desertthunder/reelsync/internal/models"
)

var (
	_ list.Item = categoryItem{}
	_ list.Item = failureItem{}
)

// categoryItem wraps [formatter.CategorySummary] to implement [list.Item].
type categoryItem struct {
	summary formatter.CategorySummary
	dryRun  bool
}

func (i categoryItem) FilterValue() string { return i.summary.Category.Label() }
func (i categoryItem) Title() string       { return i.summary.Category.Label() }
func (i categoryItem) Description() string {
	if i.summary.Error != "" {
		return "error: " + i.summary.Error
	}
	return fmt.Sprintf("→ %s: %s • → %s: %s",
		models.Primary.DisplayName(), directionCounts(i.summary.ToPrimary, i.dryRun),
		models.Secondary.DisplayName(), directionCounts(i.summary.ToSecondary, i.dryRun))
}

// failures lists every failed item of the category with the service it was bound for.
func (i categoryItem) failures() []list.Item {
	var items []list.Item
	for _, svc := range []models.Service{models.Primary, models.Secondary} {
		d := i.summary.Toward(svc)
		for _, f := range append(d.Set.Failures, d.Remove.Failures...) {
			items = append(items, failureItem{failure: f, service: svc})
		}
	}
	return items
}

func directionCounts(d formatter.Direction, dryRun bool) string {
	if dryRun {
		return fmt.Sprintf("%d pending, %d removals", d.Pending, d.PendingRemovals)
	}
	s := fmt.Sprintf("%d set, %d removed, %d failed", d.Set.Succeeded, d.Remove.Succeeded, d.Set.Failed+d.Remove.Failed)
	if d.Dropped > 0 {
		s += fmt.Sprintf(", %d dropped", d.Dropped)
	}
	if d.Held > 0 {
		s += fmt.Sprintf(", %d held", d.Held)
	}
	return s
}

// failureItem wraps [dispatch.Failure] to implement [list.Item].
type failureItem struct {
	failure dispatch.Failure
	service models.Service
}

func (i failureItem) FilterValue() string { return i.failure.Title }
func (i failureItem) Title() string       { return i.failure.Title }
func (i failureItem) Description() string {
	return fmt.Sprintf("%s • %s • %s", i.service.DisplayName(), i.failure.ExternalID, i.failure.Reason)
}
