package tasks

import (
	"fmt"

	"github.com/desertthunder/reelsync/internal/dispatch"
	"github.com/desertthunder/reelsync/internal/formatter"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/reconcile"
	"github.com/dustin/go-humanize"
)

// ProgressUpdate represents a progress event during a sync run.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Run phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Phase is a state of the sync run, in the order the run moves through them.
type Phase int

const (
	FetchPrimary Phase = iota
	FetchSecondary
	ResolveIDs
	BuildPlan
	ApplyCapsAndLimits
	Dispatch
	Summarize
)

func (p Phase) String() string {
	switch p {
	case FetchPrimary:
		return "fetch_primary"
	case FetchSecondary:
		return "fetch_secondary"
	case ResolveIDs:
		return "resolve_ids"
	case BuildPlan:
		return "build_plan"
	case ApplyCapsAndLimits:
		return "apply_caps_and_limits"
	case Dispatch:
		return "dispatch"
	case Summarize:
		return "summarize"
	default:
		return ""
	}
}

func fetchPhase(svc models.Service) Phase {
	if svc == models.Primary {
		return FetchPrimary
	}
	return FetchSecondary
}

func fetchUpdate(svc models.Service, cat models.Category, step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   fetchPhase(svc),
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Fetching %s %s...", svc.DisplayName(), cat.Label()),
	}
}

func fetchedUpdate(snap models.Snapshot, step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   fetchPhase(snap.Service),
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Found %s %s on %s", humanize.Comma(int64(snap.Len())), snap.Category.Label(), snap.Service.DisplayName()),
		Data:    snap,
	}
}

func categoryFailedUpdate(phase Phase, cat models.Category, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   phase,
		Message: fmt.Sprintf("✗ %s skipped: %v", cat.Label(), err),
	}
}

func resolveUpdate(step, total int, cat models.Category) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ResolveIDs,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Resolving %s IDs...", cat.Label()),
	}
}

func planUpdate(plan *reconcile.SyncPlan) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BuildPlan,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Planned %s operations", humanize.Comma(int64(plan.Total()))),
		Data:    plan,
	}
}

func limitsUpdate(plan *reconcile.SyncPlan) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ApplyCapsAndLimits,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("%s operations pending after list caps", humanize.Comma(int64(plan.Total()))),
	}
}

func capUpdate(cat models.Category, size, dropped int) ProgressUpdate {
	return ProgressUpdate{
		Phase: ApplyCapsAndLimits,
		Message: fmt.Sprintf("%s %s is full (%s items); dropped %d additions",
			models.Secondary.DisplayName(), cat.Label(), humanize.Comma(int64(size)), dropped),
	}
}

func reviewGuardUpdate(held int, last string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ApplyCapsAndLimits,
		Message: fmt.Sprintf("Holding %d reviews; last submission was %s", held, last),
	}
}

func jobUpdate(job dispatch.Job) ProgressUpdate {
	verb := "Adding"
	if job.Action == dispatch.Remove {
		verb = "Removing"
	}
	return ProgressUpdate{
		Phase:   Dispatch,
		Total:   len(job.Records),
		Message: fmt.Sprintf("%s %d %s on %s...", verb, len(job.Records), job.Category.Label(), job.Service.DisplayName()),
		Data:    job,
	}
}

func itemUpdate(o dispatch.Outcome) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Dispatch,
		Step:    o.Position,
		Total:   o.Total,
		Message: formatter.ItemLine(o),
		Data:    o,
	}
}

func summaryUpdate(s *formatter.RunSummary) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Summarize,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Run #%d %s with %d failures", s.Sequence, s.Status, s.Failed()),
		Data:    s,
	}
}
