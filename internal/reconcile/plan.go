package reconcile

import (
	"slices"

	"github.com/desertthunder/reelsync/internal/models"
)

// Plan is the pending work for one category.
type Plan struct {
	Category            models.Category `json:"category"`
	ToPrimary           []models.Record `json:"to_primary"`
	ToSecondary         []models.Record `json:"to_secondary"`
	RemoveFromPrimary   []models.Record `json:"remove_from_primary"`
	RemoveFromSecondary []models.Record `json:"remove_from_secondary"`
}

// Sets returns the pending "set" list destined for svc.
func (p *Plan) Sets(svc models.Service) []models.Record {
	if svc == models.Primary {
		return p.ToPrimary
	}
	return p.ToSecondary
}

// Removals returns the pending removal list for svc.
func (p *Plan) Removals(svc models.Service) []models.Record {
	if svc == models.Primary {
		return p.RemoveFromPrimary
	}
	return p.RemoveFromSecondary
}

// DropSets discards every pending set destined for svc and reports how many were dropped.
func (p *Plan) DropSets(svc models.Service) int {
	var n int
	if svc == models.Primary {
		n, p.ToPrimary = len(p.ToPrimary), nil
	} else {
		n, p.ToSecondary = len(p.ToSecondary), nil
	}
	return n
}

// Total counts every pending operation.
func (p *Plan) Total() int {
	if p == nil {
		return 0
	}
	return len(p.ToPrimary) + len(p.ToSecondary) + len(p.RemoveFromPrimary) + len(p.RemoveFromSecondary)
}

func (p *Plan) normalize() {
	p.ToPrimary = SortByAdded(Dedup(p.ToPrimary))
	p.ToSecondary = SortByAdded(Dedup(p.ToSecondary))
	p.RemoveFromPrimary = SortByAdded(Dedup(p.RemoveFromPrimary))
	p.RemoveFromSecondary = SortByAdded(Dedup(p.RemoveFromSecondary))
}

// Pair holds both sides of one category.
type Pair struct {
	Primary   models.Snapshot
	Secondary models.Snapshot
}

// SyncPlan is the full set of plans for a run, in dispatch order.
type SyncPlan struct {
	Plans []*Plan `json:"plans"`
	// Snapshots are the inputs as the engine saw them: normalized, with
	// mark-rated-as-watched entries merged into history.
	Snapshots map[models.Category]Pair `json:"-"`
}

// For returns the plan for cat, or an empty plan when cat was not planned.
func (s *SyncPlan) For(cat models.Category) *Plan {
	if s != nil {
		for _, p := range s.Plans {
			if p.Category == cat {
				return p
			}
		}
	}
	return &Plan{Category: cat}
}

// Total counts every pending operation across categories.
func (s *SyncPlan) Total() int {
	var n int
	for _, p := range s.Plans {
		n += p.Total()
	}
	return n
}

// Dedup keeps the first record for each ExternalID. Records without an ID are kept as-is.
func Dedup(records []models.Record) []models.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if r.Resolvable() {
			if _, dup := seen[r.ExternalID]; dup {
				continue
			}
			seen[r.ExternalID] = struct{}{}
		}
		out = append(out, r)
	}
	return out
}

// SortByAdded returns records ordered by AddedAt ascending; equal timestamps keep their order.
func SortByAdded(records []models.Record) []models.Record {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b models.Record) int { return a.AddedAt.Compare(b.AddedAt) })
	return out
}

// Missing returns the records of from whose ExternalID does not appear in to.
func Missing(from, to models.Snapshot) []models.Record {
	have := to.IDs()
	var out []models.Record
	for _, r := range from.Records() {
		if !r.Resolvable() {
			continue
		}
		if _, ok := have[r.ExternalID]; !ok {
			out = append(out, r)
		}
	}
	return SortByAdded(Dedup(out))
}

// Diff computes what each side lacks: ToSecondary holds primary records missing
// on the secondary side and ToPrimary the reverse.
func Diff(primary, secondary models.Snapshot) Plan {
	return Plan{
		Category:    primary.Category,
		ToPrimary:   Missing(secondary, primary),
		ToSecondary: Missing(primary, secondary),
	}
}
