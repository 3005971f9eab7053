package models

import (
	"slices"
	"time"
)

// Snapshot is an ordered, immutable capture of one service's records for one category.
//
// Methods never modify the receiver; transformations return a new Snapshot.
type Snapshot struct {
	Service    Service
	Category   Category
	CapturedAt time.Time
	records    []Record
}

// NewSnapshot captures a copy of records.
func NewSnapshot(svc Service, cat Category, records []Record) Snapshot {
	return Snapshot{
		Service:    svc,
		Category:   cat,
		CapturedAt: time.Now(),
		records:    slices.Clone(records),
	}
}

// Records returns a copy of the snapshot's records.
func (s Snapshot) Records() []Record { return slices.Clone(s.records) }

// Len returns the number of records.
func (s Snapshot) Len() int { return len(s.records) }

// IDs returns the set of resolvable ExternalIDs.
func (s Snapshot) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.records))
	for _, r := range s.records {
		if r.Resolvable() {
			ids[r.ExternalID] = struct{}{}
		}
	}
	return ids
}

// Index maps ExternalID to the first record carrying it.
func (s Snapshot) Index() map[string]Record {
	idx := make(map[string]Record, len(s.records))
	for _, r := range s.records {
		if !r.Resolvable() {
			continue
		}
		if _, ok := idx[r.ExternalID]; !ok {
			idx[r.ExternalID] = r
		}
	}
	return idx
}

// Derive returns a snapshot of the same service and category holding records.
func (s Snapshot) Derive(records []Record) Snapshot {
	return Snapshot{
		Service:    s.Service,
		Category:   s.Category,
		CapturedAt: s.CapturedAt,
		records:    slices.Clone(records),
	}
}

// Map returns a derived snapshot with fn applied to every record.
func (s Snapshot) Map(fn func(Record) Record) Snapshot {
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = fn(r)
	}
	return s.Derive(out)
}
