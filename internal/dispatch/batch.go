// Package dispatch submits planned mutations in throttled batches and reports per-item outcomes.
package dispatch

import "github.com/desertthunder/reelsync/internal/models"

// Partition maps a record to the bucket it is submitted under.
type Partition func(models.Record) string

// ByKind buckets records as "movies", "shows" and "episodes".
func ByKind(r models.Record) string { return r.Kind.Plural() }

// Batch accumulates records grouped by [Partition] until it is flushed.
type Batch struct {
	partition Partition
	groups    map[string][]models.Record
	order     []models.Record
}

// NewBatch creates an empty batch. A nil partition uses [ByKind].
func NewBatch(partition Partition) *Batch {
	if partition == nil {
		partition = ByKind
	}
	return &Batch{partition: partition, groups: make(map[string][]models.Record)}
}

// Add appends r to its group.
func (b *Batch) Add(r models.Record) {
	key := b.partition(r)
	b.groups[key] = append(b.groups[key], r)
	b.order = append(b.order, r)
}

// Len is the total number of records across groups.
func (b *Batch) Len() int { return len(b.order) }

// Groups returns the records keyed by bucket.
func (b *Batch) Groups() map[string][]models.Record { return b.groups }

// Records returns the records in insertion order.
func (b *Batch) Records() []models.Record { return b.order }

func (b *Batch) reset() {
	b.groups = make(map[string][]models.Record)
	b.order = nil
}
