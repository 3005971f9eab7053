// Package repositories implements SQLite persistence for the run ledger.
//
// The ledger records what each sync run did; it never stores resolved IDs or plans,
// so every run starts from fresh snapshots.
//
// Key Implementations:
//   - [RunRepository] : one row per run with status, timings and the JSON summary
//   - [ReviewSubmissionRepository] : secondary-service review submissions, consulted by the review guard
//
// Sequence numbers provide stable, human-readable handles (run #42) independent of UUIDs.
// The [NextSequence] function atomically increments the per-table counter row.
// Runs support soft deletes via deleted_at and are excluded from queries once deleted.
package repositories
