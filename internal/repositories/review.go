package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/reelsync/internal/shared"
)

// ReviewSubmissionRepository records reviews posted to the secondary service.
//
// The sync engine consults it before submitting reviews so that a run shortly after
// another one does not post the same backlog twice.
type ReviewSubmissionRepository struct {
	db *sql.DB
}

// NewReviewSubmissionRepository creates a repository on db.
func NewReviewSubmissionRepository(db *sql.DB) *ReviewSubmissionRepository {
	return &ReviewSubmissionRepository{db: db}
}

// Record stores one submission per external ID for runID in a single transaction.
func (r *ReviewSubmissionRepository) Record(runID string, externalIDs []string, at time.Time) error {
	if len(externalIDs) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO review_submissions (id, run_id, external_id, submitted_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, id := range externalIDs {
		if _, err := stmt.Exec(shared.GenerateID(), runID, id, at); err != nil {
			return fmt.Errorf("failed to record review submission for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit review submissions: %w", err)
	}
	return nil
}

// Last returns the time of the most recent submission. ok is false when none was ever recorded.
func (r *ReviewSubmissionRepository) Last() (at time.Time, ok bool, err error) {
	var last sql.NullTime
	row := r.db.QueryRow(`SELECT submitted_at FROM review_submissions ORDER BY submitted_at DESC LIMIT 1`)
	switch err := row.Scan(&last); err {
	case nil:
		return last.Time, last.Valid, nil
	case sql.ErrNoRows:
		return time.Time{}, false, nil
	default:
		return time.Time{}, false, fmt.Errorf("failed to query review submissions: %w", err)
	}
}

// CountSince returns how many reviews were submitted at or after since.
func (r *ReviewSubmissionRepository) CountSince(since time.Time) (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM review_submissions WHERE submitted_at >= ?`, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count review submissions: %w", err)
	}
	return n, nil
}
