package repositories

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func createRun(t *testing.T, repo *RunRepository, dryRun bool) *models.Run {
	t.Helper()
	run := models.NewRun(0, dryRun)
	if err := repo.Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	return run
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)

	for want := 1; want <= 3; want++ {
		got, err := NextSequence(db, "runs")
		if err != nil {
			t.Fatalf("NextSequence failed: %v", err)
		}
		if got != want {
			t.Errorf("expected sequence %d, got %d", want, got)
		}
	}

	if _, err := NextSequence(db, "runs; DROP TABLE runs"); err == nil {
		t.Error("expected unknown tables to be rejected")
	}
}

func TestRunRepository(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))

		first := createRun(t, repo, false)
		second := createRun(t, repo, true)

		if first.ID() == "" || first.ID() == second.ID() {
			t.Errorf("expected distinct IDs, got %q and %q", first.ID(), second.ID())
		}
		if first.Sequence() != 1 || second.Sequence() != 2 {
			t.Errorf("expected sequences 1 and 2, got %d and %d", first.Sequence(), second.Sequence())
		}
	})

	t.Run("Get", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		run := createRun(t, repo, true)

		retrieved, err := repo.Get(run.ID())
		if err != nil {
			t.Fatalf("failed to get run: %v", err)
		}
		if retrieved.Sequence() != run.Sequence() || !retrieved.DryRun() || retrieved.Status() != models.RunStatusRunning {
			t.Errorf("unexpected run %+v", retrieved)
		}
		if retrieved.FinishedAt() != nil {
			t.Error("a running run should have no finish time")
		}

		bySeq, err := repo.GetBySequence(run.Sequence())
		if err != nil || bySeq.ID() != run.ID() {
			t.Errorf("GetBySequence = %v, %v", bySeq, err)
		}

		if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		run := createRun(t, repo, false)

		run.SetSummary(`{"sequence":1}`)
		run.SetReviewsSubmitted(2)
		run.Finish(models.RunStatusFailed, "boom")
		if err := repo.Update(run); err != nil {
			t.Fatalf("failed to update run: %v", err)
		}

		retrieved, err := repo.Get(run.ID())
		if err != nil {
			t.Fatalf("failed to get run: %v", err)
		}
		if retrieved.Status() != models.RunStatusFailed || retrieved.ErrorMessage() != "boom" {
			t.Errorf("unexpected status %s / %q", retrieved.Status(), retrieved.ErrorMessage())
		}
		if retrieved.Summary() != `{"sequence":1}` || retrieved.ReviewsSubmitted() != 2 {
			t.Errorf("unexpected summary %q / %d", retrieved.Summary(), retrieved.ReviewsSubmitted())
		}
		if retrieved.FinishedAt() == nil {
			t.Fatal("expected a finish time")
		}
		if retrieved.Duration() < 0 {
			t.Errorf("expected a non-negative duration, got %s", retrieved.Duration())
		}
	})

	t.Run("Delete", func(t *testing.T) {
		runs := NewRunRepository(setupTestDB(t))
		run := createRun(t, runs, false)

		var repo models.Repository[*models.Run] = runs

		if err := repo.Delete(run.ID()); err != nil {
			t.Fatalf("failed to delete run: %v", err)
		}
		if _, err := repo.Get(run.ID()); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected deleted run to be hidden, got %v", err)
		}
		if err := repo.Delete(run.ID()); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected second delete to fail, got %v", err)
		}
		if err := repo.Update(run); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected update of deleted run to fail, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		for i := range 4 {
			run := createRun(t, repo, i%2 == 0)
			if i%2 == 0 {
				run.Finish(models.RunStatusDryRun, "")
			} else {
				run.Finish(models.RunStatusCompleted, "")
			}
			if err := repo.Update(run); err != nil {
				t.Fatalf("failed to update run: %v", err)
			}
		}

		runs, err := repo.List(nil)
		if err != nil {
			t.Fatalf("failed to list runs: %v", err)
		}
		if len(runs) != 4 || runs[0].Sequence() != 4 {
			t.Fatalf("expected 4 runs newest first, got %d", len(runs))
		}

		tests := []struct {
			name     string
			criteria map[string]any
			want     int
		}{
			{"status string", map[string]any{"status": "completed"}, 2},
			{"status typed", map[string]any{"status": models.RunStatusDryRun}, 2},
			{"limit", map[string]any{"limit": 3}, 3},
			{"since future", map[string]any{"since": time.Now().Add(time.Hour)}, 0},
			{"since past", map[string]any{"since": time.Now().Add(-time.Hour)}, 4},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				runs, err := repo.List(tt.criteria)
				if err != nil {
					t.Fatalf("failed to list runs: %v", err)
				}
				if len(runs) != tt.want {
					t.Errorf("expected %d runs, got %d", tt.want, len(runs))
				}
			})
		}

		latest, err := repo.Latest()
		if err != nil || latest.Sequence() != 4 {
			t.Errorf("Latest = %v, %v", latest, err)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		run := models.RestoreRun("", 0, "bogus", false, "", "", 0, time.Now(), nil, time.Now(), time.Now(), nil)
		if err := repo.Create(run); err == nil {
			t.Error("expected validation error for an unknown status")
		}
	})
}

func TestReviewSubmissionRepository(t *testing.T) {
	db := setupTestDB(t)
	runs := NewRunRepository(db)
	repo := NewReviewSubmissionRepository(db)

	t.Run("Empty", func(t *testing.T) {
		_, ok, err := repo.Last()
		if err != nil || ok {
			t.Errorf("expected no submissions, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("Record", func(t *testing.T) {
		run := createRun(t, runs, false)
		older := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		newer := older.AddDate(0, 0, 5)

		if err := repo.Record(run.ID(), []string{"tt0111161"}, older); err != nil {
			t.Fatalf("failed to record submission: %v", err)
		}
		if err := repo.Record(run.ID(), []string{"tt0068646", "tt0071562"}, newer); err != nil {
			t.Fatalf("failed to record submissions: %v", err)
		}
		if err := repo.Record(run.ID(), nil, newer); err != nil {
			t.Errorf("expected empty record to be a no-op, got %v", err)
		}

		last, ok, err := repo.Last()
		if err != nil || !ok || !last.Equal(newer) {
			t.Errorf("Last = %v, %v, %v; want %v", last, ok, err, newer)
		}

		n, err := repo.CountSince(older.Add(time.Hour))
		if err != nil || n != 2 {
			t.Errorf("CountSince = %d, %v; want 2", n, err)
		}
	})

	t.Run("Unknown run", func(t *testing.T) {
		if err := repo.Record("missing-run", []string{"tt0111161"}, time.Now()); err == nil {
			t.Error("expected foreign key violation for an unknown run")
		}
	})
}
