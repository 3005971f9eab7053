package ui

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/reelsync/internal/dispatch"
	"github.com/desertthunder/reelsync/internal/formatter"
	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/desertthunder/reelsync/internal/tasks"
)

type fakeEngine struct {
	updates []tasks.ProgressUpdate
	summary *formatter.RunSummary
	// block waits for cancellation before returning.
	block bool
}

func (e *fakeEngine) Run(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*formatter.RunSummary, error) {
	for _, u := range e.updates {
		progress <- u
	}
	if e.block {
		<-ctx.Done()
		e.summary.Status = models.RunStatusAborted
		e.summary.Error = "run interrupted"
		return e.summary, fmt.Errorf("%w: %v", shared.ErrInterrupted, ctx.Err())
	}
	return e.summary, nil
}

func newSummary() *formatter.RunSummary {
	s := &formatter.RunSummary{Sequence: 7, Status: models.RunStatusCompleted}
	ratings := s.Category(models.Ratings)
	ratings.ToSecondary.Set = dispatch.Report{
		Attempted: 2, Succeeded: 1, Failed: 1,
		Failures: []dispatch.Failure{{ExternalID: "tt0111161", Title: "The Shawshank Redemption (1994)", Reason: "rating button not found"}},
	}
	s.Category(models.Watchlist).Error = "watchlist export not found"
	return s
}

func press(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

// drive feeds the model every message the run produces until it reaches the result view.
func drive(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for m.view == SyncView {
		msgs := make(chan tea.Msg, 1)
		go func() { msgs <- cmd() }()
		select {
		case msg := <-msgs:
			_, cmd = m.Update(msg)
		case <-deadline:
			t.Fatal("run did not finish")
		}
	}
}

func TestModel(t *testing.T) {
	t.Run("progress then result", func(t *testing.T) {
		engine := &fakeEngine{
			updates: []tasks.ProgressUpdate{
				{Phase: tasks.FetchPrimary, Step: 1, Total: 2, Message: "Fetching Trakt ratings..."},
				{Phase: tasks.Dispatch, Step: 1, Total: 2, Message: "Rated movie (1 of 2): Heat (1995) on IMDb ratings (tt0113277)"},
				{Phase: tasks.Dispatch, Step: 2, Total: 2, Message: "Failed movie (2 of 2): The Shawshank Redemption (1994) on IMDb ratings (tt0111161)"},
			},
			summary: newSummary(),
		}
		m := NewModel(context.Background(), engine)
		m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})

		drive(t, m, m.startSync())

		if m.view != ResultView {
			t.Fatalf("expected result view, got %d", m.view)
		}
		if m.Summary() != engine.summary || m.Err() != nil {
			t.Errorf("unexpected result %v / %v", m.Summary(), m.Err())
		}
		if len(m.recent) != 2 {
			t.Errorf("expected 2 recent item lines, got %d", len(m.recent))
		}
		if n := len(m.categories.Items()); n != 2 {
			t.Errorf("expected 2 categories, got %d", n)
		}
		if view := m.View(); !strings.Contains(view, "Run #7 completed") {
			t.Errorf("result view missing header:\n%s", view)
		}

		m.Update(press("enter"))
		if m.view != FailuresView {
			t.Fatalf("expected failures view, got %d", m.view)
		}
		if n := len(m.failures.Items()); n != 1 {
			t.Errorf("expected 1 failure, got %d", n)
		}
		if view := m.View(); !strings.Contains(view, "The Shawshank Redemption") {
			t.Errorf("failures view missing item:\n%s", view)
		}

		m.Update(press("esc"))
		if m.view != ResultView {
			t.Errorf("expected esc to return to results, got %d", m.view)
		}

		_, cmd := m.Update(press("q"))
		if cmd == nil {
			t.Fatal("expected a quit command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Error("expected q to quit from the result view")
		}
	})

	t.Run("quit during sync cancels the run", func(t *testing.T) {
		engine := &fakeEngine{block: true, summary: newSummary()}
		m := NewModel(context.Background(), engine)
		m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
		cmd := m.startSync()

		_, quit := m.Update(press("q"))
		if quit != nil {
			t.Error("quitting mid-run should wait for the engine instead of exiting")
		}
		if !m.cancelling || !strings.Contains(m.View(), "stopping") {
			t.Error("expected the view to show that the run is stopping")
		}

		drive(t, m, cmd)
		if m.Summary().Status != models.RunStatusAborted {
			t.Errorf("expected aborted, got %s", m.Summary().Status)
		}
		if !strings.Contains(m.View(), "run interrupted") {
			t.Errorf("expected the interrupt in the result view:\n%s", m.View())
		}
	})
}

func TestCategoryItem(t *testing.T) {
	s := newSummary()

	ratings := categoryItem{summary: *s.Category(models.Ratings)}
	if got := ratings.Description(); !strings.Contains(got, "→ IMDb: 1 set, 0 removed, 1 failed") {
		t.Errorf("unexpected description %q", got)
	}

	watchlist := categoryItem{summary: *s.Category(models.Watchlist)}
	if got := watchlist.Description(); got != "error: watchlist export not found" {
		t.Errorf("unexpected description %q", got)
	}

	c := s.Category(models.Reviews)
	c.ToSecondary.Pending = 3
	c.ToSecondary.Held = 3
	dry := categoryItem{summary: *c, dryRun: true}
	if got := dry.Description(); !strings.Contains(got, "→ IMDb: 3 pending, 0 removals") {
		t.Errorf("unexpected dry-run description %q", got)
	}
	if got := directionCounts(c.ToSecondary, false); !strings.Contains(got, "3 held") {
		t.Errorf("expected held count, got %q", got)
	}
}
