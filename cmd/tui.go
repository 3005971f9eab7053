package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/reelsync/internal/formatter"
	"github.com/desertthunder/reelsync/internal/repositories"
	"github.com/desertthunder/reelsync/internal/services"
	"github.com/desertthunder/reelsync/internal/shared"
	"github.com/desertthunder/reelsync/internal/tasks"
	"github.com/desertthunder/reelsync/internal/ui"
)

const tuiLogPath = "./tmp/reelsync-tui.log"

// syncTUI runs the engine behind the interactive terminal UI.
func (r *Runner) syncTUI(
	ctx context.Context,
	primary, secondary services.Service,
	res tasks.IDResolver,
	opts tasks.Options,
	runs *repositories.RunRepository,
	reviews *repositories.ReviewSubmissionRepository,
) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(tuiLogPath)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	fileLogger.SetLevel(r.logger.GetLevel())
	r.SetLogger(fileLogger)

	engine := tasks.NewSyncEngine(primary, secondary, res, opts, fileLogger)
	if runs != nil {
		engine.UseLedger(runs, reviews)
	}

	model := ui.NewModel(ctx, engine)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	r.persistToken()

	if summary := model.Summary(); summary != nil {
		r.writePlain("Log written to %s\n\n", tuiLogPath)
		if err := formatter.WriteSummary(r.output, summary, r.styled()); err != nil {
			return err
		}
	}
	return model.Err()
}
