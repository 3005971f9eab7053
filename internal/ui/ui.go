package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/reelsync/internal/formatter"
	"github.com/desertthunder/reelsync/internal/tasks"
)

// recentLines is how many item lines the sync view keeps on screen.
const recentLines = 8

// ViewState represents the current view in the TUI.
type ViewState int

const (
	SyncView ViewState = iota
	ResultView
	FailuresView
)

// Model represents the TUI application state.
type Model struct {
	ctx    context.Context
	cancel context.CancelFunc
	view   ViewState
	engine tasks.Engine
	width  int
	height int

	spinner      spinner.Model
	bar          progress.Model
	progressChan chan tasks.ProgressUpdate
	done         chan syncResult
	progress     tasks.ProgressUpdate
	recent       []string
	cancelling   bool

	summary    *formatter.RunSummary
	err        error
	categories list.Model
	failures   list.Model

	help help.Model
	keys keyMap
}

// NewModel creates a new TUI model that runs engine when started.
func NewModel(ctx context.Context, engine tasks.Engine) *Model {
	ctx, cancel := context.WithCancel(ctx)
	return &Model{
		ctx:        ctx,
		cancel:     cancel,
		view:       SyncView,
		engine:     engine,
		categories: list.New(nil, list.NewDefaultDelegate(), 0, 0),
		failures:   list.New(nil, list.NewDefaultDelegate(), 0, 0),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.title.UnsetMarginBottom())),
		bar:        progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		help:       help.New(),
		keys:       newKeyMap(),
	}
}

// Summary returns the run summary once the run has finished.
func (m *Model) Summary() *formatter.RunSummary { return m.summary }

// Err returns the error the run finished with.
func (m *Model) Err() error { return m.err }

// Init starts the run and the spinner.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.startSync(), m.spinner.Tick)
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = min(max(msg.Width-4, 10), 80)
		m.categories.SetSize(m.listSize())
		m.failures.SetSize(m.listSize())
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case SyncView:
			return m.handleSyncKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		case FailuresView:
			return m.handleFailuresKeys(msg)
		}

	case spinner.TickMsg:
		if m.view != SyncView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		switch msg.kind {
		case MsgProgressUpdate:
			m.handleProgress(msg.data.(tasks.ProgressUpdate))
			return m, m.waitForProgress()
		case MsgSyncComplete:
			res := msg.data.(syncResult)
			m.finish(res.summary, res.err)
			return m, nil
		}
	}

	return m.updateLists(msg)
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case SyncView:
		return m.renderSync()
	case ResultView:
		return m.renderResult()
	case FailuresView:
		return m.renderFailures()
	default:
		return ""
	}
}

func (m *Model) handleProgress(update tasks.ProgressUpdate) {
	m.progress = update
	if update.Phase == tasks.Dispatch && update.Step > 0 {
		m.recent = append(m.recent, update.Message)
		if len(m.recent) > recentLines {
			m.recent = m.recent[len(m.recent)-recentLines:]
		}
	}
}

func (m *Model) finish(summary *formatter.RunSummary, err error) {
	m.summary = summary
	m.err = err
	m.view = ResultView
	m.progressChan = nil

	var items []list.Item
	if summary != nil {
		for _, c := range summary.Categories {
			items = append(items, categoryItem{summary: c, dryRun: summary.DryRun})
		}
	}
	w, h := m.listSize()
	m.categories = list.New(items, list.NewDefaultDelegate(), w, h)
	m.categories.Title = "Categories"
}

func (m *Model) handleSyncKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.quit) && !m.cancelling {
		m.cancelling = true
		m.cancel()
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		m.cancel()
		return m, tea.Quit
	case key.Matches(msg, m.keys.enter):
		selected, ok := m.categories.SelectedItem().(categoryItem)
		if !ok {
			return m, nil
		}
		w, h := m.listSize()
		m.failures = list.New(selected.failures(), list.NewDefaultDelegate(), w, h)
		m.failures.Title = fmt.Sprintf("Failed %s", selected.summary.Category.Label())
		m.view = FailuresView
		return m, nil
	}

	var cmd tea.Cmd
	m.categories, cmd = m.categories.Update(msg)
	return m, cmd
}

func (m *Model) handleFailuresKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		m.cancel()
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = ResultView
		return m, nil
	}

	var cmd tea.Cmd
	m.failures, cmd = m.failures.Update(msg)
	return m, cmd
}

func (m *Model) listSize() (int, int) {
	return max(m.width-4, 0), max(m.height-8, 0)
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case ResultView:
		m.categories, cmd = m.categories.Update(msg)
	case FailuresView:
		m.failures, cmd = m.failures.Update(msg)
	}
	return m, cmd
}

// startSync runs the engine in the background. The engine owns progressChan's
// sends; the goroutine closes it after handing the result to done.
func (m *Model) startSync() tea.Cmd {
	m.progressChan = make(chan tasks.ProgressUpdate, 50)
	m.done = make(chan syncResult, 1)

	progressChan, done := m.progressChan, m.done
	go func() {
		summary, err := m.engine.Run(m.ctx, progressChan)
		done <- syncResult{summary, err}
		close(progressChan)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progressChan, done := m.progressChan, m.done
	return func() tea.Msg {
		if progressChan != nil {
			if update, ok := <-progressChan; ok {
				return progressUpdateMsg(update)
			}
		}
		res := <-done
		return syncCompleteMsg(res.summary, res.err)
	}
}

func (m *Model) renderSync() string {
	title := styles.title.Render("Syncing Trakt ↔ IMDb")

	phase := fmt.Sprintf("%s %s", m.spinner.View(), phaseLabel(m.progress.Phase))
	if m.cancelling {
		phase += styles.warn.Render(" (stopping...)")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n%s\n", title, phase, m.progress.Message)
	if m.progress.Total > 0 {
		b.WriteString("\n" + m.bar.ViewAs(float64(m.progress.Step)/float64(m.progress.Total)) + "\n")
	}
	for _, line := range m.recent {
		style := styles.help
		if strings.HasPrefix(line, "Failed") {
			style = styles.err
		}
		b.WriteString(style.Render(line) + "\n")
	}

	b.WriteString("\n" + m.help.ShortHelpView([]key.Binding{m.keys.quit}))
	return b.String()
}

func (m *Model) renderResult() string {
	var header string
	switch {
	case m.summary == nil:
		header = styles.err.Render(fmt.Sprintf("Sync failed: %v", m.err))
	default:
		header = statusStyle(m.summary.Status).Render(fmt.Sprintf("Run #%d %s", m.summary.Sequence, m.summary.Status))
		if d := m.summary.Duration(); d > 0 {
			header += styles.help.Render(" in " + d.Round(time.Millisecond).String())
		}
		if m.err != nil {
			header += "\n" + styles.err.Render(m.summary.Error)
		}
	}

	helpKeys := []key.Binding{m.keys.up, m.keys.down, m.keys.enter, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s\n\n%s", header, m.categories.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderFailures() string {
	if len(m.failures.Items()) == 0 {
		helpView := m.help.ShortHelpView([]key.Binding{m.keys.back, m.keys.quit})
		return fmt.Sprintf("%s\n\n%s", styles.ok.Render("✓ No failed items"), helpView)
	}
	helpKeys := []key.Binding{m.keys.up, m.keys.down, m.keys.back, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s", m.failures.View(), m.help.ShortHelpView(helpKeys))
}

func phaseLabel(p tasks.Phase) string {
	switch p {
	case tasks.FetchPrimary:
		return "Fetching from Trakt"
	case tasks.FetchSecondary:
		return "Reading IMDb exports"
	case tasks.ResolveIDs:
		return "Resolving IDs"
	case tasks.BuildPlan:
		return "Building plan"
	case tasks.ApplyCapsAndLimits:
		return "Applying list caps"
	case tasks.Dispatch:
		return "Applying changes"
	case tasks.Summarize:
		return "Summarizing"
	default:
		return "Starting"
	}
}
