// Package ui implements a live terminal view of a sync run using bubbletea's Elm architecture.
//
// The TUI moves through three views:
//  1. [SyncView] : spinner, current phase, a progress bar for the running job and the latest item lines
//  2. [ResultView] : one entry per category with its per-direction counts
//  3. [FailuresView] : the items that failed in the selected category
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the [tasks.Engine], providing non-blocking status reporting during the run.
// Quitting while the run is in progress cancels it; the view waits for the engine to stop before exiting.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
