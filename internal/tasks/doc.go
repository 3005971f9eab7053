// Package tasks orchestrates a sync run between the primary and secondary services with real-time progress reporting.
//
// # Phases
//
// [SyncEngine.Run] moves through a fixed sequence of [Phase] values:
//
//  1. [FetchPrimary], [FetchSecondary] : snapshot every enabled category on both sides
//  2. [ResolveIDs] : rewrite outdated IDs through the run-scoped [IDResolver]
//  3. [BuildPlan] : reconcile the snapshots into a [reconcile.SyncPlan]
//  4. [ApplyCapsAndLimits] : drop additions to full lists and hold reviews back while the review guard is active
//  5. [Dispatch] : apply each category, primary before secondary, sets before removals
//  6. [Summarize] : report and record the [formatter.RunSummary]
//
// A failure while fetching or resolving skips only that category. Per-item
// failures are logged and counted but never stop the run. A cancelled context
// aborts the run (status aborted) and a recovered panic fails it; both services
// are closed either way.
//
// [SyncEngine.Plan] runs the first four phases only and never touches the ledger.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
//
// # Ledger
//
// The optional [RunLedger] and [ReviewLedger] (repositories.RunRepository and
// repositories.ReviewSubmissionRepository) record each run and the reviews it submitted.
// Ledger errors are logged and never fail a run.
package tasks
