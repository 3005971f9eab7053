// Package reconcile computes the mutations that bring two accounts into agreement.
//
// Records are matched only by ExternalID. For every category [Diff] yields the
// items each side is missing; [Engine.Build] layers the category rules on top:
//
//   - ratings held on both sides with different values are settled by the later
//     calendar day; same-day conflicts are left alone
//   - reviews shorter than the configured minimum are not copied
//   - rated titles missing from both watch histories can be marked watched (never shows)
//   - watchlist items already watched, or older than a threshold, are removed
//
// Every list in the resulting [SyncPlan] is deduplicated (first occurrence wins)
// and ordered by AddedAt so the same inputs always produce the same plan.
package reconcile
