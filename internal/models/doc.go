// Package models defines the domain types shared by every reelsync component.
//
// # Records and Snapshots
//
//   - [Record] : one media item on one service, keyed by ExternalID (IMDb tt-identifier)
//   - [Value] : the category payload (rating, review text, watch timestamp)
//   - [Snapshot] : an immutable, ordered capture of one service/category pair
//
// A record without an ExternalID is never matched across services; [Record.Resolvable] guards this.
// Snapshot methods return derived snapshots instead of mutating the receiver.
//
// # Persistence
//
// [Run] is the only persisted entity. It implements [Model] and is stored through
// a [Repository] implementation in the repositories package.
package models
