// Package core implements the bulk catalog import pipeline.
//
// An uploaded CSV moves through a fixed sequence of stages, all independent
// of any transport. Web handlers, the importctl CLI and tests drive it through
// [Service].
//
// # Pipeline
//
//  1. [Parse] reads the header row and data records, enforcing row and byte
//     limits and rejecting input that is not text.
//  2. [InferMapping] proposes a header-to-field mapping against the
//     [Schema] using exact, alias, substring and fuzzy tiers.
//  3. [Validate] coerces each record into typed [Value]s and attaches
//     [FieldError]s. It is deterministic for a given mapping and record.
//  4. A [Session] stages the rows. Remap and EditRow revalidate and swap the
//     new state in atomically; concurrent mutations fail with
//     [ErrSessionBusy] instead of waiting.
//  5. [CommitEngine] writes valid rows to a [Catalog] in create, update or
//     upsert mode, matching existing items by [MatchStrategy]. Row failures
//     go into the [CommitReport] and never abort the commit.
//  6. [ExportErrors] writes the invalid rows back out as CSV.
//
// # Sessions
//
// Sessions live in a [SessionStore]. With a [SnapshotStore] configured every
// mutation is persisted before it is applied, and sessions evicted from
// memory are rebuilt from their snapshot on the next access. Idle sessions
// are expired by [Service.StartSessionSweeper].
//
// # Error Handling
//
// Operations return the sentinel errors in errors.go, usually wrapped with
// detail. [MapError] turns any error into a [UserMessage] with a support code
// (IMP, DB, UPL, RATE, ERR000).
package core
