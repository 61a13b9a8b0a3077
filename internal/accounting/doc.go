// Package accounting is the shared low-latency state behind dedup, per-day
// quotas, and recent-title history.
//
// Every mutation (SetNX, IncrDay, AppendRecent) is atomic against the
// backend, so concurrent event pipelines never lose updates for the same
// fingerprint or subscriber. Reads used by the filter engine are batch
// operations: one round trip per candidate set, not one per subscriber.
package accounting
