// Package store provides SQLite-backed durable storage for conformance runs.
//
// Each executed scenario becomes one row in runs, with its protocol
// violations and its Sent and Received transfers in child tables. Runs
// started by one CLI invocation share a batch ID.
//
// # Ordering
//
//   - Runs are ordered by seq (insertion order), never by wall-clock time
//   - Child rows are ordered by their ordinal or transfer index
//
// # Identity
//
// Run and batch IDs are UUIDv7 strings from an IDGenerator, so they sort
// by creation time. The transcript digest of a run is stored alongside and
// is the value compared by determinism checks.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
