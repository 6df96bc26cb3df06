// Package store holds tree state.
//
// Store is the in-memory state store: a flat map from NodeID to NodeRecord.
// It is exclusively owned by the runtime, which mutates it only inside an
// update cycle bracketed by Begin and Commit (or Rollback). The journal kept
// between those calls records the pre-image of every touched record, so a
// rolled-back write leaves no trace and a committed write reports exactly
// which records changed.
//
// Archive is the durable side: an append-only SQLite log of snapshots.
//
// # Archive database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Archive ordering uses the seq column (a logical counter), never timestamps.
// Bodies are canonical JSON compressed with brotli and verified against the
// stored digest on read.
package store
