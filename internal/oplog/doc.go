// Package oplog keeps the bounded, append-only audit trail of engine
// commands issued by agent sessions.
//
// The log is the single shared mutable resource in the coordination
// layer. Appends from independent sessions are serialized through one
// mutex; every read view returns a consistent snapshot taken under the
// same lock, so readers never observe a partially appended record. At
// capacity the oldest entry is evicted first, and the counters
// maintain the invariant totalAppended - totalEvicted = size.
//
// Operations are immutable once appended. The log deep-copies records
// on the way in and on the way out, so neither the producer nor a view
// holder can mutate stored history.
package oplog
