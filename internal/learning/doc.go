// Package learning syncs operation records into a vector store so
// agents can retrieve "commands like this conflicted before" context.
//
// Sync is best-effort by contract: a store outage never blocks or rolls
// back the command that produced the record. Failed pushes land in a
// bounded drop-oldest queue drained by a background syncer with
// exponential backoff and rate limiting. Records are keyed by operation
// id, so resubmitting one is a store-level no-op.
//
// Two Store implementations ship: chromem (embedded, pure Go, optional
// persistence) and qdrant (remote, gRPC). An optional NATS relay
// publishes fire-and-forget operation events for external observers.
package learning
