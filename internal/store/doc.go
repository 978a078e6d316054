// Package store provides SQLite-backed durable storage for the log collector.
//
// The store is an append-only log of TimedMessages. Each entry has a
// collector-assigned id and an arrival number; the message itself is kept
// as JSON so timestamps survive a restart of the collector and can be
// compared offline.
//
// # Ordering
//
//   - Entries returns arrival order, which is NOT causal order
//   - Causality is derived from timestamps by the collector's report
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
