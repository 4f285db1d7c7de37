// Package store provides the persistent session ledger using SQLite.
//
// # Architecture
//
// The store package defines two interfaces:
//
//   - Store: the append-only ledger of updates applied by each session
//   - UsageStore: token and cost snapshots per session
//
// SQLiteStore implements both in a single struct backed by modernc.org/sqlite
// (pure Go, no cgo).
//
// # Data Models
//
//   - Session: a local session, its remote conversation id, title and model
//   - Fragment: one encoded update, in append order
//   - UsageRecord: the usage totals of a session at a point in time
//
// # Recording and Replay
//
// SQLiteStore satisfies the session Recorder, so every update a session
// applies is appended before it is processed. It also satisfies
// agent.HistorySource: History decodes the recorded fragments of every local
// session bound to a remote conversation, which lets a session be reloaded
// from the ledger alone.
//
// # Schema
//
// Tables are created on open if missing. Timestamps are stored as RFC 3339
// text in UTC. WAL mode is enabled for concurrent readers.
package store
