// Package agent defines the wire-level vocabulary spoken by the external
// streaming agent.
//
// # Overview
//
// Everything the agent emits arrives as newline-delimited JSON records. This
// package is the single normalization boundary: Decode turns one record into
// an *Update, a closed variant keyed by UpdateType, and every content block
// into a Fragment keyed by FragmentKind. Nothing past this package inspects
// raw JSON shapes.
//
// # Update Types
//
//   - user: prompts and echoed tool results
//   - assistant: text, thinking and tool invocations, plus a usage report
//   - system: session initialization (tool inventory, model, cwd)
//   - result: terminal record for one query (cost, context window, errors)
//   - stream_event: partial streaming deltas, ignored by the renderer
//
// # Transport
//
// Transport is the collaborator interface the conversation engine drives:
//
//	stream, err := transport.Query(ctx, &agent.QueryRequest{Prompt: update})
//	for item := range stream {
//	    if item.Err != nil { ... }
//	    handle(item.Update)
//	}
//
// History returns the full recorded update list for a remote conversation id
// (empty when the id is unknown).
//
// # Replay
//
// Replay is a Transport that streams a scripted list of updates, typically
// captured from a real session with ReadScript. It serves the CLI and tests;
// its History call is delegated to a HistorySource such as the on-disk log
// store or the SQLite ledger.
package agent
