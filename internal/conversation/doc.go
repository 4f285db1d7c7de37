// Package conversation holds the conversation state of a streaming agent
// session and keeps a renderable history in sync with it.
//
// # Overview
//
// A Session owns one conversation. It appends every update it receives to a
// canonical history of turns, derives a display snapshot from that history,
// and notifies listeners with fine-grained events describing each change.
//
//	s, err := conversation.NewSession(transport, conversation.WithLogger(logger))
//	subID, err := s.Subscribe(func(evt conversation.Event) error { ... })
//	res := s.Send(ctx, "list the repo", nil)
//
// # Pipeline
//
// Each update runs through the same steps, one update at a time:
//
//   - record: the raw update is handed to the Recorder, if any
//   - aggregates: todos, tool inventory, usage and summary are updated
//   - link: tool results are attached to the invocation they answer
//   - render: the update becomes a Turn and is appended
//   - coalesce: runs of single-file reads collapse into one synthetic turn
//   - diff: the new snapshot is compared with the previous one
//   - fan-out: events are delivered to listeners in emission order
//
// # Loading
//
// Load replaces the history with the recorded history of a remote
// conversation. Per-turn events are suppressed during the replay; listeners
// receive one messages_loaded event followed by the aggregate changes.
//
// # Manager
//
// Manager tracks the sessions of one process and reaps sessions that were
// released without ever producing history.
package conversation
