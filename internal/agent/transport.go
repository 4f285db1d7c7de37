// ABOUTME: Collaborator interface for the external streaming query transport.
// ABOUTME: Defines the request, option set, and stream item types the engine consumes.

package agent

import "context"

// Options is the option set forwarded to the agent with every query.
type Options struct {
	Model          string
	PermissionMode string
	CWD            string
	AllowedTools   []string
	MaxTurns       int
}

// QueryRequest is one outgoing message.
type QueryRequest struct {
	// Resume is the remote conversation id to continue; empty starts a new one.
	Resume  string
	Prompt  *Update
	Options Options
}

// StreamItem is one element of a query stream: an update, or a terminal error.
type StreamItem struct {
	Update *Update
	Err    error
}

// Transport streams agent updates for a query and fetches recorded history.
//
// Query returns a channel that is closed when the stream ends. The stream
// stops early when ctx is cancelled. An item with a non-nil Err is the last
// item delivered.
type Transport interface {
	Query(ctx context.Context, req *QueryRequest) (<-chan StreamItem, error)
	History(ctx context.Context, conversationID string) ([]*Update, error)
}

// HistorySource supplies recorded updates for a remote conversation id.
type HistorySource interface {
	History(ctx context.Context, conversationID string) ([]*Update, error)
}
