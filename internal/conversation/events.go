// ABOUTME: Notification events delivered to session listeners.
// ABOUTME: One Event per discrete change, delivered in emission order per session.

package conversation

import (
	"time"

	"github.com/2389/coven-sessions/internal/agent"
)

// EventType names a notification.
type EventType string

const (
	EventSessionInfo       EventType = "session_info"
	EventMessagesLoaded    EventType = "messages_loaded"
	EventUsageUpdated      EventType = "usage_updated"
	EventTodosUpdated      EventType = "todos_updated"
	EventToolsUpdated      EventType = "tools_updated"
	EventMessageAdded      EventType = "message_added"
	EventMessageUpdated    EventType = "message_updated"
	EventMessageRemoved    EventType = "message_removed"
	EventToolResultUpdated EventType = "tool_result_updated"
)

// SessionInfo is the payload of EventSessionInfo.
type SessionInfo struct {
	ID             string
	ConversationID string
	TurnCount      int
	Active         bool
	Loading        bool
	Error          string
	UpdatedAt      time.Time
	Summary        Summary
}

// Event is one notification. Only the fields relevant to Type are set:
//
//   - EventSessionInfo: Info
//   - EventMessagesLoaded: Turns
//   - EventUsageUpdated: Usage
//   - EventTodosUpdated: Todos
//   - EventToolsUpdated: Tools
//   - EventMessageAdded, EventMessageUpdated: Turn
//   - EventMessageRemoved: TurnID
//   - EventToolResultUpdated: TurnID, ToolUseID, Result
type Event struct {
	Type      EventType
	SessionID string

	Info      *SessionInfo
	Turns     []*Turn
	Turn      *Turn
	TurnID    string
	ToolUseID string
	Result    *agent.ToolResult
	Usage     *Usage
	Todos     []TodoItem
	Tools     []string
}

// Listener receives session events. An error returned during the initial
// delivery made by Subscribe rolls the subscription back; errors returned
// from later deliveries are logged and otherwise ignored. A listener is
// never called concurrently with itself for one subscription.
type Listener func(Event) error
