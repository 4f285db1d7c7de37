// ABOUTME: Store interfaces and data types for coven-sessions persistence
// ABOUTME: Defines the session ledger, recorded fragments and usage rows

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/coven-sessions/internal/agent"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Session is one local session as recorded in the ledger
type Session struct {
	ID             string
	ConversationID string // remote id, empty until the agent assigns one
	Title          string
	Model          string
	FragmentCount  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Fragment is one raw update appended by a session
type Fragment struct {
	Seq            int64
	SessionID      string
	ConversationID string
	UUID           string
	Type           agent.UpdateType
	Payload        []byte // the encoded update
	CreatedAt      time.Time
}

// Store is the session ledger: it records every update a session applies and
// replays them as the history of a remote conversation.
type Store interface {
	// RecordUpdate appends u to the ledger of session sessionID.
	RecordUpdate(ctx context.Context, sessionID string, u *agent.Update) error

	// History returns every recorded update of the remote conversation in
	// append order. Unknown ids yield an empty history.
	History(ctx context.Context, conversationID string) ([]*agent.Update, error)

	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, limit int) ([]*Session, error)
	GetFragments(ctx context.Context, sessionID string, limit int) ([]*Fragment, error)

	Close() error
}

// UsageRecord is a snapshot of a session's token and cost totals
type UsageRecord struct {
	ID               string
	SessionID        string
	ConversationID   string
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	TotalTokens      int64
	TotalCostUSD     float64
	ContextWindow    int64
	CreatedAt        time.Time
}

// UsageFilter narrows usage statistics
type UsageFilter struct {
	SessionID *string
	Since     *time.Time
	Until     *time.Time
}

// UsageStats aggregates the latest usage record of every matching session
type UsageStats struct {
	Sessions     int64
	TotalTokens  int64
	TotalInput   int64
	TotalOutput  int64
	TotalCostUSD float64
}

// UsageStore tracks token and cost usage
type UsageStore interface {
	SaveUsage(ctx context.Context, usage *UsageRecord) error
	GetSessionUsage(ctx context.Context, sessionID string) ([]*UsageRecord, error)
	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)
}
