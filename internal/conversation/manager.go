// ABOUTME: Manager keeps the set of live sessions keyed by local id and reaps idle ones.
// ABOUTME: Released sessions with no listeners and no history are dropped after a grace period.

package conversation

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-sessions/internal/agent"
)

// ErrSessionNotFound indicates the session id is not managed.
var ErrSessionNotFound = errors.New("session not found")

// ErrManagerClosed indicates the manager no longer opens sessions.
var ErrManagerClosed = errors.New("manager closed")

// Manager owns the live sessions of one process.
type Manager struct {
	transport agent.Transport
	opts      []Option
	grace     time.Duration
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	reapers  map[string]*time.Timer
	closed   bool
}

// NewManager creates a Manager. Every session it opens is built with opts.
func NewManager(transport agent.Transport, logger *slog.Logger, grace time.Duration, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		transport: transport,
		opts:      opts,
		grace:     grace,
		logger:    logger.With("component", "session_manager"),
		sessions:  make(map[string]*Session),
		reapers:   make(map[string]*time.Timer),
	}
}

// Open returns the session with id, creating it if needed. An empty id
// creates a fresh session with a generated id.
func (m *Manager) Open(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if s, ok := m.sessions[id]; ok && id != "" {
		m.stopReaperLocked(id)
		return s, nil
	}

	opts := m.opts
	if id != "" {
		opts = append(append([]Option(nil), m.opts...), WithID(id))
	}
	opts = append(opts, WithLogger(m.logger))
	s, err := NewSession(m.transport, opts...)
	if err != nil {
		return nil, err
	}
	m.sessions[s.ID()] = s

	m.logger.Info("=== SESSION OPENED ===",
		"session_id", s.ID(),
		"total_sessions", len(m.sessions),
	)
	return s, nil
}

// Get returns a managed session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns the status of every managed session, most recently
// updated first.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos
}

// Release tells the manager a caller is done with the session. A session
// that is idle, has no listeners and never produced any history is closed
// once the grace period passes without it being reopened.
func (m *Manager) Release(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if !reapable(s) {
		return nil
	}

	m.stopReaperLocked(id)
	if m.grace <= 0 {
		m.dropLocked(id, s)
		return nil
	}
	m.reapers[id] = time.AfterFunc(m.grace, func() { m.reap(id, s) })
	return nil
}

// Close closes every session and refuses further opens.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for id, s := range m.sessions {
		m.stopReaperLocked(id)
		s.Close()
	}
	clear(m.sessions)
	m.logger.Info("session manager closed")
}

func (m *Manager) reap(id string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.reapers, id)
	if cur, ok := m.sessions[id]; !ok || cur != s || !reapable(s) {
		return
	}
	m.dropLocked(id, s)
}

func (m *Manager) dropLocked(id string, s *Session) {
	delete(m.sessions, id)
	s.Close()
	m.logger.Info("=== SESSION REAPED ===",
		"session_id", id,
		"total_sessions", len(m.sessions),
	)
}

func (m *Manager) stopReaperLocked(id string) {
	if t, ok := m.reapers[id]; ok {
		t.Stop()
		delete(m.reapers, id)
	}
}

func reapable(s *Session) bool {
	info := s.Info()
	return s.Listeners() == 0 &&
		!info.Active &&
		!info.Loading &&
		info.ConversationID == "" &&
		len(s.Turns()) == 0
}
