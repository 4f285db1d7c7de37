// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides the session ledger with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-sessions/internal/agent"
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const titleMaxLen = 80

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_conversation
			ON sessions(conversation_id);

		CREATE INDEX IF NOT EXISTS idx_sessions_updated
			ON sessions(updated_at DESC);

		CREATE TABLE IF NOT EXISTS fragments (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			conversation_id TEXT NOT NULL DEFAULT '',
			uuid TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_fragments_session
			ON fragments(session_id, seq);

		CREATE TABLE IF NOT EXISTS session_usage (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			conversation_id TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			cache_write_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			total_cost_usd REAL NOT NULL DEFAULT 0,
			context_window INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_session
			ON session_usage(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// RecordUpdate appends u to the ledger of sessionID, creating the session row
// on first use. The session's conversation id, title and model are filled in
// from the first update that carries them.
func (s *SQLiteStore) RecordUpdate(ctx context.Context, sessionID string, u *agent.Update) error {
	payload, err := agent.Encode(u)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}

	now := formatTime(time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO sessions (id, conversation_id, title, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = CASE WHEN excluded.conversation_id != '' THEN excluded.conversation_id ELSE sessions.conversation_id END,
			title = CASE WHEN sessions.title = '' THEN excluded.title ELSE sessions.title END,
			model = CASE WHEN excluded.model != '' THEN excluded.model ELSE sessions.model END,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, upsert,
		sessionID,
		u.SessionID,
		titleOf(u),
		u.Model,
		now,
		now,
	); err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	insert := `
		INSERT INTO fragments (session_id, conversation_id, uuid, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		sessionID,
		u.SessionID,
		u.UUID,
		string(u.Type),
		payload,
		now,
	); err != nil {
		return fmt.Errorf("inserting fragment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing fragment: %w", err)
	}

	s.logger.Debug("recorded update", "session_id", sessionID, "type", u.Type, "uuid", u.UUID)
	return nil
}

// History returns the recorded updates of every local session bound to
// conversationID, in append order. Fragments that no longer decode are
// skipped.
func (s *SQLiteStore) History(ctx context.Context, conversationID string) ([]*agent.Update, error) {
	query := `
		SELECT f.seq, f.payload
		FROM fragments f
		JOIN sessions s ON s.id = f.session_id
		WHERE s.conversation_id = ?
		ORDER BY f.seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var updates []*agent.Update
	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scanning fragment row: %w", err)
		}
		u, err := agent.Decode(payload)
		if err != nil {
			s.logger.Warn("skipping undecodable fragment", "seq", seq, "error", err)
			continue
		}
		updates = append(updates, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fragment rows: %w", err)
	}

	return updates, nil
}

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT s.id, s.conversation_id, s.title, s.model, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM fragments f WHERE f.session_id = s.id)
		FROM sessions s
		WHERE s.id = ?
	`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

// ListSessions retrieves sessions ordered by most recent activity.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT s.id, s.conversation_id, s.title, s.model, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM fragments f WHERE f.session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at DESC, s.rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}

// GetFragments retrieves the most recent fragments of a session, oldest
// first. If limit is 0 or negative, every fragment is returned.
func (s *SQLiteStore) GetFragments(ctx context.Context, sessionID string, limit int) ([]*Fragment, error) {
	query := `
		SELECT seq, session_id, conversation_id, uuid, type, payload, created_at
		FROM (
			SELECT * FROM fragments
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying fragments: %w", err)
	}
	defer rows.Close()

	var fragments []*Fragment
	for rows.Next() {
		var f Fragment
		var typ, createdAtStr string
		if err := rows.Scan(&f.Seq, &f.SessionID, &f.ConversationID, &f.UUID, &typ, &f.Payload, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning fragment row: %w", err)
		}
		f.Type = agent.UpdateType(typ)
		f.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		fragments = append(fragments, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fragment rows: %w", err)
	}

	return fragments, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var createdAtStr, updatedAtStr string

	if err := row.Scan(
		&sess.ID,
		&sess.ConversationID,
		&sess.Title,
		&sess.Model,
		&createdAtStr,
		&updatedAtStr,
		&sess.FragmentCount,
	); err != nil {
		return nil, err
	}

	var err error
	sess.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	sess.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &sess, nil
}

// titleOf returns the first text of a user update, shortened for listings.
func titleOf(u *agent.Update) string {
	if u.Type != agent.UpdateUser {
		return ""
	}
	for _, f := range u.Content {
		if f.Kind != agent.FragmentText {
			continue
		}
		text := strings.Join(strings.Fields(f.Text), " ")
		if text == "" {
			continue
		}
		if runes := []rune(text); len(runes) > titleMaxLen {
			text = string(runes[:titleMaxLen-3]) + "..."
		}
		return text
	}
	return ""
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
