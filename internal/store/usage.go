// ABOUTME: SQLite implementation for session usage tracking
// ABOUTME: Stores token and cost snapshots and aggregates them for reporting

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveUsage stores a usage snapshot. A missing ID or timestamp is filled in.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *UsageRecord) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO session_usage (
			id, session_id, conversation_id,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
			total_tokens, total_cost_usd, context_window, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.SessionID,
		usage.ConversationID,
		usage.InputTokens,
		usage.OutputTokens,
		usage.CacheReadTokens,
		usage.CacheWriteTokens,
		usage.TotalTokens,
		usage.TotalCostUSD,
		usage.ContextWindow,
		formatTime(usage.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved session usage",
		"id", usage.ID,
		"session_id", usage.SessionID,
		"total_tokens", usage.TotalTokens,
		"total_cost_usd", usage.TotalCostUSD,
	)
	return nil
}

// GetSessionUsage retrieves all usage snapshots for a session, oldest first.
func (s *SQLiteStore) GetSessionUsage(ctx context.Context, sessionID string) ([]*UsageRecord, error) {
	query := `
		SELECT id, session_id, conversation_id,
		       input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
		       total_tokens, total_cost_usd, context_window, created_at
		FROM session_usage
		WHERE session_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer rows.Close()

	var usages []*UsageRecord
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	return usages, nil
}

// GetUsageStats sums the latest snapshot of every session matching filter.
// Snapshots are cumulative, so only the newest one per session counts.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*) as session_count,
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_cost_usd), 0)
		FROM session_usage u
		WHERE u.created_at = (
			SELECT MAX(created_at) FROM session_usage latest WHERE latest.session_id = u.session_id
		)
	`
	args := []any{}

	if filter.SessionID != nil {
		query += " AND u.session_id = ?"
		args = append(args, *filter.SessionID)
	}
	if filter.Since != nil {
		query += " AND u.created_at >= ?"
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		query += " AND u.created_at < ?"
		args = append(args, formatTime(*filter.Until))
	}

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Sessions,
		&stats.TotalTokens,
		&stats.TotalInput,
		&stats.TotalOutput,
		&stats.TotalCostUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	return &stats, nil
}

// scanUsage scans a single usage row into a UsageRecord struct.
func scanUsage(rows *sql.Rows) (*UsageRecord, error) {
	var usage UsageRecord
	var createdAtStr string

	err := rows.Scan(
		&usage.ID,
		&usage.SessionID,
		&usage.ConversationID,
		&usage.InputTokens,
		&usage.OutputTokens,
		&usage.CacheReadTokens,
		&usage.CacheWriteTokens,
		&usage.TotalTokens,
		&usage.TotalCostUSD,
		&usage.ContextWindow,
		&createdAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}

	usage.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &usage, nil
}

// Ensure SQLiteStore implements UsageStore interface.
var _ UsageStore = (*SQLiteStore)(nil)
