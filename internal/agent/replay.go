// ABOUTME: Replay transport that streams scripted updates as if they came from a live agent.
// ABOUTME: Scripts are JSONL captures; history lookups are delegated to a HistorySource.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// Replay is a Transport backed by a fixed script of updates.
type Replay struct {
	script  []*Update
	delay   time.Duration
	history HistorySource
	logger  *slog.Logger
}

// NewReplay creates a replay transport. Each query streams the whole script,
// pausing delay between updates. history may be nil, in which case History
// always returns an empty list.
func NewReplay(script []*Update, delay time.Duration, history HistorySource, logger *slog.Logger) *Replay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replay{
		script:  script,
		delay:   delay,
		history: history,
		logger:  logger.With("component", "replay"),
	}
}

// ReadScript loads a JSONL script. Blank, undecodable and oversized lines
// are skipped.
func ReadScript(path string) ([]*Update, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening script: %w", err)
	}
	defer f.Close()

	var updates []*Update
	_, err = ReadLines(f, MaxLineSize, func(line []byte) error {
		if len(line) == 0 {
			return nil
		}
		if u, err := Decode(line); err == nil {
			updates = append(updates, u)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return updates, nil
}

// Query streams a copy of the script. Each copied update gets a fresh uuid,
// so repeated queries never reuse ids, and its session id is rewritten to
// req.Resume when resuming so the stream stays on one conversation.
func (r *Replay) Query(ctx context.Context, req *QueryRequest) (<-chan StreamItem, error) {
	if req == nil || req.Prompt == nil {
		return nil, fmt.Errorf("prompt is required")
	}

	out := make(chan StreamItem, 16)
	go func() {
		defer close(out)

		for i, u := range r.script {
			if i > 0 && r.delay > 0 {
				select {
				case <-time.After(r.delay):
				case <-ctx.Done():
					return
				}
			}

			item := *u
			item.Raw = nil
			if u.UUID != "" {
				item.UUID = uuid.New().String()
			}
			if req.Resume != "" && u.SessionID != "" {
				item.SessionID = req.Resume
			}

			select {
			case out <- StreamItem{Update: &item}:
			case <-ctx.Done():
				r.logger.Debug("replay cancelled", "delivered", i)
				return
			}
		}
	}()

	return out, nil
}

// History delegates to the configured HistorySource.
func (r *Replay) History(ctx context.Context, conversationID string) ([]*Update, error) {
	if r.history == nil {
		return nil, nil
	}
	return r.history.History(ctx, conversationID)
}
