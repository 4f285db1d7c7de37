// ABOUTME: Shared builders and fakes for conversation tests
// ABOUTME: Provides update constructors, a scripted transport and an event recorder

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-sessions/internal/agent"
)

func assistantText(id, text string) *agent.Update {
	return &agent.Update{
		Type:    agent.UpdateAssistant,
		UUID:    id,
		Role:    "assistant",
		Content: []agent.Fragment{agent.TextFragment(text)},
	}
}

func assistantToolUse(id, toolID, name, input string) *agent.Update {
	return &agent.Update{
		Type:    agent.UpdateAssistant,
		UUID:    id,
		Role:    "assistant",
		Content: []agent.Fragment{agent.ToolUseFragment(toolID, name, json.RawMessage(input))},
	}
}

func userToolResult(id, toolID, text string, isError bool) *agent.Update {
	return &agent.Update{
		Type:    agent.UpdateUser,
		UUID:    id,
		Role:    "user",
		Content: []agent.Fragment{agent.ToolResultFragment(toolID, text, isError)},
	}
}

func initUpdate(sessionID string, tools ...string) *agent.Update {
	return &agent.Update{
		Type:      agent.UpdateSystem,
		Subtype:   agent.SubtypeInit,
		SessionID: sessionID,
		Tools:     tools,
		Model:     "claude-test",
	}
}

func resultUpdate(sessionID string, cost float64) *agent.Update {
	return &agent.Update{
		Type:         agent.UpdateResult,
		Subtype:      "success",
		SessionID:    sessionID,
		TotalCostUSD: &cost,
		NumTurns:     1,
	}
}

func todoInput(items ...string) string {
	todos := make([]TodoItem, 0, len(items))
	for _, it := range items {
		todos = append(todos, TodoItem{Content: it, Status: "pending"})
	}
	data, _ := json.Marshal(map[string]any{"todos": todos})
	return string(data)
}

func readInput(path string) string {
	return fmt.Sprintf(`{"file_path":%q}`, path)
}

// turnsOf renders updates and links their results the way a session does.
func turnsOf(updates ...*agent.Update) []*Turn {
	var turns []*Turn
	for _, u := range updates {
		for _, f := range u.Content {
			if f.Kind == agent.FragmentToolResult {
				LinkResult(turns, f.ToolResult)
			}
		}
		if t, ok := TurnFromUpdate(u); ok {
			turns = append(turns, t)
		}
	}
	return turns
}

// scriptedTransport streams a fixed list of items per query.
type scriptedTransport struct {
	mu       sync.Mutex
	scripts  [][]agent.StreamItem
	queries  []*agent.QueryRequest
	queryErr error

	history      map[string][]*agent.Update
	historyErr   error
	historyCalls int
	historyGate  chan struct{}

	// gate, when set, blocks each stream after the item at index gateAt
	// until it is closed or the query context ends.
	gate   chan struct{}
	gateAt int
}

func (tr *scriptedTransport) Query(ctx context.Context, req *agent.QueryRequest) (<-chan agent.StreamItem, error) {
	tr.mu.Lock()
	tr.queries = append(tr.queries, req)
	if tr.queryErr != nil {
		tr.mu.Unlock()
		return nil, tr.queryErr
	}
	var items []agent.StreamItem
	if len(tr.scripts) > 0 {
		items = tr.scripts[0]
		tr.scripts = tr.scripts[1:]
	}
	gate, gateAt := tr.gate, tr.gateAt
	tr.mu.Unlock()

	out := make(chan agent.StreamItem)
	go func() {
		defer close(out)
		for i, item := range items {
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
			if gate != nil && i == gateAt {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (tr *scriptedTransport) History(ctx context.Context, id string) ([]*agent.Update, error) {
	tr.mu.Lock()
	tr.historyCalls++
	gate := tr.historyGate
	tr.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if tr.historyErr != nil {
		return nil, tr.historyErr
	}
	return tr.history[id], nil
}

func items(updates ...*agent.Update) []agent.StreamItem {
	out := make([]agent.StreamItem, 0, len(updates))
	for _, u := range updates {
		out = append(out, agent.StreamItem{Update: u})
	}
	return out
}

// eventLog records every event delivered to a listener.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(evt Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	return nil
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func (l *eventLog) count(typ EventType) int {
	n := 0
	for _, e := range l.all() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (l *eventLog) ofType(typ EventType) []Event {
	var out []Event
	for _, e := range l.all() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func newTestSession(t *testing.T, tr agent.Transport, opts ...Option) (*Session, *eventLog) {
	t.Helper()
	s, err := NewSession(tr, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	log := &eventLog{}
	_, err = s.Subscribe(log.listen)
	require.NoError(t, err)
	log.reset()
	return s, log
}
