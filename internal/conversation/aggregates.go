// ABOUTME: Aggregates tracker deriving todos, tool inventory, usage and summary from updates.
// ABOUTME: Change notifications are equality-gated and latched while a bulk reload runs.

package conversation

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/2389/coven-sessions/internal/agent"
)

// DefaultTodoTool is the invocation whose input replaces the todo list.
const DefaultTodoTool = "TodoWrite"

const titleMaxRunes = 120

// Usage is the session-wide token and cost rollup.
type Usage struct {
	TotalTokens      int64   `json:"total_tokens"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	TotalCostUSD     float64 `json:"total_cost_usd"`
	ContextWindow    int64   `json:"context_window"`
}

// TodoItem is one entry of the agent's todo list.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

// Summary describes the session as a whole.
type Summary struct {
	Model          string `json:"model,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
	CWD            string `json:"cwd,omitempty"`
	Title          string `json:"title,omitempty"`
	NumTurns       int    `json:"num_turns,omitempty"`
	DurationMS     int64  `json:"duration_ms,omitempty"`
}

// Changes reports which aggregates should be broadcast.
type Changes struct {
	Todos bool
	Tools bool
	Usage bool
}

// Any reports whether at least one aggregate changed.
func (c Changes) Any() bool {
	return c.Todos || c.Tools || c.Usage
}

func (c Changes) merge(o Changes) Changes {
	return Changes{Todos: c.Todos || o.Todos, Tools: c.Tools || o.Tools, Usage: c.Usage || o.Usage}
}

// Aggregates derives session-wide rollups from the update stream. It is not
// safe for concurrent use; the owning Session serializes access.
type Aggregates struct {
	todoTool string

	todos   []TodoItem
	tools   []string
	usage   Usage
	summary Summary

	bulk    bool
	pending Changes
}

// NewAggregates creates an empty tracker. todoTool defaults to DefaultTodoTool.
func NewAggregates(todoTool string) *Aggregates {
	if todoTool == "" {
		todoTool = DefaultTodoTool
	}
	return &Aggregates{todoTool: todoTool}
}

// Observe folds one update into the aggregates and returns the changes that
// should be broadcast now. During bulk mode nothing is returned; changes are
// latched until EndBulk.
func (a *Aggregates) Observe(u *agent.Update) Changes {
	var c Changes

	switch u.Type {
	case agent.UpdateAssistant:
		for _, f := range u.Content {
			if f.Kind != agent.FragmentToolUse || f.ToolUse.Name != a.todoTool {
				continue
			}
			todos, ok := parseTodos(f.ToolUse.Input)
			if !ok {
				continue
			}
			if !todosEqual(a.todos, todos) {
				a.todos = todos
				c.Todos = true
			}
		}
		if u.Usage != nil {
			next := a.usage
			next.TotalTokens = u.Usage.Total()
			next.InputTokens = u.Usage.InputTokens
			next.OutputTokens = u.Usage.OutputTokens
			next.CacheReadTokens = u.Usage.CacheReadTokens
			next.CacheWriteTokens = u.Usage.CacheWriteTokens
			if next != a.usage {
				a.usage = next
				c.Usage = true
			}
		}
		if u.Model != "" {
			a.summary.Model = u.Model
		}

	case agent.UpdateUser:
		if a.summary.Title == "" {
			for _, f := range u.Content {
				if f.Kind == agent.FragmentText && strings.TrimSpace(f.Text) != "" {
					a.summary.Title = truncate(f.Text, titleMaxRunes)
					break
				}
			}
		}

	case agent.UpdateSystem:
		if u.IsInit() {
			if u.Tools != nil && !slices.Equal(a.tools, u.Tools) {
				a.tools = slices.Clone(u.Tools)
				c.Tools = true
			}
			if u.Model != "" {
				a.summary.Model = u.Model
			}
			if u.PermissionMode != "" {
				a.summary.PermissionMode = u.PermissionMode
			}
			if u.CWD != "" {
				a.summary.CWD = u.CWD
			}
		}

	case agent.UpdateResult:
		next := a.usage
		if u.TotalCostUSD != nil {
			next.TotalCostUSD = *u.TotalCostUSD
		}
		if cw := u.ContextWindow(); cw > 0 {
			next.ContextWindow = cw
		}
		if next != a.usage {
			a.usage = next
			c.Usage = true
		}
		if u.NumTurns > 0 {
			a.summary.NumTurns = u.NumTurns
		}
		if u.DurationMS > 0 {
			a.summary.DurationMS = u.DurationMS
		}
	}

	if a.bulk {
		a.pending = a.pending.merge(c)
		return Changes{}
	}
	return c
}

// BeginBulk starts latching change notifications.
func (a *Aggregates) BeginBulk() {
	a.bulk = true
	a.pending = Changes{}
}

// EndBulk stops latching and returns everything latched since BeginBulk.
func (a *Aggregates) EndBulk() Changes {
	c := a.pending
	a.bulk = false
	a.pending = Changes{}
	return c
}

// Reset clears every aggregate. It returns the changes relative to the
// previous state so callers can notify.
func (a *Aggregates) Reset() Changes {
	c := Changes{
		Todos: len(a.todos) > 0,
		Tools: len(a.tools) > 0,
		Usage: (a.usage != Usage{}),
	}
	a.todos = nil
	a.tools = nil
	a.usage = Usage{}
	a.summary = Summary{}
	return c
}

// Todos returns a copy of the current todo list.
func (a *Aggregates) Todos() []TodoItem {
	return slices.Clone(a.todos)
}

// Tools returns a copy of the current tool inventory.
func (a *Aggregates) Tools() []string {
	return slices.Clone(a.tools)
}

// Usage returns the current usage totals.
func (a *Aggregates) Usage() Usage {
	return a.usage
}

// Summary returns the current session summary.
func (a *Aggregates) Summary() Summary {
	return a.summary
}

func parseTodos(input json.RawMessage) ([]TodoItem, bool) {
	var payload struct {
		Todos *[]TodoItem `json:"todos"`
	}
	if err := json.Unmarshal(input, &payload); err != nil || payload.Todos == nil {
		return nil, false
	}
	todos := *payload.Todos
	if todos == nil {
		todos = []TodoItem{}
	}
	return todos, true
}

// todosEqual compares lists by length and pairwise content and status.
func todosEqual(a, b []TodoItem) bool {
	return slices.EqualFunc(a, b, func(x, y TodoItem) bool {
		return x.Content == y.Content && x.Status == y.Status
	})
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-2]) + ".."
}
