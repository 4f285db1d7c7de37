// ABOUTME: Read-coalescer merging runs of successful single-read assistant turns.
// ABOUTME: Operates on derived snapshots only; the canonical history is never rewritten.

package conversation

import (
	"encoding/json"
	"fmt"

	"github.com/2389/coven-sessions/internal/agent"
)

const (
	// DefaultReadTool is the tool whose successful runs are coalesced.
	DefaultReadTool = "Read"

	coalescedSuffix = "-Coalesced"
)

// CoalesceReads collapses every run of two or more consecutive read turns
// into one synthetic turn. Turns that are not part of such a run pass through
// unchanged. The input slice is not modified.
func CoalesceReads(turns []*Turn, readTool string) []*Turn {
	return coalesce(turns, readTool, nil)
}

// Coalescer is a CoalesceReads that remembers the synthetic turns it built,
// so a run whose members are unchanged yields the same *Turn next time.
// Keeping reference identity stable stops the differ from reporting
// untouched coalesced turns as updated.
type Coalescer struct {
	readTool string
	cache    map[string]cachedRun
}

type cachedRun struct {
	members []*Turn
	turn    *Turn
}

// NewCoalescer creates a Coalescer for the given read tool name.
func NewCoalescer(readTool string) *Coalescer {
	if readTool == "" {
		readTool = DefaultReadTool
	}
	return &Coalescer{readTool: readTool, cache: make(map[string]cachedRun)}
}

// Apply coalesces turns, reusing synthetic turns from the previous call when
// their runs are identical.
func (c *Coalescer) Apply(turns []*Turn) []*Turn {
	next := make(map[string]cachedRun)
	out := coalesce(turns, c.readTool, func(run []*Turn) *Turn {
		first := run[0].ID
		if prev, ok := c.cache[first]; ok && sameMembers(prev.members, run) {
			next[first] = prev
			return prev.turn
		}
		synthetic := buildCoalesced(run, c.readTool)
		next[first] = cachedRun{members: append([]*Turn(nil), run...), turn: synthetic}
		return synthetic
	})
	c.cache = next
	return out
}

// Reset drops every remembered synthetic turn.
func (c *Coalescer) Reset() {
	c.cache = make(map[string]cachedRun)
}

func coalesce(turns []*Turn, readTool string, build func([]*Turn) *Turn) []*Turn {
	if build == nil {
		build = func(run []*Turn) *Turn { return buildCoalesced(run, readTool) }
	}

	out := make([]*Turn, 0, len(turns))
	for i := 0; i < len(turns); {
		if !isCoalescableRead(turns[i], readTool) {
			out = append(out, turns[i])
			i++
			continue
		}
		j := i + 1
		for j < len(turns) && isCoalescableRead(turns[j], readTool) {
			j++
		}
		if j-i >= 2 {
			out = append(out, build(turns[i:j]))
		} else {
			out = append(out, turns[i])
		}
		i = j
	}
	return out
}

// isCoalescableRead reports whether t is an assistant turn holding a single
// read invocation that already carries a non-error result.
func isCoalescableRead(t *Turn, readTool string) bool {
	if t.Role != RoleAssistant || len(t.Parts) != 1 {
		return false
	}
	p := t.Parts[0]
	tu := p.ToolUse()
	if tu == nil || tu.Name != readTool {
		return false
	}
	res := p.Result()
	return res != nil && !res.IsError
}

func buildCoalesced(run []*Turn, readTool string) *Turn {
	first := run[0]
	firstUse := first.Parts[0].ToolUse()

	inputs := make([]json.RawMessage, 0, len(run))
	for _, t := range run {
		in := t.Parts[0].ToolUse().Input
		if len(in) == 0 {
			in = json.RawMessage("null")
		}
		inputs = append(inputs, in)
	}
	input, _ := json.Marshal(inputs)

	part := NewPart(agent.ToolUseFragment(firstUse.ID, readTool+coalescedSuffix, input))
	part.attach(agent.ToolResultFragment(firstUse.ID, fmt.Sprintf("Read %d files", len(run)), false).ToolResult)

	return &Turn{
		ID:              first.ID,
		Role:            RoleAssistant,
		Timestamp:       first.Timestamp,
		Model:           first.Model,
		ParentToolUseID: first.ParentToolUseID,
		Parts:           []*MessagePart{part},
	}
}

func sameMembers(a, b []*Turn) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
