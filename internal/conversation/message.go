// ABOUTME: Renderable message model: turns, parts, and the mutable tool-result cell.
// ABOUTME: TurnFromUpdate is the total conversion from an agent update to a turn.

package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-sessions/internal/agent"
)

// Role tags the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleResult    Role = "result"
)

// MessagePart wraps exactly one fragment. Its tool-result slot is the only
// mutable field of a rendered turn; it is written by the linker.
type MessagePart struct {
	Fragment agent.Fragment
	result   *agent.ToolResult
}

// NewPart wraps a fragment in a part with an empty result slot.
func NewPart(f agent.Fragment) *MessagePart {
	return &MessagePart{Fragment: f}
}

// Result returns the attached tool result, or nil.
func (p *MessagePart) Result() *agent.ToolResult {
	return p.result
}

func (p *MessagePart) attach(r *agent.ToolResult) {
	p.result = r
}

// ToolUse returns the invocation carried by the part, or nil.
func (p *MessagePart) ToolUse() *agent.ToolUse {
	if p.Fragment.Kind != agent.FragmentToolUse {
		return nil
	}
	return p.Fragment.ToolUse
}

// Turn is one renderable unit of conversation history.
type Turn struct {
	ID              string
	Role            Role
	Timestamp       time.Time
	Model           string
	ParentToolUseID string
	Parts           []*MessagePart
}

// IsEmpty reports whether the turn has nothing to display: no parts, or only
// echoed tool results. System turns are never empty.
func (t *Turn) IsEmpty() bool {
	if t.Role == RoleSystem {
		return false
	}
	for _, p := range t.Parts {
		if p.Fragment.Kind != agent.FragmentToolResult {
			return false
		}
	}
	return true
}

// Text joins the turn's text fragments.
func (t *Turn) Text() string {
	var texts []string
	for _, p := range t.Parts {
		if p.Fragment.Kind == agent.FragmentText && p.Fragment.Text != "" {
			texts = append(texts, p.Fragment.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// TurnFromUpdate renders an update into a turn. It never fails; ok is false
// when the update is a control record that produces no turn at all (stream
// deltas, session initialization, successful results, log summaries).
//
// An update without a uuid gets a freshly minted id, and one without a
// timestamp gets the current time, so only updates carrying both render
// deterministically.
func TurnFromUpdate(u *agent.Update) (turn *Turn, ok bool) {
	if u == nil {
		return nil, false
	}

	t := &Turn{
		ID:              u.UUID,
		Timestamp:       u.Timestamp,
		Model:           u.Model,
		ParentToolUseID: u.ParentToolUseID,
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	switch u.Type {
	case agent.UpdateStreamEvent, agent.UpdateSummary:
		return nil, false

	case agent.UpdateUser, agent.UpdateAssistant:
		t.Role = Role(u.Type)
		t.Parts = make([]*MessagePart, 0, len(u.Content))
		for _, f := range u.Content {
			t.Parts = append(t.Parts, NewPart(f))
		}

	case agent.UpdateSystem:
		if u.IsInit() {
			return nil, false
		}
		t.Role = RoleSystem
		text := u.Subtype
		if len(u.Content) > 0 {
			for _, f := range u.Content {
				t.Parts = append(t.Parts, NewPart(f))
			}
		} else if text != "" {
			t.Parts = []*MessagePart{NewPart(agent.TextFragment(text))}
		}

	case agent.UpdateResult:
		if !u.IsError {
			return nil, false
		}
		t.Role = RoleResult
		text := u.Result
		if text == "" {
			text = u.Subtype
		}
		t.Parts = []*MessagePart{NewPart(agent.TextFragment(text))}

	default:
		t.Role = Role(u.Type)
	}

	return t, true
}
