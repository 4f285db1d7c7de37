// ABOUTME: Tool-result linker attaching incoming results to earlier invocation parts.
// ABOUTME: Prefers the newest unanswered invocation, else last write wins on the newest match.

package conversation

import "github.com/2389/coven-sessions/internal/agent"

// LinkResult attaches res to the invocation it answers and returns the turn
// that owns that invocation, or nil when no invocation with the id exists.
//
// Turns are scanned newest to oldest; within an assistant turn, parts are
// scanned in order. The first matching invocation without a result wins. If
// every match already carries a result, the newest match is overwritten.
func LinkResult(turns []*Turn, res *agent.ToolResult) *Turn {
	if res == nil || res.ToolUseID == "" {
		return nil
	}

	var fallback *MessagePart
	var fallbackTurn *Turn

	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Role != RoleAssistant {
			continue
		}
		for _, p := range t.Parts {
			tu := p.ToolUse()
			if tu == nil || tu.ID != res.ToolUseID {
				continue
			}
			if p.Result() == nil {
				p.attach(res)
				return t
			}
			if fallback == nil {
				fallback, fallbackTurn = p, t
			}
		}
	}

	if fallback != nil {
		fallback.attach(res)
		return fallbackTurn
	}
	return nil
}
