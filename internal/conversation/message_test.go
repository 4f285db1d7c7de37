// ABOUTME: Tests for turn rendering and tool-result linking
// ABOUTME: Covers control records, empty turns, and the link preference rules

package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-sessions/internal/agent"
)

func TestTurnFromUpdate_AssistantParts(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	u := &agent.Update{
		Type:      agent.UpdateAssistant,
		UUID:      "a-1",
		Timestamp: ts,
		Model:     "claude-test",
		Content: []agent.Fragment{
			agent.TextFragment("looking"),
			agent.ToolUseFragment("tu-1", "Read", []byte(readInput("/a"))),
		},
	}

	turn, ok := TurnFromUpdate(u)
	require.True(t, ok)
	assert.Equal(t, "a-1", turn.ID)
	assert.Equal(t, RoleAssistant, turn.Role)
	assert.Equal(t, ts, turn.Timestamp)
	assert.Equal(t, "claude-test", turn.Model)
	require.Len(t, turn.Parts, 2)
	assert.Equal(t, "looking", turn.Text())
	assert.Equal(t, "tu-1", turn.Parts[1].ToolUse().ID)
	assert.Nil(t, turn.Parts[1].Result())
	assert.False(t, turn.IsEmpty())
}

func TestTurnFromUpdate_ControlRecords(t *testing.T) {
	tests := []struct {
		name string
		u    *agent.Update
	}{
		{"nil", nil},
		{"stream event", &agent.Update{Type: agent.UpdateStreamEvent}},
		{"summary", &agent.Update{Type: agent.UpdateSummary}},
		{"init", initUpdate("s-1", "Read")},
		{"successful result", resultUpdate("s-1", 0.01)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn, ok := TurnFromUpdate(tt.u)
			assert.False(t, ok)
			assert.Nil(t, turn)
		})
	}
}

func TestTurnFromUpdate_ErrorResult(t *testing.T) {
	turn, ok := TurnFromUpdate(&agent.Update{
		Type:    agent.UpdateResult,
		UUID:    "r-1",
		Subtype: "error_max_turns",
		IsError: true,
	})
	require.True(t, ok)
	assert.Equal(t, RoleResult, turn.Role)
	assert.Equal(t, "error_max_turns", turn.Text())
}

func TestTurnFromUpdate_FillsMissingIDAndTimestamp(t *testing.T) {
	turn, ok := TurnFromUpdate(&agent.Update{Type: agent.UpdateUser, Content: []agent.Fragment{agent.TextFragment("hi")}})
	require.True(t, ok)
	assert.NotEmpty(t, turn.ID)
	assert.False(t, turn.Timestamp.IsZero())
}

func TestTurnFromUpdate_MintsIDPerCall(t *testing.T) {
	bare := &agent.Update{Type: agent.UpdateUser, Content: []agent.Fragment{agent.TextFragment("hi")}}
	first, ok := TurnFromUpdate(bare)
	require.True(t, ok)
	second, ok := TurnFromUpdate(bare)
	require.True(t, ok)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, bare.UUID, "update must not be mutated")

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	stamped := &agent.Update{Type: agent.UpdateUser, UUID: "u-1", Timestamp: at, Content: bare.Content}
	first, _ = TurnFromUpdate(stamped)
	second, _ = TurnFromUpdate(stamped)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, at, first.Timestamp)
	assert.Equal(t, first.Timestamp, second.Timestamp)
}

func TestTurn_IsEmpty(t *testing.T) {
	echo, ok := TurnFromUpdate(userToolResult("u-1", "tu-1", "ok", false))
	require.True(t, ok)
	assert.True(t, echo.IsEmpty(), "a turn holding only tool results is not rendered")

	sys, ok := TurnFromUpdate(&agent.Update{Type: agent.UpdateSystem, Subtype: "compact_boundary"})
	require.True(t, ok)
	assert.False(t, sys.IsEmpty())

	unknown, ok := TurnFromUpdate(&agent.Update{Type: "mystery"})
	require.True(t, ok)
	assert.True(t, unknown.IsEmpty())
}

func TestLinkResult_AttachesToInvocation(t *testing.T) {
	turns := turnsOf(assistantToolUse("a-1", "tu-1", "Bash", `{"command":"ls"}`))

	owner := LinkResult(turns, agent.ToolResultFragment("tu-1", "file.go", false).ToolResult)
	require.NotNil(t, owner)
	assert.Equal(t, "a-1", owner.ID)
	assert.Equal(t, "file.go", turns[0].Parts[0].Result().Text())
}

func TestLinkResult_NoMatch(t *testing.T) {
	turns := turnsOf(
		assistantToolUse("a-1", "tu-1", "Bash", `{}`),
		&agent.Update{Type: agent.UpdateUser, UUID: "u-1", Content: []agent.Fragment{agent.ToolUseFragment("tu-2", "Bash", nil)}},
	)

	assert.Nil(t, LinkResult(turns, agent.ToolResultFragment("tu-9", "x", false).ToolResult))
	assert.Nil(t, LinkResult(turns, agent.ToolResultFragment("tu-2", "x", false).ToolResult), "user turns are never linked")
	assert.Nil(t, LinkResult(turns, nil))
	assert.Nil(t, turns[0].Parts[0].Result())
}

func TestLinkResult_PrefersUnansweredInvocation(t *testing.T) {
	turns := turnsOf(
		assistantToolUse("a-1", "tu-1", "Bash", `{}`),
		assistantToolUse("a-2", "tu-1", "Bash", `{}`),
	)
	first := agent.ToolResultFragment("tu-1", "first", false).ToolResult
	second := agent.ToolResultFragment("tu-1", "second", false).ToolResult

	assert.Equal(t, "a-2", LinkResult(turns, first).ID)
	assert.Equal(t, "a-1", LinkResult(turns, second).ID)
	assert.Equal(t, "second", turns[0].Parts[0].Result().Text())
	assert.Equal(t, "first", turns[1].Parts[0].Result().Text())
}

func TestLinkResult_LastWriteWins(t *testing.T) {
	turns := turnsOf(assistantToolUse("a-1", "tu-1", "Bash", `{}`))

	LinkResult(turns, agent.ToolResultFragment("tu-1", "old", false).ToolResult)
	owner := LinkResult(turns, agent.ToolResultFragment("tu-1", "new", true).ToolResult)

	require.NotNil(t, owner)
	res := turns[0].Parts[0].Result()
	assert.Equal(t, "new", res.Text())
	assert.True(t, res.IsError)
}
