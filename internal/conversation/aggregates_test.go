// ABOUTME: Tests for the aggregates tracker
// ABOUTME: Covers todo replacement, tool inventory, usage policy, summary, and bulk latching

package conversation

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-sessions/internal/agent"
)

func TestAggregates_TodosReplaceAndGate(t *testing.T) {
	a := NewAggregates("")

	c := a.Observe(assistantToolUse("a-1", "tu-1", DefaultTodoTool, todoInput("write tests", "ship")))
	assert.True(t, c.Todos)

	want := []TodoItem{{Content: "write tests", Status: "pending"}, {Content: "ship", Status: "pending"}}
	if diff := cmp.Diff(want, a.Todos()); diff != "" {
		t.Errorf("todos mismatch (-want +got):\n%s", diff)
	}

	c = a.Observe(assistantToolUse("a-2", "tu-2", DefaultTodoTool, todoInput("write tests", "ship")))
	assert.False(t, c.Todos, "identical list is not a change")

	c = a.Observe(assistantToolUse("a-3", "tu-3", DefaultTodoTool, todoInput("ship")))
	assert.True(t, c.Todos)
	assert.Len(t, a.Todos(), 1)
}

func TestAggregates_TodosIgnoreOtherTools(t *testing.T) {
	a := NewAggregates("Plan")

	c := a.Observe(assistantToolUse("a-1", "tu-1", DefaultTodoTool, todoInput("x")))
	assert.False(t, c.Todos)

	c = a.Observe(assistantToolUse("a-2", "tu-2", "Plan", `{"todos":"not a list"}`))
	assert.False(t, c.Todos)

	c = a.Observe(assistantToolUse("a-3", "tu-3", "Plan", todoInput("y")))
	assert.True(t, c.Todos)
}

func TestAggregates_Tools(t *testing.T) {
	a := NewAggregates("")

	assert.True(t, a.Observe(initUpdate("s-1", "Read", "Bash")).Tools)
	assert.False(t, a.Observe(initUpdate("s-1", "Read", "Bash")).Tools)
	assert.True(t, a.Observe(initUpdate("s-1", "Read")).Tools)
	assert.Equal(t, []string{"Read"}, a.Tools())

	s := a.Summary()
	assert.Equal(t, "claude-test", s.Model)
}

func TestAggregates_UsageReplacesPerReport(t *testing.T) {
	a := NewAggregates("")

	first := assistantText("a-1", "one")
	first.Usage = &agent.Usage{InputTokens: 100, OutputTokens: 20, CacheReadTokens: 5}
	assert.True(t, a.Observe(first).Usage)
	assert.Equal(t, int64(125), a.Usage().TotalTokens)

	second := assistantText("a-2", "two")
	second.Usage = &agent.Usage{InputTokens: 150, OutputTokens: 10}
	assert.True(t, a.Observe(second).Usage)
	assert.Equal(t, int64(160), a.Usage().TotalTokens, "each report replaces the running total")

	same := assistantText("a-3", "three")
	same.Usage = &agent.Usage{InputTokens: 150, OutputTokens: 10}
	assert.False(t, a.Observe(same).Usage)
}

func TestAggregates_ResultSetsCostAndWindow(t *testing.T) {
	a := NewAggregates("")

	res := resultUpdate("s-1", 0.25)
	res.ModelUsage = map[string]agent.ModelUsage{"claude-test": {ContextWindow: 200000}}
	res.DurationMS = 1500

	assert.True(t, a.Observe(res).Usage)
	u := a.Usage()
	assert.InDelta(t, 0.25, u.TotalCostUSD, 1e-9)
	assert.Equal(t, int64(200000), u.ContextWindow)
	assert.Equal(t, int64(1500), a.Summary().DurationMS)
	assert.Equal(t, 1, a.Summary().NumTurns)
}

func TestAggregates_TitleFromFirstUserText(t *testing.T) {
	a := NewAggregates("")

	a.Observe(userToolResult("u-0", "tu-0", "ignored", false))
	a.Observe(&agent.Update{Type: agent.UpdateUser, Content: []agent.Fragment{agent.TextFragment("  fix   the\nbuild ")}})
	a.Observe(&agent.Update{Type: agent.UpdateUser, Content: []agent.Fragment{agent.TextFragment("second")}})

	assert.Equal(t, "fix the build", a.Summary().Title)
}

func TestAggregates_BulkLatchesOnce(t *testing.T) {
	a := NewAggregates("")
	a.BeginBulk()

	todoCalls := 0
	for i := 0; i < 500; i++ {
		var u *agent.Update
		switch i {
		case 10, 200, 450:
			todoCalls++
			u = assistantToolUse(fmt.Sprintf("a-%d", i), fmt.Sprintf("tu-%d", i), DefaultTodoTool, todoInput(fmt.Sprintf("step %d", i)))
		default:
			u = assistantText(fmt.Sprintf("a-%d", i), "filler")
		}
		c := a.Observe(u)
		require.False(t, c.Any(), "no change escapes while latching")
	}

	c := a.EndBulk()
	assert.Equal(t, 3, todoCalls)
	assert.True(t, c.Todos)
	assert.False(t, c.Tools)
	assert.Equal(t, "step 450", a.Todos()[0].Content)

	assert.False(t, a.EndBulk().Any(), "latched changes are flushed exactly once")
}

func TestAggregates_Reset(t *testing.T) {
	a := NewAggregates("")
	a.Observe(initUpdate("s-1", "Read"))
	a.Observe(assistantToolUse("a-1", "tu-1", DefaultTodoTool, todoInput("x")))

	c := a.Reset()
	assert.True(t, c.Todos)
	assert.True(t, c.Tools)
	assert.False(t, c.Usage)
	assert.Empty(t, a.Todos())
	assert.Empty(t, a.Tools())
	assert.Equal(t, Summary{}, a.Summary())
}
