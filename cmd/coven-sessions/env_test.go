// ABOUTME: Tests for CLI wiring helpers: config fallback, history chaining and event printing
// ABOUTME: Exercises the pieces that do not need a terminal or a real agent

package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-sessions/internal/agent"
	"github.com/2389/coven-sessions/internal/config"
	"github.com/2389/coven-sessions/internal/conversation"
)

type fakeHistory struct {
	updates []*agent.Update
	err     error
	calls   int
}

func (f *fakeHistory) History(context.Context, string) ([]*agent.Update, error) {
	f.calls++
	return f.updates, f.err
}

func TestHistoryChain_FirstNonEmptyWins(t *testing.T) {
	empty := &fakeHistory{}
	full := &fakeHistory{updates: []*agent.Update{{Type: agent.UpdateUser, UUID: "u-1"}}}
	unused := &fakeHistory{updates: []*agent.Update{{Type: agent.UpdateUser, UUID: "u-2"}}}

	got, err := historyChain{empty, full, unused}.History(context.Background(), "conv")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u-1", got[0].UUID)
	assert.Equal(t, 1, empty.calls)
	assert.Equal(t, 0, unused.calls)
}

func TestHistoryChain_ErrorStops(t *testing.T) {
	boom := errors.New("boom")
	later := &fakeHistory{updates: []*agent.Update{{Type: agent.UpdateUser}}}

	_, err := historyChain{&fakeHistory{err: boom}, later}.History(context.Background(), "conv")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, later.calls)
}

func TestHistoryChain_AllEmpty(t *testing.T) {
	got, err := historyChain{&fakeHistory{}, &fakeHistory{}}.History(context.Background(), "conv")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadConfig_MissingDefaultFallsBack(t *testing.T) {
	t.Setenv("COVEN_SESSIONS_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.Default().Sessions.ReadTool, cfg.Sessions.ReadTool)
}

func TestLoadConfig_MissingExplicitFails(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Explicit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.toml")
	cfg := config.Default()
	cfg.Agent.Model = "claude-cli"
	require.NoError(t, config.Save(path, cfg))

	got, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-cli", got.Agent.Model)
}

func TestPrinter_ListenerWaitsForLive(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	p := &printer{w: &buf}
	l := p.listener()

	turn, ok := conversation.TurnFromUpdate(&agent.Update{
		Type:    agent.UpdateAssistant,
		UUID:    "a-1",
		Content: []agent.Fragment{agent.TextFragment("hello there")},
	})
	require.True(t, ok)
	evt := conversation.Event{Type: conversation.EventMessageAdded, Turn: turn}

	require.NoError(t, l(evt))
	assert.Empty(t, buf.String())

	p.live = true
	require.NoError(t, l(evt))
	assert.Contains(t, buf.String(), "assistant")
	assert.Contains(t, buf.String(), "hello there")

	buf.Reset()
	res := agent.ToolResultFragment("tu-1", "done", true).ToolResult
	require.NoError(t, l(conversation.Event{Type: conversation.EventToolResultUpdated, Result: res}))
	assert.Contains(t, buf.String(), "✗ done")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n  b\tc"))

	long := bytes.Repeat([]byte("x"), previewLen+10)
	got := []rune(preview(string(long)))
	assert.Len(t, got, previewLen)
	assert.Equal(t, '…', got[len(got)-1])
}
