// ABOUTME: Tests for the JSON normalization boundary.
// ABOUTME: Covers every record kind, content shapes, usage parsing and round-tripping.

package agent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_AssistantWithToolUseAndUsage(t *testing.T) {
	line := `{"type":"assistant","uuid":"a-1","session_id":"s-1","timestamp":"2025-06-01T10:00:00.5Z",
		"message":{"role":"assistant","model":"claude-sonnet","content":[
			{"type":"text","text":"Let me look."},
			{"type":"tool_use","id":"tu-1","name":"Read","input":{"file_path":"a.txt"}}
		],"usage":{"input_tokens":10,"output_tokens":5,"cache_creation_input_tokens":3,"cache_read_input_tokens":2}}}`

	u, err := Decode([]byte(line))
	require.NoError(t, err)

	assert.Equal(t, UpdateAssistant, u.Type)
	assert.Equal(t, "a-1", u.UUID)
	assert.Equal(t, "s-1", u.SessionID)
	assert.Equal(t, "claude-sonnet", u.Model)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 500000000, time.UTC), u.Timestamp)

	require.Len(t, u.Content, 2)
	assert.Equal(t, FragmentText, u.Content[0].Kind)
	assert.Equal(t, "Let me look.", u.Content[0].Text)
	require.NotNil(t, u.Content[1].ToolUse)
	assert.Equal(t, "tu-1", u.Content[1].ToolUse.ID)
	assert.Equal(t, "Read", u.Content[1].ToolUse.Name)
	assert.JSONEq(t, `{"file_path":"a.txt"}`, string(u.Content[1].ToolUse.Input))

	require.NotNil(t, u.Usage)
	assert.Equal(t, int64(20), u.Usage.Total())
	assert.Equal(t, int64(3), u.Usage.CacheWriteTokens)
	assert.Equal(t, int64(2), u.Usage.CacheReadTokens)
}

func TestDecode_UserStringContent(t *testing.T) {
	u, err := Decode([]byte(`{"type":"user","message":{"role":"user","content":"hello"}}`))
	require.NoError(t, err)

	require.Len(t, u.Content, 1)
	assert.Equal(t, FragmentText, u.Content[0].Kind)
	assert.Equal(t, "hello", u.Content[0].Text)
}

func TestDecode_ToolResultContent(t *testing.T) {
	line := `{"type":"user","message":{"role":"user","content":[
		{"type":"tool_result","tool_use_id":"tu-1","content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}],"is_error":true}
	]}}`

	u, err := Decode([]byte(line))
	require.NoError(t, err)

	require.Len(t, u.Content, 1)
	res := u.Content[0].ToolResult
	require.NotNil(t, res)
	assert.Equal(t, "tu-1", res.ToolUseID)
	assert.True(t, res.IsError)
	assert.Equal(t, "line one\nline two", res.Text())
}

func TestDecode_SystemInit(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"s-9","tools":["Read","Bash"],
		"model":"claude-opus","permissionMode":"default","cwd":"/work"}`

	u, err := Decode([]byte(line))
	require.NoError(t, err)

	assert.True(t, u.IsInit())
	assert.Equal(t, []string{"Read", "Bash"}, u.Tools)
	assert.Equal(t, "claude-opus", u.Model)
	assert.Equal(t, "default", u.PermissionMode)
	assert.Equal(t, "/work", u.CWD)
}

func TestDecode_Result(t *testing.T) {
	line := `{"type":"result","subtype":"success","total_cost_usd":0.25,"num_turns":3,"duration_ms":1500,
		"result":"done","modelUsage":{"a":{"contextWindow":100000},"b":{"contextWindow":200000}}}`

	u, err := Decode([]byte(line))
	require.NoError(t, err)

	require.NotNil(t, u.TotalCostUSD)
	assert.InDelta(t, 0.25, *u.TotalCostUSD, 1e-9)
	assert.Equal(t, 3, u.NumTurns)
	assert.Equal(t, int64(1500), u.DurationMS)
	assert.Equal(t, int64(200000), u.ContextWindow())
}

func TestDecode_LogSessionIDFallback(t *testing.T) {
	u, err := Decode([]byte(`{"type":"user","sessionId":"from-log","message":{"role":"user","content":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, "from-log", u.SessionID)
}

func TestDecode_UnknownTypeAndBlocks(t *testing.T) {
	u, err := Decode([]byte(`{"type":"mystery","message":{"content":[{"type":"sparkle","x":1}]}}`))
	require.NoError(t, err)

	assert.False(t, u.Type.Known())
	require.Len(t, u.Content, 1)
	assert.Equal(t, FragmentOther, u.Content[0].Kind)
	assert.JSONEq(t, `{"type":"sparkle","x":1}`, string(u.Content[0].Raw))
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"uuid":"x"}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestEncode_SynthesizedUserUpdate(t *testing.T) {
	u := &Update{
		Type: UpdateUser,
		UUID: "u-1",
		Role: "user",
		Content: []Fragment{
			{Kind: FragmentImage, Source: &MediaSource{Type: "base64", MediaType: "image/png", Data: "AAAA"}},
			TextFragment("describe this"),
		},
	}

	data, err := Encode(u)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, UpdateUser, back.Type)
	assert.Equal(t, "u-1", back.UUID)
	require.Len(t, back.Content, 2)
	assert.Equal(t, FragmentImage, back.Content[0].Kind)
	assert.Equal(t, "image/png", back.Content[0].Source.MediaType)
	assert.Equal(t, "describe this", back.Content[1].Text)
}

func TestEncode_DecodedUpdateReturnsRaw(t *testing.T) {
	raw := `{"type":"user","message":{"role":"user","content":"hi"}}`
	u, err := Decode([]byte(raw))
	require.NoError(t, err)

	data, err := Encode(u)
	require.NoError(t, err)
	assert.Equal(t, raw, string(data))
}

func TestToolResultFragment_Text(t *testing.T) {
	f := ToolResultFragment("tu-2", "contents", false)
	require.NotNil(t, f.ToolResult)

	var s string
	require.NoError(t, json.Unmarshal(f.ToolResult.Content, &s))
	assert.Equal(t, "contents", s)
	assert.Equal(t, "contents", f.ToolResult.Text())
}
