// ABOUTME: Closed variant types for updates and content fragments from the streaming agent.
// ABOUTME: Every raw record is normalized into these before any conversation logic runs.

package agent

import (
	"encoding/json"
	"strings"
	"time"
)

// UpdateType discriminates the top-level record kinds emitted by the agent.
type UpdateType string

const (
	UpdateUser        UpdateType = "user"
	UpdateAssistant   UpdateType = "assistant"
	UpdateSystem      UpdateType = "system"
	UpdateResult      UpdateType = "result"
	UpdateStreamEvent UpdateType = "stream_event"
	UpdateSummary     UpdateType = "summary"
)

// SubtypeInit marks the system record that opens a session.
const SubtypeInit = "init"

// Known reports whether t is one of the record kinds the engine understands.
func (t UpdateType) Known() bool {
	switch t {
	case UpdateUser, UpdateAssistant, UpdateSystem, UpdateResult, UpdateStreamEvent, UpdateSummary:
		return true
	}
	return false
}

// FragmentKind discriminates content blocks inside a message.
type FragmentKind string

const (
	FragmentText       FragmentKind = "text"
	FragmentImage      FragmentKind = "image"
	FragmentDocument   FragmentKind = "document"
	FragmentToolUse    FragmentKind = "tool_use"
	FragmentToolResult FragmentKind = "tool_result"
	FragmentThinking   FragmentKind = "thinking"
	FragmentOther      FragmentKind = "other"
)

// Fragment is one content block. Exactly one payload field is populated,
// selected by Kind:
//
//   - FragmentText, FragmentThinking: Text
//   - FragmentImage, FragmentDocument: Source (and Title for documents)
//   - FragmentToolUse: ToolUse
//   - FragmentToolResult: ToolResult
//   - FragmentOther: Raw
type Fragment struct {
	Kind       FragmentKind
	Text       string
	Title      string
	Source     *MediaSource
	ToolUse    *ToolUse
	ToolResult *ToolResult
	Raw        json.RawMessage
}

// MediaSource carries an image or document payload.
type MediaSource struct {
	Type      string // "base64", "url", "text"
	MediaType string
	Data      string
	URL       string
}

// ToolUse is a tool invocation by the agent.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult answers the ToolUse whose ID equals ToolUseID.
type ToolResult struct {
	ToolUseID string
	Content   json.RawMessage // string or array of content blocks
	IsError   bool
}

// Text flattens the result content into plain text. String content is
// returned as is; block arrays contribute their text blocks joined by newlines.
func (r *ToolResult) Text() string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Content, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(r.Content, &blocks); err != nil {
		return string(r.Content)
	}
	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// TextFragment builds a text fragment.
func TextFragment(text string) Fragment {
	return Fragment{Kind: FragmentText, Text: text}
}

// ToolUseFragment builds a tool invocation fragment.
func ToolUseFragment(id, name string, input json.RawMessage) Fragment {
	return Fragment{Kind: FragmentToolUse, ToolUse: &ToolUse{ID: id, Name: name, Input: input}}
}

// ToolResultFragment builds a tool result fragment with plain text content.
func ToolResultFragment(toolUseID, text string, isError bool) Fragment {
	content, _ := json.Marshal(text)
	return Fragment{Kind: FragmentToolResult, ToolResult: &ToolResult{
		ToolUseID: toolUseID,
		Content:   content,
		IsError:   isError,
	}}
}

// Usage is the token report attached to an assistant message.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

// Total is the sum of every token class in the report.
func (u *Usage) Total() int64 {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.CacheWriteTokens + u.CacheReadTokens + u.OutputTokens
}

// ModelUsage is the per-model accounting attached to a result record.
type ModelUsage struct {
	InputTokens   int64
	OutputTokens  int64
	CostUSD       float64
	ContextWindow int64
}

// Update is one normalized record from the agent stream or a conversation log.
type Update struct {
	Type            UpdateType
	UUID            string
	SessionID       string
	ParentToolUseID string
	Timestamp       time.Time

	// user / assistant
	Role    string
	Model   string
	Content []Fragment
	Usage   *Usage

	// system
	Subtype        string
	Tools          []string
	PermissionMode string
	CWD            string

	// result
	TotalCostUSD *float64
	IsError      bool
	Result       string
	NumTurns     int
	DurationMS   int64
	ModelUsage   map[string]ModelUsage

	// Raw is the original record when the update was decoded from JSON.
	Raw json.RawMessage
}

// IsInit reports whether u is the session initialization record.
func (u *Update) IsInit() bool {
	return u.Type == UpdateSystem && u.Subtype == SubtypeInit
}

// ContextWindow returns the largest context window reported across models.
func (u *Update) ContextWindow() int64 {
	var widest int64
	for _, mu := range u.ModelUsage {
		if mu.ContextWindow > widest {
			widest = mu.ContextWindow
		}
	}
	return widest
}

// AllowedAttachment reports whether a fragment of this kind may accompany
// an outgoing prompt.
func AllowedAttachment(kind FragmentKind) bool {
	switch kind {
	case FragmentText, FragmentImage, FragmentDocument:
		return true
	}
	return false
}
