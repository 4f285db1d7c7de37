// ABOUTME: JSON normalization boundary converting raw agent records into Update values.
// ABOUTME: Also encodes locally synthesized updates back into the same wire shape.

package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMissingType is returned when a record has no "type" discriminator.
var ErrMissingType = errors.New("record has no type")

// wireRecord mirrors the union of fields used by every record kind.
type wireRecord struct {
	Type            UpdateType `json:"type"`
	UUID            string     `json:"uuid,omitempty"`
	SessionID       string     `json:"session_id,omitempty"`
	LogSessionID    string     `json:"sessionId,omitempty"`
	ParentToolUseID *string    `json:"parent_tool_use_id,omitempty"`
	Timestamp       string     `json:"timestamp,omitempty"`
	Message         *wireMsg   `json:"message,omitempty"`

	Subtype        string   `json:"subtype,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	Model          string   `json:"model,omitempty"`
	PermissionMode string   `json:"permissionMode,omitempty"`
	CWD            string   `json:"cwd,omitempty"`

	TotalCostUSD *float64                  `json:"total_cost_usd,omitempty"`
	IsError      bool                      `json:"is_error,omitempty"`
	Result       string                    `json:"result,omitempty"`
	NumTurns     int                       `json:"num_turns,omitempty"`
	DurationMS   int64                     `json:"duration_ms,omitempty"`
	ModelUsage   map[string]wireModelUsage `json:"modelUsage,omitempty"`
}

type wireMsg struct {
	Role    string          `json:"role,omitempty"`
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Usage   *wireUsage      `json:"usage,omitempty"`
}

type wireUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

type wireModelUsage struct {
	InputTokens   int64   `json:"inputTokens"`
	OutputTokens  int64   `json:"outputTokens"`
	CostUSD       float64 `json:"costUSD"`
	ContextWindow int64   `json:"contextWindow"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Title     string          `json:"title,omitempty"`
	Source    *wireSource     `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type wireSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Decode normalizes one JSON record into an Update. Records of unknown type
// decode successfully with their type preserved; only malformed JSON or a
// missing discriminator is an error.
func Decode(data []byte) (*Update, error) {
	data = bytes.TrimSpace(data)
	var rec wireRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	if rec.Type == "" {
		return nil, ErrMissingType
	}

	u := &Update{
		Type:           rec.Type,
		UUID:           rec.UUID,
		SessionID:      rec.SessionID,
		Subtype:        rec.Subtype,
		Tools:          rec.Tools,
		Model:          rec.Model,
		PermissionMode: rec.PermissionMode,
		CWD:            rec.CWD,
		TotalCostUSD:   rec.TotalCostUSD,
		IsError:        rec.IsError,
		Result:         rec.Result,
		NumTurns:       rec.NumTurns,
		DurationMS:     rec.DurationMS,
		Raw:            append(json.RawMessage(nil), data...),
	}
	if u.SessionID == "" {
		u.SessionID = rec.LogSessionID
	}
	if rec.ParentToolUseID != nil {
		u.ParentToolUseID = *rec.ParentToolUseID
	}
	if rec.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp); err == nil {
			u.Timestamp = ts
		}
	}
	if len(rec.ModelUsage) > 0 {
		u.ModelUsage = make(map[string]ModelUsage, len(rec.ModelUsage))
		for model, mu := range rec.ModelUsage {
			u.ModelUsage[model] = ModelUsage(mu)
		}
	}

	if rec.Message != nil {
		u.Role = rec.Message.Role
		if rec.Message.Model != "" {
			u.Model = rec.Message.Model
		}
		u.Content = decodeContent(rec.Message.Content)
		if w := rec.Message.Usage; w != nil {
			u.Usage = &Usage{
				InputTokens:      w.InputTokens,
				OutputTokens:     w.OutputTokens,
				CacheReadTokens:  w.CacheReadInputTokens,
				CacheWriteTokens: w.CacheCreationInputTokens,
			}
		}
	}

	return u, nil
}

// decodeContent accepts either a plain string or an array of blocks.
func decodeContent(raw json.RawMessage) []Fragment {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []Fragment{TextFragment(s)}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []Fragment{{Kind: FragmentOther, Raw: raw}}
	}
	frags := make([]Fragment, 0, len(items))
	for _, item := range items {
		frags = append(frags, decodeBlock(item))
	}
	return frags
}

func decodeBlock(raw json.RawMessage) Fragment {
	var b wireBlock
	if err := json.Unmarshal(raw, &b); err != nil {
		return Fragment{Kind: FragmentOther, Raw: raw}
	}

	switch b.Type {
	case "text":
		return Fragment{Kind: FragmentText, Text: b.Text}
	case "thinking":
		return Fragment{Kind: FragmentThinking, Text: b.Thinking}
	case "image", "document":
		f := Fragment{Kind: FragmentKind(b.Type), Title: b.Title}
		if b.Source != nil {
			f.Source = &MediaSource{
				Type:      b.Source.Type,
				MediaType: b.Source.MediaType,
				Data:      b.Source.Data,
				URL:       b.Source.URL,
			}
		}
		return f
	case "tool_use":
		return Fragment{Kind: FragmentToolUse, ToolUse: &ToolUse{
			ID:    b.ID,
			Name:  b.Name,
			Input: b.Input,
		}}
	case "tool_result":
		return Fragment{Kind: FragmentToolResult, ToolResult: &ToolResult{
			ToolUseID: b.ToolUseID,
			Content:   b.Content,
			IsError:   b.IsError,
		}}
	default:
		return Fragment{Kind: FragmentOther, Raw: raw}
	}
}

// Encode renders an update in the agent's wire shape. Decoded updates return
// their original bytes unchanged.
func Encode(u *Update) ([]byte, error) {
	if len(u.Raw) > 0 {
		return u.Raw, nil
	}

	rec := wireRecord{
		Type:           u.Type,
		UUID:           u.UUID,
		SessionID:      u.SessionID,
		Subtype:        u.Subtype,
		Tools:          u.Tools,
		PermissionMode: u.PermissionMode,
		CWD:            u.CWD,
		TotalCostUSD:   u.TotalCostUSD,
		IsError:        u.IsError,
		Result:         u.Result,
		NumTurns:       u.NumTurns,
		DurationMS:     u.DurationMS,
	}
	if u.ParentToolUseID != "" {
		parent := u.ParentToolUseID
		rec.ParentToolUseID = &parent
	}
	if !u.Timestamp.IsZero() {
		rec.Timestamp = u.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if len(u.ModelUsage) > 0 {
		rec.ModelUsage = make(map[string]wireModelUsage, len(u.ModelUsage))
		for model, mu := range u.ModelUsage {
			rec.ModelUsage[model] = wireModelUsage(mu)
		}
	}

	if u.Type == UpdateUser || u.Type == UpdateAssistant {
		content, err := encodeContent(u.Content)
		if err != nil {
			return nil, err
		}
		rec.Message = &wireMsg{Role: u.Role, Model: u.Model, Content: content}
		if u.Usage != nil {
			rec.Message.Usage = &wireUsage{
				InputTokens:              u.Usage.InputTokens,
				OutputTokens:             u.Usage.OutputTokens,
				CacheCreationInputTokens: u.Usage.CacheWriteTokens,
				CacheReadInputTokens:     u.Usage.CacheReadTokens,
			}
		}
	} else {
		rec.Model = u.Model
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return data, nil
}

func encodeContent(frags []Fragment) (json.RawMessage, error) {
	blocks := make([]json.RawMessage, 0, len(frags))
	for _, f := range frags {
		if f.Kind == FragmentOther {
			blocks = append(blocks, f.Raw)
			continue
		}
		b := wireBlock{Type: string(f.Kind)}
		switch f.Kind {
		case FragmentText:
			b.Text = f.Text
		case FragmentThinking:
			b.Thinking = f.Text
		case FragmentImage, FragmentDocument:
			b.Title = f.Title
			if f.Source != nil {
				b.Source = &wireSource{
					Type:      f.Source.Type,
					MediaType: f.Source.MediaType,
					Data:      f.Source.Data,
					URL:       f.Source.URL,
				}
			}
		case FragmentToolUse:
			b.ID, b.Name, b.Input = f.ToolUse.ID, f.ToolUse.Name, f.ToolUse.Input
		case FragmentToolResult:
			b.ToolUseID, b.Content, b.IsError = f.ToolResult.ToolUseID, f.ToolResult.Content, f.ToolResult.IsError
		}
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encoding %s block: %w", f.Kind, err)
		}
		blocks = append(blocks, data)
	}
	return json.Marshal(blocks)
}
