// ABOUTME: Terminal rendering of turns and live session events
// ABOUTME: Uses fatih/color for role and status highlighting

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-sessions/internal/agent"
	"github.com/2389/coven-sessions/internal/conversation"
)

const previewLen = 160

var (
	userColor      = color.New(color.FgGreen, color.Bold)
	assistantColor = color.New(color.FgCyan, color.Bold)
	systemColor    = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed, color.Bold)
	toolColor      = color.New(color.FgMagenta)
	gray           = color.New(color.FgHiBlack)
)

// printer writes turns and events to a terminal.
type printer struct {
	w io.Writer
	// live is set once the initial subscription delivery is done.
	live bool
}

func (p *printer) turn(t *conversation.Turn) {
	switch t.Role {
	case conversation.RoleUser:
		userColor.Fprint(p.w, "▶ user")
	case conversation.RoleAssistant:
		assistantColor.Fprint(p.w, "◀ assistant")
	case conversation.RoleResult:
		errorColor.Fprint(p.w, "✗ result")
	default:
		systemColor.Fprintf(p.w, "• %s", t.Role)
	}
	if t.Model != "" {
		gray.Fprintf(p.w, " (%s)", t.Model)
	}
	fmt.Fprintln(p.w)

	for _, part := range t.Parts {
		p.part(part)
	}
}

func (p *printer) part(part *conversation.MessagePart) {
	f := part.Fragment
	switch f.Kind {
	case agent.FragmentText:
		if text := strings.TrimSpace(f.Text); text != "" {
			fmt.Fprintf(p.w, "  %s\n", strings.ReplaceAll(text, "\n", "\n  "))
		}
	case agent.FragmentThinking:
		gray.Fprintf(p.w, "  … %s\n", preview(f.Text))
	case agent.FragmentToolUse:
		toolColor.Fprintf(p.w, "  ⚙ %s", f.ToolUse.Name)
		if len(f.ToolUse.Input) > 0 {
			gray.Fprintf(p.w, " %s", preview(string(f.ToolUse.Input)))
		}
		fmt.Fprintln(p.w)
		if res := part.Result(); res != nil {
			p.result(res)
		}
	case agent.FragmentToolResult:
		// shown beneath the invocation
	default:
		gray.Fprintf(p.w, "  [%s]\n", f.Kind)
	}
}

func (p *printer) result(res *agent.ToolResult) {
	if res.IsError {
		errorColor.Fprint(p.w, "    ✗ ")
	} else {
		gray.Fprint(p.w, "    ↳ ")
	}
	fmt.Fprintln(p.w, preview(res.Text()))
}

func (p *printer) usage(u conversation.Usage) {
	gray.Fprintf(p.w, "tokens: %d (in %d, out %d, cache r/w %d/%d)",
		u.TotalTokens, u.InputTokens, u.OutputTokens, u.CacheReadTokens, u.CacheWriteTokens)
	if u.TotalCostUSD > 0 {
		gray.Fprintf(p.w, "  cost: $%.4f", u.TotalCostUSD)
	}
	if u.ContextWindow > 0 {
		gray.Fprintf(p.w, "  window: %d", u.ContextWindow)
	}
	fmt.Fprintln(p.w)
}

func (p *printer) todos(items []conversation.TodoItem) {
	for _, item := range items {
		mark := "☐"
		switch item.Status {
		case "completed":
			mark = "☑"
		case "in_progress":
			mark = "◐"
		}
		fmt.Fprintf(p.w, "  %s %s\n", mark, item.Content)
	}
}

// listener prints live events. Deliveries before live is set are skipped;
// the caller prints loaded history itself.
func (p *printer) listener() conversation.Listener {
	return func(evt conversation.Event) error {
		if !p.live {
			return nil
		}
		switch evt.Type {
		case conversation.EventMessageAdded:
			p.turn(evt.Turn)
		case conversation.EventMessageUpdated:
			gray.Fprintf(p.w, "  ↻ %s updated\n", evt.Turn.ID)
		case conversation.EventMessageRemoved:
			gray.Fprintf(p.w, "  ↻ %s merged\n", evt.TurnID)
		case conversation.EventToolResultUpdated:
			p.result(evt.Result)
		case conversation.EventTodosUpdated:
			if len(evt.Todos) > 0 {
				systemColor.Fprintln(p.w, "todos:")
				p.todos(evt.Todos)
			}
		case conversation.EventToolsUpdated:
			if len(evt.Tools) > 0 {
				gray.Fprintf(p.w, "tools: %s\n", strings.Join(evt.Tools, ", "))
			}
		case conversation.EventSessionInfo:
			if evt.Info != nil && evt.Info.Error != "" {
				errorColor.Fprintf(p.w, "session error: %s\n", evt.Info.Error)
			}
		}
		return nil
	}
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= previewLen {
		return s
	}
	return string(runes[:previewLen-1]) + "…"
}
