// ABOUTME: Renders a conversation snapshot as Markdown or as a standalone HTML page
// ABOUTME: HTML is produced by converting the Markdown rendering with goldmark

package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-sessions/internal/agent"
	"github.com/2389/coven-sessions/internal/conversation"
)

// maxResultLen bounds tool output in exports.
const maxResultLen = 4000

var roleTitles = map[conversation.Role]string{
	conversation.RoleUser:      "User",
	conversation.RoleAssistant: "Assistant",
	conversation.RoleSystem:    "System",
	conversation.RoleResult:    "Result",
}

// Markdown renders turns as a Markdown document headed by title.
func Markdown(title string, turns []*conversation.Turn) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}

	for _, t := range turns {
		heading := roleTitles[t.Role]
		if heading == "" {
			heading = string(t.Role)
		}
		fmt.Fprintf(&b, "## %s", heading)
		if !t.Timestamp.IsZero() {
			fmt.Fprintf(&b, " · %s", t.Timestamp.UTC().Format("2006-01-02 15:04:05"))
		}
		b.WriteString("\n\n")

		for _, p := range t.Parts {
			writePart(&b, p)
		}
	}
	return b.String()
}

func writePart(b *strings.Builder, p *conversation.MessagePart) {
	f := p.Fragment
	switch f.Kind {
	case agent.FragmentText:
		if strings.TrimSpace(f.Text) == "" {
			return
		}
		b.WriteString(f.Text)
		b.WriteString("\n\n")

	case agent.FragmentThinking:
		for _, line := range strings.Split(strings.TrimSpace(f.Text), "\n") {
			fmt.Fprintf(b, "> %s\n", line)
		}
		b.WriteString("\n")

	case agent.FragmentImage, agent.FragmentDocument:
		label := string(f.Kind)
		if f.Title != "" {
			label += ": " + f.Title
		} else if f.Source != nil && f.Source.MediaType != "" {
			label += ": " + f.Source.MediaType
		}
		fmt.Fprintf(b, "_[%s]_\n\n", label)

	case agent.FragmentToolUse:
		tu := f.ToolUse
		fmt.Fprintf(b, "**Tool:** `%s`\n\n", tu.Name)
		if input := prettyJSON(tu.Input); input != "" {
			writeFence(b, "json", input)
		}
		if res := p.Result(); res != nil {
			status := "Output"
			if res.IsError {
				status = "Error"
			}
			fmt.Fprintf(b, "**%s:**\n\n", status)
			writeFence(b, "text", clip(res.Text(), maxResultLen))
		}

	case agent.FragmentToolResult:
		// results are rendered with the invocation they answer

	default:
		if len(f.Raw) > 0 {
			writeFence(b, "json", prettyJSON(f.Raw))
		}
	}
}

// writeFence writes body in a code fence long enough not to be closed by
// backtick runs inside body.
func writeFence(b *strings.Builder, lang, body string) {
	fence := "```"
	for strings.Contains(body, fence) {
		fence += "`"
	}
	fmt.Fprintf(b, "%s%s\n%s\n%s\n\n", fence, lang, strings.TrimRight(body, "\n"), fence)
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "\n… (truncated)"
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
pre { background: #f4f4f4; padding: .75rem; overflow-x: auto; }
blockquote { color: #666; border-left: 3px solid #ddd; margin-left: 0; padding-left: 1rem; }
h2 { border-bottom: 1px solid #eee; font-size: 1.1rem; }
</style>
</head>
<body>
{{.Content}}
</body>
</html>
`))

// HTML writes turns as a standalone HTML page.
func HTML(w io.Writer, title string, turns []*conversation.Turn) error {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(title, turns)), &body); err != nil {
		return fmt.Errorf("converting markdown: %w", err)
	}

	data := struct {
		Title   string
		Content template.HTML
	}{
		Title:   title,
		Content: template.HTML(body.String()),
	}
	if err := pageTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}
	return nil
}
