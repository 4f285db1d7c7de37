// ABOUTME: Implementations of the replay, history, export, list and inspect commands
// ABOUTME: Each command opens its own environment and closes it on return

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-sessions/internal/conversation"
	"github.com/2389/coven-sessions/internal/export"
	"github.com/2389/coven-sessions/internal/store"
)

func runReplay(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("replay")
	scriptPath := fs.String("script", "", "JSONL script of agent updates (overrides agent.script)")
	resume := fs.String("resume", "", "Conversation id to continue")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return fmt.Errorf("a prompt is required")
	}

	e, err := openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	tr, err := e.transport(*scriptPath)
	if err != nil {
		return err
	}

	mgr := conversation.NewManager(tr, e.logger, e.cfg.Sessions.GracePeriod, e.sessionOptions()...)
	defer mgr.Close()

	sess, err := mgr.Open("")
	if err != nil {
		return err
	}

	out := &printer{w: os.Stdout}
	subID, err := sess.Subscribe(out.listener())
	if err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	defer sess.Unsubscribe(subID)
	out.live = true

	if *resume != "" {
		if err := sess.Resume(ctx, *resume); err != nil {
			return fmt.Errorf("resuming %s: %w", *resume, err)
		}
		gray.Printf("resumed %s (%d turns)\n\n", *resume, len(sess.Snapshot()))
	}

	// Ctrl-C cancels the send; updates already applied are kept
	stop := context.AfterFunc(ctx, func() { sess.Cancel() })
	defer stop()

	res := sess.Send(ctx, prompt, nil)

	fmt.Println()
	out.usage(res.Usage)
	e.saveUsage(context.WithoutCancel(ctx), sess)

	if !res.Success {
		return res.Err
	}

	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("%d turns", res.TurnCount)
	if id := sess.ConversationID(); id != "" {
		gray.Printf("  conversation %s", id)
	}
	fmt.Println()
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("history")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: coven-sessions history [-config PATH] CONVERSATION_ID")
	}

	e, err := openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	mgr, sess, err := e.loadSession(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer mgr.Close()

	turns := sess.Snapshot()
	if len(turns) == 0 {
		fmt.Printf("No history for %s\n", fs.Arg(0))
		return nil
	}

	out := &printer{w: os.Stdout}
	summary := sess.Summary()
	if summary.Title != "" {
		color.New(color.Bold).Println(summary.Title)
	}
	if summary.Model != "" || summary.CWD != "" {
		gray.Printf("model: %s  cwd: %s\n", summary.Model, summary.CWD)
	}
	fmt.Println()

	for _, t := range turns {
		out.turn(t)
	}

	if todos := sess.Todos(); len(todos) > 0 {
		fmt.Println()
		systemColor.Println("todos:")
		out.todos(todos)
	}
	fmt.Println()
	out.usage(sess.Usage())
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("export")
	format := fs.String("format", "markdown", "Output format: markdown or html")
	output := fs.String("o", "", "Output file (default stdout)")
	title := fs.String("title", "", "Document title (default the conversation title)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: coven-sessions export [-format markdown|html] [-o FILE] CONVERSATION_ID")
	}

	f := strings.ToLower(*format)
	if f != "markdown" && f != "md" && f != "html" {
		return fmt.Errorf("unknown format %q", *format)
	}

	e, err := openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	id := fs.Arg(0)
	mgr, sess, err := e.loadSession(ctx, id)
	if err != nil {
		return err
	}
	defer mgr.Close()

	turns := sess.Snapshot()
	if len(turns) == 0 {
		return fmt.Errorf("no history for %s", id)
	}

	docTitle := *title
	if docTitle == "" {
		docTitle = sess.Summary().Title
	}
	if docTitle == "" {
		docTitle = "Conversation " + id
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		file, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer file.Close()
		w = file
	}

	if f == "html" {
		err = export.HTML(w, docTitle, turns)
	} else {
		_, err = io.WriteString(w, export.Markdown(docTitle, turns))
	}
	if err != nil {
		return fmt.Errorf("writing export: %w", err)
	}

	e.logger.Info("exported conversation", "conversation_id", id, "format", f, "turns", len(turns))
	return nil
}

func runList(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("list")
	limit := fs.Int("limit", 20, "Maximum entries per section")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	bold := color.New(color.Bold)

	logs, err := e.logs.List(ctx)
	if err != nil {
		return fmt.Errorf("listing conversation logs: %w", err)
	}
	bold.Print("Conversation logs")
	gray.Printf("  %s\n", e.logs.Root())
	if len(logs) == 0 {
		fmt.Println("  (none)")
	}
	for i, info := range logs {
		if i == *limit {
			gray.Printf("  … %d more\n", len(logs)-*limit)
			break
		}
		fmt.Printf("  %s  ", info.ID)
		gray.Printf("%s  %s  ", time.Unix(info.ModTime, 0).Format("2006-01-02 15:04"), info.Project)
		fmt.Println(info.Title)
	}

	fmt.Println()
	sessions, err := e.db.ListSessions(ctx, *limit)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	bold.Print("Local sessions")
	gray.Printf("  %s\n", e.cfg.Database.Path)
	if len(sessions) == 0 {
		fmt.Println("  (none)")
	}
	for _, s := range sessions {
		fmt.Printf("  %s  ", s.ID)
		gray.Printf("%s  %d fragments  ", s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.FragmentCount)
		if s.ConversationID != "" {
			gray.Printf("→ %s  ", s.ConversationID)
		}
		fmt.Println(s.Title)
	}

	stats, err := e.db.GetUsageStats(ctx, store.UsageFilter{})
	if err != nil {
		return fmt.Errorf("reading usage: %w", err)
	}
	if stats.Sessions > 0 {
		fmt.Println()
		gray.Printf("usage: %d sessions, %d tokens (in %d, out %d), $%.4f\n",
			stats.Sessions, stats.TotalTokens, stats.TotalInput, stats.TotalOutput, stats.TotalCostUSD)
	}
	return nil
}

func runInspect(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("inspect")
	limit := fs.Int("limit", 50, "Maximum fragments to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: coven-sessions inspect [-limit N] SESSION_ID")
	}

	e, err := openEnv(*configPath)
	if err != nil {
		return err
	}
	defer e.Close()

	sess, err := e.db.GetSession(ctx, fs.Arg(0))
	if err != nil {
		return fmt.Errorf("getting session: %w", err)
	}

	color.New(color.Bold).Println(sess.ID)
	fmt.Printf("  conversation: %s\n", sess.ConversationID)
	fmt.Printf("  title:        %s\n", sess.Title)
	fmt.Printf("  model:        %s\n", sess.Model)
	fmt.Printf("  fragments:    %d\n", sess.FragmentCount)
	fmt.Printf("  created:      %s\n", sess.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("  updated:      %s\n", sess.UpdatedAt.Local().Format(time.RFC3339))

	usage, err := e.db.GetSessionUsage(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("getting usage: %w", err)
	}
	if n := len(usage); n > 0 {
		last := usage[n-1]
		fmt.Printf("  tokens:       %d (%d snapshots)\n", last.TotalTokens, n)
		fmt.Printf("  cost:         $%.4f\n", last.TotalCostUSD)
	}

	frags, err := e.db.GetFragments(ctx, sess.ID, *limit)
	if err != nil {
		return fmt.Errorf("getting fragments: %w", err)
	}
	fmt.Println()
	for _, f := range frags {
		gray.Printf("%6d  %s  ", f.Seq, f.CreatedAt.Local().Format("15:04:05"))
		fmt.Printf("%-12s %s\n", f.Type, f.UUID)
	}
	return nil
}

// saveUsage snapshots the session's usage totals into the store.
func (e *env) saveUsage(ctx context.Context, sess *conversation.Session) {
	u := sess.Usage()
	if u == (conversation.Usage{}) {
		return
	}

	rec := &store.UsageRecord{
		SessionID:        sess.ID(),
		ConversationID:   sess.ConversationID(),
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens,
		TotalTokens:      u.TotalTokens,
		TotalCostUSD:     u.TotalCostUSD,
		ContextWindow:    u.ContextWindow,
	}
	if err := e.db.SaveUsage(ctx, rec); err != nil {
		e.logger.Warn("saving usage", "session_id", sess.ID(), "error", err)
	}
}
