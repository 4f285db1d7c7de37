// ABOUTME: Shared wiring for CLI commands: config, logger, stores and transport
// ABOUTME: Builds sessions the same way for every command

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"

	"github.com/2389/coven-sessions/internal/agent"
	"github.com/2389/coven-sessions/internal/config"
	"github.com/2389/coven-sessions/internal/conversation"
	"github.com/2389/coven-sessions/internal/logstore"
	"github.com/2389/coven-sessions/internal/store"
)

// env holds the collaborators every command needs.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *store.SQLiteStore
	logs   *logstore.Store
}

// newFlagSet returns a flag set for a subcommand with the shared -config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file (yaml or toml)")
	return fs, configPath
}

func openEnv(configPath string) (*env, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.Logging)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		db:     db,
		logs:   logstore.New(cfg.Logs.ProjectsDir, logger),
	}, nil
}

func (e *env) Close() {
	if err := e.db.Close(); err != nil {
		e.logger.Warn("closing store", "error", err)
	}
}

// transport builds the scripted agent transport. History is looked up in the
// conversation logs first and in the local store second.
func (e *env) transport(scriptPath string) (*agent.Replay, error) {
	if scriptPath == "" {
		scriptPath = e.cfg.Agent.Script
	}

	var script []*agent.Update
	if scriptPath != "" {
		var err error
		script, err = agent.ReadScript(scriptPath)
		if err != nil {
			return nil, err
		}
		e.logger.Debug("loaded script", "path", scriptPath, "updates", len(script))
	}

	history := historyChain{e.logs, e.db}
	return agent.NewReplay(script, e.cfg.Agent.ReplayDelay, history, e.logger), nil
}

// sessionOptions maps configuration onto session options.
func (e *env) sessionOptions() []conversation.Option {
	a := e.cfg.Agent
	return []conversation.Option{
		conversation.WithLogger(e.logger),
		conversation.WithRecorder(e.db),
		conversation.WithReadTool(e.cfg.Sessions.ReadTool),
		conversation.WithTodoTool(e.cfg.Sessions.TodoTool),
		conversation.WithQueryOptions(agent.Options{
			Model:          a.Model,
			PermissionMode: a.PermissionMode,
			CWD:            a.CWD,
			AllowedTools:   a.AllowedTools,
			MaxTurns:       a.MaxTurns,
		}),
	}
}

// loadSession opens a fresh session and loads conversationID into it.
func (e *env) loadSession(ctx context.Context, conversationID string) (*conversation.Manager, *conversation.Session, error) {
	tr, err := e.transport("")
	if err != nil {
		return nil, nil, err
	}

	mgr := conversation.NewManager(tr, e.logger, e.cfg.Sessions.GracePeriod, e.sessionOptions()...)
	sess, err := mgr.Open("")
	if err != nil {
		mgr.Close()
		return nil, nil, err
	}
	if err := sess.Load(ctx, conversationID); err != nil {
		mgr.Close()
		return nil, nil, err
	}
	return mgr, sess, nil
}

// historyChain asks each source in turn and returns the first non-empty history.
type historyChain []agent.HistorySource

func (c historyChain) History(ctx context.Context, conversationID string) ([]*agent.Update, error) {
	for _, src := range c {
		updates, err := src.History(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if len(updates) > 0 {
			return updates, nil
		}
	}
	return nil, nil
}
