// Package config handles configuration loading for coven-sessions.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every field has a default, so a config file only needs the
// settings it changes.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path given with -config
//  2. Path from COVEN_SESSIONS_CONFIG environment variable
//  3. ~/.config/coven/sessions.yaml
//
// Files ending in .toml are decoded as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${XDG_STATE_HOME}/coven/sessions.db"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "~/.config/coven/sessions.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Conversation logs:
//
//	logs:
//	  projects_dir: "~/.claude/projects"
//
// Sessions:
//
//	sessions:
//	  grace_period: "5m"      # idle sessions are reaped after release
//	  read_tool: "Read"       # runs of this tool are coalesced
//	  todo_tool: "TodoWrite"  # this tool's input is the todo list
//
// Agent:
//
//	agent:
//	  model: "claude-sonnet-4-5"
//	  permission_mode: "default"
//	  cwd: "/home/me/repo"
//	  script: "./replies.jsonl"   # replayed as the agent's response
//	  replay_delay: "50ms"
//
// # Validation
//
// Load() validates:
//
//   - database.path is set
//   - logging.level and logging.format are known values
//   - sessions.grace_period is not negative
//   - sessions.read_tool and sessions.todo_tool are set
//   - agent.permission_mode is a known mode
package config
