// ABOUTME: Configuration loading and parsing for coven-sessions
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-sessions configuration
type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Logs     LogsConfig     `yaml:"logs" toml:"logs"`
	Sessions SessionsConfig `yaml:"sessions" toml:"sessions"`
	Agent    AgentConfig    `yaml:"agent" toml:"agent"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// LogsConfig locates recorded agent conversation logs
type LogsConfig struct {
	ProjectsDir string `yaml:"projects_dir" toml:"projects_dir"`
}

// SessionsConfig holds session behavior and lifecycle settings
type SessionsConfig struct {
	GracePeriod time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	GracePeriodRaw string `yaml:"grace_period" toml:"grace_period"`

	ReadTool string `yaml:"read_tool" toml:"read_tool"`
	TodoTool string `yaml:"todo_tool" toml:"todo_tool"`
}

// AgentConfig holds the options forwarded with every query
type AgentConfig struct {
	Model          string   `yaml:"model" toml:"model"`
	PermissionMode string   `yaml:"permission_mode" toml:"permission_mode"`
	CWD            string   `yaml:"cwd" toml:"cwd"`
	AllowedTools   []string `yaml:"allowed_tools" toml:"allowed_tools"`
	MaxTurns       int      `yaml:"max_turns" toml:"max_turns"`

	// Script is a JSONL file of updates replayed as the agent's response
	Script string `yaml:"script" toml:"script"`
	// ReplayDelay paces scripted updates
	ReplayDelay    time.Duration `yaml:"-" toml:"-"`
	ReplayDelayRaw string        `yaml:"replay_delay" toml:"replay_delay"`
}

var validLevels = []string{"debug", "info", "warn", "error"}
var validFormats = []string{"text", "json"}
var validPermissionModes = []string{"", "default", "acceptEdits", "plan", "bypassPermissions"}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: defaultDatabasePath()},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Logs:     LogsConfig{ProjectsDir: defaultProjectsDir()},
		Sessions: SessionsConfig{
			GracePeriod:    5 * time.Minute,
			GracePeriodRaw: "5m",
			ReadTool:       "Read",
			TodoTool:       "TodoWrite",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields missing from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Save writes cfg to path, creating parent directories. Files ending in
// .toml are encoded as TOML, everything else as YAML.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer
	buf.WriteString("# coven-sessions configuration\n\n")

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if !slices.Contains(validLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("logging.level must be one of %v, got %q", validLevels, c.Logging.Level)
	}
	if !slices.Contains(validFormats, strings.ToLower(c.Logging.Format)) {
		return fmt.Errorf("logging.format must be one of %v, got %q", validFormats, c.Logging.Format)
	}

	if c.Sessions.GracePeriod < 0 {
		return fmt.Errorf("sessions.grace_period must not be negative")
	}
	if c.Sessions.ReadTool == "" {
		return fmt.Errorf("sessions.read_tool is required")
	}
	if c.Sessions.TodoTool == "" {
		return fmt.Errorf("sessions.todo_tool is required")
	}

	if !slices.Contains(validPermissionModes, c.Agent.PermissionMode) {
		return fmt.Errorf("agent.permission_mode %q is not supported", c.Agent.PermissionMode)
	}
	if c.Agent.MaxTurns < 0 {
		return fmt.Errorf("agent.max_turns must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sessions.GracePeriodRaw != "" {
		cfg.Sessions.GracePeriod, err = time.ParseDuration(cfg.Sessions.GracePeriodRaw)
		if err != nil {
			return fmt.Errorf("parsing grace_period %q: %w", cfg.Sessions.GracePeriodRaw, err)
		}
	}

	if cfg.Agent.ReplayDelayRaw != "" {
		cfg.Agent.ReplayDelay, err = time.ParseDuration(cfg.Agent.ReplayDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing replay_delay %q: %w", cfg.Agent.ReplayDelayRaw, err)
		}
	}

	return nil
}

func defaultDatabasePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "coven", "sessions.db")
	}
	return "sessions.db"
}

func defaultProjectsDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".claude", "projects")
	}
	return ""
}
