// ABOUTME: Interactive creation of a coven-sessions config file
// ABOUTME: Prompts for each setting with the built-in default offered

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/2389/coven-sessions/internal/config"
)

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-sessions configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	cfg := config.Default()

	outputFile := prompt(reader, "Config file path (.yaml or .toml)", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Storage ---")
	cfg.Database.Path = prompt(reader, "SQLite database path", cfg.Database.Path)
	cfg.Logs.ProjectsDir = prompt(reader, "Conversation logs directory", cfg.Logs.ProjectsDir)

	fmt.Println("\n--- Sessions ---")
	for {
		raw := prompt(reader, "Idle session grace period", cfg.Sessions.GracePeriodRaw)
		d, err := time.ParseDuration(raw)
		if err == nil && d >= 0 {
			cfg.Sessions.GracePeriod, cfg.Sessions.GracePeriodRaw = d, raw
			break
		}
		fmt.Println("  please enter a duration such as 30s or 5m")
	}
	cfg.Sessions.ReadTool = prompt(reader, "Tool whose reads are grouped", cfg.Sessions.ReadTool)
	cfg.Sessions.TodoTool = prompt(reader, "Tool that carries the todo list", cfg.Sessions.TodoTool)

	fmt.Println("\n--- Agent ---")
	cfg.Agent.Model = prompt(reader, "Model", cfg.Agent.Model)
	cfg.Agent.PermissionMode = prompt(reader, "Permission mode (default/acceptEdits/plan/bypassPermissions)", "default")
	cfg.Agent.Script = prompt(reader, "Replay script (JSONL, optional)", cfg.Agent.Script)

	fmt.Println("\n--- Logging ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.Save(outputFile, cfg); err != nil {
		return err
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo replay a conversation:")
	fmt.Printf("  coven-sessions replay -config %s \"hello\"\n", outputFile)
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
