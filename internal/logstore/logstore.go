// ABOUTME: Reads recorded agent conversations from JSONL logs under ~/.claude/projects
// ABOUTME: Serves them as history for session loads; malformed lines and summaries are skipped

package logstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/2389/coven-sessions/internal/agent"
)

// ErrNotFound is returned when no log exists for a conversation id.
var ErrNotFound = errors.New("conversation log not found")

// maxLineSize bounds a single log record. Tool results embedding whole files
// make lines far longer than bufio's default; longer records are skipped.
const maxLineSize = agent.MaxLineSize

// errTitleFound stops the head scan once a title is known.
var errTitleFound = errors.New("title found")

const (
	titleScanLines = 50
	titleMaxLen    = 120
)

// Info describes one conversation log.
type Info struct {
	ID      string
	Project string
	Path    string
	Title   string
	ModTime int64 // unix seconds
	Size    int64
}

// Store reads conversation logs from a projects directory laid out as
// <root>/<project>/<conversation id>.jsonl.
type Store struct {
	root   string
	logger *slog.Logger
}

// DefaultRoot returns ~/.claude/projects.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// New creates a Store rooted at root. Pass nil logger for default.
func New(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:   root,
		logger: logger.With("component", "logstore"),
	}
}

// Root returns the projects directory.
func (s *Store) Root() string {
	return s.root
}

// List returns every conversation log, most recently modified first. A
// missing root yields an empty list.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	projects, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading projects directory: %w", err)
	}

	var infos []Info
	for _, proj := range projects {
		if !proj.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		projPath := filepath.Join(s.root, proj.Name())
		entries, err := os.ReadDir(projPath)
		if err != nil {
			s.logger.Warn("skipping unreadable project", "path", projPath, "error", err)
			continue
		}
		for _, e := range entries {
			// only top-level logs; subdirectories hold subagent transcripts
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
				continue
			}
			fi, err := e.Info()
			if err != nil {
				continue
			}
			path := filepath.Join(projPath, e.Name())
			infos = append(infos, Info{
				ID:      strings.TrimSuffix(e.Name(), ".jsonl"),
				Project: proj.Name(),
				Path:    path,
				Title:   s.title(path),
				ModTime: fi.ModTime().Unix(),
				Size:    fi.Size(),
			})
		}
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].ModTime > infos[j].ModTime
	})
	return infos, nil
}

// Find returns the path of the log for conversationID.
func (s *Store) Find(conversationID string) (string, error) {
	if conversationID == "" || strings.ContainsAny(conversationID, `/\`) {
		return "", ErrNotFound
	}
	matches, err := filepath.Glob(filepath.Join(s.root, "*", conversationID+".jsonl"))
	if err != nil {
		return "", fmt.Errorf("searching logs: %w", err)
	}
	if len(matches) == 0 {
		return "", ErrNotFound
	}
	if len(matches) > 1 {
		s.logger.Warn("conversation log found in several projects, using first",
			"conversation_id", conversationID,
			"paths", matches)
	}
	return matches[0], nil
}

// History returns the recorded updates of conversationID. Unknown ids yield
// an empty history, not an error.
func (s *Store) History(ctx context.Context, conversationID string) ([]*agent.Update, error) {
	path, err := s.Find(conversationID)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("no log for conversation", "conversation_id", conversationID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ReadFile(ctx, path, s.logger)
}

// ReadFile reads one log file. Pass nil logger for default.
func ReadFile(ctx context.Context, path string, logger *slog.Logger) ([]*agent.Update, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	if logger == nil {
		logger = slog.Default()
	}
	return Read(ctx, f, logger.With("path", path))
}

// Read decodes a JSONL stream into history updates. Summary records and
// records of unknown type are dropped, repeated uuids are kept once, and
// malformed or oversized lines are skipped.
func Read(ctx context.Context, r io.Reader, logger *slog.Logger) ([]*agent.Update, error) {
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[string]struct{})
	var updates []*agent.Update
	skipped := 0
	lineNo := 0
	oversized, err := agent.ReadLines(r, maxLineSize, func(line []byte) error {
		lineNo++
		if lineNo%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if len(bytes.TrimSpace(line)) == 0 {
			return nil
		}
		u, err := agent.Decode(line)
		if err != nil {
			skipped++
			logger.Debug("skipping malformed line", "line", lineNo, "error", err)
			return nil
		}
		if u.Type == agent.UpdateSummary || !u.Type.Known() {
			return nil
		}
		if u.UUID != "" {
			if _, dup := seen[u.UUID]; dup {
				return nil
			}
			seen[u.UUID] = struct{}{}
		}
		updates = append(updates, u)
		return nil
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}

	if skipped+oversized > 0 {
		logger.Warn("skipped malformed log lines", "count", skipped+oversized, "oversized", oversized)
	}
	return updates, nil
}

// title returns the first user text of a log, read from its head only.
func (s *Store) title(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var title string
	n := 0
	_, err = agent.ReadLines(f, maxLineSize, func(line []byte) error {
		if n++; n > titleScanLines {
			return errTitleFound
		}
		u, err := agent.Decode(line)
		if err != nil || u.Type != agent.UpdateUser {
			return nil
		}
		for _, frag := range u.Content {
			if frag.Kind != agent.FragmentText {
				continue
			}
			if text := strings.Join(strings.Fields(frag.Text), " "); text != "" {
				title = truncate(text, titleMaxLen)
				return errTitleFound
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errTitleFound) {
		return ""
	}
	return title
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-2]) + ".."
}
