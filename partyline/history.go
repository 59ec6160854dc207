package partyline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrLogNotFound = errors.New("no log for channel")

	// ErrHistoryLimit is returned when a history request exceeds
	// historyMaxLines.
	ErrHistoryLimit = errors.New("history limit exceeded")
)

// historyMaxLines caps a single history retrieval.
const historyMaxLines = 20

// HistoryLog keeps one append-only, newline-delimited log file per
// channel. Files are created on first append and never truncated or
// rewritten; reads return lines from the tail without consuming them.
type HistoryLog struct {
	dir string
	mu  sync.Mutex
}

func NewHistoryLog(dir string) *HistoryLog {
	return &HistoryLog{dir: dir}
}

func (h *HistoryLog) logPath(channel string) string {
	return filepath.Join(h.dir, channel+".log")
}

// Append adds one line to the channel's log, creating the log (and the
// log directory) if absent.
func (h *HistoryLog) Append(channel string, line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("error creating log dir: %w", err)
	}
	f, err := os.OpenFile(
		h.logPath(channel),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY,
		0o644,
	)
	if err != nil {
		return fmt.Errorf("error opening channel log: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err = f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("error appending to channel log: %w", err)
	}
	return nil
}

// Recent returns the last n lines of the channel's log, wrapped in a
// header and footer line. Requests above historyMaxLines fail with
// ErrHistoryLimit; a channel with no log yet fails with ErrLogNotFound.
// When n exceeds the number of recorded lines, the result is clamped to
// what exists and the header reports the clamped count.
func (h *HistoryLog) Recent(channel string, n int) ([]string, error) {
	if n > historyMaxLines {
		return nil, ErrHistoryLimit
	}
	if n < 0 {
		n = 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.logPath(channel))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrLogNotFound
		}
		return nil, fmt.Errorf("error reading channel log: %w", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}
	if n > len(lines) {
		n = len(lines)
	}

	out := make([]string, 0, n+2)
	out = append(out, fmt.Sprintf("The past %d lines in %s", n, channel))
	out = append(out, lines[len(lines)-n:]...)
	out = append(out, "End of log output.")
	return out, nil
}
