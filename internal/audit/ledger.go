package audit

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"overwatch/internal/domain"
)

const ledgerName = "audit.log"

// Common ledger tags. Components may define their own; these cover the core.
const (
	TagRunner   = "RUNNER"
	TagHealth   = "HEALTH"
	TagScan     = "SECSCAN"
	TagDataVal  = "DATA_VAL"
	TagScore    = "SCORE"
	TagShutdown = "SHUTDOWN"
	TagConfig   = "CONFIG"
)

// Ledger is the append-only audit log. Entries are single text lines of the
// form "[TAG] <RFC3339> | message", written with one atomic write each so
// concurrent appenders never interleave partial lines. Entries are never
// rewritten or deleted.
type Ledger struct {
	Path string
	Now  func() time.Time

	mu sync.Mutex
}

// Open returns the ledger for a workspace, creating the state dir if needed.
func Open(workspace string) (*Ledger, error) {
	dir := filepath.Join(workspace, ".overwatch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Ledger{Path: filepath.Join(dir, ledgerName), Now: time.Now}, nil
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Append writes one entry. The write is append-only; the ledger file is
// opened O_APPEND and the full line goes out in a single Write call.
func (l *Ledger) Append(tag, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	msg = strings.ReplaceAll(msg, "\n", " ")
	line := fmt.Sprintf("[%s] %s | %s\n", tag, l.now().UTC().Format(time.RFC3339), msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit ledger: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Tail returns the last n entries, oldest first. Unparseable lines are
// returned as bare messages so nothing in the ledger is ever hidden.
func (l *Ledger) Tail(n int) ([]domain.AuditEntry, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	entries := make([]domain.AuditEntry, 0, len(lines))
	for _, line := range lines {
		entries = append(entries, ParseLine(line))
	}
	return entries, nil
}

// Entries returns the full ledger, oldest first.
func (l *Ledger) Entries() ([]domain.AuditEntry, error) {
	return l.Tail(0)
}

// ParseLine splits an audit line into tag, timestamp and message.
func ParseLine(line string) domain.AuditEntry {
	e := domain.AuditEntry{Message: line}
	if !strings.HasPrefix(line, "[") {
		return e
	}
	end := strings.Index(line, "]")
	if end < 0 {
		return e
	}
	rest := strings.TrimSpace(line[end+1:])
	ts, msg, ok := strings.Cut(rest, " | ")
	if !ok {
		return e
	}
	e.Tag = line[1:end]
	e.TS = strings.TrimSpace(ts)
	e.Message = msg
	return e
}

// Snapshot copies the current ledger into dir, named with a UTC timestamp.
// Returns the path of the copy.
func (l *Ledger) Snapshot(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	src, err := os.Open(l.Path)
	if err != nil {
		return "", fmt.Errorf("open ledger for snapshot: %w", err)
	}
	defer src.Close()
	name := fmt.Sprintf("audit-%s.log", l.now().UTC().Format("20060102T150405Z"))
	dstPath := filepath.Join(dir, name)
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copy ledger: %w", err)
	}
	return dstPath, nil
}
