package audit_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"overwatch/internal/audit"
)

func newTestLedger(t *testing.T) *audit.Ledger {
	t.Helper()
	ledger, err := audit.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	ledger.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return ledger
}

func TestAppendFormat(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.Append(audit.TagRunner, "run=%s | started", "abc"); err != nil {
		t.Fatalf("append: %v", err)
	}
	data, err := os.ReadFile(ledger.Path)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	want := "[RUNNER] 2024-01-01T12:00:00Z | run=abc | started\n"
	if string(data) != want {
		t.Fatalf("line = %q, want %q", string(data), want)
	}
}

func TestAppendFlattensNewlines(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.Append(audit.TagScan, "multi\nline\nmessage"); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := ledger.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Message != "multi line message" {
		t.Fatalf("message = %q", entries[0].Message)
	}
}

func TestTailReturnsLastN(t *testing.T) {
	ledger := newTestLedger(t)
	for i := 0; i < 10; i++ {
		if err := ledger.Append(audit.TagHealth, "entry %d", i); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	entries, err := ledger.Tail(3)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Message != "entry 7" || entries[2].Message != "entry 9" {
		t.Fatalf("wrong window: first=%q last=%q", entries[0].Message, entries[2].Message)
	}
}

func TestTailMissingLedger(t *testing.T) {
	ledger := &audit.Ledger{Path: filepath.Join(t.TempDir(), "nope.log")}
	entries, err := ledger.Tail(5)
	if err != nil || entries != nil {
		t.Fatalf("missing ledger: entries=%v err=%v", entries, err)
	}
}

func TestParseLine(t *testing.T) {
	e := audit.ParseLine("[SECSCAN] 2024-01-01T12:00:00Z | scan clean | root=/x")
	if e.Tag != "SECSCAN" || e.TS != "2024-01-01T12:00:00Z" || e.Message != "scan clean | root=/x" {
		t.Fatalf("parsed = %+v", e)
	}

	raw := audit.ParseLine("not an audit line")
	if raw.Tag != "" || raw.Message != "not an audit line" {
		t.Fatalf("raw line parsed = %+v", raw)
	}
}

func TestConcurrentAppendsNeverInterleave(t *testing.T) {
	ledger := newTestLedger(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = ledger.Append(audit.TagRunner, "writer=%d msg=%d", n, j)
			}
		}(i)
	}
	wg.Wait()
	entries, err := ledger.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 200 {
		t.Fatalf("got %d entries, want 200", len(entries))
	}
	for _, e := range entries {
		if e.Tag != audit.TagRunner || !strings.HasPrefix(e.Message, "writer=") {
			t.Fatalf("garbled entry: %+v", e)
		}
	}
}

func TestSnapshotCopiesLedger(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.Append(audit.TagShutdown, "HALT | reason=test"); err != nil {
		t.Fatalf("append: %v", err)
	}
	dir := t.TempDir()
	path, err := ledger.Snapshot(dir)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	orig, _ := os.ReadFile(ledger.Path)
	copied, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if string(copied) != string(orig) {
		t.Fatalf("snapshot differs from ledger")
	}
	if !strings.HasPrefix(filepath.Base(path), "audit-") {
		t.Fatalf("snapshot name = %s", filepath.Base(path))
	}
}

func TestGuardDetectsTampering(t *testing.T) {
	workspace := t.TempDir()
	target := filepath.Join(workspace, "overwatch.yml")
	if err := os.WriteFile(target, []byte("watchdog:\n  id: x\n"), 0o644); err != nil {
		t.Fatalf("write target: %v", err)
	}

	guard := audit.NewGuard(workspace)
	if err := guard.Protect(target); err != nil {
		t.Fatalf("protect: %v", err)
	}
	mismatches, err := guard.Verify()
	if err != nil || len(mismatches) != 0 {
		t.Fatalf("clean verify: mismatches=%v err=%v", mismatches, err)
	}

	if err := os.WriteFile(target, []byte("watchdog:\n  id: tampered\n"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	mismatches, err = guard.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(mismatches) != 1 || !strings.Contains(mismatches[0], "digest changed") {
		t.Fatalf("mismatches = %v", mismatches)
	}
}

func TestGuardWithoutProtectVerifiesClean(t *testing.T) {
	guard := audit.NewGuard(t.TempDir())
	mismatches, err := guard.Verify()
	if err != nil || mismatches != nil {
		t.Fatalf("unprotected workspace: mismatches=%v err=%v", mismatches, err)
	}
}
