package shutdown_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"overwatch/internal/audit"
	"overwatch/internal/config"
	"overwatch/internal/shutdown"
)

func newTestController(t *testing.T) (*shutdown.Controller, *audit.Ledger) {
	t.Helper()
	workspace := t.TempDir()
	ledger, err := audit.Open(workspace)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	if err := ledger.Append(audit.TagRunner, "run=x | finished | passed=1 failed=0 skipped=0 total=1"); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	cfg := config.Default("overwatch")
	cfg.Watchdog.EvidenceDir = t.TempDir()
	cfg.Shutdown.ProcessPatterns = []string{"worker-a", "worker-b"}
	ctl := shutdown.New(workspace, cfg, ledger)
	ctl.Out = &bytes.Buffer{}
	ctl.Kill = func(pattern string) error { return nil }
	ctl.PowerFn = func(ctx context.Context) error { return nil }
	ctl.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return ctl, ledger
}

func TestExecutePreservesEvidenceAndHaltsSafe(t *testing.T) {
	ctl, ledger := newTestController(t)
	var killed []string
	ctl.Kill = func(pattern string) error {
		killed = append(killed, pattern)
		return nil
	}

	rep, err := ctl.Execute(context.Background(), "test")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rep.State != shutdown.StateHaltedSafe {
		t.Fatalf("state = %s, want %s", rep.State, shutdown.StateHaltedSafe)
	}
	if rep.PowerOffAttempted {
		t.Fatal("power-off disabled by default")
	}
	if len(killed) != 2 {
		t.Fatalf("killed = %v", killed)
	}

	// the evidence copy contains the ledger including the halt record
	if rep.EvidencePath == "" {
		t.Fatal("no evidence path")
	}
	data, err := os.ReadFile(rep.EvidencePath + "/audit.log")
	if err != nil {
		t.Fatalf("read evidence ledger: %v", err)
	}
	if !strings.Contains(string(data), "HALT | reason=test") {
		t.Fatalf("evidence ledger missing halt record:\n%s", data)
	}

	if rep.SnapshotPath == "" {
		t.Fatal("no ledger snapshot")
	}
	if _, err := os.Stat(rep.SnapshotPath); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}

	entries, err := ledger.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Tag == audit.TagShutdown && strings.Contains(e.Message, "reason=test") {
			found = true
		}
	}
	if !found {
		t.Fatal("no SHUTDOWN entry in the live ledger")
	}
}

func TestFailingStepNeverBlocksLaterSteps(t *testing.T) {
	ctl, _ := newTestController(t)
	ctl.Kill = func(pattern string) error { return fmt.Errorf("no permission") }

	rep, err := ctl.Execute(context.Background(), "kill failure")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var killStep, evidenceStep shutdown.StepResult
	for _, s := range rep.Steps {
		switch s.Name {
		case "kill-services":
			killStep = s
		case "evidence-copy":
			evidenceStep = s
		}
	}
	if killStep.Err == "" {
		t.Fatal("kill failure not captured")
	}
	if evidenceStep.Name == "" || evidenceStep.Err != "" {
		t.Fatalf("evidence step = %+v, must still run", evidenceStep)
	}
	if rep.State != shutdown.StateHaltedSafe {
		t.Fatalf("state = %s", rep.State)
	}
}

func TestPowerOffGracePeriodIsCancellable(t *testing.T) {
	ctl, _ := newTestController(t)
	ctl.PowerOff = true
	ctl.Grace = time.Minute
	powered := false
	ctl.PowerFn = func(ctx context.Context) error {
		powered = true
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := ctl.Execute(ctx, "cancelled power-off")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if powered {
		t.Fatal("power-off ran despite cancellation")
	}
	if rep.PowerOffAttempted || rep.State != shutdown.StateHaltedSafe {
		t.Fatalf("report = %+v", rep)
	}
}

func TestPowerOffAfterGrace(t *testing.T) {
	ctl, _ := newTestController(t)
	ctl.PowerOff = true
	ctl.Grace = 10 * time.Millisecond
	powered := false
	ctl.PowerFn = func(ctx context.Context) error {
		powered = true
		return nil
	}

	rep, err := ctl.Execute(context.Background(), "power off")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !powered || !rep.PowerOffAttempted || rep.State != shutdown.StateHostOff {
		t.Fatalf("report = %+v powered=%v", rep, powered)
	}
}

func TestPowerOffFailureLandsHaltedSafe(t *testing.T) {
	ctl, _ := newTestController(t)
	ctl.PowerOff = true
	ctl.Grace = 0
	ctl.PowerFn = func(ctx context.Context) error { return fmt.Errorf("not permitted") }

	rep, err := ctl.Execute(context.Background(), "power off denied")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rep.State != shutdown.StateHaltedSafe || !rep.PowerOffAttempted {
		t.Fatalf("report = %+v", rep)
	}
}

func TestWebhookNotification(t *testing.T) {
	var mu sync.Mutex
	var got map[string]any
	var secret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		secret = r.Header.Get("X-Overwatch-Secret")
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	ctl, _ := newTestController(t)
	ctl.Notifier = shutdown.NewNotifier([]config.WebhookConfig{{URL: srv.URL, Secret: "hush"}})

	if _, err := ctl.Execute(context.Background(), "webhook test"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if got["reason"] != "webhook test" || got["event"] != "shutdown" {
		t.Fatalf("payload = %v", got)
	}
	if secret != "hush" {
		t.Fatalf("secret header = %q", secret)
	}
}

func TestHaltSatisfiesScorerContract(t *testing.T) {
	ctl, ledger := newTestController(t)
	if err := ctl.Halt(context.Background(), "quality verdict halt"); err != nil {
		t.Fatalf("halt: %v", err)
	}
	entries, err := ledger.Entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Tag == audit.TagShutdown && strings.Contains(e.Message, "quality verdict halt") {
			found = true
		}
	}
	if !found {
		t.Fatal("halt reason not in ledger")
	}
}
