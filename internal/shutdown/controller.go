package shutdown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"overwatch/internal/audit"
	"overwatch/internal/config"
)

// States of the controller.
const (
	StateRunning           = "running"
	StateInitiated         = "shutdown-initiated"
	StateEvidencePreserved = "evidence-preserved"
	StateServicesKilled    = "services-killed"
	StateHostOff           = "host-off"
	StateHaltedSafe        = "halted-safe"
)

// Controller performs the emergency shutdown sequence. Every step is
// best-effort: a failing step is captured in the report and never blocks
// the steps after it.
type Controller struct {
	Workspace       string
	EvidenceDir     string
	ProcessPatterns []string
	PowerOff        bool
	Grace           time.Duration
	Webhooks        []config.WebhookConfig

	Ledger   *audit.Ledger
	Now      func() time.Time
	Kill     func(pattern string) error
	PowerFn  func(ctx context.Context) error
	Notifier *Notifier
	Out      io.Writer
}

// StepResult records one step of the sequence.
type StepResult struct {
	Name string `json:"name"`
	Err  string `json:"error,omitempty"`
}

// Report is the outcome of one shutdown invocation.
type Report struct {
	Reason            string       `json:"reason"`
	State             string       `json:"state"`
	Steps             []StepResult `json:"steps"`
	SnapshotPath      string       `json:"snapshot_path,omitempty"`
	EvidencePath      string       `json:"evidence_path,omitempty"`
	PowerOffAttempted bool         `json:"power_off_attempted"`
}

// New builds a controller from config.
func New(workspace string, cfg *config.Config, ledger *audit.Ledger) *Controller {
	return &Controller{
		Workspace:       workspace,
		EvidenceDir:     cfg.Watchdog.EvidenceDir,
		ProcessPatterns: cfg.Shutdown.ProcessPatterns,
		PowerOff:        cfg.Shutdown.PowerOff,
		Grace:           time.Duration(cfg.Shutdown.GraceSeconds) * time.Second,
		Webhooks:        cfg.Shutdown.Webhooks,
		Ledger:          ledger,
		Now:             time.Now,
		Kill:            killByPattern,
		PowerFn:         hostPowerOff,
		Notifier:        NewNotifier(cfg.Shutdown.Webhooks),
		Out:             os.Stdout,
	}
}

// Halt runs the full sequence. It satisfies the scorer's Halter interface.
func (c *Controller) Halt(ctx context.Context, reason string) error {
	_, err := c.Execute(ctx, reason)
	return err
}

// Execute performs, in order: halt ledger entry, ledger snapshot, service
// kill, evidence copy, operator alert, and (if enabled) host power-off after
// a cancellable grace period. Step failures land in the report and never
// block the steps after them.
func (c *Controller) Execute(ctx context.Context, reason string) (Report, error) {
	rep := Report{Reason: reason, State: StateInitiated}
	step := func(name string, err error) {
		sr := StepResult{Name: name}
		if err != nil {
			sr.Err = err.Error()
		}
		rep.Steps = append(rep.Steps, sr)
	}

	// 1. halt record
	err := c.Ledger.Append(audit.TagShutdown, "HALT | reason=%s", reason)
	step("halt-record", err)
	if err != nil {
		// the audit trail is compromised; continue best-effort anyway
		fmt.Fprintf(c.out(), "WARNING: audit ledger unwritable: %v\n", err)
	}

	// 2. ledger snapshot
	backupDir := filepath.Join(c.Workspace, ".overwatch", "backups")
	snap, err := c.Ledger.Snapshot(backupDir)
	step("ledger-snapshot", err)
	if err == nil {
		rep.SnapshotPath = snap
		rep.State = StateEvidencePreserved
	}

	// 3. terminate managed services
	var killErr error
	for _, pattern := range c.ProcessPatterns {
		if err := c.kill(pattern); err != nil {
			killErr = errors.Join(killErr, fmt.Errorf("kill %s: %w", pattern, err))
		}
	}
	step("kill-services", killErr)
	if killErr == nil && len(c.ProcessPatterns) > 0 {
		rep.State = StateServicesKilled
	}

	// 4. copy safety state out of tree
	evidence, err := c.preserveEvidence()
	step("evidence-copy", err)
	if err == nil {
		rep.EvidencePath = evidence
	}

	// 5. operator alert
	fmt.Fprintf(c.out(), "\n*** EMERGENCY SHUTDOWN ***\nreason: %s\nevidence: %s\n\n", reason, rep.EvidencePath)
	if c.Notifier != nil {
		step("notify-webhooks", c.Notifier.Alert(ctx, reason, rep.State))
	}

	// 6. optional host power-off, cancellable during the grace period
	if c.PowerOff {
		rep.PowerOffAttempted = true
		fmt.Fprintf(c.out(), "host power-off in %s (cancel to abort)\n", c.Grace)
		select {
		case <-ctx.Done():
			_ = c.Ledger.Append(audit.TagShutdown, "power-off cancelled | reason=%s", reason)
			rep.PowerOffAttempted = false
			rep.State = StateHaltedSafe
			return rep, nil
		case <-time.After(c.Grace):
		}
		if err := c.PowerFn(ctx); err != nil {
			step("power-off", err)
			rep.State = StateHaltedSafe
			return rep, nil
		}
		step("power-off", nil)
		rep.State = StateHostOff
		return rep, nil
	}

	rep.State = StateHaltedSafe
	return rep, nil
}

func (c *Controller) kill(pattern string) error {
	if c.Kill != nil {
		return c.Kill(pattern)
	}
	return killByPattern(pattern)
}

func (c *Controller) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return os.Stdout
}

// preserveEvidence copies the workspace safety-state directory to a
// timestamped directory under EvidenceDir.
func (c *Controller) preserveEvidence() (string, error) {
	if c.EvidenceDir == "" {
		return "", fmt.Errorf("no evidence directory configured")
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	name := fmt.Sprintf("evidence-%s-%s", now().UTC().Format("20060102T150405Z"), uuid.New().String()[:8])
	dst := filepath.Join(c.EvidenceDir, name)
	src := filepath.Join(c.Workspace, ".overwatch")
	if err := copyTree(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}

// killByPattern terminates processes whose command line matches pattern.
// pkill exiting 1 means no processes matched, which is not a failure here.
func killByPattern(pattern string) error {
	cmd := exec.Command("pkill", "-f", pattern)
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	return err
}

func hostPowerOff(ctx context.Context) error {
	return exec.CommandContext(ctx, "systemctl", "poweroff").Run()
}
