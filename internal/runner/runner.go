package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"overwatch/internal/audit"
	"overwatch/internal/config"
	"overwatch/internal/domain"
	"overwatch/internal/repo"
)

// Options for one run.
type Options struct {
	DryRun bool
	// Mission filters the run to a single ordinal; 0 runs everything.
	Mission     int
	MaxParallel int
	Timeout     time.Duration
	Cooldown    time.Duration
}

// Runner executes missions in ordinal order. Missions sharing an ordinal
// form a wave and may run concurrently up to MaxParallel; waves are strictly
// ordered and separated by a cooldown pause. A mission failure never aborts
// the run; only operator cancellation does.
type Runner struct {
	Missions  []domain.Mission
	Workspace string
	Repo      repo.Repo
	Ledger    *audit.Ledger

	Now   func() time.Time
	Sleep func(time.Duration)
	// Exec runs one resolved mission definition. Injectable for tests.
	Exec func(ctx context.Context, m domain.Mission, path string) error
}

// New builds a runner over the configured mission list.
func New(workspace string, cfg *config.Config, r repo.Repo, ledger *audit.Ledger) *Runner {
	return &Runner{
		Missions:  cfg.Missions,
		Workspace: workspace,
		Repo:      r,
		Ledger:    ledger,
		Now:       time.Now,
		Sleep:     time.Sleep,
		Exec:      execMission,
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) ts() string {
	return r.now().UTC().Format(time.RFC3339)
}

func (r *Runner) log(format string, args ...any) {
	if r.Ledger != nil {
		_ = r.Ledger.Append(audit.TagRunner, format, args...)
	}
}

// Run executes every selected mission exactly once and returns the summary
// plus one outcome per mission. After Run returns, passed+failed+skipped
// equals total.
func (r *Runner) Run(ctx context.Context, opts Options) (domain.RunSummary, []domain.MissionOutcome, error) {
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	if opts.Timeout <= 0 {
		return domain.RunSummary{}, nil, fmt.Errorf("mission timeout must be > 0")
	}

	missions := r.selectMissions(opts.Mission)
	summary := domain.RunSummary{
		RunID:     uuid.New().String()[:8],
		Total:     len(missions),
		DryRun:    opts.DryRun,
		StartedAt: r.ts(),
	}

	if opts.DryRun {
		outcomes := r.dryRun(summary.RunID, missions)
		for _, o := range outcomes {
			bump(&summary, o.Status)
		}
		summary.FinishedAt = r.ts()
		return summary, outcomes, nil
	}

	if err := r.Repo.CreateRun(ctx, summary); err != nil {
		return summary, nil, fmt.Errorf("record run: %w", err)
	}
	r.log("run=%s | started | %d missions", summary.RunID, len(missions))

	var mu sync.Mutex
	var outcomes []domain.MissionOutcome
	record := func(o domain.MissionOutcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		bump(&summary, o.Status)
		mu.Unlock()
		if err := r.Repo.InsertOutcome(ctx, o); err != nil {
			r.log("run=%s mission=%s | outcome not persisted: %v", summary.RunID, o.Name, err)
		}
	}

	waves := groupWaves(missions)
	for i, wave := range waves {
		if err := ctx.Err(); err != nil {
			return summary, outcomes, fmt.Errorf("run cancelled: %w", err)
		}
		g, waveCtx := errgroup.WithContext(ctx)
		g.SetLimit(opts.MaxParallel)
		for _, m := range wave {
			m := m
			g.Go(func() error {
				record(r.runOne(waveCtx, summary.RunID, m, opts.Timeout))
				return nil
			})
		}
		_ = g.Wait()
		if i < len(waves)-1 && opts.Cooldown > 0 && r.Sleep != nil {
			// let transient resources settle before the next wave
			r.Sleep(opts.Cooldown)
		}
	}

	summary.FinishedAt = r.ts()
	if err := r.Repo.FinishRun(ctx, summary); err != nil {
		r.log("run=%s | summary not persisted: %v", summary.RunID, err)
	}
	r.log("run=%s | finished | passed=%d failed=%d skipped=%d total=%d",
		summary.RunID, summary.Passed, summary.Failed, summary.Skipped, summary.Total)
	return summary, outcomes, nil
}

// runOne executes a single mission under the per-mission timeout and
// classifies the result. A missing definition is a skip, not an error.
func (r *Runner) runOne(ctx context.Context, runID string, m domain.Mission, timeout time.Duration) domain.MissionOutcome {
	o := domain.MissionOutcome{RunID: runID, Sequence: m.Sequence, Name: m.Name}

	path, ok := r.resolve(m.Ref)
	if !ok {
		o.Status = domain.OutcomeSkipped
		o.Detail = fmt.Sprintf("definition not found: %s", m.Ref)
		r.log("run=%s mission=%s seq=%d status=skipped | definition not found: %s", runID, m.Name, m.Sequence, m.Ref)
		return o
	}

	o.StartedAt = r.ts()
	r.log("run=%s mission=%s seq=%d | started", runID, m.Name, m.Sequence)

	missionCtx, cancel := context.WithTimeout(ctx, timeout)
	err := r.Exec(missionCtx, m, path)
	cancel()
	o.EndedAt = r.ts()

	switch {
	case err == nil:
		o.Status = domain.OutcomePassed
		o.Signal = domain.SignalSuccess
		r.log("run=%s mission=%s seq=%d status=passed signal=success", runID, m.Name, m.Sequence)
	case errors.Is(err, context.DeadlineExceeded) || missionCtx.Err() == context.DeadlineExceeded:
		o.Status = domain.OutcomeFailed
		o.Signal = domain.SignalTimeout
		o.Detail = fmt.Sprintf("exceeded %s", timeout)
		r.log("run=%s mission=%s seq=%d status=failed signal=timeout | exceeded %s", runID, m.Name, m.Sequence, timeout)
	default:
		o.Status = domain.OutcomeFailed
		o.Signal = domain.SignalFailure
		o.Detail = err.Error()
		r.log("run=%s mission=%s seq=%d status=failed signal=failure | %v", runID, m.Name, m.Sequence, err)
	}
	return o
}

// dryRun validates that every definition resolves, with no side effects and
// no started/passed/failed ledger entries.
func (r *Runner) dryRun(runID string, missions []domain.Mission) []domain.MissionOutcome {
	outcomes := make([]domain.MissionOutcome, 0, len(missions))
	for _, m := range missions {
		o := domain.MissionOutcome{RunID: runID, Sequence: m.Sequence, Name: m.Name}
		if _, ok := r.resolve(m.Ref); ok {
			o.Status = domain.OutcomePassed
			o.Signal = domain.SignalSuccess
			o.Detail = "would-run"
			r.log("run=%s mission=%s seq=%d | would-run", runID, m.Name, m.Sequence)
		} else {
			o.Status = domain.OutcomeSkipped
			o.Detail = fmt.Sprintf("would-skip: definition not found: %s", m.Ref)
			r.log("run=%s mission=%s seq=%d | would-skip (definition not found: %s)", runID, m.Name, m.Sequence, m.Ref)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (r *Runner) selectMissions(filter int) []domain.Mission {
	missions := make([]domain.Mission, 0, len(r.Missions))
	for _, m := range r.Missions {
		if filter > 0 && m.Sequence != filter {
			continue
		}
		missions = append(missions, m)
	}
	sort.SliceStable(missions, func(i, j int) bool { return missions[i].Sequence < missions[j].Sequence })
	return missions
}

// resolve turns a definition ref into an executable path, reporting whether
// it exists.
func (r *Runner) resolve(ref string) (string, bool) {
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.Workspace, ref)
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, true
	}
	return path, false
}

// groupWaves splits an ordinal-sorted mission list into waves of equal
// sequence.
func groupWaves(missions []domain.Mission) [][]domain.Mission {
	var waves [][]domain.Mission
	for _, m := range missions {
		if n := len(waves); n > 0 && waves[n-1][0].Sequence == m.Sequence {
			waves[n-1] = append(waves[n-1], m)
			continue
		}
		waves = append(waves, []domain.Mission{m})
	}
	return waves
}

func bump(s *domain.RunSummary, status string) {
	switch status {
	case domain.OutcomePassed:
		s.Passed++
	case domain.OutcomeFailed:
		s.Failed++
	case domain.OutcomeSkipped:
		s.Skipped++
	}
}

// execMission runs the resolved definition as a command. The process is
// abandoned shortly after the deadline rather than waited on indefinitely.
func execMission(ctx context.Context, m domain.Mission, path string) error {
	cmd := exec.CommandContext(ctx, path)
	cmd.WaitDelay = 3 * time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return context.DeadlineExceeded
		}
		tail := strings.TrimSpace(string(out))
		if len(tail) > 200 {
			tail = tail[len(tail)-200:]
		}
		if tail != "" {
			return fmt.Errorf("%w: %s", err, tail)
		}
		return err
	}
	return nil
}
