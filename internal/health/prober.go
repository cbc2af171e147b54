package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"overwatch/internal/audit"
	"overwatch/internal/config"
	"overwatch/internal/domain"
)

// Prober classifies overall system health with a two-stage escalation:
// each failing probe gets one short-delay retry, and only if every probe is
// down after that does the prober wait the long restart delay and re-probe
// everything once more. A single down probe never triggers the long recheck;
// the asymmetry reads "zero up" as a likely full restart and anything else
// as an isolated failure.
type Prober struct {
	Probes      []domain.ServiceProbe
	Healthy     []int
	RetryDelay  time.Duration
	RestartWait time.Duration
	CallTimeout time.Duration

	Client *http.Client
	Sleep  func(time.Duration)
	Ledger *audit.Ledger
}

// Report is the outcome of one health check.
type Report struct {
	Probes  []domain.ServiceProbe
	Up      int
	Down    int
	Status  string
	Retries int
	// Rechecked is set when the long-delay full re-probe ran.
	Rechecked bool
}

// New builds a prober from config.
func New(cfg *config.Config, ledger *audit.Ledger) *Prober {
	p := &Prober{
		Probes:      cfg.ProbeList(),
		Healthy:     cfg.Health.HealthyStatus,
		RetryDelay:  time.Duration(cfg.Health.RetryDelaySeconds) * time.Second,
		RestartWait: time.Duration(cfg.Health.RestartWaitSeconds) * time.Second,
		CallTimeout: time.Duration(cfg.Health.ProbeTimeoutSeconds) * time.Second,
		Sleep:       time.Sleep,
		Ledger:      ledger,
	}
	if len(p.Healthy) == 0 {
		p.Healthy = []int{http.StatusOK}
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = 3 * time.Second
	}
	p.Client = &http.Client{Timeout: p.CallTimeout}
	return p
}

// Check probes every endpoint and returns the classified report.
// Having no probes configured is a fatal configuration error.
func (p *Prober) Check(ctx context.Context) (Report, error) {
	if len(p.Probes) == 0 {
		return Report{}, fmt.Errorf("no health targets configured")
	}
	rep := Report{Probes: make([]domain.ServiceProbe, len(p.Probes))}
	copy(rep.Probes, p.Probes)

	for i := range rep.Probes {
		up := p.probeOnce(ctx, rep.Probes[i].Endpoint)
		if !up {
			p.sleep(p.RetryDelay)
			rep.Retries++
			up = p.probeOnce(ctx, rep.Probes[i].Endpoint)
			// up on retry is a transparent success, no penalty
			rep.Probes[i].Retried = up
		}
		p.mark(&rep.Probes[i], up)
	}

	if countUp(rep.Probes) == 0 {
		// the system may be mid-restart; wait and recheck all once
		p.log(audit.TagHealth, "all %d probes down | waiting %s before full recheck", len(rep.Probes), p.RestartWait)
		p.sleep(p.RestartWait)
		rep.Rechecked = true
		for i := range rep.Probes {
			p.mark(&rep.Probes[i], p.probeOnce(ctx, rep.Probes[i].Endpoint))
		}
	}

	rep.Up = countUp(rep.Probes)
	rep.Down = len(rep.Probes) - rep.Up
	switch {
	case rep.Down == 0:
		rep.Status = domain.HealthAllHealthy
	case rep.Up == 0:
		rep.Status = domain.HealthFullyDown
	default:
		rep.Status = domain.HealthDegraded
	}
	p.log(audit.TagHealth, "check complete | %s | %d up %d down", rep.OverallLine(), rep.Up, rep.Down)
	return rep, nil
}

// probeOnce treats transport errors and non-allow-listed status codes the
// same way: down.
func (p *Prober) probeOnce(ctx context.Context, endpoint string) bool {
	callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	res, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	for _, code := range p.Healthy {
		if res.StatusCode == code {
			return true
		}
	}
	return false
}

func (p *Prober) mark(probe *domain.ServiceProbe, up bool) {
	if up {
		probe.LastStatus = domain.ProbeUp
		probe.ConsecutiveFailures = 0
		return
	}
	probe.LastStatus = domain.ProbeDown
	probe.ConsecutiveFailures++
}

func (p *Prober) sleep(d time.Duration) {
	if p.Sleep != nil && d > 0 {
		p.Sleep(d)
	}
}

func (p *Prober) log(tag, format string, args ...any) {
	if p.Ledger != nil {
		_ = p.Ledger.Append(tag, format, args...)
	}
}

func countUp(probes []domain.ServiceProbe) int {
	n := 0
	for _, pr := range probes {
		if pr.LastStatus == domain.ProbeUp {
			n++
		}
	}
	return n
}

// OverallLine renders the final status, including the down count for the
// degraded case.
func (r Report) OverallLine() string {
	if r.Status == domain.HealthDegraded {
		return fmt.Sprintf("%s (%d down)", r.Status, r.Down)
	}
	return r.Status
}

// Render produces the textual report: one line per probe, a summary line
// and the overall status line.
func (r Report) Render() string {
	var b strings.Builder
	for _, p := range r.Probes {
		mark := "✅"
		note := ""
		if p.LastStatus != domain.ProbeUp {
			mark = "❌"
		} else if p.Retried {
			note = " (retry)"
		}
		fmt.Fprintf(&b, "%s %s:%s%s\n", mark, p.Name, p.Endpoint, note)
	}
	fmt.Fprintf(&b, "%d up %d down\n", r.Up, r.Down)
	fmt.Fprintf(&b, "overall: %s\n", r.OverallLine())
	return b.String()
}
