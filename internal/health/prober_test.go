package health_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"overwatch/internal/domain"
	"overwatch/internal/health"
)

func newTestProber(endpoints map[string]string) (*health.Prober, *[]time.Duration) {
	var slept []time.Duration
	p := &health.Prober{
		Healthy:     []int{http.StatusOK},
		RetryDelay:  2 * time.Second,
		RestartWait: 30 * time.Second,
		CallTimeout: time.Second,
		Client:      &http.Client{Timeout: time.Second},
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	}
	for name, url := range endpoints {
		p.Probes = append(p.Probes, domain.ServiceProbe{Name: name, Endpoint: url, LastStatus: domain.ProbeUnknown})
	}
	return p, &slept
}

func okServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func downServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAllHealthy(t *testing.T) {
	a, b := okServer(t), okServer(t)
	p, slept := newTestProber(map[string]string{"api": a.URL, "web": b.URL})

	rep, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rep.Status != domain.HealthAllHealthy || rep.Up != 2 || rep.Down != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Rechecked || len(*slept) != 0 {
		t.Fatalf("healthy check should not sleep: rechecked=%v slept=%v", rep.Rechecked, *slept)
	}
}

func TestSingleDownDoesNotTriggerFullRecheck(t *testing.T) {
	up, down := okServer(t), downServer(t)
	p, slept := newTestProber(map[string]string{"api": up.URL, "web": down.URL})

	rep, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rep.Status != domain.HealthDegraded || rep.Down != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Rechecked {
		t.Fatal("one healthy probe must suppress the long recheck")
	}
	// exactly one short retry delay, no restart wait
	if len(*slept) != 1 || (*slept)[0] != 2*time.Second {
		t.Fatalf("slept = %v", *slept)
	}
}

func TestRetrySuccessIsTransparent(t *testing.T) {
	var calls atomic.Int64
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(flaky.Close)

	p, _ := newTestProber(map[string]string{"api": flaky.URL})
	rep, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rep.Status != domain.HealthAllHealthy {
		t.Fatalf("status = %s, want %s", rep.Status, domain.HealthAllHealthy)
	}
	if !rep.Probes[0].Retried {
		t.Fatal("retried probe should carry the retry note")
	}
	if !strings.Contains(rep.Render(), "(retry)") {
		t.Fatalf("render missing retry note:\n%s", rep.Render())
	}
}

func TestAllDownWaitsAndRechecks(t *testing.T) {
	down := downServer(t)
	p, slept := newTestProber(map[string]string{"api": down.URL, "web": down.URL})

	rep, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rep.Status != domain.HealthFullyDown || !rep.Rechecked {
		t.Fatalf("report = %+v", rep)
	}
	// two per-probe retry delays, then the single long restart wait
	if len(*slept) != 3 || (*slept)[2] != 30*time.Second {
		t.Fatalf("slept = %v", *slept)
	}
}

func TestRecheckRecoversAfterRestart(t *testing.T) {
	var recovered atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if recovered.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	p, _ := newTestProber(map[string]string{"api": srv.URL})
	// the restart wait is where the system comes back
	p.Sleep = func(d time.Duration) {
		if d == p.RestartWait {
			recovered.Store(true)
		}
	}

	rep, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !rep.Rechecked || rep.Status != domain.HealthAllHealthy {
		t.Fatalf("report = %+v", rep)
	}
}

func TestUnreachableEndpointIsDown(t *testing.T) {
	p, _ := newTestProber(map[string]string{"gone": "http://127.0.0.1:1/health"})
	rep, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rep.Status != domain.HealthFullyDown {
		t.Fatalf("status = %s", rep.Status)
	}
}

func TestNoProbesIsConfigError(t *testing.T) {
	p := &health.Prober{Client: &http.Client{}, CallTimeout: time.Second}
	if _, err := p.Check(context.Background()); err == nil {
		t.Fatal("expected error for empty probe list")
	}
}

func TestOverallLineIncludesDownCount(t *testing.T) {
	rep := health.Report{Status: domain.HealthDegraded, Down: 2}
	if got := rep.OverallLine(); got != "partially-degraded (2 down)" {
		t.Fatalf("overall = %q", got)
	}
}
