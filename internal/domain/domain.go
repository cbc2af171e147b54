package domain

// Mission is a numbered unit of orchestrated work. Missions are read-only
// configuration; the runner never mutates them.
type Mission struct {
	Sequence int    `json:"sequence" yaml:"sequence"`
	Name     string `json:"name" yaml:"name"`
	Ref      string `json:"ref" yaml:"ref"`
}

const (
	OutcomePassed  = "passed"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

const (
	SignalSuccess = "success"
	SignalFailure = "failure"
	SignalTimeout = "timeout"
)

// MissionOutcome is the immutable result of one mission execution or skip.
type MissionOutcome struct {
	RunID     string `json:"run_id"`
	Sequence  int    `json:"sequence"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"passed,failed,skipped"`
	Signal    string `json:"signal,omitempty" enum:"success,failure,timeout"`
	Detail    string `json:"detail,omitempty"`
	StartedAt string `json:"started_at,omitempty" format:"date-time"`
	EndedAt   string `json:"ended_at,omitempty" format:"date-time"`
}

// RunSummary aggregates one full mission run.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Passed     int    `json:"passed"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Total      int    `json:"total"`
	DryRun     bool   `json:"dry_run,omitempty"`
	StartedAt  string `json:"started_at" format:"date-time"`
	FinishedAt string `json:"finished_at,omitempty" format:"date-time"`
}

const (
	ProbeUp      = "up"
	ProbeDown    = "down"
	ProbeUnknown = "unknown"
)

// ServiceProbe is a named health-check target plus its last observed state.
type ServiceProbe struct {
	Name                string `json:"name" yaml:"name"`
	Endpoint            string `json:"endpoint" yaml:"endpoint"`
	LastStatus          string `json:"last_status" enum:"up,down,unknown"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Retried             bool   `json:"retried,omitempty"`
}

const (
	HealthAllHealthy = "all-healthy"
	HealthDegraded   = "partially-degraded"
	HealthFullyDown  = "fully-down"
)

// ChecksumRecord tracks the last known digest of a named data subject.
// A later mismatch is a drift signal for operator review, not an error.
type ChecksumRecord struct {
	Subject    string `json:"subject"`
	Digest     string `json:"digest"`
	RowCount   int    `json:"row_count"`
	RecordedAt string `json:"recorded_at" format:"date-time"`
}

const (
	VerdictPass     = "pass"
	VerdictNeedsFix = "needs-fix"
	VerdictHalt     = "halt"
)

// ScoreRecord holds the seven quality criteria and the derived verdict.
// It is always recomputable from the audit ledger, never a source of truth.
type ScoreRecord struct {
	Criteria map[string]float64 `json:"criteria"`
	Average  float64            `json:"average"`
	Verdict  string             `json:"verdict" enum:"pass,needs-fix,halt"`
}

// Finding is one suspicious line reported by the secret scanner.
type Finding struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
	Rule string `json:"rule"`
}

// AuditEntry is one parsed ledger line.
type AuditEntry struct {
	Tag     string `json:"tag"`
	TS      string `json:"ts" format:"date-time"`
	Message string `json:"message"`
}
