package score

import (
	"context"
	"fmt"
	"math"
	"strings"

	"overwatch/internal/audit"
	"overwatch/internal/config"
	"overwatch/internal/domain"
)

// Criterion names.
const (
	Honest      = "honest"
	Reliable    = "reliable"
	Safe        = "safe"
	Clean       = "clean"
	DataCorrect = "data_correct"
	Usable      = "usable"
	Documented  = "documented"
)

const (
	hardFloor     = 5.0
	passThreshold = 7.0
)

// DefaultWeights sum to 1.0.
var DefaultWeights = map[string]float64{
	Honest:      0.20,
	Reliable:    0.20,
	Safe:        0.15,
	DataCorrect: 0.15,
	Clean:       0.10,
	Usable:      0.10,
	Documented:  0.10,
}

// Halter is invoked when the verdict is halt.
type Halter interface {
	Halt(ctx context.Context, reason string) error
}

// Scorer reduces criteria scores into a verdict. Any single criterion below
// the hard floor forces halt regardless of average; a weighted average below
// the pass threshold forces needs-fix.
type Scorer struct {
	Weights map[string]float64
	Ledger  *audit.Ledger
	Halter  Halter
}

func New(cfg *config.Config, ledger *audit.Ledger, halter Halter) Scorer {
	weights := DefaultWeights
	if len(cfg.Scoring.Weights) > 0 {
		weights = cfg.Scoring.Weights
	}
	return Scorer{Weights: weights, Ledger: ledger, Halter: halter}
}

// Evaluate scores an explicit submission. Criteria absent from the map are
// not-applicable: they are excluded and the remaining weights renormalized,
// never treated as zero. Values must be on the 1-10 scale.
func (s Scorer) Evaluate(ctx context.Context, criteria map[string]float64) (domain.ScoreRecord, error) {
	if len(criteria) == 0 {
		return domain.ScoreRecord{}, fmt.Errorf("no applicable criteria submitted")
	}
	var weightSum, weighted float64
	low := ""
	for name, value := range criteria {
		w, known := s.Weights[name]
		if !known {
			return domain.ScoreRecord{}, fmt.Errorf("unknown criterion %q", name)
		}
		if value < 1 || value > 10 {
			return domain.ScoreRecord{}, fmt.Errorf("criterion %s=%v out of 1-10 range", name, value)
		}
		weightSum += w
		weighted += w * value
		if value < hardFloor && low == "" {
			low = name
		}
	}
	rec := domain.ScoreRecord{
		Criteria: criteria,
		Average:  math.Round(weighted/weightSum*100) / 100,
	}
	switch {
	case low != "":
		rec.Verdict = domain.VerdictHalt
	case rec.Average < passThreshold:
		rec.Verdict = domain.VerdictNeedsFix
	default:
		rec.Verdict = domain.VerdictPass
	}

	if s.Ledger != nil {
		_ = s.Ledger.Append(audit.TagScore, "verdict=%s average=%.2f criteria=%d", rec.Verdict, rec.Average, len(criteria))
	}
	if rec.Verdict == domain.VerdictHalt && s.Halter != nil {
		reason := fmt.Sprintf("quality verdict halt: criterion %s below floor (%.1f)", low, criteria[low])
		if err := s.Halter.Halt(ctx, reason); err != nil {
			return rec, fmt.Errorf("halt verdict: %w", err)
		}
	}
	return rec, nil
}

// FromLedger derives criteria scores from a recent audit window and
// evaluates them. Every criterion starts at a neutral 8 and is adjusted by
// counted evidence; criteria the window says nothing about stay neutral.
func (s Scorer) FromLedger(ctx context.Context, entries []domain.AuditEntry) (domain.ScoreRecord, error) {
	var passed, failed, mismatches, rangeViol, findings, tampered int
	health := ""
	for _, e := range entries {
		switch e.Tag {
		case audit.TagRunner:
			if strings.Contains(e.Message, "status=passed") {
				passed++
			}
			if strings.Contains(e.Message, "status=failed") {
				failed++
			}
		case audit.TagDataVal:
			if strings.Contains(e.Message, "MISMATCH") {
				mismatches++
			}
			if strings.Contains(e.Message, "range check") && strings.Contains(e.Message, "row ") {
				rangeViol++
			}
		case audit.TagScan:
			if strings.Contains(e.Message, "findings") && !strings.Contains(e.Message, "0 findings") {
				findings++
			}
		case audit.TagShutdown:
			if strings.Contains(e.Message, "tamper") {
				tampered++
			}
		case audit.TagHealth:
			if strings.Contains(e.Message, domain.HealthFullyDown) {
				health = domain.HealthFullyDown
			} else if strings.Contains(e.Message, domain.HealthDegraded) && health == "" {
				health = domain.HealthDegraded
			}
		}
		if strings.Contains(e.Message, "digest changed") {
			tampered++
		}
	}

	criteria := map[string]float64{
		Honest:      8,
		Reliable:    8,
		Safe:        8,
		Clean:       8,
		DataCorrect: 8,
		Usable:      8,
		Documented:  8,
	}
	if passed+failed > 0 {
		criteria[Reliable] = clamp(10-9*float64(failed)/float64(passed+failed), 1, 10)
	}
	if findings > 0 {
		// hardcoded credentials are a halt-worthy safety violation
		criteria[Safe] = 4
		criteria[Clean] = clamp(8-float64(findings), 5, 10)
	}
	if tampered > 0 {
		// protected-file tampering is halt-worthy
		criteria[Honest] = 4
	}
	if mismatches+rangeViol > 0 {
		// checksum drift and range violations surface as needs-fix
		// pressure, never a halt by themselves
		criteria[DataCorrect] = clamp(10-float64(mismatches)-float64(rangeViol), 5, 10)
	}
	switch health {
	case domain.HealthFullyDown:
		criteria[Usable] = 5
	case domain.HealthDegraded:
		criteria[Usable] = 7
	}
	return s.Evaluate(ctx, criteria)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
