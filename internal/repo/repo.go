package repo

import (
	"context"
	"database/sql"
	"errors"

	"overwatch/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Repo struct {
	DB *sql.DB
}

func (r Repo) CreateRun(ctx context.Context, run domain.RunSummary) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO runs(id, dry_run, passed, failed, skipped, total, started_at) VALUES (?,?,?,?,?,?,?)`,
		run.RunID, boolInt(run.DryRun), run.Passed, run.Failed, run.Skipped, run.Total, run.StartedAt)
	return err
}

func (r Repo) FinishRun(ctx context.Context, run domain.RunSummary) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET passed=?, failed=?, skipped=?, total=?, finished_at=? WHERE id=?`,
		run.Passed, run.Failed, run.Skipped, run.Total, nullableString(run.FinishedAt), run.RunID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.RunSummary, error) {
	var run domain.RunSummary
	var dryRun int
	var finished sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id, dry_run, passed, failed, skipped, total, started_at, finished_at FROM runs WHERE id=?`, id).
		Scan(&run.RunID, &dryRun, &run.Passed, &run.Failed, &run.Skipped, &run.Total, &run.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	run.DryRun = dryRun != 0
	if finished.Valid {
		run.FinishedAt = finished.String
	}
	return run, nil
}

// LatestRun returns the most recently started run.
func (r Repo) LatestRun(ctx context.Context) (domain.RunSummary, error) {
	var run domain.RunSummary
	var dryRun int
	var finished sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id, dry_run, passed, failed, skipped, total, started_at, finished_at FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`).
		Scan(&run.RunID, &dryRun, &run.Passed, &run.Failed, &run.Skipped, &run.Total, &run.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	run.DryRun = dryRun != 0
	if finished.Valid {
		run.FinishedAt = finished.String
	}
	return run, nil
}

func (r Repo) InsertOutcome(ctx context.Context, o domain.MissionOutcome) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO mission_outcomes(run_id, sequence, name, status, signal, detail, started_at, ended_at)
VALUES (?,?,?,?,?,?,?,?)`,
		o.RunID, o.Sequence, o.Name, o.Status, nullableString(o.Signal), nullableString(o.Detail),
		nullableString(o.StartedAt), nullableString(o.EndedAt))
	return err
}

func (r Repo) ListOutcomes(ctx context.Context, runID string) ([]domain.MissionOutcome, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT run_id, sequence, name, status, signal, detail, started_at, ended_at
FROM mission_outcomes WHERE run_id=? ORDER BY sequence ASC, name ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MissionOutcome
	for rows.Next() {
		var o domain.MissionOutcome
		var signal, detail, started, ended sql.NullString
		if err := rows.Scan(&o.RunID, &o.Sequence, &o.Name, &o.Status, &signal, &detail, &started, &ended); err != nil {
			return nil, err
		}
		if signal.Valid {
			o.Signal = signal.String
		}
		if detail.Valid {
			o.Detail = detail.String
		}
		if started.Valid {
			o.StartedAt = started.String
		}
		if ended.Valid {
			o.EndedAt = ended.String
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
