package repo

import (
	"context"
	"database/sql"

	"overwatch/internal/domain"
)

// UpsertChecksum stores or replaces the record for a data subject. Only
// validation-storage calls write here; comparison-only paths never do.
func (r Repo) UpsertChecksum(ctx context.Context, rec domain.ChecksumRecord) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO checksums(subject, digest, row_count, recorded_at)
VALUES (?,?,?,?)
ON CONFLICT(subject) DO UPDATE SET digest=excluded.digest, row_count=excluded.row_count, recorded_at=excluded.recorded_at`,
		rec.Subject, rec.Digest, rec.RowCount, rec.RecordedAt)
	return err
}

func (r Repo) GetChecksum(ctx context.Context, subject string) (domain.ChecksumRecord, error) {
	var rec domain.ChecksumRecord
	err := r.DB.QueryRowContext(ctx, `SELECT subject, digest, row_count, recorded_at FROM checksums WHERE subject=?`, subject).
		Scan(&rec.Subject, &rec.Digest, &rec.RowCount, &rec.RecordedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	return rec, err
}

func (r Repo) ListChecksums(ctx context.Context) ([]domain.ChecksumRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT subject, digest, row_count, recorded_at FROM checksums ORDER BY subject ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecksumRecord
	for rows.Next() {
		var rec domain.ChecksumRecord
		if err := rows.Scan(&rec.Subject, &rec.Digest, &rec.RowCount, &rec.RecordedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
