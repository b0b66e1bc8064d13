package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresReportStore keeps reports in analysis_reports; ratios are a
// JSONB object so new ratio kinds need no schema change.
type PostgresReportStore struct {
	db *sql.DB
}

func NewPostgresReportStore(db *sql.DB) (*PostgresReportStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresReportStore{db: db}, nil
}

const reportColumns = `id, report_type, bank_id, statement_id, period_end, ratios, rating, notes, created_by, created_at`

func scanReport(row interface{ Scan(...any) error }) (Report, error) {
	var (
		r         Report
		periodEnd time.Time
		ratios    []byte
		createdBy sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Type, &r.BankID, &r.StatementID, &periodEnd, &ratios, &r.Rating, &r.Notes, &createdBy, &r.CreatedAt); err != nil {
		return Report{}, err
	}
	if err := json.Unmarshal(ratios, &r.Ratios); err != nil {
		return Report{}, fmt.Errorf("decode report ratios: %w", err)
	}
	r.PeriodEnd = periodEnd.Format("2006-01-02")
	if createdBy.Valid {
		id := createdBy.Int64
		r.CreatedBy = &id
	}
	return r, nil
}

func (s *PostgresReportStore) Create(ctx context.Context, r Report) (Report, error) {
	ratios, err := json.Marshal(r.Ratios)
	if err != nil {
		return Report{}, fmt.Errorf("encode report ratios: %w", err)
	}
	var createdBy any
	if r.CreatedBy != nil {
		createdBy = *r.CreatedBy
	}
	const q = `
INSERT INTO analysis_reports (report_type, bank_id, statement_id, period_end, ratios, rating, notes, created_by)
VALUES ($1, $2, $3, $4::date, $5::jsonb, $6, $7, $8)
RETURNING ` + reportColumns
	out, err := scanReport(s.db.QueryRowContext(ctx, q, r.Type, r.BankID, r.StatementID, r.PeriodEnd, string(ratios), r.Rating, r.Notes, createdBy))
	if err != nil {
		return Report{}, fmt.Errorf("insert report: %w", err)
	}
	return out, nil
}

func (s *PostgresReportStore) Get(ctx context.Context, id int64) (Report, error) {
	q := `SELECT ` + reportColumns + ` FROM analysis_reports WHERE id = $1`
	r, err := scanReport(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Report{}, ErrReportNotFound
		}
		return Report{}, fmt.Errorf("query report: %w", err)
	}
	return r, nil
}

func (s *PostgresReportStore) ListByBank(ctx context.Context, bankID int64) ([]Report, error) {
	q := `SELECT ` + reportColumns + ` FROM analysis_reports WHERE bank_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, bankID)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	out := make([]Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return out, nil
}

func (s *PostgresReportStore) Delete(ctx context.Context, id int64) error {
	n, err := s.exec(ctx, `DELETE FROM analysis_reports WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReportNotFound
	}
	return nil
}

// DeleteByBank and DeleteByStatement usually find nothing: the foreign
// keys cascade first.
func (s *PostgresReportStore) DeleteByBank(ctx context.Context, bankID int64) (int, error) {
	return s.exec(ctx, `DELETE FROM analysis_reports WHERE bank_id = $1`, bankID)
}

func (s *PostgresReportStore) DeleteByStatement(ctx context.Context, statementID int64) (int, error) {
	return s.exec(ctx, `DELETE FROM analysis_reports WHERE statement_id = $1`, statementID)
}

func (s *PostgresReportStore) exec(ctx context.Context, q string, id int64) (int, error) {
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return 0, fmt.Errorf("delete reports: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete reports rows affected: %w", err)
	}
	return int(n), nil
}
