package bank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// PostgresStore keeps banks and statements in the banks and
// financial_statements tables. Statements cascade with their bank.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresStore{db: db}, nil
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

const bankColumns = `id, name, code, country, description, created_at, updated_at`

func scanBank(row interface{ Scan(...any) error }) (Bank, error) {
	var b Bank
	err := row.Scan(&b.ID, &b.Name, &b.Code, &b.Country, &b.Description, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (s *PostgresStore) CreateBank(ctx context.Context, b Bank) (Bank, error) {
	const q = `
INSERT INTO banks (name, code, country, description)
VALUES ($1, $2, $3, $4)
RETURNING ` + bankColumns
	out, err := scanBank(s.db.QueryRowContext(ctx, q, b.Name, b.Code, b.Country, b.Description))
	if err != nil {
		if pqCode(err) == uniqueViolation {
			return Bank{}, ErrBankCodeTaken
		}
		return Bank{}, fmt.Errorf("insert bank: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetBank(ctx context.Context, id int64) (Bank, error) {
	q := `SELECT ` + bankColumns + ` FROM banks WHERE id = $1`
	b, err := scanBank(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Bank{}, ErrBankNotFound
		}
		return Bank{}, fmt.Errorf("query bank: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) ListBanks(ctx context.Context) ([]Bank, error) {
	q := `SELECT ` + bankColumns + ` FROM banks ORDER BY lower(name), id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query banks: %w", err)
	}
	defer rows.Close()

	out := make([]Bank, 0)
	for rows.Next() {
		b, err := scanBank(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bank: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate banks: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateBank(ctx context.Context, b Bank) (Bank, error) {
	const q = `
UPDATE banks
SET name = $2, code = $3, country = $4, description = $5, updated_at = NOW()
WHERE id = $1
RETURNING ` + bankColumns
	out, err := scanBank(s.db.QueryRowContext(ctx, q, b.ID, b.Name, b.Code, b.Country, b.Description))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Bank{}, ErrBankNotFound
		}
		if pqCode(err) == uniqueViolation {
			return Bank{}, ErrBankCodeTaken
		}
		return Bank{}, fmt.Errorf("update bank: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteBank(ctx context.Context, id int64) error {
	return s.deleteOne(ctx, `DELETE FROM banks WHERE id = $1`, id, ErrBankNotFound)
}

const statementColumns = `id, bank_id, period_end, cash, short_term_investments, current_assets, total_assets,
current_liabilities, total_liabilities, customer_deposits, loans, total_equity,
tier1_capital, tier2_capital, risk_weighted_assets, created_by, created_at`

func scanStatement(row interface{ Scan(...any) error }) (Statement, error) {
	var (
		st        Statement
		periodEnd time.Time
		createdBy sql.NullInt64
	)
	err := row.Scan(&st.ID, &st.BankID, &periodEnd, &st.Cash, &st.ShortTermInvestments, &st.CurrentAssets, &st.TotalAssets,
		&st.CurrentLiabilities, &st.TotalLiabilities, &st.CustomerDeposits, &st.Loans, &st.TotalEquity,
		&st.Tier1Capital, &st.Tier2Capital, &st.RiskWeightedAssets, &createdBy, &st.CreatedAt)
	if err != nil {
		return Statement{}, err
	}
	st.PeriodEnd = periodEnd.Format(PeriodLayout)
	if createdBy.Valid {
		id := createdBy.Int64
		st.CreatedBy = &id
	}
	return st, nil
}

func (s *PostgresStore) CreateStatement(ctx context.Context, st Statement) (Statement, error) {
	const q = `
INSERT INTO financial_statements (bank_id, period_end, cash, short_term_investments, current_assets, total_assets,
	current_liabilities, total_liabilities, customer_deposits, loans, total_equity,
	tier1_capital, tier2_capital, risk_weighted_assets, created_by)
VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING ` + statementColumns
	var createdBy any
	if st.CreatedBy != nil {
		createdBy = *st.CreatedBy
	}
	out, err := scanStatement(s.db.QueryRowContext(ctx, q, st.BankID, st.PeriodEnd,
		st.Cash, st.ShortTermInvestments, st.CurrentAssets, st.TotalAssets,
		st.CurrentLiabilities, st.TotalLiabilities, st.CustomerDeposits, st.Loans, st.TotalEquity,
		st.Tier1Capital, st.Tier2Capital, st.RiskWeightedAssets, createdBy))
	if err != nil {
		switch pqCode(err) {
		case uniqueViolation:
			return Statement{}, ErrStatementExists
		case foreignKeyViolation:
			return Statement{}, ErrBankNotFound
		}
		return Statement{}, fmt.Errorf("insert statement: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetStatement(ctx context.Context, id int64) (Statement, error) {
	q := `SELECT ` + statementColumns + ` FROM financial_statements WHERE id = $1`
	st, err := scanStatement(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Statement{}, ErrStatementNotFound
		}
		return Statement{}, fmt.Errorf("query statement: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListStatements(ctx context.Context, bankID int64) ([]Statement, error) {
	q := `SELECT ` + statementColumns + ` FROM financial_statements WHERE bank_id = $1 ORDER BY period_end DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q, bankID)
	if err != nil {
		return nil, fmt.Errorf("query statements: %w", err)
	}
	defer rows.Close()

	out := make([]Statement, 0)
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan statement: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statements: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteStatement(ctx context.Context, id int64) error {
	return s.deleteOne(ctx, `DELETE FROM financial_statements WHERE id = $1`, id, ErrStatementNotFound)
}

func (s *PostgresStore) deleteOne(ctx context.Context, q string, id int64, notFound error) error {
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
