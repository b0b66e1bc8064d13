package audit

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Append(ctx context.Context, e Entry) (Entry, error) {
	const q = `
INSERT INTO audit_log (user_id, action_type, details, source_address, success, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`
	var userID sql.NullInt64
	if e.UserID != nil {
		userID = sql.NullInt64{Int64: *e.UserID, Valid: true}
	}
	if err := s.db.QueryRowContext(ctx, q, userID, e.ActionType, e.Details, e.SourceAddress, e.Success, e.CreatedAt).Scan(&e.ID); err != nil {
		return Entry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	const q = `
SELECT id, user_id, action_type, details, source_address, success, created_at
FROM audit_log
ORDER BY id DESC
LIMIT $1`
	return s.query(ctx, q, normalizeLimit(limit))
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID int64, limit int) ([]Entry, error) {
	const q = `
SELECT id, user_id, action_type, details, source_address, success, created_at
FROM audit_log
WHERE user_id = $1
ORDER BY id DESC
LIMIT $2`
	return s.query(ctx, q, userID, normalizeLimit(limit))
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var userID sql.NullInt64
		if err := rows.Scan(&e.ID, &userID, &e.ActionType, &e.Details, &e.SourceAddress, &e.Success, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if userID.Valid {
			id := userID.Int64
			e.UserID = &id
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return out, nil
}
