package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) (*PostgresUserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresUserStore{db: db}, nil
}

const userColumns = `id, username, password_hash, full_name, email, COALESCE(role_id, 0), active, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FullName, &u.Email, &u.RoleID, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *PostgresUserStore) GetByUsername(ctx context.Context, username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, ErrUserNotFound
	}
	q := `SELECT ` + userColumns + ` FROM users WHERE lower(username) = lower($1)`
	u, err := scanUser(s.db.QueryRowContext(ctx, q, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by username: %w", err)
	}
	return u, nil
}

func (s *PostgresUserStore) GetByID(ctx context.Context, id int64) (User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

func (s *PostgresUserStore) Create(ctx context.Context, user User) (User, error) {
	const q = `
INSERT INTO users (username, password_hash, full_name, email, role_id, active)
VALUES ($1, $2, $3, $4, NULLIF($5::bigint, 0), $6)
RETURNING id, created_at, updated_at`
	err := s.db.QueryRowContext(ctx, q, strings.TrimSpace(user.Username), user.PasswordHash, user.FullName, user.Email, user.RoleID, user.Active).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresUserStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return s.setColumn(ctx, id, `password_hash = $2`, hash)
}

func (s *PostgresUserStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.setColumn(ctx, id, `active = $2`, active)
}

func (s *PostgresUserStore) SetRole(ctx context.Context, id, roleID int64) error {
	return s.setColumn(ctx, id, `role_id = NULLIF($2::bigint, 0)`, roleID)
}

// setColumn runs a single-column UPDATE; assignment is a constant fragment,
// never user input.
func (s *PostgresUserStore) setColumn(ctx context.Context, id int64, assignment string, value any) error {
	q := `UPDATE users SET ` + assignment + `, updated_at = NOW() WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id, value)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresUserStore) List(ctx context.Context) ([]User, error) {
	q := `SELECT ` + userColumns + ` FROM users ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

type PostgresRoleStore struct {
	db *sql.DB
}

func NewPostgresRoleStore(db *sql.DB) (*PostgresRoleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresRoleStore{db: db}, nil
}

func (s *PostgresRoleStore) GetByID(ctx context.Context, id int64) (Role, error) {
	var r Role
	const q = `SELECT id, name, description FROM roles WHERE id = $1`
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&r.ID, &r.Name, &r.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Role{}, ErrRoleNotFound
		}
		return Role{}, fmt.Errorf("query role: %w", err)
	}
	return r, nil
}

func (s *PostgresRoleStore) GetByName(ctx context.Context, name string) (Role, error) {
	var r Role
	const q = `SELECT id, name, description FROM roles WHERE upper(name) = upper($1)`
	if err := s.db.QueryRowContext(ctx, q, strings.TrimSpace(name)).Scan(&r.ID, &r.Name, &r.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Role{}, ErrRoleNotFound
		}
		return Role{}, fmt.Errorf("query role by name: %w", err)
	}
	return r, nil
}

func (s *PostgresRoleStore) Create(ctx context.Context, role Role) (Role, error) {
	const q = `INSERT INTO roles (name, description) VALUES ($1, $2) RETURNING id`
	if err := s.db.QueryRowContext(ctx, q, role.Name, role.Description).Scan(&role.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return Role{}, ErrRoleExists
		}
		return Role{}, fmt.Errorf("insert role: %w", err)
	}
	return role, nil
}

func (s *PostgresRoleStore) List(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description FROM roles ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	out := make([]Role, 0)
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return out, nil
}
