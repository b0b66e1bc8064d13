package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestPostgresUserStoreGetByUsernameNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store, err := NewPostgresUserStore(db)
	if err != nil {
		t.Fatalf("NewPostgresUserStore() error: %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM users WHERE lower\\(username\\) = lower\\(\\$1\\)").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetByUsername(context.Background(), "missing")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresUserStoreGetByID(t *testing.T) {
	db, mock := newMockDB(t)
	store, _ := NewPostgresUserStore(db)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "username", "password_hash", "full_name", "email", "role_id", "active", "created_at", "updated_at"}).
		AddRow(int64(7), "alice", "$argon2id$x", "Alice", "alice@example.com", int64(2), true, now, now)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = \\$1").WithArgs(int64(7)).WillReturnRows(rows)

	u, err := store.GetByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if u.Username != "alice" || u.RoleID != 2 || !u.Active {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresUserStoreCreateDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	store, _ := NewPostgresUserStore(db)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("alice", "hash", "", "", int64(0), true).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := store.Create(context.Background(), User{Username: "alice", PasswordHash: "hash", Active: true})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresUserStoreSettersTouchOneColumn(t *testing.T) {
	db, mock := newMockDB(t)
	store, _ := NewPostgresUserStore(db)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE users SET password_hash = \$2, updated_at = NOW\(\) WHERE id = \$1`).
		WithArgs(int64(7), "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET active = \$2, updated_at = NOW\(\) WHERE id = \$1`).
		WithArgs(int64(7), false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET role_id = NULLIF\(\$2::bigint, 0\), updated_at = NOW\(\) WHERE id = \$1`).
		WithArgs(int64(7), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SetPasswordHash(ctx, 7, "new-hash"); err != nil {
		t.Fatalf("SetPasswordHash() error: %v", err)
	}
	if err := store.SetActive(ctx, 7, false); err != nil {
		t.Fatalf("SetActive() error: %v", err)
	}
	if err := store.SetRole(ctx, 7, 2); err != nil {
		t.Fatalf("SetRole() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresUserStoreSetMissing(t *testing.T) {
	db, mock := newMockDB(t)
	store, _ := NewPostgresUserStore(db)

	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetActive(context.Background(), 42, true)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresRoleStoreCreateAndList(t *testing.T) {
	db, mock := newMockDB(t)
	store, err := NewPostgresRoleStore(db)
	if err != nil {
		t.Fatalf("NewPostgresRoleStore() error: %v", err)
	}

	mock.ExpectQuery("INSERT INTO roles").WithArgs("AUDITOR", "reads logs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectQuery("SELECT id, name, description FROM roles ORDER BY id ASC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description"}).
			AddRow(int64(1), "ADMIN", "").
			AddRow(int64(4), "AUDITOR", "reads logs"))

	r, err := store.Create(context.Background(), Role{Name: "AUDITOR", Description: "reads logs"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if r.ID != 4 {
		t.Fatalf("expected id 4, got %d", r.ID)
	}
	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 2 || list[1].Name != "AUDITOR" {
		t.Fatalf("unexpected roles: %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresRoleStoreGetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store, _ := NewPostgresRoleStore(db)

	mock.ExpectQuery("SELECT id, name, description FROM roles WHERE id = \\$1").
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetByID(context.Background(), 9); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}
