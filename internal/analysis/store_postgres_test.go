package analysis

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var reportRowColumns = []string{"id", "report_type", "bank_id", "statement_id", "period_end", "ratios", "rating", "notes", "created_by", "created_at"}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestPostgresReportStoreCreate(t *testing.T) {
	db, mock := newMockDB(t)
	store, _ := NewPostgresReportStore(db)

	period := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO analysis_reports").
		WithArgs(TypeLiquidity, int64(1), int64(4), "2025-06-30", `{"cashRatio":null,"currentRatio":1.8}`, RatingAdequate, "", nil).
		WillReturnRows(sqlmock.NewRows(reportRowColumns).
			AddRow(int64(3), TypeLiquidity, int64(1), int64(4), period, []byte(`{"cashRatio":null,"currentRatio":1.8}`), RatingAdequate, "", nil, now))

	v := 1.8
	r, err := store.Create(context.Background(), Report{
		Type:        TypeLiquidity,
		BankID:      1,
		StatementID: 4,
		PeriodEnd:   "2025-06-30",
		Ratios:      Ratios{CurrentRatio: &v, CashRatio: nil},
		Rating:      RatingAdequate,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if r.ID != 3 || r.PeriodEnd != "2025-06-30" || r.CreatedBy != nil {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.Ratios[CashRatio] != nil || r.Ratios[CurrentRatio] == nil || *r.Ratios[CurrentRatio] != 1.8 {
		t.Fatalf("ratios not decoded: %+v", r.Ratios)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresReportStoreDeleteNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store, _ := NewPostgresReportStore(db)

	mock.ExpectExec("DELETE FROM analysis_reports WHERE id = \\$1").
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Delete(context.Background(), 8); !errors.Is(err, ErrReportNotFound) {
		t.Fatalf("expected ErrReportNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresReportStoreListByBank(t *testing.T) {
	db, mock := newMockDB(t)
	store, _ := NewPostgresReportStore(db)

	period := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM analysis_reports WHERE bank_id = \\$1 ORDER BY created_at DESC, id DESC").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(reportRowColumns).
			AddRow(int64(2), TypeSolvency, int64(1), int64(4), period, []byte(`{"debtRatio":0.9}`), RatingWeak, "watch", int64(7), now))

	list, err := store.ListByBank(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListByBank() error: %v", err)
	}
	if len(list) != 1 || list[0].CreatedBy == nil || *list[0].CreatedBy != 7 || list[0].Notes != "watch" {
		t.Fatalf("unexpected reports: %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
