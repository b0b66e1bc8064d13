package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func int64Ptr(v int64) *int64 { return &v }

func TestFileLoggerWritesJSONLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l := NewFileLogger(path)
	defer l.Close()
	if err := l.Write(Entry{UserID: int64Ptr(1), ActionType: "DELETE_BANK", Details: "bankId=3", SourceAddress: "10.0.0.1", Success: true}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	line := strings.TrimSpace(string(b))
	if line == "" {
		t.Fatalf("expected non-empty audit line")
	}
	var e Entry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		t.Fatalf("decode audit line: %v", err)
	}
	if e.ActionType != "DELETE_BANK" || !e.Success || e.UserID == nil || *e.UserID != 1 {
		t.Fatalf("unexpected audit entry content: %+v", e)
	}
}

func TestFileLoggerAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.log")
	l := NewFileLogger(path)
	if err := l.Write(Entry{ActionType: "LOGIN"}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := l.Write(Entry{ActionType: "LOGOUT"}); err != nil {
		t.Fatalf("Write() after Close error: %v", err)
	}
	_ = l.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "LOGOUT") {
		t.Fatalf("expected two appended lines, got %q", lines)
	}
}

func TestFileLoggerDisabled(t *testing.T) {
	var l *FileLogger
	if err := l.Write(Entry{ActionType: "X"}); err != nil {
		t.Fatalf("nil logger should be a no-op, got %v", err)
	}
	if err := NewFileLogger("").Write(Entry{ActionType: "X"}); err != nil {
		t.Fatalf("empty path should be a no-op, got %v", err)
	}
}

func TestRecorderListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.log")
	file := NewFileLogger(path)
	defer file.Close()
	rec, err := NewRecorder(NewInMemoryStore(0), file)
	if err != nil {
		t.Fatalf("NewRecorder() error: %v", err)
	}

	_ = rec.Record(ctx, Entry{UserID: int64Ptr(1), ActionType: "LOGIN", Success: true})
	_ = rec.Record(ctx, Entry{UserID: nil, ActionType: ActionUnknown, Details: "action=FROBNICATE"})
	_ = rec.Record(ctx, Entry{UserID: int64Ptr(2), ActionType: "LOGIN", Success: true})
	_ = rec.Record(ctx, Entry{UserID: int64Ptr(1), ActionType: "GET_ALL_BANKS", Success: true})

	all, err := rec.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 4 || all[0].ActionType != "GET_ALL_BANKS" || all[3].ID != 1 {
		t.Fatalf("unexpected list: %+v", all)
	}
	if all[0].CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be stamped")
	}

	mine, err := rec.ListByUser(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListByUser() error: %v", err)
	}
	if len(mine) != 1 || mine[0].ActionType != "GET_ALL_BANKS" {
		t.Fatalf("unexpected user list: %+v", mine)
	}

	b, _ := os.ReadFile(path)
	if got := strings.Count(string(b), "\n"); got != 4 {
		t.Fatalf("expected 4 audit lines, got %d", got)
	}
}

func TestInMemoryStoreCapacity(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(3)
	for i := 0; i < 5; i++ {
		_, _ = s.Append(ctx, Entry{ActionType: "A"})
	}
	list, _ := s.List(ctx, 10)
	if len(list) != 3 || list[0].ID != 5 || list[2].ID != 3 {
		t.Fatalf("unexpected entries after overflow: %+v", list)
	}
}

func TestPostgresStoreAppendAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	store, err := NewPostgresStore(db)
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO audit_log").
		WithArgs(sqlmock.AnyArg(), "LOGIN", "", "127.0.0.1", true, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery("SELECT (.+) FROM audit_log ORDER BY id DESC LIMIT \\$1").
		WithArgs(DefaultListLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action_type", "details", "source_address", "success", "created_at"}).
			AddRow(int64(11), int64(7), "LOGIN", "", "127.0.0.1", true, now).
			AddRow(int64(10), nil, "UNKNOWN_ACTION", "action=X", "127.0.0.1", false, now))

	e, err := store.Append(context.Background(), Entry{UserID: int64Ptr(7), ActionType: "LOGIN", SourceAddress: "127.0.0.1", Success: true, CreatedAt: now})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if e.ID != 11 {
		t.Fatalf("expected id 11, got %d", e.ID)
	}

	list, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 2 || list[0].UserID == nil || list[1].UserID != nil {
		t.Fatalf("unexpected entries: %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
