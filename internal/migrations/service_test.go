package migrations

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestListSortsAndHashes(t *testing.T) {
	source := fstest.MapFS{
		"0002_more.sql": {Data: []byte("ALTER TABLE x ADD COLUMN y int;")},
		"0001_init.sql": {Data: []byte("CREATE TABLE x (id int);")},
		"README.txt":    {Data: []byte("ignore")},
		"old/0000.sql":  {Data: []byte("ignored, nested")},
	}
	db, _ := newMockDB(t)
	svc, err := NewFromFS(db, source, nil)
	if err != nil {
		t.Fatalf("NewFromFS() error: %v", err)
	}

	list, err := svc.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 migration files, got %d", len(list))
	}
	if list[0].Name != "0001_init.sql" || list[1].Name != "0002_more.sql" {
		t.Fatalf("unexpected order: %q, %q", list[0].Name, list[1].Name)
	}
	if len(list[0].Checksum) != 64 || list[0].Checksum == list[1].Checksum {
		t.Fatalf("unexpected checksums: %q, %q", list[0].Checksum, list[1].Checksum)
	}
}

func TestEmbeddedSchemaCoversStores(t *testing.T) {
	db, _ := newMockDB(t)
	svc, err := New(db, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	list, err := svc.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	var all strings.Builder
	for _, f := range list {
		all.WriteString(f.body)
	}
	for _, table := range []string{"roles", "users", "banks", "financial_statements", "analysis_reports", "audit_log"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("embedded schema does not create %s", table)
		}
	}
}

func TestNewRequiresDatabase(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatalf("expected error without database")
	}
}
