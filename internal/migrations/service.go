// Package migrations applies the embedded SQL schema to Postgres and
// records what ran in schema_migrations.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embedded embed.FS

// ErrChecksumMismatch means an applied migration file was edited afterwards.
var ErrChecksumMismatch = errors.New("applied migration changed")

type FileInfo struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
	body     string
}

type Status struct {
	Name      string `json:"name"`
	Checksum  string `json:"checksum"`
	Applied   bool   `json:"applied"`
	AppliedAt string `json:"appliedAt,omitempty"`
}

type applied struct {
	checksum  string
	appliedAt time.Time
}

type Service struct {
	db     *sql.DB
	source fs.FS
	log    *slog.Logger
	now    func() time.Time
}

// New uses the schema compiled into the binary.
func New(db *sql.DB, logger *slog.Logger) (*Service, error) {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return NewFromFS(db, sub, logger)
}

func NewFromFS(db *sql.DB, source fs.FS, logger *slog.Logger) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if source == nil {
		return nil, fmt.Errorf("migration source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, source: source, log: logger, now: time.Now}, nil
}

// List returns the .sql files at the root of the source, sorted by name.
func (s *Service) List() ([]FileInfo, error) {
	entries, err := fs.ReadDir(s.source, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := fs.ReadFile(s.source, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(b)
		out = append(out, FileInfo{Name: e.Name(), Checksum: hex.EncodeToString(sum[:]), body: string(b)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) Status(ctx context.Context) ([]Status, error) {
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	done, err := s.loadApplied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(files))
	for _, f := range files {
		st := Status{Name: f.Name, Checksum: f.Checksum}
		if a, ok := done[f.Name]; ok {
			st.Applied = true
			st.AppliedAt = a.appliedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, st)
	}
	return out, nil
}

// Apply runs every pending migration in name order, each in its own
// transaction, and returns the names it ran.
func (s *Service) Apply(ctx context.Context) ([]string, error) {
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	done, err := s.loadApplied(ctx)
	if err != nil {
		return nil, err
	}

	ran := make([]string, 0)
	for _, f := range files {
		if a, ok := done[f.Name]; ok {
			if a.checksum != f.Checksum {
				return ran, fmt.Errorf("%w: %s", ErrChecksumMismatch, f.Name)
			}
			continue
		}
		if err := s.applyOne(ctx, f); err != nil {
			return ran, err
		}
		s.log.Info("migration applied", "name", f.Name)
		ran = append(ran, f.Name)
	}
	return ran, nil
}

func (s *Service) applyOne(ctx context.Context, f FileInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", f.Name, err)
	}
	if _, err := tx.ExecContext(ctx, f.body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("run migration %s: %w", f.Name, err)
	}
	const q = `INSERT INTO schema_migrations (name, checksum, applied_at) VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, q, f.Name, f.Checksum, s.now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", f.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", f.Name, err)
	}
	return nil
}

func (s *Service) ensureTable(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL
)`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func (s *Service) loadApplied(ctx context.Context) (map[string]applied, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, checksum, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]applied)
	for rows.Next() {
		var (
			name string
			a    applied
		)
		if err := rows.Scan(&name, &a.checksum, &a.appliedAt); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		out[name] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return out, nil
}
