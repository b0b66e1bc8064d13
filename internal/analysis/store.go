package analysis

import (
	"context"
	"sort"
	"sync"
	"time"
)

type ReportStore interface {
	Create(ctx context.Context, r Report) (Report, error)
	Get(ctx context.Context, id int64) (Report, error)
	// ListByBank returns the bank's reports, newest first.
	ListByBank(ctx context.Context, bankID int64) ([]Report, error)
	Delete(ctx context.Context, id int64) error
	DeleteByBank(ctx context.Context, bankID int64) (int, error)
	DeleteByStatement(ctx context.Context, statementID int64) (int, error)
}

type InMemoryReportStore struct {
	mu      sync.RWMutex
	nextID  int64
	reports map[int64]Report
	now     func() time.Time
}

func NewInMemoryReportStore() *InMemoryReportStore {
	return &InMemoryReportStore{
		reports: make(map[int64]Report),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryReportStore) Create(_ context.Context, r Report) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	r.ID = s.nextID
	r.CreatedAt = s.now()
	r.Ratios = cloneRatios(r.Ratios)
	s.reports[r.ID] = r
	return r, nil
}

func (s *InMemoryReportStore) Get(_ context.Context, id int64) (Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return Report{}, ErrReportNotFound
	}
	r.Ratios = cloneRatios(r.Ratios)
	return r, nil
}

func (s *InMemoryReportStore) ListByBank(_ context.Context, bankID int64) ([]Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Report, 0)
	for _, r := range s.reports {
		if r.BankID == bankID {
			r.Ratios = cloneRatios(r.Ratios)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *InMemoryReportStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[id]; !ok {
		return ErrReportNotFound
	}
	delete(s.reports, id)
	return nil
}

func (s *InMemoryReportStore) DeleteByBank(_ context.Context, bankID int64) (int, error) {
	return s.deleteWhere(func(r Report) bool { return r.BankID == bankID }), nil
}

func (s *InMemoryReportStore) DeleteByStatement(_ context.Context, statementID int64) (int, error) {
	return s.deleteWhere(func(r Report) bool { return r.StatementID == statementID }), nil
}

func (s *InMemoryReportStore) deleteWhere(match func(Report) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.reports {
		if match(r) {
			delete(s.reports, id)
			n++
		}
	}
	return n
}

func cloneRatios(r Ratios) Ratios {
	if r == nil {
		return nil
	}
	out := make(Ratios, len(r))
	for k, v := range r {
		if v != nil {
			c := *v
			v = &c
		}
		out[k] = v
	}
	return out
}
