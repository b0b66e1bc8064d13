package bank

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type Store interface {
	CreateBank(ctx context.Context, b Bank) (Bank, error)
	GetBank(ctx context.Context, id int64) (Bank, error)
	ListBanks(ctx context.Context) ([]Bank, error)
	UpdateBank(ctx context.Context, b Bank) (Bank, error)
	// DeleteBank removes the bank together with its statements.
	DeleteBank(ctx context.Context, id int64) error

	CreateStatement(ctx context.Context, st Statement) (Statement, error)
	GetStatement(ctx context.Context, id int64) (Statement, error)
	// ListStatements returns the bank's statements, latest period first.
	ListStatements(ctx context.Context, bankID int64) ([]Statement, error)
	DeleteStatement(ctx context.Context, id int64) error
}

type InMemoryStore struct {
	mu         sync.RWMutex
	nextBank   int64
	nextStmt   int64
	banks      map[int64]Bank
	statements map[int64]Statement
	now        func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		banks:      make(map[int64]Bank),
		statements: make(map[int64]Statement),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) CreateBank(_ context.Context, b Bank) (Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.codeTakenLocked(b.Code, 0) {
		return Bank{}, ErrBankCodeTaken
	}
	s.nextBank++
	b.ID = s.nextBank
	b.CreatedAt = s.now()
	b.UpdatedAt = b.CreatedAt
	s.banks[b.ID] = b
	return b, nil
}

func (s *InMemoryStore) GetBank(_ context.Context, id int64) (Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.banks[id]
	if !ok {
		return Bank{}, ErrBankNotFound
	}
	return b, nil
}

func (s *InMemoryStore) ListBanks(_ context.Context) ([]Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Bank, 0, len(s.banks))
	for _, b := range s.banks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) ||
			(strings.EqualFold(out[i].Name, out[j].Name) && out[i].ID < out[j].ID)
	})
	return out, nil
}

func (s *InMemoryStore) UpdateBank(_ context.Context, b Bank) (Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.banks[b.ID]
	if !ok {
		return Bank{}, ErrBankNotFound
	}
	if s.codeTakenLocked(b.Code, b.ID) {
		return Bank{}, ErrBankCodeTaken
	}
	b.CreatedAt = cur.CreatedAt
	b.UpdatedAt = s.now()
	s.banks[b.ID] = b
	return b, nil
}

func (s *InMemoryStore) DeleteBank(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.banks[id]; !ok {
		return ErrBankNotFound
	}
	delete(s.banks, id)
	for sid, st := range s.statements {
		if st.BankID == id {
			delete(s.statements, sid)
		}
	}
	return nil
}

func (s *InMemoryStore) CreateStatement(_ context.Context, st Statement) (Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.banks[st.BankID]; !ok {
		return Statement{}, ErrBankNotFound
	}
	for _, existing := range s.statements {
		if existing.BankID == st.BankID && existing.PeriodEnd == st.PeriodEnd {
			return Statement{}, ErrStatementExists
		}
	}
	s.nextStmt++
	st.ID = s.nextStmt
	st.CreatedAt = s.now()
	s.statements[st.ID] = st
	return st, nil
}

func (s *InMemoryStore) GetStatement(_ context.Context, id int64) (Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statements[id]
	if !ok {
		return Statement{}, ErrStatementNotFound
	}
	return st, nil
}

func (s *InMemoryStore) ListStatements(_ context.Context, bankID int64) ([]Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Statement, 0)
	for _, st := range s.statements {
		if st.BankID == bankID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodEnd != out[j].PeriodEnd {
			return out[i].PeriodEnd > out[j].PeriodEnd
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) DeleteStatement(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.statements[id]; !ok {
		return ErrStatementNotFound
	}
	delete(s.statements, id)
	return nil
}

func (s *InMemoryStore) codeTakenLocked(code string, exceptID int64) bool {
	for id, b := range s.banks {
		if id != exceptID && strings.EqualFold(b.Code, code) {
			return true
		}
	}
	return false
}
