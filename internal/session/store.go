// Package session holds the process-wide table of live login tokens.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"bankanalysis/ratio-server/internal/auth"
)

const tokenBytes = 32

// Store maps opaque tokens to principals. Implementations are safe for
// concurrent use; Put is visible to every later Get once it returns.
type Store interface {
	Put(ctx context.Context, token string, p auth.Principal) error
	Get(ctx context.Context, token string) (auth.Principal, bool, error)
	RemoveByToken(ctx context.Context, token string) (auth.Principal, bool, error)
	RemoveAllOfPrincipal(ctx context.Context, userID int64) (int, error)
	Count(ctx context.Context) (int, error)
}

// NewToken returns 32 bytes from crypto/rand, hex encoded.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// MemoryStore keeps sessions in a map guarded by a RWMutex, with a per-user
// index so RemoveAllOfPrincipal does not scan every session.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]auth.Principal
	byUser   map[int64]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]auth.Principal),
		byUser:   make(map[int64]map[string]struct{}),
	}
}

func (s *MemoryStore) Put(_ context.Context, token string, p auth.Principal) error {
	if token == "" {
		return fmt.Errorf("session token is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.sessions[token]; ok {
		s.unindexLocked(prev.UserID, token)
	}
	s.sessions[token] = p
	tokens, ok := s.byUser[p.UserID]
	if !ok {
		tokens = make(map[string]struct{})
		s.byUser[p.UserID] = tokens
	}
	tokens[token] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (auth.Principal, bool, error) {
	s.mu.RLock()
	p, ok := s.sessions[token]
	s.mu.RUnlock()
	return p, ok, nil
}

func (s *MemoryStore) RemoveByToken(_ context.Context, token string) (auth.Principal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.sessions[token]
	if !ok {
		return auth.Principal{}, false, nil
	}
	delete(s.sessions, token)
	s.unindexLocked(p.UserID, token)
	return p, true, nil
}

func (s *MemoryStore) RemoveAllOfPrincipal(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.byUser[userID]
	for token := range tokens {
		delete(s.sessions, token)
	}
	delete(s.byUser, userID)
	return len(tokens), nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

func (s *MemoryStore) unindexLocked(userID int64, token string) {
	tokens := s.byUser[userID]
	delete(tokens, token)
	if len(tokens) == 0 {
		delete(s.byUser, userID)
	}
}
