package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type UserStore interface {
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	Create(ctx context.Context, user User) (User, error)
	List(ctx context.Context) ([]User, error)

	// Each setter writes one column so concurrent changes to other columns
	// of the same user are never lost.
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	SetActive(ctx context.Context, id int64, active bool) error
	SetRole(ctx context.Context, id, roleID int64) error
}

type RoleStore interface {
	GetByID(ctx context.Context, id int64) (Role, error)
	GetByName(ctx context.Context, name string) (Role, error)
	Create(ctx context.Context, role Role) (Role, error)
	List(ctx context.Context) ([]Role, error)
}

type InMemoryUserStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]User
	byName map[string]int64
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{
		byID:   make(map[int64]User),
		byName: make(map[string]int64),
	}
}

func (s *InMemoryUserStore) GetByUsername(_ context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[usernameKey(username)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return s.byID[id], nil
}

func (s *InMemoryUserStore) GetByID(_ context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *InMemoryUserStore) Create(_ context.Context, user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usernameKey(user.Username)
	if _, ok := s.byName[key]; ok {
		return User{}, ErrUsernameTaken
	}
	s.nextID++
	now := time.Now().UTC()
	user.ID = s.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	s.byID[user.ID] = user
	s.byName[key] = user.ID
	return user, nil
}

func (s *InMemoryUserStore) SetPasswordHash(_ context.Context, id int64, hash string) error {
	return s.modify(id, func(u *User) { u.PasswordHash = hash })
}

func (s *InMemoryUserStore) SetActive(_ context.Context, id int64, active bool) error {
	return s.modify(id, func(u *User) { u.Active = active })
}

func (s *InMemoryUserStore) SetRole(_ context.Context, id, roleID int64) error {
	return s.modify(id, func(u *User) { u.RoleID = roleID })
}

func (s *InMemoryUserStore) modify(id int64, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	s.byID[id] = u
	return nil
}

func (s *InMemoryUserStore) List(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type InMemoryRoleStore struct {
	mu     sync.RWMutex
	nextID int64
	roles  map[int64]Role
}

func NewInMemoryRoleStore() *InMemoryRoleStore {
	return &InMemoryRoleStore{roles: make(map[int64]Role)}
}

func (s *InMemoryRoleStore) GetByID(_ context.Context, id int64) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[id]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return r, nil
}

func (s *InMemoryRoleStore) GetByName(_ context.Context, name string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.roles {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return Role{}, ErrRoleNotFound
}

func (s *InMemoryRoleStore) Create(_ context.Context, role Role) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.roles {
		if strings.EqualFold(r.Name, role.Name) {
			return Role{}, ErrRoleExists
		}
	}
	s.nextID++
	role.ID = s.nextID
	s.roles[role.ID] = role
	return role, nil
}

func (s *InMemoryRoleStore) List(_ context.Context) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
