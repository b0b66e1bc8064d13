package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bankanalysis/ratio-server/internal/apperr"
)

var (
	ErrInvalidCredentials = apperr.Unauthorized("invalid username or password")
	ErrAccountDisabled    = apperr.Unauthorized("account is disabled")
	ErrWrongPassword      = apperr.Unauthorized("current password is incorrect")
	ErrWeakPassword       = apperr.New(apperr.KindBadRequest, "password must be 12-128 characters with upper, lower, digit and symbol")
	ErrUserNotFound       = apperr.NotFound("user not found")
	ErrRoleNotFound       = apperr.NotFound("role not found")
	ErrUsernameTaken      = apperr.Conflict("username already exists")
	ErrRoleExists         = apperr.Conflict("role already exists")
)

type Service struct {
	users  UserStore
	roles  RoleStore
	hasher Hasher
}

func NewService(users UserStore, roles RoleStore, hasher Hasher) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if roles == nil {
		return nil, fmt.Errorf("role store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	return &Service{users: users, roles: roles, hasher: hasher}, nil
}

// Authenticate checks credentials and returns the principal for a new
// session. The role name is loaded when possible; a failed role lookup
// leaves only RoleID set.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Principal, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Principal{}, ErrInvalidCredentials
		}
		return Principal{}, fmt.Errorf("load user: %w", err)
	}
	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil || !ok {
		return Principal{}, ErrInvalidCredentials
	}
	if !u.Active {
		return Principal{}, ErrAccountDisabled
	}

	p := Principal{UserID: u.ID, Username: u.Username, RoleID: u.RoleID}
	if u.RoleID != 0 {
		if r, err := s.roles.GetByID(ctx, u.RoleID); err == nil {
			p = p.WithRole(r)
		}
	}
	return p, nil
}

type RegisterInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// Register creates an active account without a role.
func (s *Service) Register(ctx context.Context, in RegisterInput) (UserView, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || len(in.Username) > 64 {
		return UserView{}, apperr.BadRequest("username must be 1-64 characters")
	}
	if err := validatePasswordPolicy(in.Password); err != nil {
		return UserView{}, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return UserView{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.Create(ctx, User{
		Username:     in.Username,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		Email:        strings.TrimSpace(in.Email),
		Active:       true,
	})
	if err != nil {
		return UserView{}, err
	}
	return s.view(ctx, u), nil
}

func (s *Service) Profile(ctx context.Context, userID int64) (UserView, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	return s.view(ctx, u), nil
}

func (s *Service) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	if err := validatePasswordPolicy(newPassword); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(currentPassword, u.PasswordHash)
	if err != nil || !ok {
		return ErrWrongPassword
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
		return fmt.Errorf("store updated password: %w", err)
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]UserView, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	roleNames, err := s.roleNames(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserView, 0, len(users))
	for _, u := range users {
		v := toView(u)
		v.Role = roleNames[u.RoleID]
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) UpdateUserStatus(ctx context.Context, userID int64, active bool) (UserView, error) {
	if err := s.users.SetActive(ctx, userID, active); err != nil {
		return UserView{}, err
	}
	return s.Profile(ctx, userID)
}

func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) (UserView, error) {
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return UserView{}, err
	}
	if err := s.users.SetRole(ctx, userID, role.ID); err != nil {
		return UserView{}, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	v := toView(u)
	v.Role = role.Name
	return v, nil
}

func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.roles.List(ctx)
}

func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" || len(name) > 32 || strings.ContainsAny(name, " \t\r\n") {
		return Role{}, apperr.BadRequest("role name must be 1-32 characters without spaces")
	}
	return s.roles.Create(ctx, Role{Name: name, Description: strings.TrimSpace(description)})
}

func (s *Service) LookupRole(ctx context.Context, roleID int64) (Role, error) {
	return s.roles.GetByID(ctx, roleID)
}

// EnsureBootstrap seeds the default roles and an ADMIN account when they are
// missing. The bootstrap password bypasses the registration policy.
func (s *Service) EnsureBootstrap(ctx context.Context, username, password string) (bool, error) {
	for _, r := range DefaultRoles {
		if _, err := s.roles.GetByName(ctx, r.Name); err == nil {
			continue
		} else if !errors.Is(err, ErrRoleNotFound) {
			return false, fmt.Errorf("check role %s: %w", r.Name, err)
		}
		if _, err := s.roles.Create(ctx, r); err != nil && !errors.Is(err, ErrRoleExists) {
			return false, fmt.Errorf("create role %s: %w", r.Name, err)
		}
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return false, fmt.Errorf("check bootstrap user: %w", err)
	}
	admin, err := s.roles.GetByName(ctx, RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("load admin role: %w", err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, fmt.Errorf("hash bootstrap password: %w", err)
	}
	if _, err := s.users.Create(ctx, User{
		Username:     username,
		PasswordHash: hash,
		FullName:     "Bootstrap administrator",
		RoleID:       admin.ID,
		Active:       true,
	}); err != nil {
		return false, fmt.Errorf("create bootstrap user: %w", err)
	}
	return true, nil
}

func (s *Service) view(ctx context.Context, u User) UserView {
	v := toView(u)
	if u.RoleID != 0 {
		if r, err := s.roles.GetByID(ctx, u.RoleID); err == nil {
			v.Role = r.Name
		}
	}
	return v
}

func (s *Service) roleNames(ctx context.Context) (map[int64]string, error) {
	roles, err := s.roles.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(roles))
	for _, r := range roles {
		out[r.ID] = r.Name
	}
	return out, nil
}

func toView(u User) UserView {
	return UserView{
		ID:        u.ID,
		Username:  u.Username,
		FullName:  u.FullName,
		Email:     u.Email,
		RoleID:    u.RoleID,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}
