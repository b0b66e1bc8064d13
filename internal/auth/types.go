package auth

import "time"

const (
	RoleAdmin   = "ADMIN"
	RoleAnalyst = "ANALYST"
	RoleViewer  = "VIEWER"
)

// DefaultRoles are seeded at start-up when missing.
var DefaultRoles = []Role{
	{Name: RoleAdmin, Description: "Manages users, roles and reference data"},
	{Name: RoleAnalyst, Description: "Maintains statements and runs ratio analysis"},
	{Name: RoleViewer, Description: "Read-only access"},
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"fullName,omitempty"`
	Email        string    `json:"email,omitempty"`
	RoleID       int64     `json:"roleId,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UserView is the client-facing projection of a user.
type UserView struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"fullName,omitempty"`
	Email     string    `json:"email,omitempty"`
	RoleID    int64     `json:"roleId,omitempty"`
	Role      string    `json:"role,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Principal is the identity bound to a session token. RoleName may be empty
// while RoleID is set; callers resolve it before authorization.
type Principal struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	RoleID   int64  `json:"roleId,omitempty"`
	RoleName string `json:"role,omitempty"`
}

func (p Principal) RoleKnown() bool { return p.RoleName != "" }

// NeedsRole reports whether a role id is known but its name was not loaded.
func (p Principal) NeedsRole() bool { return p.RoleName == "" && p.RoleID != 0 }

func (p Principal) WithRole(r Role) Principal {
	p.RoleID = r.ID
	p.RoleName = r.Name
	return p
}
