// Package authz decides whether a principal may run an action.
package authz

import (
	"fmt"
	"strings"

	"bankanalysis/ratio-server/internal/apperr"
	"bankanalysis/ratio-server/internal/auth"
)

type Level int

const (
	LevelPublic Level = iota
	LevelAuthenticated
	LevelRole
)

// Requirement is the static access rule attached to an action.
type Requirement struct {
	Level Level
	Roles []string
}

func Public() Requirement { return Requirement{Level: LevelPublic} }

func Authenticated() Requirement { return Requirement{Level: LevelAuthenticated} }

func RoleIn(roles ...string) Requirement {
	normalized := make([]string, 0, len(roles))
	for _, r := range roles {
		normalized = append(normalized, strings.ToUpper(strings.TrimSpace(r)))
	}
	return Requirement{Level: LevelRole, Roles: normalized}
}

func (r Requirement) IsPublic() bool { return r.Level == LevelPublic }

func (r Requirement) String() string {
	switch r.Level {
	case LevelPublic:
		return "public"
	case LevelAuthenticated:
		return "authenticated"
	default:
		return "role in [" + strings.Join(r.Roles, ",") + "]"
	}
}

var (
	ErrNotAuthenticated = apperr.Unauthorized("authentication required")
	ErrRoleUnknown      = apperr.Forbidden("role not determined")
)

// Check applies r to p. A nil principal means no session was resolved.
func Check(p *auth.Principal, r Requirement) error {
	switch r.Level {
	case LevelPublic:
		return nil
	case LevelAuthenticated:
		if p == nil {
			return ErrNotAuthenticated
		}
		return nil
	case LevelRole:
		if p == nil {
			return ErrNotAuthenticated
		}
		if !p.RoleKnown() {
			return ErrRoleUnknown
		}
		for _, role := range r.Roles {
			if strings.EqualFold(strings.TrimSpace(p.RoleName), role) {
				return nil
			}
		}
		return apperr.Forbidden(fmt.Sprintf("access denied: requires role %s", strings.Join(r.Roles, " or ")))
	default:
		return apperr.Forbidden("access denied")
	}
}
