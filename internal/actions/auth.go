package actions

import (
	"context"
	"strings"

	"bankanalysis/ratio-server/internal/apperr"
	"bankanalysis/ratio-server/internal/auth"
	"bankanalysis/ratio-server/internal/authz"
	"bankanalysis/ratio-server/internal/dispatch"
	"bankanalysis/ratio-server/internal/session"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResult struct {
	Token string    `json:"token"`
	User  loginUser `json:"user"`
}

type loginUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

type changePasswordPayload struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type userStatusPayload struct {
	UserID int64 `json:"userId"`
	Active *bool `json:"active"`
}

type assignRolePayload struct {
	UserID int64 `json:"userId"`
	RoleID int64 `json:"roleId"`
}

type createRolePayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type userChange struct {
	User            auth.UserView `json:"user"`
	SessionsRevoked int           `json:"sessionsRevoked"`
}

func registerAuth(reg *dispatch.Registry, d Deps) {
	admin := authz.RoleIn(auth.RoleAdmin)

	reg.Register("LOGIN", authz.Public(), func(ctx context.Context, call *dispatch.Call) (any, error) {
		in, err := dispatch.Bind[credentials](call)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(in.Username) == "" || in.Password == "" {
			return nil, apperr.BadRequest("username and password are required")
		}
		p, err := d.Auth.Authenticate(ctx, in.Username, in.Password)
		if err != nil {
			return nil, err
		}
		token, err := session.NewToken()
		if err != nil {
			return nil, err
		}
		if err := d.Sessions.Put(ctx, token, p); err != nil {
			return nil, err
		}
		call.Conn.Adopt(token)
		call.Principal = &p
		return loginResult{Token: token, User: loginUser{ID: p.UserID, Username: p.Username, Role: p.RoleName}}, nil
	})

	reg.Register("REGISTER", authz.Public(), func(ctx context.Context, call *dispatch.Call) (any, error) {
		in, err := dispatch.Bind[auth.RegisterInput](call)
		if err != nil {
			return nil, err
		}
		return d.Auth.Register(ctx, in)
	})

	// LOGOUT acts on whatever token came with the request.
	reg.Register("LOGOUT", authz.Public(), func(ctx context.Context, call *dispatch.Call) (any, error) {
		if call.Token == "" {
			return message{Message: "no active session"}, nil
		}
		p, ok, err := d.Sessions.RemoveByToken(ctx, call.Token)
		if err != nil {
			return nil, err
		}
		if !ok {
			return message{Message: "no active session"}, nil
		}
		call.Conn.Release(call.Token)
		call.Principal = &p
		return message{Message: "logged out"}, nil
	})

	reg.Register("GET_USER_PROFILE", authz.Authenticated(), func(ctx context.Context, call *dispatch.Call) (any, error) {
		return d.Auth.Profile(ctx, call.Principal.UserID)
	})

	reg.Register("CHANGE_PASSWORD", authz.Authenticated(), func(ctx context.Context, call *dispatch.Call) (any, error) {
		in, err := dispatch.Bind[changePasswordPayload](call)
		if err != nil {
			return nil, err
		}
		if in.CurrentPassword == "" || in.NewPassword == "" {
			return nil, apperr.BadRequest("currentPassword and newPassword are required")
		}
		if err := d.Auth.ChangePassword(ctx, call.Principal.UserID, in.CurrentPassword, in.NewPassword); err != nil {
			return nil, err
		}
		return message{Message: "password changed"}, nil
	})

	reg.Register("GET_ALL_USERS", admin, func(ctx context.Context, _ *dispatch.Call) (any, error) {
		return d.Auth.ListUsers(ctx)
	})

	// Deactivating a user ends their sessions at once.
	reg.Register("UPDATE_USER_STATUS", admin, func(ctx context.Context, call *dispatch.Call) (any, error) {
		in, err := dispatch.Bind[userStatusPayload](call)
		if err != nil {
			return nil, err
		}
		if err := requireID("userId", in.UserID); err != nil {
			return nil, err
		}
		if in.Active == nil {
			return nil, apperr.BadRequest("active is required")
		}
		if !*in.Active && in.UserID == call.Principal.UserID {
			return nil, apperr.BadRequest("cannot deactivate your own account")
		}
		u, err := d.Auth.UpdateUserStatus(ctx, in.UserID, *in.Active)
		if err != nil {
			return nil, err
		}
		out := userChange{User: u}
		if !u.Active {
			if out.SessionsRevoked, err = d.Sessions.RemoveAllOfPrincipal(ctx, u.ID); err != nil {
				return nil, err
			}
		}
		return out, nil
	})

	// A new role applies from the user's next login; existing sessions are
	// revoked so no token keeps the old role.
	reg.Register("ASSIGN_USER_ROLE", admin, func(ctx context.Context, call *dispatch.Call) (any, error) {
		in, err := dispatch.Bind[assignRolePayload](call)
		if err != nil {
			return nil, err
		}
		if err := requireID("userId", in.UserID); err != nil {
			return nil, err
		}
		if err := requireID("roleId", in.RoleID); err != nil {
			return nil, err
		}
		u, err := d.Auth.AssignRole(ctx, in.UserID, in.RoleID)
		if err != nil {
			return nil, err
		}
		revoked, err := d.Sessions.RemoveAllOfPrincipal(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		return userChange{User: u, SessionsRevoked: revoked}, nil
	})

	reg.Register("GET_ALL_ROLES", admin, func(ctx context.Context, _ *dispatch.Call) (any, error) {
		return d.Auth.ListRoles(ctx)
	})

	reg.Register("CREATE_ROLE", admin, func(ctx context.Context, call *dispatch.Call) (any, error) {
		in, err := dispatch.Bind[createRolePayload](call)
		if err != nil {
			return nil, err
		}
		return d.Auth.CreateRole(ctx, in.Name, in.Description)
	})
}
