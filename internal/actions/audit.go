package actions

import (
	"context"

	"bankanalysis/ratio-server/internal/auth"
	"bankanalysis/ratio-server/internal/authz"
	"bankanalysis/ratio-server/internal/dispatch"
)

type auditQuery struct {
	UserID int64 `json:"userId"`
	Limit  int   `json:"limit"`
}

func registerAudit(reg *dispatch.Registry, d Deps) {
	admin := authz.RoleIn(auth.RoleAdmin)

	reg.Register("GET_ALL_AUDIT_LOGS", admin, func(ctx context.Context, call *dispatch.Call) (any, error) {
		in, err := dispatch.BindOptional[auditQuery](call)
		if err != nil {
			return nil, err
		}
		return d.Audit.List(ctx, in.Limit)
	})

	reg.Register("GET_USER_AUDIT_LOGS", admin, func(ctx context.Context, call *dispatch.Call) (any, error) {
		in, err := dispatch.Bind[auditQuery](call)
		if err != nil {
			return nil, err
		}
		if err := requireID("userId", in.UserID); err != nil {
			return nil, err
		}
		return d.Audit.ListByUser(ctx, in.UserID, in.Limit)
	})
}
