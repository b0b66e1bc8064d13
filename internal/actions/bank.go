package actions

import (
	"context"

	"bankanalysis/ratio-server/internal/auth"
	"bankanalysis/ratio-server/internal/authz"
	"bankanalysis/ratio-server/internal/bank"
	"bankanalysis/ratio-server/internal/dispatch"
)

type bankRef struct {
	BankID int64 `json:"bankId"`
}

type statementRef struct {
	StatementID int64 `json:"statementId"`
}

type updateBankPayload struct {
	ID int64 `json:"id"`
	bank.BankInput
}

type deleted struct {
	Deleted bool  `json:"deleted"`
	ID      int64 `json:"id"`
}

func bindBankRef(call *dispatch.Call) (int64, error) {
	in, err := dispatch.Bind[bankRef](call)
	if err != nil {
		return 0, err
	}
	return in.BankID, requireID("bankId", in.BankID)
}

func bindStatementRef(call *dispatch.Call) (int64, error) {
	in, err := dispatch.Bind[statementRef](call)
	if err != nil {
		return 0, err
	}
	return in.StatementID, requireID("statementId", in.StatementID)
}

func registerBanks(reg *dispatch.Registry, d Deps) {
	admin := authz.RoleIn(auth.RoleAdmin)
	editors := authz.RoleIn(auth.RoleAdmin, auth.RoleAnalyst)

	reg.Register("CREATE_BANK", editors, func(ctx context.Context, call *dispatch.Call) (any, error) {
		in, err := dispatch.Bind[bank.BankInput](call)
		if err != nil {
			return nil, err
		}
		return d.Banks.CreateBank(ctx, in)
	})

	reg.Register("UPDATE_BANK", editors, func(ctx context.Context, call *dispatch.Call) (any, error) {
		in, err := dispatch.Bind[updateBankPayload](call)
		if err != nil {
			return nil, err
		}
		if err := requireID("id", in.ID); err != nil {
			return nil, err
		}
		return d.Banks.UpdateBank(ctx, in.ID, in.BankInput)
	})

	reg.Register("GET_BANK_BY_ID", authz.Authenticated(), func(ctx context.Context, call *dispatch.Call) (any, error) {
		id, err := bindBankRef(call)
		if err != nil {
			return nil, err
		}
		return d.Banks.GetBank(ctx, id)
	})

	reg.Register("GET_ALL_BANKS", authz.Authenticated(), func(ctx context.Context, _ *dispatch.Call) (any, error) {
		return d.Banks.ListBanks(ctx)
	})

	reg.Register("DELETE_BANK", admin, func(ctx context.Context, call *dispatch.Call) (any, error) {
		id, err := bindBankRef(call)
		if err != nil {
			return nil, err
		}
		if err := d.Banks.DeleteBank(ctx, id); err != nil {
			return nil, err
		}
		return deleted{Deleted: true, ID: id}, nil
	})

	reg.Register("CREATE_FINANCIAL_STATEMENT", editors, func(ctx context.Context, call *dispatch.Call) (any, error) {
		in, err := dispatch.Bind[bank.StatementInput](call)
		if err != nil {
			return nil, err
		}
		createdBy := call.Principal.UserID
		return d.Banks.CreateStatement(ctx, in, &createdBy)
	})

	reg.Register("GET_FINANCIAL_STATEMENT", authz.Authenticated(), func(ctx context.Context, call *dispatch.Call) (any, error) {
		id, err := bindStatementRef(call)
		if err != nil {
			return nil, err
		}
		return d.Banks.GetStatement(ctx, id)
	})

	reg.Register("GET_BANK_FINANCIAL_STATEMENTS", authz.Authenticated(), func(ctx context.Context, call *dispatch.Call) (any, error) {
		id, err := bindBankRef(call)
		if err != nil {
			return nil, err
		}
		return d.Banks.ListStatements(ctx, id)
	})

	reg.Register("DELETE_FINANCIAL_STATEMENT", editors, func(ctx context.Context, call *dispatch.Call) (any, error) {
		id, err := bindStatementRef(call)
		if err != nil {
			return nil, err
		}
		if err := d.Banks.DeleteStatement(ctx, id); err != nil {
			return nil, err
		}
		return deleted{Deleted: true, ID: id}, nil
	})
}
