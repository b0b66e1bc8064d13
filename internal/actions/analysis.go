package actions

import (
	"context"

	"bankanalysis/ratio-server/internal/analysis"
	"bankanalysis/ratio-server/internal/auth"
	"bankanalysis/ratio-server/internal/authz"
	"bankanalysis/ratio-server/internal/bank"
	"bankanalysis/ratio-server/internal/dispatch"
)

type analysisPayload struct {
	BankID      int64  `json:"bankId"`
	StatementID int64  `json:"statementId"`
	ReportDate  string `json:"reportDate"`
	Notes       string `json:"notes"`
}

func (p analysisPayload) ref() bank.StatementRef {
	return bank.StatementRef{ID: p.StatementID, PeriodEnd: p.ReportDate}
}

type reportRef struct {
	ReportID int64 `json:"reportId"`
}

func bindAnalysis(call *dispatch.Call) (analysisPayload, error) {
	in, err := dispatch.Bind[analysisPayload](call)
	if err != nil {
		return in, err
	}
	return in, requireID("bankId", in.BankID)
}

func bindReportRef(call *dispatch.Call) (int64, error) {
	in, err := dispatch.Bind[reportRef](call)
	if err != nil {
		return 0, err
	}
	return in.ReportID, requireID("reportId", in.ReportID)
}

func registerAnalysis(reg *dispatch.Registry, d Deps) {
	analyst := authz.RoleIn(auth.RoleAnalyst)

	calculate := func(kind string) dispatch.Handler {
		return func(ctx context.Context, call *dispatch.Call) (any, error) {
			in, err := bindAnalysis(call)
			if err != nil {
				return nil, err
			}
			return d.Analysis.Calculate(ctx, kind, in.BankID, in.ref())
		}
	}
	save := func(kind string) dispatch.Handler {
		return func(ctx context.Context, call *dispatch.Call) (any, error) {
			in, err := bindAnalysis(call)
			if err != nil {
				return nil, err
			}
			createdBy := call.Principal.UserID
			return d.Analysis.SaveReport(ctx, kind, in.BankID, in.ref(), in.Notes, &createdBy)
		}
	}

	reg.Register("CALCULATE_LIQUIDITY", analyst, calculate(analysis.TypeLiquidity))
	reg.Register("CALCULATE_SOLVENCY", analyst, calculate(analysis.TypeSolvency))
	reg.Register("SAVE_LIQUIDITY_REPORT", analyst, save(analysis.TypeLiquidity))
	reg.Register("SAVE_SOLVENCY_REPORT", analyst, save(analysis.TypeSolvency))

	reg.Register("GET_ANALYSIS_REPORT", authz.Authenticated(), func(ctx context.Context, call *dispatch.Call) (any, error) {
		id, err := bindReportRef(call)
		if err != nil {
			return nil, err
		}
		return d.Analysis.GetReport(ctx, id)
	})

	reg.Register("GET_BANK_ANALYSIS_REPORTS", authz.Authenticated(), func(ctx context.Context, call *dispatch.Call) (any, error) {
		id, err := bindBankRef(call)
		if err != nil {
			return nil, err
		}
		return d.Analysis.ListBankReports(ctx, id)
	})

	reg.Register("DELETE_ANALYSIS_REPORT", authz.RoleIn(auth.RoleAdmin), func(ctx context.Context, call *dispatch.Call) (any, error) {
		id, err := bindReportRef(call)
		if err != nil {
			return nil, err
		}
		if err := d.Analysis.DeleteReport(ctx, id); err != nil {
			return nil, err
		}
		return deleted{Deleted: true, ID: id}, nil
	})
}
