package analysis

import (
	"context"
	"fmt"
	"strings"

	"bankanalysis/ratio-server/internal/apperr"
	"bankanalysis/ratio-server/internal/bank"
)

var ErrReportNotFound = apperr.NotFound("analysis report not found")

const maxNotesLength = 2000

// StatementSource is the slice of bank.Service the analysis needs.
type StatementSource interface {
	GetBank(ctx context.Context, id int64) (bank.Bank, error)
	ResolveStatement(ctx context.Context, bankID int64, ref bank.StatementRef) (bank.Bank, bank.Statement, error)
}

type Service struct {
	statements StatementSource
	reports    ReportStore
}

func NewService(statements StatementSource, reports ReportStore) (*Service, error) {
	if statements == nil {
		return nil, fmt.Errorf("statement source is required")
	}
	if reports == nil {
		return nil, fmt.Errorf("report store is required")
	}
	return &Service{statements: statements, reports: reports}, nil
}

// Calculate runs one analysis type on the statement ref selects, the bank's
// latest by default. Nothing is stored.
func (s *Service) Calculate(ctx context.Context, kind string, bankID int64, ref bank.StatementRef) (Result, error) {
	compute, rate, err := analysisFor(kind)
	if err != nil {
		return Result{}, err
	}
	if bankID <= 0 {
		return Result{}, apperr.BadRequest("bankId must be a positive integer")
	}
	b, st, err := s.statements.ResolveStatement(ctx, bankID, ref)
	if err != nil {
		return Result{}, err
	}
	ratios := compute(st)
	return Result{
		Type:        strings.ToUpper(kind),
		BankID:      b.ID,
		BankName:    b.Name,
		StatementID: st.ID,
		PeriodEnd:   st.PeriodEnd,
		Ratios:      ratios,
		Rating:      rate(ratios),
	}, nil
}

func (s *Service) CalculateLiquidity(ctx context.Context, bankID int64, ref bank.StatementRef) (Result, error) {
	return s.Calculate(ctx, TypeLiquidity, bankID, ref)
}

func (s *Service) CalculateSolvency(ctx context.Context, bankID int64, ref bank.StatementRef) (Result, error) {
	return s.Calculate(ctx, TypeSolvency, bankID, ref)
}

// SaveReport calculates and persists the result with the analyst's notes.
func (s *Service) SaveReport(ctx context.Context, kind string, bankID int64, ref bank.StatementRef, notes string, createdBy *int64) (Report, error) {
	notes = strings.TrimSpace(notes)
	if len(notes) > maxNotesLength {
		return Report{}, apperr.BadRequest("notes must be at most %d characters", maxNotesLength)
	}
	res, err := s.Calculate(ctx, kind, bankID, ref)
	if err != nil {
		return Report{}, err
	}
	return s.reports.Create(ctx, Report{
		Type:        res.Type,
		BankID:      res.BankID,
		StatementID: res.StatementID,
		PeriodEnd:   res.PeriodEnd,
		Ratios:      res.Ratios,
		Rating:      res.Rating,
		Notes:       notes,
		CreatedBy:   createdBy,
	})
}

func (s *Service) GetReport(ctx context.Context, id int64) (Report, error) {
	return s.reports.Get(ctx, id)
}

func (s *Service) ListBankReports(ctx context.Context, bankID int64) ([]Report, error) {
	if _, err := s.statements.GetBank(ctx, bankID); err != nil {
		return nil, err
	}
	return s.reports.ListByBank(ctx, bankID)
}

func (s *Service) DeleteReport(ctx context.Context, id int64) error {
	return s.reports.Delete(ctx, id)
}

// Cascade removes reports that depend on deleted banks or statements. It
// is registered as a bank.DeletionListener.
type Cascade struct {
	Reports ReportStore
}

func (c Cascade) BankDeleted(ctx context.Context, bankID int64) error {
	_, err := c.Reports.DeleteByBank(ctx, bankID)
	return err
}

func (c Cascade) StatementDeleted(ctx context.Context, statementID int64) error {
	_, err := c.Reports.DeleteByStatement(ctx, statementID)
	return err
}

func analysisFor(kind string) (func(bank.Statement) Ratios, func(Ratios) string, error) {
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case TypeLiquidity:
		return LiquidityRatios, RateLiquidity, nil
	case TypeSolvency:
		return SolvencyRatios, RateSolvency, nil
	default:
		return nil, nil, apperr.BadRequest("unknown analysis type %q", kind)
	}
}
