package bank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"bankanalysis/ratio-server/internal/apperr"
)

var (
	ErrBankNotFound      = apperr.NotFound("bank not found")
	ErrStatementNotFound = apperr.NotFound("financial statement not found")
	ErrBankCodeTaken     = apperr.Conflict("bank code already exists")
	ErrStatementExists   = apperr.Conflict("a statement for this period already exists")
)

var bankCodePattern = regexp.MustCompile(`^[A-Z0-9]{2,16}$`)

// DeletionListener is told about removals so dependent records (analysis
// reports) can follow. Postgres cascades make the call a no-op there.
type DeletionListener interface {
	BankDeleted(ctx context.Context, bankID int64) error
	StatementDeleted(ctx context.Context, statementID int64) error
}

type Service struct {
	store     Store
	listeners []DeletionListener
}

func NewService(store Store, listeners ...DeletionListener) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("bank store is required")
	}
	return &Service{store: store, listeners: listeners}, nil
}

func (s *Service) CreateBank(ctx context.Context, in BankInput) (Bank, error) {
	b, err := normalizeBank(in)
	if err != nil {
		return Bank{}, err
	}
	return s.store.CreateBank(ctx, b)
}

func (s *Service) UpdateBank(ctx context.Context, id int64, in BankInput) (Bank, error) {
	if id <= 0 {
		return Bank{}, apperr.BadRequest("id must be a positive integer")
	}
	b, err := normalizeBank(in)
	if err != nil {
		return Bank{}, err
	}
	b.ID = id
	return s.store.UpdateBank(ctx, b)
}

func (s *Service) GetBank(ctx context.Context, id int64) (Bank, error) {
	return s.store.GetBank(ctx, id)
}

func (s *Service) ListBanks(ctx context.Context) ([]Bank, error) {
	return s.store.ListBanks(ctx)
}

func (s *Service) DeleteBank(ctx context.Context, id int64) error {
	if err := s.store.DeleteBank(ctx, id); err != nil {
		return err
	}
	var errs []error
	for _, l := range s.listeners {
		errs = append(errs, l.BankDeleted(ctx, id))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("cascade bank %d: %w", id, err)
	}
	return nil
}

func (s *Service) CreateStatement(ctx context.Context, in StatementInput, createdBy *int64) (Statement, error) {
	st, err := normalizeStatement(in)
	if err != nil {
		return Statement{}, err
	}
	if _, err := s.store.GetBank(ctx, st.BankID); err != nil {
		return Statement{}, err
	}
	st.CreatedBy = createdBy
	return s.store.CreateStatement(ctx, st)
}

func (s *Service) GetStatement(ctx context.Context, id int64) (Statement, error) {
	return s.store.GetStatement(ctx, id)
}

func (s *Service) ListStatements(ctx context.Context, bankID int64) ([]Statement, error) {
	if _, err := s.store.GetBank(ctx, bankID); err != nil {
		return nil, err
	}
	return s.store.ListStatements(ctx, bankID)
}

func (s *Service) DeleteStatement(ctx context.Context, id int64) error {
	if err := s.store.DeleteStatement(ctx, id); err != nil {
		return err
	}
	var errs []error
	for _, l := range s.listeners {
		errs = append(errs, l.StatementDeleted(ctx, id))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("cascade statement %d: %w", id, err)
	}
	return nil
}

// StatementRef selects a statement of a bank by id or by period end. The
// zero value selects the latest statement.
type StatementRef struct {
	ID        int64
	PeriodEnd string
}

// ResolveStatement returns the statement of a bank that ref selects. When
// both fields are set the statement must match both.
func (s *Service) ResolveStatement(ctx context.Context, bankID int64, ref StatementRef) (Bank, Statement, error) {
	if ref.ID < 0 {
		return Bank{}, Statement{}, apperr.BadRequest("statementId must be a positive integer")
	}
	period := strings.TrimSpace(ref.PeriodEnd)
	if period != "" {
		t, err := time.Parse(PeriodLayout, period)
		if err != nil {
			return Bank{}, Statement{}, apperr.BadRequest("reportDate must be a date in YYYY-MM-DD format")
		}
		period = t.Format(PeriodLayout)
	}
	b, err := s.store.GetBank(ctx, bankID)
	if err != nil {
		return Bank{}, Statement{}, err
	}
	if ref.ID != 0 {
		st, err := s.store.GetStatement(ctx, ref.ID)
		if err != nil {
			return Bank{}, Statement{}, err
		}
		if st.BankID != bankID || (period != "" && st.PeriodEnd != period) {
			return Bank{}, Statement{}, ErrStatementNotFound
		}
		return b, st, nil
	}
	list, err := s.store.ListStatements(ctx, bankID)
	if err != nil {
		return Bank{}, Statement{}, err
	}
	if period == "" {
		if len(list) == 0 {
			return Bank{}, Statement{}, apperr.NotFound("bank has no financial statements")
		}
		return b, list[0], nil
	}
	for _, st := range list {
		if st.PeriodEnd == period {
			return b, st, nil
		}
	}
	return Bank{}, Statement{}, apperr.NotFound("no financial statement for " + period)
}

func normalizeBank(in BankInput) (Bank, error) {
	b := Bank{
		Name:        strings.TrimSpace(in.Name),
		Code:        strings.ToUpper(strings.TrimSpace(in.Code)),
		Country:     strings.TrimSpace(in.Country),
		Description: strings.TrimSpace(in.Description),
	}
	if b.Name == "" || len(b.Name) > 200 {
		return Bank{}, apperr.BadRequest("name must be 1-200 characters")
	}
	if !bankCodePattern.MatchString(b.Code) {
		return Bank{}, apperr.BadRequest("code must be 2-16 letters or digits")
	}
	if len(b.Country) > 64 {
		return Bank{}, apperr.BadRequest("country must be at most 64 characters")
	}
	return b, nil
}

func normalizeStatement(in StatementInput) (Statement, error) {
	if in.BankID <= 0 {
		return Statement{}, apperr.BadRequest("bankId must be a positive integer")
	}
	period, err := time.Parse(PeriodLayout, strings.TrimSpace(in.PeriodEnd))
	if err != nil {
		return Statement{}, apperr.BadRequest("periodEnd must be a date in YYYY-MM-DD format")
	}
	nonNegative := []struct {
		name  string
		value float64
	}{
		{"cash", in.Cash},
		{"shortTermInvestments", in.ShortTermInvestments},
		{"currentAssets", in.CurrentAssets},
		{"totalAssets", in.TotalAssets},
		{"currentLiabilities", in.CurrentLiabilities},
		{"totalLiabilities", in.TotalLiabilities},
		{"customerDeposits", in.CustomerDeposits},
		{"loans", in.Loans},
		{"tier1Capital", in.Tier1Capital},
		{"tier2Capital", in.Tier2Capital},
		{"riskWeightedAssets", in.RiskWeightedAssets},
	}
	for _, f := range nonNegative {
		if f.value < 0 || math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return Statement{}, apperr.BadRequest("%s must be a non-negative number", f.name)
		}
	}
	if math.IsNaN(in.TotalEquity) || math.IsInf(in.TotalEquity, 0) {
		return Statement{}, apperr.BadRequest("totalEquity must be a number")
	}
	if in.CurrentAssets > in.TotalAssets {
		return Statement{}, apperr.BadRequest("currentAssets cannot exceed totalAssets")
	}
	if in.CurrentLiabilities > in.TotalLiabilities {
		return Statement{}, apperr.BadRequest("currentLiabilities cannot exceed totalLiabilities")
	}
	return Statement{
		BankID:               in.BankID,
		PeriodEnd:            period.Format(PeriodLayout),
		Cash:                 in.Cash,
		ShortTermInvestments: in.ShortTermInvestments,
		CurrentAssets:        in.CurrentAssets,
		TotalAssets:          in.TotalAssets,
		CurrentLiabilities:   in.CurrentLiabilities,
		TotalLiabilities:     in.TotalLiabilities,
		CustomerDeposits:     in.CustomerDeposits,
		Loans:                in.Loans,
		TotalEquity:          in.TotalEquity,
		Tier1Capital:         in.Tier1Capital,
		Tier2Capital:         in.Tier2Capital,
		RiskWeightedAssets:   in.RiskWeightedAssets,
	}, nil
}
