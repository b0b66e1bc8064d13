// Package analysis computes liquidity and solvency ratios from financial
// statements and keeps the reports analysts choose to save.
package analysis

import (
	"math"

	"bankanalysis/ratio-server/internal/bank"
)

const (
	TypeLiquidity = "LIQUIDITY"
	TypeSolvency  = "SOLVENCY"

	RatingStrong   = "STRONG"
	RatingAdequate = "ADEQUATE"
	RatingWeak     = "WEAK"
)

// Ratio names as they appear in results and stored reports.
const (
	CurrentRatio              = "currentRatio"
	QuickRatio                = "quickRatio"
	CashRatio                 = "cashRatio"
	LoanToDepositRatio        = "loanToDepositRatio"
	LiquidAssetsToTotalAssets = "liquidAssetsToTotalAssets"

	DebtToEquityRatio    = "debtToEquityRatio"
	DebtRatio            = "debtRatio"
	EquityRatio          = "equityRatio"
	CapitalAdequacyRatio = "capitalAdequacyRatio"
	Tier1CapitalRatio    = "tier1CapitalRatio"
)

// Ratios maps a ratio name to its value; nil means the denominator was zero.
type Ratios map[string]*float64

func (r Ratios) value(name string) (float64, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

func divide(num, den float64) *float64 {
	if den == 0 {
		return nil
	}
	v := math.Round(num/den*10000) / 10000
	return &v
}

func LiquidityRatios(st bank.Statement) Ratios {
	liquid := st.Cash + st.ShortTermInvestments
	return Ratios{
		CurrentRatio:              divide(st.CurrentAssets, st.CurrentLiabilities),
		QuickRatio:                divide(liquid, st.CurrentLiabilities),
		CashRatio:                 divide(st.Cash, st.CurrentLiabilities),
		LoanToDepositRatio:        divide(st.Loans, st.CustomerDeposits),
		LiquidAssetsToTotalAssets: divide(liquid, st.TotalAssets),
	}
}

func SolvencyRatios(st bank.Statement) Ratios {
	return Ratios{
		DebtToEquityRatio:    divide(st.TotalLiabilities, st.TotalEquity),
		DebtRatio:            divide(st.TotalLiabilities, st.TotalAssets),
		EquityRatio:          divide(st.TotalEquity, st.TotalAssets),
		CapitalAdequacyRatio: divide(st.Tier1Capital+st.Tier2Capital, st.RiskWeightedAssets),
		Tier1CapitalRatio:    divide(st.Tier1Capital, st.RiskWeightedAssets),
	}
}

// RateLiquidity: STRONG needs a current ratio of at least 1.5, loans
// covered by deposits at 85% or better and a fifth of assets liquid. Any
// defined ratio past its weak threshold makes the result WEAK.
func RateLiquidity(r Ratios) string {
	current, hasCurrent := r.value(CurrentRatio)
	ldr, hasLDR := r.value(LoanToDepositRatio)
	liquid, hasLiquid := r.value(LiquidAssetsToTotalAssets)

	if (hasCurrent && current < 1.0) || (hasLDR && ldr > 1.0) || (hasLiquid && liquid < 0.10) {
		return RatingWeak
	}
	if hasCurrent && hasLDR && hasLiquid && current >= 1.5 && ldr <= 0.85 && liquid >= 0.20 {
		return RatingStrong
	}
	return RatingAdequate
}

// RateSolvency follows Basel III minimums: total capital 8% of RWA is the
// floor and 10.5% (with the conservation buffer) is strong.
func RateSolvency(r Ratios) string {
	car, hasCAR := r.value(CapitalAdequacyRatio)
	equity, hasEquity := r.value(EquityRatio)
	dte, hasDTE := r.value(DebtToEquityRatio)

	if (hasCAR && car < 0.08) || (hasEquity && equity < 0.04) || (hasDTE && dte < 0) {
		return RatingWeak
	}
	if hasCAR && hasEquity && hasDTE && car >= 0.105 && equity >= 0.08 && dte <= 10 {
		return RatingStrong
	}
	return RatingAdequate
}
