// Package bank holds the reference data the ratio analysis runs on: banks
// and their periodic financial statements.
package bank

import "time"

// PeriodLayout is the wire and storage format of a statement period end.
const PeriodLayout = "2006-01-02"

type Bank struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Country     string    `json:"country,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Statement is one balance sheet snapshot. Amounts share the bank's
// reporting currency.
type Statement struct {
	ID                   int64     `json:"id"`
	BankID               int64     `json:"bankId"`
	PeriodEnd            string    `json:"periodEnd"`
	Cash                 float64   `json:"cash"`
	ShortTermInvestments float64   `json:"shortTermInvestments"`
	CurrentAssets        float64   `json:"currentAssets"`
	TotalAssets          float64   `json:"totalAssets"`
	CurrentLiabilities   float64   `json:"currentLiabilities"`
	TotalLiabilities     float64   `json:"totalLiabilities"`
	CustomerDeposits     float64   `json:"customerDeposits"`
	Loans                float64   `json:"loans"`
	TotalEquity          float64   `json:"totalEquity"`
	Tier1Capital         float64   `json:"tier1Capital"`
	Tier2Capital         float64   `json:"tier2Capital"`
	RiskWeightedAssets   float64   `json:"riskWeightedAssets"`
	CreatedBy            *int64    `json:"createdBy,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

type BankInput struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Country     string `json:"country"`
	Description string `json:"description"`
}

type StatementInput struct {
	BankID               int64   `json:"bankId"`
	PeriodEnd            string  `json:"periodEnd"`
	Cash                 float64 `json:"cash"`
	ShortTermInvestments float64 `json:"shortTermInvestments"`
	CurrentAssets        float64 `json:"currentAssets"`
	TotalAssets          float64 `json:"totalAssets"`
	CurrentLiabilities   float64 `json:"currentLiabilities"`
	TotalLiabilities     float64 `json:"totalLiabilities"`
	CustomerDeposits     float64 `json:"customerDeposits"`
	Loans                float64 `json:"loans"`
	TotalEquity          float64 `json:"totalEquity"`
	Tier1Capital         float64 `json:"tier1Capital"`
	Tier2Capital         float64 `json:"tier2Capital"`
	RiskWeightedAssets   float64 `json:"riskWeightedAssets"`
}
