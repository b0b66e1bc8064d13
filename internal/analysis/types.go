package analysis

import "time"

// Result is an unsaved calculation.
type Result struct {
	Type        string `json:"type"`
	BankID      int64  `json:"bankId"`
	BankName    string `json:"bankName"`
	StatementID int64  `json:"statementId"`
	PeriodEnd   string `json:"periodEnd"`
	Ratios      Ratios `json:"ratios"`
	Rating      string `json:"rating"`
}

type Report struct {
	ID          int64     `json:"id"`
	Type        string    `json:"type"`
	BankID      int64     `json:"bankId"`
	StatementID int64     `json:"statementId"`
	PeriodEnd   string    `json:"periodEnd"`
	Ratios      Ratios    `json:"ratios"`
	Rating      string    `json:"rating"`
	Notes       string    `json:"notes,omitempty"`
	CreatedBy   *int64    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
