// Package actions binds the protocol's action names to business
// capabilities, each with its access requirement.
package actions

import (
	"context"
	"fmt"

	"bankanalysis/ratio-server/internal/analysis"
	"bankanalysis/ratio-server/internal/apperr"
	"bankanalysis/ratio-server/internal/audit"
	"bankanalysis/ratio-server/internal/auth"
	"bankanalysis/ratio-server/internal/bank"
	"bankanalysis/ratio-server/internal/dispatch"
	"bankanalysis/ratio-server/internal/session"
)

type AuditReader interface {
	List(ctx context.Context, limit int) ([]audit.Entry, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]audit.Entry, error)
}

type Deps struct {
	Auth     *auth.Service
	Sessions session.Store
	Banks    *bank.Service
	Analysis *analysis.Service
	Audit    AuditReader
}

func (d Deps) validate() error {
	switch {
	case d.Auth == nil:
		return fmt.Errorf("auth service is required")
	case d.Sessions == nil:
		return fmt.Errorf("session store is required")
	case d.Banks == nil:
		return fmt.Errorf("bank service is required")
	case d.Analysis == nil:
		return fmt.Errorf("analysis service is required")
	case d.Audit == nil:
		return fmt.Errorf("audit reader is required")
	}
	return nil
}

// NewRegistry returns a registry holding the full action catalogue.
func NewRegistry(deps Deps) (*dispatch.Registry, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	reg := dispatch.NewRegistry()
	registerAuth(reg, deps)
	registerBanks(reg, deps)
	registerAnalysis(reg, deps)
	registerAudit(reg, deps)
	return reg, nil
}

type message struct {
	Message string `json:"message"`
}

func requireID(name string, v int64) error {
	if v <= 0 {
		return apperr.BadRequest("%s must be a positive integer", name)
	}
	return nil
}
