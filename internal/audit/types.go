// Package audit records who attempted what, from where, and whether it worked.
package audit

import "time"

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Action types recorded outside the per-action entries.
const (
	ActionUnknown = "UNKNOWN_ACTION"
	ActionInvalid = "INVALID_REQUEST"
)

type Entry struct {
	ID            int64     `json:"id"`
	UserID        *int64    `json:"userId"`
	ActionType    string    `json:"actionType"`
	Details       string    `json:"details,omitempty"`
	SourceAddress string    `json:"sourceAddress,omitempty"`
	Success       bool      `json:"success"`
	CreatedAt     time.Time `json:"createdAt"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
