package domain

import "encoding/json"

type AuditAction string

const (
	AuditApproved   AuditAction = "APPROVED"
	AuditUnapproved AuditAction = "UNAPPROVED"
	AuditUpdated    AuditAction = "UPDATED"
)

// AuditEntry is an append-only record of one successful approval
// transition. Written in the same transaction as the transition itself.
type AuditEntry struct {
	ID            int64           `json:"id"`
	ReviewID      int64           `json:"reviewId"`
	Action        AuditAction     `json:"action"`
	PreviousValue json.RawMessage `json:"previousValue"`
	NewValue      json.RawMessage `json:"newValue"`
	Actor         string          `json:"actor"`
	CreatedAt     Timestamp       `json:"createdAt"`
}
