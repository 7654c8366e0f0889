package models

import "time"

// AuditEntry records a rejection, error or abuse signal for operator
// diagnosis. Entries are append-only; Recipient may be empty when the
// signal fired before a recipient was known.
type AuditEntry struct {
	Recipient string                 `json:"recipient"`
	Message   string                 `json:"message"`
	Params    map[string]interface{} `json:"params"`
	CreatedAt time.Time              `json:"created_at"`
}
