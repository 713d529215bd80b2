package domain

import "time"

// AuditLog records every significant request against the advisor.
type AuditLog struct {
	ID         string    `json:"id"          db:"id"`
	Operator   string    `json:"operator"    db:"operator"`
	Action     string    `json:"action"      db:"action"`
	Resource   string    `json:"resource"    db:"resource"`
	ResourceID string    `json:"resource_id" db:"resource_id"`
	Details    string    `json:"details"     db:"details"` // JSON blob
	IP         string    `json:"ip"          db:"ip"`
	UserAgent  string    `json:"user_agent"  db:"user_agent"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}

// Audit action constants.
const (
	AuditActionDecide      = "decide"
	AuditActionCompare     = "compare"
	AuditActionSearch      = "index_search"
	AuditActionIngest      = "index_ingest"
	AuditActionClear       = "index_clear"
	AuditActionMCPCall     = "mcp_call"
	AuditActionHTTPRequest = "http_request"
)
