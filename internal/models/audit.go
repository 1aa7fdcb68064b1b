package models

import "time"

// Audit actions written by the core.
const (
	AuditSignatureRequested = "signature_requested"
	AuditSigned             = "signed"
	AuditSignatureExpired   = "signature_expired"
	AuditSignatureRevoked   = "signature_revoked"
	AuditShareIssued        = "share_issued"
	AuditShareAccessed      = "share_accessed"
)

// AuditLogEntry is append-only.
type AuditLogEntry struct {
	DocumentID string
	Action     string
	ActorName  string
	Metadata   map[string]string
	CreatedAt  time.Time
}
