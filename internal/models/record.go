package models

import (
	"encoding/json"
	"time"
)

// RecordStatus is the non-sensitive lifecycle marker stored next to a record.
type RecordStatus string

const (
	RecordDraft     RecordStatus = "draft"
	RecordFinal     RecordStatus = "final"
	RecordSigned    RecordStatus = "signed"
	RecordCancelled RecordStatus = "cancelled"
)

// Priority is an indexable hint used by the sweeper and the UI.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// EncryptedRecord is a row of the documents table. Only CipherText is
// confidential; the rest is kept in the clear for indexing.
type EncryptedRecord struct {
	ID         string
	TenantID   string
	CipherText []byte
	IV         []byte
	Status     RecordStatus
	Priority   Priority
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
	// Metadata must never carry clinical content.
	Metadata map[string]string
}

// Expired reports whether the record is past its expiry at now.
func (r *EncryptedRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// SchemaVersion tags every envelope sealed by the current binary.
const SchemaVersion = 1

// Envelope is the authenticated plaintext sealed into EncryptedRecord.CipherText.
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	SavedAt       time.Time       `json:"saved_at"`
	Data          json.RawMessage `json:"data"`
}
