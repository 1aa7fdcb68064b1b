package models

import (
	"encoding/json"
	"time"
)

// Criticality is the classification tier of a document change.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Rank orders tiers so callers can compare them.
func (c Criticality) Rank() int {
	switch c {
	case CriticalityCritical:
		return 3
	case CriticalityHigh:
		return 2
	case CriticalityMedium:
		return 1
	default:
		return 0
	}
}

// Retained reports whether saves at this tier keep a version snapshot.
func (c Criticality) Retained() bool {
	return c == CriticalityCritical || c == CriticalityHigh
}

// VersionSnapshot is one immutable entry of a document's history.
type VersionSnapshot struct {
	Version     int64           `json:"version"`
	Data        json.RawMessage `json:"data"`
	Timestamp   time.Time       `json:"timestamp"`
	Criticality Criticality     `json:"criticality"`
	Checksum    string          `json:"checksum"`
}

// SealedVersion is the persisted form of a VersionSnapshot.
type SealedVersion struct {
	DocKey     string
	TenantID   string
	Version    int64
	CipherText []byte
	IV         []byte
	CreatedAt  time.Time
}
