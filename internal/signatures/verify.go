package signatures

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/checksum"
	"github.com/dmitrijs2005/medkeeper/internal/models"
)

// ContentHasher returns the current content hash of a document.
type ContentHasher func(ctx context.Context, documentID string) (string, error)

type Verification struct {
	SignatureID string
	DocumentID  string
	// Valid is HashValid plus, when a ContentHasher was given, a match with
	// the current content.
	Valid           bool
	HashValid       bool
	CertificateInfo models.CertificateInfo
	CheckedAt       time.Time
}

type signaturePayload struct {
	DocumentHash     string `json:"documentHash"`
	SignerName       string `json:"signerName"`
	SignerIdentifier string `json:"signerIdentifier"`
	SignedAt         string `json:"signedAt"`
	RequestID        string `json:"requestId"`
}

func signatureHash(rec *models.SignatureRecord) (string, error) {
	return checksum.Of(signaturePayload{
		DocumentHash:     rec.DocumentHash,
		SignerName:       rec.SignerName,
		SignerIdentifier: rec.SignerIdentifier,
		SignedAt:         rec.SignedAt.UTC().Format(time.RFC3339Nano),
		RequestID:        rec.RequestID,
	})
}

func equalHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Verify checks a stored signature without changing anything. Missing or
// tampered records and lookup failures yield Valid=false, never an error.
func (m *Manager) Verify(ctx context.Context, signatureID string, current ContentHasher) Verification {
	out := Verification{SignatureID: signatureID, CheckedAt: m.opts.Clock.Now()}

	rec, err := m.repo.GetRecord(ctx, signatureID)
	if err != nil {
		m.opts.Logger.Warn(ctx, "signature lookup failed", "signature", signatureID, "error", err)
		return out
	}
	if rec == nil {
		return out
	}
	out.DocumentID = rec.DocumentID
	out.CertificateInfo = rec.CertificateInfo

	req, err := m.repo.GetRequest(ctx, rec.RequestID)
	if err != nil || req == nil || req.Status != models.RequestSigned || !equalHash(req.DocumentHash, rec.DocumentHash) {
		return out
	}

	want, err := signatureHash(rec)
	if err != nil || !equalHash(want, rec.SignatureHash) {
		return out
	}
	out.HashValid = true

	if current == nil {
		out.Valid = true
		return out
	}
	now, err := current(ctx, rec.DocumentID)
	if err != nil {
		m.opts.Logger.Warn(ctx, "document hash unavailable", "document", rec.DocumentID, "error", err)
		return out
	}
	out.Valid = equalHash(now, rec.DocumentHash)
	return out
}
