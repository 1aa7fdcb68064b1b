package models

import "time"

// DocumentFingerprint is derived from document content and never edited in
// place.
type DocumentFingerprint struct {
	DocumentID       string `json:"document_id"`
	Hash             string `json:"hash"`
	AlgorithmVersion string `json:"algorithm_version"`
}

// RequestStatus is the state of a signature request.
type RequestStatus string

const (
	RequestPending RequestStatus = "pending"
	RequestSigned  RequestStatus = "signed"
	RequestExpired RequestStatus = "expired"
	RequestRevoked RequestStatus = "revoked"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s != RequestPending
}

type SignatureRequest struct {
	RequestID         string
	DocumentID        string
	SignerName        string
	SignerIdentifier  string
	DocumentHash      string
	// VerificationToken is returned once by RequestSignature; only its hash
	// is persisted.
	VerificationToken string
	TokenHash         string
	Status            RequestStatus
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

type SignatureRecord struct {
	SignatureID      string
	RequestID        string
	DocumentID       string
	SignerName       string
	SignerIdentifier string
	DocumentHash     string
	SignatureHash    string
	SignedAt         time.Time
	CertificateInfo  CertificateInfo
}

// CertificateInfo describes how the signer was authenticated.
type CertificateInfo struct {
	Issuer       string `json:"issuer"`
	Subject      string `json:"subject"`
	Method       string `json:"method"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// Signer is a registered identity able to sign requests. The credential is
// stored as an argon2id verifier only.
type Signer struct {
	Identifier string
	Name       string
	Salt       []byte
	Verifier   []byte
	CreatedAt  time.Time
}
