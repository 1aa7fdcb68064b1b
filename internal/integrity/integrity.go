// Package integrity fingerprints document content and encodes fingerprints as
// compact signed payloads for scannable codes.
package integrity

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/checksum"
	"github.com/dmitrijs2005/medkeeper/internal/clockx"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// AlgorithmVersion names the canonicalization and digest used by ComputeHash.
// A change to either needs a new value.
const AlgorithmVersion = "c14n-sha256/v1"

const payloadIssuer = "medkeeper"

// Claims is the body of a verification payload.
type Claims struct {
	jwt.RegisteredClaims
	DocumentID       string `json:"doc"`
	Hash             string `json:"hash"`
	AlgorithmVersion string `json:"alg_v"`
}

type Service struct {
	secret []byte
	clock  clockx.Clock
}

// New returns a service signing payloads with secret. A nil clock means the
// system clock.
func New(secret []byte, clock clockx.Clock) (*Service, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: signing secret is required", common.ErrValidation)
	}
	if clock == nil {
		clock = clockx.Real{}
	}
	return &Service{secret: secret, clock: clock}, nil
}

// ComputeHash fingerprints content. Logically equal documents hash the same
// regardless of key order, whitespace, number spelling or Unicode form.
func (s *Service) ComputeHash(documentID string, content any) (models.DocumentFingerprint, error) {
	return ComputeHash(documentID, content)
}

func ComputeHash(documentID string, content any) (models.DocumentFingerprint, error) {
	if documentID == "" {
		return models.DocumentFingerprint{}, fmt.Errorf("%w: document id is required", common.ErrValidation)
	}
	sum, err := checksum.Of(content)
	if err != nil {
		return models.DocumentFingerprint{}, fmt.Errorf("failed to hash document[%s]: %w", documentID, err)
	}
	return models.DocumentFingerprint{
		DocumentID:       documentID,
		Hash:             sum,
		AlgorithmVersion: AlgorithmVersion,
	}, nil
}

// Matches reports whether content still hashes to fp.
func Matches(fp models.DocumentFingerprint, content any) bool {
	if fp.AlgorithmVersion != AlgorithmVersion {
		return false
	}
	return checksum.Verify(content, fp.Hash)
}

// GenerateVerificationPayload returns an HS256 token carrying fp.
func (s *Service) GenerateVerificationPayload(fp models.DocumentFingerprint) (string, error) {
	if fp.DocumentID == "" || fp.Hash == "" {
		return "", fmt.Errorf("%w: incomplete fingerprint", common.ErrValidation)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   payloadIssuer,
			Subject:  fp.DocumentID,
			IssuedAt: jwt.NewNumericDate(s.clock.Now()),
		},
		DocumentID:       fp.DocumentID,
		Hash:             fp.Hash,
		AlgorithmVersion: fp.AlgorithmVersion,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload[%s]: %w", fp.DocumentID, err)
	}
	return signed, nil
}

// ParseVerificationPayload checks the signature of payload and returns the
// fingerprint it carries. Any defect yields common.ErrInvalidToken.
func (s *Service) ParseVerificationPayload(payload string) (models.DocumentFingerprint, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(payload, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(payloadIssuer),
		jwt.WithTimeFunc(func() time.Time { return s.clock.Now() }),
	)
	if err != nil {
		return models.DocumentFingerprint{}, errors.Join(common.ErrInvalidToken, err)
	}
	if !token.Valid || claims.DocumentID == "" || claims.Hash == "" {
		return models.DocumentFingerprint{}, common.ErrInvalidToken
	}

	return models.DocumentFingerprint{
		DocumentID:       claims.DocumentID,
		Hash:             claims.Hash,
		AlgorithmVersion: claims.AlgorithmVersion,
	}, nil
}
