// Package signatures runs the signature request state machine:
//
//	pending --Sign--> signed
//	pending --(expiry seen by Sign)--> expired
//	pending --Revoke--> revoked
//
// Every terminal state is final. Expiry is evaluated lazily when Sign is
// attempted; there is no background timer.
package signatures

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/clockx"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/metrics"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	sigrepo "github.com/dmitrijs2005/medkeeper/internal/repositories/signatures"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	DefaultExpiry   = 24 * time.Hour
	MaxExpiry       = 168 * time.Hour
	DefaultIssuer   = "medkeeper-local"
	CredentialAuth  = "argon2id-credential"
	tokenBytes      = 32
	signerSaltBytes = 16
)

var validate = validator.New()

type Options struct {
	// Issuer is written into CertificateInfo.
	Issuer  string
	Clock   clockx.Clock
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

type Manager struct {
	db    *sql.DB
	repo  sigrepo.Repository
	audit audit.Sink
	opts  Options
}

// New returns a manager over the signature tables of db. Audit entries go to
// sink.
func New(db *sql.DB, sink audit.Sink, opts Options) *Manager {
	if opts.Issuer == "" {
		opts.Issuer = DefaultIssuer
	}
	if opts.Clock == nil {
		opts.Clock = clockx.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Manager{db: db, repo: sigrepo.NewSQLiteRepository(db), audit: sink, opts: opts}
}

type RegisterSignerRequest struct {
	Identifier string `validate:"required,max=128"`
	Name       string `validate:"required,max=256"`
	Credential string `validate:"required,min=8"`
}

// RegisterSigner stores an argon2id verifier for a new signer.
func (m *Manager) RegisterSigner(ctx context.Context, req RegisterSignerRequest) (*models.Signer, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrValidation, err)
	}

	salt := common.GenerateRandByteArray(signerSaltBytes)
	key := cryptox.DeriveCredentialKey([]byte(req.Credential), salt)
	defer common.WipeByteArray(key)

	s := &models.Signer{
		Identifier: req.Identifier,
		Name:       req.Name,
		Salt:       salt,
		Verifier:   cryptox.MakeVerifier(key),
		CreatedAt:  m.opts.Clock.Now(),
	}
	if err := m.repo.CreateSigner(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

type Request struct {
	DocumentID       string `validate:"required"`
	SignerName       string `validate:"required,max=256"`
	SignerIdentifier string `validate:"required,max=128"`
	DocumentHash     string `validate:"required,len=64,hexadecimal"`
	// ExpiresIn defaults to DefaultExpiry and is clamped to [1h, MaxExpiry].
	ExpiresIn time.Duration
}

func clampExpiry(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultExpiry
	case d < time.Hour:
		return time.Hour
	case d > MaxExpiry:
		return MaxExpiry
	default:
		return d
	}
}

// RequestSignature creates a pending request. The returned request carries
// the verification token; it is not retrievable later.
func (m *Manager) RequestSignature(ctx context.Context, in Request) (*models.SignatureRequest, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrValidation, err)
	}

	token, err := common.MakeRandToken(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	now := m.opts.Clock.Now()
	req := &models.SignatureRequest{
		RequestID:         uuid.NewString(),
		DocumentID:        in.DocumentID,
		SignerName:        in.SignerName,
		SignerIdentifier:  in.SignerIdentifier,
		DocumentHash:      in.DocumentHash,
		VerificationToken: token,
		TokenHash:         common.HashToken(token),
		Status:            models.RequestPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(clampExpiry(in.ExpiresIn)),
	}
	if err := m.repo.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	m.record(ctx, req.DocumentID, models.AuditSignatureRequested, req.SignerName, map[string]string{
		"requestId": req.RequestID,
		"expiresAt": req.ExpiresAt.Format(time.RFC3339),
	})
	return req, nil
}

// Get returns a request as stored, or common.ErrorNotFound. The verification
// token is never populated.
func (m *Manager) Get(ctx context.Context, requestID string) (*models.SignatureRequest, error) {
	req, err := m.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("signature request[%s]: %w", requestID, common.ErrorNotFound)
	}
	return req, nil
}

// Sign consumes a pending request. A wrong token or credential leaves the
// request untouched; an expired request is moved to expired and reported
// with both common.ErrSignatureState and common.ErrRequestExpired.
func (m *Manager) Sign(ctx context.Context, requestID, token, credential string) (*models.SignatureRecord, error) {
	req, err := m.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(common.HashToken(token)), []byte(req.TokenHash)) != 1 {
		m.opts.Logger.Warn(ctx, "signature token rejected", "request", requestID)
		return nil, common.ErrInvalidToken
	}
	if req.Status != models.RequestPending {
		return nil, fmt.Errorf("%w: request[%s] is %s", common.ErrSignatureState, requestID, req.Status)
	}

	now := m.opts.Clock.Now()
	if now.After(req.ExpiresAt) {
		m.expire(ctx, req)
		return nil, fmt.Errorf("%w: %w", common.ErrSignatureState, common.ErrRequestExpired)
	}

	signer, err := m.authenticate(ctx, req.SignerIdentifier, credential)
	if err != nil {
		return nil, err
	}

	rec := &models.SignatureRecord{
		SignatureID:      uuid.NewString(),
		RequestID:        req.RequestID,
		DocumentID:       req.DocumentID,
		SignerName:       req.SignerName,
		SignerIdentifier: req.SignerIdentifier,
		DocumentHash:     req.DocumentHash,
		SignedAt:         now,
	}
	rec.SignatureHash, err = signatureHash(rec)
	if err != nil {
		return nil, err
	}
	rec.CertificateInfo = models.CertificateInfo{
		Issuer:       m.opts.Issuer,
		Subject:      fmt.Sprintf("%s <%s>", signer.Name, signer.Identifier),
		Method:       CredentialAuth,
		SerialNumber: rec.SignatureID,
	}

	err = dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := sigrepo.NewSQLiteRepository(tx)
		ok, err := repo.Transition(ctx, req.RequestID, models.RequestPending, models.RequestSigned)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: request[%s] is no longer pending", common.ErrSignatureState, req.RequestID)
		}
		return repo.InsertRecord(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	m.opts.Metrics.SignatureTransition(string(models.RequestSigned))
	m.opts.Logger.Info(ctx, "signature request signed", "request", req.RequestID, "signature", rec.SignatureID)
	m.record(ctx, rec.DocumentID, models.AuditSigned, rec.SignerName, map[string]string{
		"requestId":   rec.RequestID,
		"signatureId": rec.SignatureID,
	})
	return rec, nil
}

func (m *Manager) expire(ctx context.Context, req *models.SignatureRequest) {
	ok, err := m.repo.Transition(ctx, req.RequestID, models.RequestPending, models.RequestExpired)
	if err != nil {
		m.opts.Logger.Error(ctx, "failed to expire signature request", "request", req.RequestID, "error", err)
		return
	}
	if !ok {
		return
	}
	m.opts.Metrics.SignatureTransition(string(models.RequestExpired))
	m.opts.Logger.Info(ctx, "signature request expired", "request", req.RequestID)
	m.record(ctx, req.DocumentID, models.AuditSignatureExpired, req.SignerName, map[string]string{
		"requestId": req.RequestID,
	})
}

func (m *Manager) authenticate(ctx context.Context, identifier, credential string) (*models.Signer, error) {
	signer, err := m.repo.GetSigner(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, common.ErrUnauthorized
	}
	key := cryptox.DeriveCredentialKey([]byte(credential), signer.Salt)
	defer common.WipeByteArray(key)
	if !cryptox.CheckVerifier(signer.Verifier, cryptox.MakeVerifier(key)) {
		return nil, common.ErrUnauthorized
	}
	return signer, nil
}

// Revoke cancels a pending request.
func (m *Manager) Revoke(ctx context.Context, requestID, actor string) error {
	req, err := m.Get(ctx, requestID)
	if err != nil {
		return err
	}
	ok, err := m.repo.Transition(ctx, requestID, models.RequestPending, models.RequestRevoked)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: request[%s] is not pending", common.ErrSignatureState, requestID)
	}
	m.opts.Metrics.SignatureTransition(string(models.RequestRevoked))
	m.record(ctx, req.DocumentID, models.AuditSignatureRevoked, actor, map[string]string{
		"requestId": requestID,
	})
	return nil
}

// Records lists the signatures of a document, oldest first.
func (m *Manager) Records(ctx context.Context, documentID string) ([]*models.SignatureRecord, error) {
	return m.repo.ListRecordsByDocument(ctx, documentID)
}

func (m *Manager) record(ctx context.Context, documentID, action, actor string, meta map[string]string) {
	if m.audit == nil {
		return
	}
	err := m.audit.Append(ctx, &models.AuditLogEntry{
		DocumentID: documentID,
		Action:     action,
		ActorName:  actor,
		Metadata:   meta,
		CreatedAt:  m.opts.Clock.Now(),
	})
	if err != nil {
		m.opts.Logger.Error(ctx, "failed to append audit entry", "document", documentID, "action", action, "error", err)
	}
}
