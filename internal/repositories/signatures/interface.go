// Package signatures persists signers, signature requests and the immutable
// records produced by a successful sign transition.
package signatures

import (
	"context"

	"github.com/dmitrijs2005/medkeeper/internal/models"
)

type Repository interface {
	CreateSigner(ctx context.Context, s *models.Signer) error
	GetSigner(ctx context.Context, identifier string) (*models.Signer, error)

	CreateRequest(ctx context.Context, req *models.SignatureRequest) error
	GetRequest(ctx context.Context, requestID string) (*models.SignatureRequest, error)
	// Transition moves a request from one status to another and reports
	// whether this call performed the move.
	Transition(ctx context.Context, requestID string, from, to models.RequestStatus) (bool, error)

	InsertRecord(ctx context.Context, rec *models.SignatureRecord) error
	GetRecord(ctx context.Context, signatureID string) (*models.SignatureRecord, error)
	ListRecordsByDocument(ctx context.Context, documentID string) ([]*models.SignatureRecord, error)
}
