// Package versions persists sealed version snapshots per (tenant, document key).
package versions

import (
	"context"

	"github.com/dmitrijs2005/medkeeper/internal/models"
)

type Repository interface {
	// NextVersion returns one more than the highest stored version, or 1.
	NextVersion(ctx context.Context, tenantID, docKey string) (int64, error)
	Insert(ctx context.Context, v *models.SealedVersion) error
	// Trim keeps the newest keep versions and deletes the rest.
	Trim(ctx context.Context, tenantID, docKey string, keep int) (int64, error)
	// List returns versions newest first.
	List(ctx context.Context, tenantID, docKey string) ([]*models.SealedVersion, error)
	Get(ctx context.Context, tenantID, docKey string, version int64) (*models.SealedVersion, error)
	DeleteTenant(ctx context.Context, tenantID string) (int64, error)
}
