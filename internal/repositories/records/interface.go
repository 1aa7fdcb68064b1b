// Package records persists EncryptedRecord rows in the documents table.
//
// Rows are keyed by (tenant, id); every lookup is tenant scoped so one tenant
// can never observe another tenant's ciphertext. Get returns (nil, nil) when
// the row does not exist.
package records

import (
	"context"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/models"
)

type Repository interface {
	// Upsert inserts or replaces the row. CreatedAt is kept on update.
	Upsert(ctx context.Context, rec *models.EncryptedRecord) error
	Get(ctx context.Context, tenantID, id string) (*models.EncryptedRecord, error)
	Delete(ctx context.Context, tenantID, id string) error
	// DeleteIfUnchanged deletes the row only while it still carries iv, so a
	// concurrent rewrite is never removed by a reader purging the old value.
	DeleteIfUnchanged(ctx context.Context, tenantID, id string, iv []byte) (bool, error)
	DeleteTenant(ctx context.Context, tenantID string) (int64, error)
	// DeleteExpired removes rows with expires_at <= now across all tenants.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListByStatus(ctx context.Context, tenantID string, status models.RecordStatus) ([]*models.EncryptedRecord, error)
}
