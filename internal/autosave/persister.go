package autosave

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/vault"
)

// VaultPersister writes through a tenant-bound vault.Store. The record
// priority mirrors the save criticality.
type VaultPersister struct {
	Store  *vault.Store
	Status models.RecordStatus
	TTL    time.Duration
}

func (p VaultPersister) Save(ctx context.Context, docKey string, data json.RawMessage, c models.Criticality) error {
	_, err := p.Store.Put(ctx, vault.PutRequest{
		ID:       docKey,
		Data:     data,
		Status:   p.Status,
		Priority: models.Priority(c),
		TTL:      p.TTL,
	})
	return err
}

func (p VaultPersister) AppendVersion(ctx context.Context, docKey string, snap models.VersionSnapshot, max int) (*models.VersionSnapshot, error) {
	return p.Store.AppendVersion(ctx, docKey, snap, max)
}

func (p VaultPersister) Versions(ctx context.Context, docKey string) ([]models.VersionSnapshot, error) {
	return p.Store.Versions(ctx, docKey)
}

func (p VaultPersister) Version(ctx context.Context, docKey string, version int64) (*models.VersionSnapshot, error) {
	return p.Store.Version(ctx, docKey, version)
}
