package app

import (
	"context"

	"github.com/dmitrijs2005/medkeeper/internal/vault"
)

// vaultDocuments resolves shared documents through whichever tenant store is
// currently open.
type vaultDocuments struct {
	m *vault.Manager
}

func (d vaultDocuments) Get(ctx context.Context, id string) (*vault.Plaintext, error) {
	store, err := d.m.Current()
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, id)
}
