package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/medkeeper/internal/checksum"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/versions"
)

func (s *Store) versionAAD(docKey string, version int64) []byte {
	return []byte("version\x00" + s.tenantID + "\x00" + docKey + "\x00" + strconv.FormatInt(version, 10))
}

// AppendVersion stores snap as the next version of docKey and evicts the
// oldest versions beyond max. Version and Checksum are assigned here; the
// stored snapshot is returned.
func (s *Store) AppendVersion(ctx context.Context, docKey string, snap models.VersionSnapshot, max int) (*models.VersionSnapshot, error) {
	if docKey == "" {
		return nil, fmt.Errorf("%w: document key is required", common.ErrValidation)
	}
	if max < 1 {
		return nil, fmt.Errorf("%w: max versions must be positive", common.ErrValidation)
	}
	if s.key.Destroyed() {
		return nil, common.ErrNotInitialized
	}

	sum, err := checksum.Of(snap.Data)
	if err != nil {
		return nil, fmt.Errorf("checksum version of %s: %w", docKey, err)
	}
	snap.Checksum = sum
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.opts.Clock.Now()
	}

	unlock := s.locks.Lock(s.lockKey("version", docKey))
	defer unlock()

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := versions.NewSQLiteRepository(tx)
		next, err := repo.NextVersion(ctx, s.tenantID, docKey)
		if err != nil {
			return err
		}
		snap.Version = next

		plain, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		defer common.WipeByteArray(plain)

		ct, nonce, err := s.key.Seal(plain, s.versionAAD(docKey, next))
		if err != nil {
			return fmt.Errorf("seal version %s@%d: %w", docKey, next, err)
		}

		if err := repo.Insert(ctx, &models.SealedVersion{
			DocKey:     docKey,
			TenantID:   s.tenantID,
			Version:    next,
			CipherText: ct,
			IV:         nonce,
			CreatedAt:  snap.Timestamp,
		}); err != nil {
			return err
		}

		_, err = repo.Trim(ctx, s.tenantID, docKey, max)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Versions returns the verified history of docKey, newest first. Entries that
// fail authentication or checksum verification are left out.
func (s *Store) Versions(ctx context.Context, docKey string) ([]models.VersionSnapshot, error) {
	if s.key.Destroyed() {
		return nil, common.ErrNotInitialized
	}
	rows, err := versions.NewSQLiteRepository(s.db).List(ctx, s.tenantID, docKey)
	if err != nil {
		return nil, err
	}

	result := make([]models.VersionSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := s.openVersion(ctx, row)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			result = append(result, *snap)
		}
	}
	return result, nil
}

// Version returns one verified snapshot, or (nil, nil) if it is missing or
// corrupt.
func (s *Store) Version(ctx context.Context, docKey string, version int64) (*models.VersionSnapshot, error) {
	if s.key.Destroyed() {
		return nil, common.ErrNotInitialized
	}
	row, err := versions.NewSQLiteRepository(s.db).Get(ctx, s.tenantID, docKey, version)
	if err != nil || row == nil {
		return nil, err
	}
	return s.openVersion(ctx, row)
}

func (s *Store) openVersion(ctx context.Context, row *models.SealedVersion) (*models.VersionSnapshot, error) {
	plain, err := s.key.Open(row.CipherText, row.IV, s.versionAAD(row.DocKey, row.Version))
	if errors.Is(err, common.ErrDecryption) {
		s.log.Warn(ctx, "version failed authentication, skipping", "doc", row.DocKey, "version", row.Version)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plain)

	var snap models.VersionSnapshot
	if err := json.Unmarshal(plain, &snap); err != nil {
		s.log.Warn(ctx, "version unreadable, skipping", "doc", row.DocKey, "version", row.Version, "error", err)
		return nil, nil
	}
	if snap.Version != row.Version || !checksum.Verify(snap.Data, snap.Checksum) {
		s.log.Warn(ctx, "version excluded", "doc", row.DocKey, "version", row.Version, "error", common.ErrChecksumMismatch)
		return nil, nil
	}
	snap.Data = append(json.RawMessage(nil), snap.Data...)
	return &snap, nil
}
