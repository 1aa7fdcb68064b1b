package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/keys"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/records"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/syncqueue"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/versions"
)

// Store is bound to one tenant and one derived key.
type Store struct {
	db       *sql.DB
	key      *keys.Key
	tenantID string
	opts     Options
	locks    *dbx.KeyedMutex
	log      logging.Logger
}

type PutRequest struct {
	ID string
	// Data is any JSON-encodable value.
	Data     any
	Status   models.RecordStatus
	Priority models.Priority
	// TTL overrides Options.DefaultTTL when positive.
	TTL      time.Duration
	Metadata map[string]string
}

// Plaintext is a decrypted record.
type Plaintext struct {
	ID            string
	Data          json.RawMessage
	SchemaVersion int
	SavedAt       time.Time
	Status        models.RecordStatus
	Priority      models.Priority
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Metadata      map[string]string
}

// TenantID returns the tenant this store is bound to.
func (s *Store) TenantID() string {
	return s.tenantID
}

// Close destroys the key. Later calls fail with common.ErrNotInitialized.
func (s *Store) Close() {
	s.key.Destroy()
}

func (s *Store) recordAAD(id string) []byte {
	return []byte("record\x00" + s.tenantID + "\x00" + id)
}

func (s *Store) lockKey(kind, id string) string {
	return kind + "\x00" + s.tenantID + "\x00" + id
}

// Put seals req.Data and writes it. Writes to the same id are serialized,
// nonce generation included.
func (s *Store) Put(ctx context.Context, req PutRequest) (*models.EncryptedRecord, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: record id is required", common.ErrValidation)
	}
	if s.key.Destroyed() {
		return nil, common.ErrNotInitialized
	}

	data, err := json.Marshal(req.Data)
	if err != nil {
		return nil, fmt.Errorf("encode record[%s]: %w", req.ID, err)
	}

	if req.Status == "" {
		req.Status = models.RecordDraft
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}

	unlock := s.locks.Lock(s.lockKey("record", req.ID))
	defer unlock()

	now := s.opts.Clock.Now()
	envelope, err := json.Marshal(models.Envelope{
		SchemaVersion: models.SchemaVersion,
		SavedAt:       now,
		Data:          data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope[%s]: %w", req.ID, err)
	}
	defer common.WipeByteArray(envelope)

	ct, nonce, err := s.key.Seal(envelope, s.recordAAD(req.ID))
	if err != nil {
		return nil, fmt.Errorf("seal record[%s]: %w", req.ID, err)
	}

	rec := &models.EncryptedRecord{
		ID:         req.ID,
		TenantID:   s.tenantID,
		CipherText: ct,
		IV:         nonce,
		Status:     req.Status,
		Priority:   req.Priority,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Metadata:   req.Metadata,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := records.NewSQLiteRepository(tx)
		existing, err := repo.Get(ctx, s.tenantID, req.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			rec.CreatedAt = existing.CreatedAt
		}
		if err := repo.Upsert(ctx, rec); err != nil {
			return err
		}
		if s.opts.Sync {
			return s.enqueue(ctx, tx, models.SyncUpsert, req.ID, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.opts.Metrics.RecordWritten()
	return rec, nil
}

func (s *Store) enqueue(ctx context.Context, tx dbx.DBTX, action models.SyncAction, id string, now time.Time) error {
	_, err := syncqueue.NewSQLiteRepository(tx).Enqueue(ctx, &models.SyncQueueItem{
		TenantID:  s.tenantID,
		Action:    action,
		RecordID:  id,
		Status:    models.SyncPending,
		RetryAt:   now,
		CreatedAt: now,
	})
	return err
}

// Get returns the decrypted record, or (nil, nil) when it is missing,
// expired, or fails authentication.
func (s *Store) Get(ctx context.Context, id string) (*Plaintext, error) {
	if s.key.Destroyed() {
		return nil, common.ErrNotInitialized
	}

	repo := records.NewSQLiteRepository(s.db)
	rec, err := repo.Get(ctx, s.tenantID, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		s.opts.Metrics.RecordRead("miss")
		return nil, nil
	}
	return s.open(ctx, rec)
}

func (s *Store) open(ctx context.Context, rec *models.EncryptedRecord) (*Plaintext, error) {
	if rec.Expired(s.opts.Clock.Now()) {
		s.opts.Metrics.RecordRead("expired")
		s.purge(ctx, rec, "expired")
		return nil, nil
	}

	plain, err := s.key.Open(rec.CipherText, rec.IV, s.recordAAD(rec.ID))
	if errors.Is(err, common.ErrDecryption) {
		s.log.Warn(ctx, "record failed authentication, purging", "id", rec.ID, "error", err)
		s.opts.Metrics.RecordRead("corrupt")
		s.purge(ctx, rec, "corrupt")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plain)

	var env models.Envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		s.log.Warn(ctx, "record envelope unreadable, purging", "id", rec.ID, "error", err)
		s.opts.Metrics.RecordRead("corrupt")
		s.purge(ctx, rec, "corrupt")
		return nil, nil
	}
	if env.SchemaVersion > models.SchemaVersion {
		s.log.Warn(ctx, "record written by a newer schema, skipping", "id", rec.ID, "schema_version", env.SchemaVersion)
		s.opts.Metrics.RecordRead("miss")
		return nil, nil
	}

	s.opts.Metrics.RecordRead("hit")
	return &Plaintext{
		ID:            rec.ID,
		Data:          append(json.RawMessage(nil), env.Data...),
		SchemaVersion: env.SchemaVersion,
		SavedAt:       env.SavedAt,
		Status:        rec.Status,
		Priority:      rec.Priority,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
		Metadata:      rec.Metadata,
	}, nil
}

// purge removes rec unless it was rewritten since it was read. Failures are
// logged; the caller already reports the record as missing.
func (s *Store) purge(ctx context.Context, rec *models.EncryptedRecord, reason string) {
	removed, err := records.NewSQLiteRepository(s.db).DeleteIfUnchanged(ctx, s.tenantID, rec.ID, rec.IV)
	if err != nil {
		s.log.Error(ctx, "purge record", "id", rec.ID, "reason", reason, "error", err)
		return
	}
	if removed {
		s.opts.Metrics.RecordPurged(reason, 1)
	}
}

// ListByStatus returns readable records with the given status. Corrupt and
// expired rows are purged along the way and left out.
func (s *Store) ListByStatus(ctx context.Context, status models.RecordStatus) ([]*Plaintext, error) {
	if s.key.Destroyed() {
		return nil, common.ErrNotInitialized
	}
	rows, err := records.NewSQLiteRepository(s.db).ListByStatus(ctx, s.tenantID, status)
	if err != nil {
		return nil, err
	}

	result := make([]*Plaintext, 0, len(rows))
	for _, rec := range rows {
		p, err := s.open(ctx, rec)
		if err != nil {
			return nil, err
		}
		if p != nil {
			result = append(result, p)
		}
	}
	return result, nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.key.Destroyed() {
		return common.ErrNotInitialized
	}

	unlock := s.locks.Lock(s.lockKey("record", id))
	defer unlock()

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := records.NewSQLiteRepository(tx).Delete(ctx, s.tenantID, id); err != nil {
			return err
		}
		if s.opts.Sync {
			return s.enqueue(ctx, tx, models.SyncDelete, id, s.opts.Clock.Now())
		}
		return nil
	})
}

// ClearAll removes this tenant's records, sync items and version history.
func (s *Store) ClearAll(ctx context.Context) error {
	if s.key.Destroyed() {
		return common.ErrNotInitialized
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := records.NewSQLiteRepository(tx).DeleteTenant(ctx, s.tenantID); err != nil {
			return err
		}
		if _, err := syncqueue.NewSQLiteRepository(tx).DeleteTenant(ctx, s.tenantID); err != nil {
			return err
		}
		_, err := versions.NewSQLiteRepository(tx).DeleteTenant(ctx, s.tenantID)
		return err
	})
}
