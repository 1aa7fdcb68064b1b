package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `tenant_id, id, cipher_text, iv, status, priority, metadata, created_at, updated_at, expires_at`

func (r *SQLiteRepository) Upsert(ctx context.Context, rec *models.EncryptedRecord) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for record[%s]: %w", rec.ID, err)
	}
	if rec.Metadata == nil {
		meta = []byte("{}")
	}

	query := `INSERT INTO documents (tenant_id, id, cipher_text, iv, status, priority, metadata, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			cipher_text = excluded.cipher_text,
			iv = excluded.iv,
			status = excluded.status,
			priority = excluded.priority,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`

	_, err = r.db.ExecContext(ctx, query,
		rec.TenantID, rec.ID, rec.CipherText, rec.IV, string(rec.Status), string(rec.Priority), string(meta),
		dbx.Stamp(rec.CreatedAt), dbx.Stamp(rec.UpdatedAt), dbx.Stamp(rec.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to upsert record[%s]: %w", rec.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.EncryptedRecord, error) {
	var (
		rec                           models.EncryptedRecord
		status, priority, meta        string
		createdAt, updatedAt, expires int64
	)
	if err := row.Scan(&rec.TenantID, &rec.ID, &rec.CipherText, &rec.IV, &status, &priority, &meta,
		&createdAt, &updatedAt, &expires); err != nil {
		return nil, err
	}
	rec.Status = models.RecordStatus(status)
	rec.Priority = models.Priority(priority)
	rec.CreatedAt = dbx.Time(createdAt)
	rec.UpdatedAt = dbx.Time(updatedAt)
	rec.ExpiresAt = dbx.Time(expires)
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &rec, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, tenantID, id string) (*models.EncryptedRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM documents WHERE tenant_id = ? AND id = ?`, tenantID, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record[%s]: %w", id, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, tenantID, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete record[%s]: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteIfUnchanged(ctx context.Context, tenantID, id string, iv []byte) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE tenant_id = ? AND id = ? AND iv = ?`, tenantID, id, iv)
	if err != nil {
		return false, fmt.Errorf("failed to delete record[%s]: %w", id, err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("failed to delete record[%s]: %w", id, err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) DeleteTenant(ctx context.Context, tenantID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear records: %w", err)
	}
	return dbx.RowsAffected(res)
}

func (r *SQLiteRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE expires_at <= ?`, dbx.Stamp(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}
	return dbx.RowsAffected(res)
}

func (r *SQLiteRepository) ListByStatus(ctx context.Context, tenantID string, status models.RecordStatus) ([]*models.EncryptedRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM documents WHERE tenant_id = ? AND status = ? ORDER BY updated_at DESC`,
		tenantID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var result []*models.EncryptedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}
	return result, nil
}
