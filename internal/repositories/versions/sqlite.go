package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) NextVersion(ctx context.Context, tenantID, docKey string) (int64, error) {
	var next int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM versions WHERE tenant_id = ? AND doc_key = ?`,
		tenantID, docKey).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to read next version for %s: %w", docKey, err)
	}
	return next, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, v *models.SealedVersion) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO versions (tenant_id, doc_key, version, cipher_text, iv, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		v.TenantID, v.DocKey, v.Version, v.CipherText, v.IV, dbx.Stamp(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert version %s@%d: %w", v.DocKey, v.Version, err)
	}
	return nil
}

func (r *SQLiteRepository) Trim(ctx context.Context, tenantID, docKey string, keep int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM versions
		WHERE tenant_id = ? AND doc_key = ? AND version NOT IN (
			SELECT version FROM versions WHERE tenant_id = ? AND doc_key = ?
			ORDER BY version DESC LIMIT ?
		)`, tenantID, docKey, tenantID, docKey, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to trim versions for %s: %w", docKey, err)
	}
	return dbx.RowsAffected(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(row scanner) (*models.SealedVersion, error) {
	var v models.SealedVersion
	var created int64
	if err := row.Scan(&v.TenantID, &v.DocKey, &v.Version, &v.CipherText, &v.IV, &created); err != nil {
		return nil, err
	}
	v.CreatedAt = dbx.Time(created)
	return &v, nil
}

func (r *SQLiteRepository) List(ctx context.Context, tenantID, docKey string) ([]*models.SealedVersion, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tenant_id, doc_key, version, cipher_text, iv, created_at FROM versions
		WHERE tenant_id = ? AND doc_key = ? ORDER BY version DESC`, tenantID, docKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for %s: %w", docKey, err)
	}
	defer rows.Close()

	var result []*models.SealedVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, tenantID, docKey string, version int64) (*models.SealedVersion, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT tenant_id, doc_key, version, cipher_text, iv, created_at FROM versions
		WHERE tenant_id = ? AND doc_key = ? AND version = ?`, tenantID, docKey, version)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version %s@%d: %w", docKey, version, err)
	}
	return v, nil
}

func (r *SQLiteRepository) DeleteTenant(ctx context.Context, tenantID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM versions WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear versions: %w", err)
	}
	return dbx.RowsAffected(res)
}
