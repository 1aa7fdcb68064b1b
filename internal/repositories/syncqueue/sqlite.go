package syncqueue

import (
	"context"
	"database/sql"
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

const selectColumns = `id, tenant_id, action, record_id, payload, status, attempts, last_error, retry_at, created_at`

func (r *SQLiteRepository) Enqueue(ctx context.Context, item *models.SyncQueueItem) (int64, error) {
	status := item.Status
	if status == "" {
		status = models.SyncPending
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_queue (tenant_id, action, record_id, payload, status, attempts, last_error, retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.TenantID, string(item.Action), item.RecordID, item.Payload, string(status), item.Attempts, item.LastError,
		dbx.Stamp(item.RetryAt), dbx.Stamp(item.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue sync item for record[%s]: %w", item.RecordID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sync item id: %w", err)
	}
	item.ID = id
	item.Status = status
	return id, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*models.SyncQueueItem, error) {
	var (
		it                 models.SyncQueueItem
		action, status     string
		retryAt, createdAt int64
	)
	if err := row.Scan(&it.ID, &it.TenantID, &action, &it.RecordID, &it.Payload, &status, &it.Attempts,
		&it.LastError, &retryAt, &createdAt); err != nil {
		return nil, err
	}
	it.Action = models.SyncAction(action)
	it.Status = models.SyncStatus(status)
	it.RetryAt = dbx.Time(retryAt)
	it.CreatedAt = dbx.Time(createdAt)
	return &it, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*models.SyncQueueItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM sync_queue WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync item[%d]: %w", id, err)
	}
	return it, nil
}

func (r *SQLiteRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.SyncQueueItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM sync_queue WHERE status = ? AND retry_at <= ? ORDER BY id LIMIT ?`,
		string(models.SyncPending), dbx.Stamp(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due sync items: %w", err)
	}
	defer rows.Close()

	var result []*models.SyncQueueItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync item: %w", err)
		}
		result = append(result, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync items: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) transition(ctx context.Context, id int64, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update sync item[%d]: %w", id, err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("failed to update sync item[%d]: %w", id, err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) Claim(ctx context.Context, id int64) (bool, error) {
	return r.transition(ctx, id, `UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?`,
		string(models.SyncInFlight), id, string(models.SyncPending))
}

func (r *SQLiteRepository) MarkDone(ctx context.Context, id int64) error {
	_, err := r.transition(ctx, id, `UPDATE sync_queue SET status = ?, last_error = '' WHERE id = ?`,
		string(models.SyncDone), id)
	return err
}

func (r *SQLiteRepository) MarkRetry(ctx context.Context, id int64, retryAt time.Time, cause string) error {
	_, err := r.transition(ctx, id,
		`UPDATE sync_queue SET status = ?, attempts = attempts + 1, retry_at = ?, last_error = ? WHERE id = ?`,
		string(models.SyncPending), dbx.Stamp(retryAt), cause, id)
	return err
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id int64, cause string) error {
	_, err := r.transition(ctx, id,
		`UPDATE sync_queue SET status = ?, attempts = attempts + 1, last_error = ? WHERE id = ?`,
		string(models.SyncFailed), cause, id)
	return err
}

func (r *SQLiteRepository) PurgeFailed(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE status = ? AND created_at < ?`,
		string(models.SyncFailed), dbx.Stamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge failed sync items: %w", err)
	}
	return dbx.RowsAffected(res)
}

func (r *SQLiteRepository) DeleteTenant(ctx context.Context, tenantID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return dbx.RowsAffected(res)
}

func (r *SQLiteRepository) Counts(ctx context.Context) (map[models.SyncStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync items: %w", err)
	}
	defer rows.Close()

	result := make(map[models.SyncStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan sync count: %w", err)
		}
		result[models.SyncStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync counts: %w", err)
	}
	return result, nil
}
