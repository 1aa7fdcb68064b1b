// Package syncqueue persists deferred server synchronization items.
//
// Items move pending -> in_flight -> done, or back to pending with a later
// retry_at, or to failed once attempts are exhausted. Only failed items are
// ever purged by age.
package syncqueue

import (
	"context"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/models"
)

type Repository interface {
	Enqueue(ctx context.Context, item *models.SyncQueueItem) (int64, error)
	Get(ctx context.Context, id int64) (*models.SyncQueueItem, error)
	// Due returns pending items whose retry_at is not after now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.SyncQueueItem, error)
	// Claim moves a pending item to in_flight. It reports false if the item
	// was not pending.
	Claim(ctx context.Context, id int64) (bool, error)
	MarkDone(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, retryAt time.Time, cause string) error
	MarkFailed(ctx context.Context, id int64, cause string) error
	// PurgeFailed deletes failed items created before cutoff.
	PurgeFailed(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteTenant(ctx context.Context, tenantID string) (int64, error)
	Counts(ctx context.Context) (map[models.SyncStatus]int64, error)
}
