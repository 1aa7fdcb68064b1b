package models

import "time"

// SyncAction names what the server side has to do with a queued payload.
type SyncAction string

const (
	SyncUpsert SyncAction = "upsert"
	SyncDelete SyncAction = "delete"
)

// SyncStatus is the state of a queued synchronization item.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncInFlight SyncStatus = "in_flight"
	SyncDone     SyncStatus = "done"
	SyncFailed   SyncStatus = "failed"
)

// SyncQueueItem is a deferred server synchronization. ID is assigned by the
// database.
type SyncQueueItem struct {
	ID        int64
	TenantID  string
	Action    SyncAction
	RecordID  string
	Payload   []byte
	Status    SyncStatus
	Attempts  int
	LastError string
	RetryAt   time.Time
	CreatedAt time.Time
}
