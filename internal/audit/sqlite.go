package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/models"
)

// SQLiteSink writes to the local audit_log table.
type SQLiteSink struct {
	db dbx.DBTX
}

func NewSQLiteSink(db dbx.DBTX) *SQLiteSink {
	return &SQLiteSink{db: db}
}

func (s *SQLiteSink) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	meta, err := encodeMetadata(entry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (document_id, action, actor_name, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.DocumentID, entry.Action, entry.ActorName, meta, dbx.Stamp(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append audit entry[%s]: %w", entry.DocumentID, err)
	}
	return nil
}

// List returns the entries of a document in insertion order.
func (s *SQLiteSink) List(ctx context.Context, documentID string) ([]*models.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, action, actor_name, metadata, created_at FROM audit_log WHERE document_id = ? ORDER BY id`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries[%s]: %w", documentID, err)
	}
	defer rows.Close()

	var out []*models.AuditLogEntry
	for rows.Next() {
		var (
			e       models.AuditLogEntry
			meta    string
			created int64
		)
		if err := rows.Scan(&e.DocumentID, &e.Action, &e.ActorName, &meta, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry[%s]: %w", documentID, err)
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode audit metadata[%s]: %w", documentID, err)
		}
		e.CreatedAt = dbx.Time(created)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list audit entries[%s]: %w", documentID, err)
	}
	return out, nil
}
