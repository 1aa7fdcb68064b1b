// Package audit writes the append-only audit trail. The core only appends;
// nothing in it reads entries back except the CLI and tests via SQLiteSink.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/models"
)

type Sink interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
}

func encodeMetadata(entry *models.AuditLogEntry) (string, error) {
	if len(entry.Metadata) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(entry.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode audit metadata[%s]: %w", entry.DocumentID, err)
	}
	return string(b), nil
}
