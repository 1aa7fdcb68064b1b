package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/audit/migrations"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresSink ships entries to a server-side PostgreSQL audit table.
type PostgresSink struct {
	db dbx.DBTX
}

func NewPostgresSink(db dbx.DBTX) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	meta, err := encodeMetadata(entry)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO audit_log (document_id, action, actor_name, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query,
		entry.DocumentID, entry.Action, entry.ActorName, meta, entry.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to append audit entry[%s]: %w", entry.DocumentID, err)
	}
	return nil
}

var (
	sqlOpen   = sql.Open
	migrateUp = runMigrations
)

func runMigrations(ctx context.Context, db *sql.DB) error {
	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations.Postgres)
	if err != nil {
		return err
	}
	_, err = p.Up(ctx)
	return err
}

// OpenPostgres connects through pgx, applies the audit migrations and returns
// the sink with its pool. The caller closes the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSink, *sql.DB, error) {
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("audit db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("audit db ping error: %w", err)
	}
	if err := migrateUp(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("audit migration error: %w", err)
	}
	return NewPostgresSink(db), db, nil
}
