package shares

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

func (r *SQLiteRepository) Create(ctx context.Context, tok *models.ShareToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO share_tokens (token_hash, document_id, created_at, expires_at, access_count) VALUES (?, ?, ?, ?, ?)`,
		tok.TokenHash, tok.DocumentID, dbx.Stamp(tok.CreatedAt), dbx.Stamp(tok.ExpiresAt), tok.AccessCount)
	if err != nil {
		return fmt.Errorf("failed to create share token for document[%s]: %w", tok.DocumentID, err)
	}
	return nil
}

func scanToken(row *sql.Row, tokenHash string) (*models.ShareToken, error) {
	tok := models.ShareToken{TokenHash: tokenHash}
	var created, expires int64
	if err := row.Scan(&tok.DocumentID, &created, &expires, &tok.AccessCount); err != nil {
		return nil, err
	}
	tok.CreatedAt = dbx.Time(created)
	tok.ExpiresAt = dbx.Time(expires)
	return &tok, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, tokenHash string) (*models.ShareToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT document_id, created_at, expires_at, access_count FROM share_tokens WHERE token_hash = ?`, tokenHash)
	tok, err := scanToken(row, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share token: %w", err)
	}
	return tok, nil
}

func (r *SQLiteRepository) Redeem(ctx context.Context, tokenHash string, now time.Time) (*models.ShareToken, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE share_tokens SET access_count = access_count + 1
		WHERE token_hash = ? AND expires_at >= ?
		RETURNING document_id, created_at, expires_at, access_count`, tokenHash, dbx.Stamp(now))
	tok, err := scanToken(row, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to redeem share token: %w", err)
	}
	return tok, nil
}
