package signatures

import (
	"context"
	"database/sql"
	"encoding/json"
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

func (r *SQLiteRepository) CreateSigner(ctx context.Context, s *models.Signer) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO signers (identifier, name, salt, verifier, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.Identifier, s.Name, s.Salt, s.Verifier, dbx.Stamp(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create signer[%s]: %w", s.Identifier, err)
	}
	return nil
}

func (r *SQLiteRepository) GetSigner(ctx context.Context, identifier string) (*models.Signer, error) {
	var s models.Signer
	var created int64
	err := r.db.QueryRowContext(ctx,
		`SELECT identifier, name, salt, verifier, created_at FROM signers WHERE identifier = ?`, identifier).
		Scan(&s.Identifier, &s.Name, &s.Salt, &s.Verifier, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signer[%s]: %w", identifier, err)
	}
	s.CreatedAt = dbx.Time(created)
	return &s, nil
}

func (r *SQLiteRepository) CreateRequest(ctx context.Context, req *models.SignatureRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signature_requests
			(request_id, document_id, signer_name, signer_identifier, document_hash, token_hash, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.RequestID, req.DocumentID, req.SignerName, req.SignerIdentifier, req.DocumentHash, req.TokenHash,
		string(req.Status), dbx.Stamp(req.CreatedAt), dbx.Stamp(req.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to create signature request[%s]: %w", req.RequestID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetRequest(ctx context.Context, requestID string) (*models.SignatureRequest, error) {
	var (
		req              models.SignatureRequest
		status           string
		created, expires int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT request_id, document_id, signer_name, signer_identifier, document_hash, token_hash, status, created_at, expires_at
		FROM signature_requests WHERE request_id = ?`, requestID).
		Scan(&req.RequestID, &req.DocumentID, &req.SignerName, &req.SignerIdentifier, &req.DocumentHash,
			&req.TokenHash, &status, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signature request[%s]: %w", requestID, err)
	}
	req.Status = models.RequestStatus(status)
	req.CreatedAt = dbx.Time(created)
	req.ExpiresAt = dbx.Time(expires)
	return &req, nil
}

func (r *SQLiteRepository) Transition(ctx context.Context, requestID string, from, to models.RequestStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE signature_requests SET status = ? WHERE request_id = ? AND status = ?`,
		string(to), requestID, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition signature request[%s]: %w", requestID, err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("failed to transition signature request[%s]: %w", requestID, err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) InsertRecord(ctx context.Context, rec *models.SignatureRecord) error {
	cert, err := json.Marshal(rec.CertificateInfo)
	if err != nil {
		return fmt.Errorf("failed to encode certificate info: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO signature_records
			(signature_id, request_id, document_id, signer_name, signer_identifier, document_hash, signature_hash, signed_at, certificate_info)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SignatureID, rec.RequestID, rec.DocumentID, rec.SignerName, rec.SignerIdentifier, rec.DocumentHash,
		rec.SignatureHash, dbx.Stamp(rec.SignedAt), string(cert))
	if err != nil {
		return fmt.Errorf("failed to insert signature record[%s]: %w", rec.SignatureID, err)
	}
	return nil
}

const recordColumns = `signature_id, request_id, document_id, signer_name, signer_identifier, document_hash, signature_hash, signed_at, certificate_info`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.SignatureRecord, error) {
	var (
		rec    models.SignatureRecord
		signed int64
		cert   string
	)
	if err := row.Scan(&rec.SignatureID, &rec.RequestID, &rec.DocumentID, &rec.SignerName, &rec.SignerIdentifier,
		&rec.DocumentHash, &rec.SignatureHash, &signed, &cert); err != nil {
		return nil, err
	}
	rec.SignedAt = dbx.Time(signed)
	if err := json.Unmarshal([]byte(cert), &rec.CertificateInfo); err != nil {
		return nil, fmt.Errorf("decode certificate info: %w", err)
	}
	return &rec, nil
}

func (r *SQLiteRepository) GetRecord(ctx context.Context, signatureID string) (*models.SignatureRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM signature_records WHERE signature_id = ?`, signatureID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signature record[%s]: %w", signatureID, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) ListRecordsByDocument(ctx context.Context, documentID string) ([]*models.SignatureRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM signature_records WHERE document_id = ? ORDER BY signed_at`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list signature records: %w", err)
	}
	defer rows.Close()

	var result []*models.SignatureRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signature record: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate signature records: %w", err)
	}
	return result, nil
}
