package repository

import (
	"context"
	"fmt"
)

// IdempotencyRow mirrors one row of the idempotency_keys table.
type IdempotencyRow struct {
	IdempotencyKey string
	RequestHash    string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
}

// GetIdempotencyKey loads a stored idempotency record. Returns pgx.ErrNoRows
// via the driver when the key is unknown.
func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyRow, error) {
	var row IdempotencyRow
	query := `
		SELECT idempotency_key, request_hash, response_status, response_body, content_type, in_progress
		FROM idempotency_keys
		WHERE idempotency_key = $1`
	err := q.db.QueryRow(ctx, query, key).Scan(
		&row.IdempotencyKey, &row.RequestHash, &row.ResponseStatus,
		&row.ResponseBody, &row.ContentType, &row.InProgress,
	)
	return row, err
}

// ReserveIdempotencyKey claims a key for an in-flight request. Returns
// pgx.ErrNoRows via the driver when the key is already reserved.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, key, requestHash, method, path string) (string, error) {
	var reserved string
	query := `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key`
	err := q.db.QueryRow(ctx, query, key, requestHash, method, path).Scan(&reserved)
	return reserved, err
}

// FinalizeIdempotencyKey stores the response for a reserved key.
func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, key, requestHash string, status int32, body []byte, contentType string) (IdempotencyRow, error) {
	var row IdempotencyRow
	query := `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3,
			in_progress = FALSE, updated_at = NOW()
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING idempotency_key, request_hash, response_status, response_body, content_type, in_progress`
	err := q.db.QueryRow(ctx, query, status, body, contentType, key, requestHash).Scan(
		&row.IdempotencyKey, &row.RequestHash, &row.ResponseStatus,
		&row.ResponseBody, &row.ContentType, &row.InProgress,
	)
	if err != nil {
		return row, err
	}
	return row, nil
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
// Production deployments run the same DDL through their migration tooling;
// tests call this directly.
func (q *Queries) EnsureSchema(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
