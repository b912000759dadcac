package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xu-registrar/doctrack/internal/platform/db"
)

const (
	uniqueViolation         = "23505"
	constraintControlNumber = "uq_document_requests_control_number"
	constraintTrackingNum   = "uq_document_requests_tracking_number"
)

const selectRequest = `SELECT payload FROM document_requests`

// Schema creates the document_requests table when missing.
const Schema = `CREATE TABLE IF NOT EXISTS document_requests (
	id              TEXT PRIMARY KEY,
	tracking_code   TEXT NOT NULL,
	tracking_number TEXT NOT NULL,
	control_number  TEXT NOT NULL,
	status          TEXT NOT NULL,
	evaluator       TEXT NOT NULL DEFAULT '',
	payload         JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_document_requests_control_number UNIQUE (control_number),
	CONSTRAINT uq_document_requests_tracking_number UNIQUE (tracking_number)
);
CREATE INDEX IF NOT EXISTS idx_document_requests_evaluator ON document_requests (evaluator);`

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PGRepository stores requests in PostgreSQL. The full record lives in a JSONB payload;
// indexed columns mirror the fields used for lookups and uniqueness.
type PGRepository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: pool, pool: pool}
}

// EnsureSchema applies Schema.
func (r *PGRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("requests: ensure schema: %w", err)
	}
	return nil
}

// Insert stores req.
func (r *PGRepository) Insert(ctx context.Context, req *Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	_, number := splitTrackingCode(req.TrackingCode)
	_, err = r.db.Exec(ctx, `INSERT INTO document_requests
		(id, tracking_code, tracking_number, control_number, status, evaluator, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID, req.TrackingCode, number, req.ControlNumber, string(req.Status),
		strings.ToLower(req.StudentDetails.Evaluator), payload, req.CreatedAt, req.UpdatedAt)
	return mapInsertError(err)
}

func mapInsertError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case constraintControlNumber:
			return ErrDuplicateControlNumber
		case constraintTrackingNum:
			return ErrDuplicateTrackingCode
		default:
			return ErrDuplicateID
		}
	}
	return err
}

// Get returns the request with id.
func (r *PGRepository) Get(ctx context.Context, id string) (*Request, error) {
	return scanRequest(r.db.QueryRow(ctx, selectRequest+` WHERE id = $1`, id))
}

// GetByTrackingNumber returns the request whose tracking code ends in number.
func (r *PGRepository) GetByTrackingNumber(ctx context.Context, number string) (*Request, error) {
	return scanRequest(r.db.QueryRow(ctx, selectRequest+` WHERE tracking_number = $1`, number))
}

// ControlNumberExists reports whether controlNumber is in use.
func (r *PGRepository) ControlNumberExists(ctx context.Context, controlNumber string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM document_requests WHERE control_number = $1)`, controlNumber).Scan(&exists)
	return exists, err
}

// Update locks the row, applies fn and writes the result in one transaction.
func (r *PGRepository) Update(ctx context.Context, id string, fn func(*Request) error) (*Request, error) {
	var updated *Request
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		req, err := scanRequest(tx.QueryRow(ctx, selectRequest+` WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(req); err != nil {
			return err
		}
		payload, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		_, err = tx.Exec(ctx, `UPDATE document_requests SET status = $2, payload = $3, updated_at = $4 WHERE id = $1`,
			id, string(req.Status), payload, req.UpdatedAt)
		if err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List returns matching requests, newest first.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]*Request, error) {
	query := selectRequest + ` WHERE ($1 = '' OR evaluator = $1) AND ($2 = '' OR status = $2) ORDER BY created_at DESC, id`
	rows, err := r.db.Query(ctx, query, strings.ToLower(filter.Evaluator), string(filter.Status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*Request, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}
