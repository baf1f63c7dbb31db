// Package statusstore implements the Document Status Record store over
// Postgres via pgx, the same connection-pooled backend the rest of this
// stack uses for persistence.
package statusstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is one of the monotonic states a Document Status Record moves
// through.
type Status string

const (
	Queued     Status = "queued"
	Processing Status = "processing"
	Processed  Status = "processed"
	Error      Status = "error"
)

// Record is the Document Status Record.
type Record struct {
	Filename      string
	Filepath      string
	Status        Status
	TraceID       string
	ErrorMessage  *string
	CreatedDate   time.Time
	ProcessedDate *time.Time
}

// Stats summarizes record counts per status).
type Stats struct {
	ByStatus map[Status]int
	Total    int
}

// Store is the Status Store component. All operations are
// durable before returning, per the component's contract.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates the document_status table if absent and returns a ready Store.
func Open(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS document_status (
  filepath       TEXT PRIMARY KEY,
  filename       TEXT NOT NULL,
  status         TEXT NOT NULL,
  trace_id       TEXT NOT NULL,
  error_message  TEXT,
  created_date   TIMESTAMPTZ NOT NULL DEFAULT now(),
  processed_date TIMESTAMPTZ
);`)
	if err != nil {
		return nil, fmt.Errorf("create document_status table: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Add inserts a new record if filepath is unseen; a duplicate filepath is a
// no-op that preserves the earlier trace id.
func (s *Store) Add(ctx context.Context, filename, filepath string, status Status, traceID string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO document_status (filepath, filename, status, trace_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (filepath) DO NOTHING`, filepath, filename, status, traceID)
	return err
}

// Update sets status (and error message, nullable) for filepath, stamping
// processed_date to now. trace_id is never touched by Update: it is set
// once at Add time and never changes.
func (s *Store) Update(ctx context.Context, filepath string, status Status, errMsg *string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE document_status
SET status = $2, error_message = $3, processed_date = now()
WHERE filepath = $1`, filepath, status, errMsg)
	return err
}

// UpdateByTraceID sets status (and error message) for the record matching
// trace_id rather than filepath. The embed worker uses this for the final
// back-write: status advances to processed only once embedding actually
// finishes, not at extraction time.
func (s *Store) UpdateByTraceID(ctx context.Context, traceID string, status Status, errMsg *string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE document_status
SET status = $2, error_message = $3, processed_date = now()
WHERE trace_id = $1`, traceID, status, errMsg)
	return err
}

// ErrNotFound is returned by GetStatus when filepath has no record.
var ErrNotFound = errors.New("statusstore: record not found")

// GetStatus returns the current status for filepath, or ErrNotFound.
func (s *Store) GetStatus(ctx context.Context, filepath string) (Status, error) {
	var status Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM document_status WHERE filepath = $1`, filepath).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

// Get returns the full record for filepath, or ErrNotFound.
func (s *Store) Get(ctx context.Context, filepath string) (Record, error) {
	var r Record
	err := s.pool.QueryRow(ctx, `
SELECT filepath, filename, status, trace_id, error_message, created_date, processed_date
FROM document_status WHERE filepath = $1`, filepath).Scan(
		&r.Filepath, &r.Filename, &r.Status, &r.TraceID, &r.ErrorMessage, &r.CreatedDate, &r.ProcessedDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

// List returns every record, optionally filtered by status.
func (s *Store) List(ctx context.Context, status *Status) ([]Record, error) {
	var rows pgx.Rows
	var err error
	if status != nil {
		rows, err = s.pool.Query(ctx, `
SELECT filepath, filename, status, trace_id, error_message, created_date, processed_date
FROM document_status WHERE status = $1 ORDER BY created_date`, *status)
	} else {
		rows, err = s.pool.Query(ctx, `
SELECT filepath, filename, status, trace_id, error_message, created_date, processed_date
FROM document_status ORDER BY created_date`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Filepath, &r.Filename, &r.Status, &r.TraceID, &r.ErrorMessage, &r.CreatedDate, &r.ProcessedDate); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats returns per-status counts plus the total record count.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM document_status GROUP BY status`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	st := Stats{ByStatus: map[Status]int{}}
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		st.ByStatus[status] = n
		st.Total += n
	}
	return st, rows.Err()
}
