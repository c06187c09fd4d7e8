package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webmatic/backend/internal/model"
)

const pgUniqueViolation = "23505"

// PgSubmissionRepository is the PostgreSQL implementation of SubmissionStore.
// Each Append is a single INSERT, so concurrent appends are isolated by the database.
type PgSubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewPgSubmissionRepository creates a PgSubmissionRepository backed by the given pool.
func NewPgSubmissionRepository(pool *pgxpool.Pool) *PgSubmissionRepository {
	return &PgSubmissionRepository{pool: pool}
}

// Ensure PgSubmissionRepository implements SubmissionStore at compile time.
var _ SubmissionStore = (*PgSubmissionRepository)(nil)

// Append inserts a contact_submissions row.
func (r *PgSubmissionRepository) Append(ctx context.Context, s *model.ContactSubmission) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO contact_submissions
		   (id, name, email, phone, service, message, source_address, client_agent, submitted_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		s.ID, s.Name, s.Email, s.Phone, s.Service, s.Message, s.SourceAddress, s.ClientAgent, s.SubmittedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateID
	}
	return err
}

// Ping checks the pool can reach the database.
func (r *PgSubmissionRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned and closed by the caller.
func (r *PgSubmissionRepository) Close() error { return nil }
