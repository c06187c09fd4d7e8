package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webmatic/backend/internal/ratelimit"
)

// PgRateLimitStore keeps rate-limit windows in the rate_limit_attempts table
// so that several server processes share one count per address. Each Admit
// runs in a transaction holding a per-address advisory lock, which serializes
// the prune-count-insert cycle for that address only.
type PgRateLimitStore struct {
	pool   *pgxpool.Pool
	limit  int
	window time.Duration
}

var _ ratelimit.Store = (*PgRateLimitStore)(nil)

// NewPgRateLimitStore creates a store admitting limit attempts per window per address.
func NewPgRateLimitStore(pool *pgxpool.Pool, limit int, window time.Duration) (*PgRateLimitStore, error) {
	if limit <= 0 || window <= 0 {
		return nil, ratelimit.ErrInvalidLimit
	}
	return &PgRateLimitStore{pool: pool, limit: limit, window: window}, nil
}

// Admit implements ratelimit.Store.
func (s *PgRateLimitStore) Admit(ctx context.Context, key string, now time.Time) (ratelimit.Decision, error) {
	var d ratelimit.Decision
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("lock window: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM rate_limit_attempts WHERE source_address = $1 AND attempted_at <= $2`,
			key, now.Add(-s.window),
		); err != nil {
			return fmt.Errorf("prune window: %w", err)
		}

		var (
			count  int
			oldest *time.Time
		)
		if err := tx.QueryRow(ctx,
			`SELECT count(*), min(attempted_at) FROM rate_limit_attempts WHERE source_address = $1`,
			key,
		).Scan(&count, &oldest); err != nil {
			return fmt.Errorf("count window: %w", err)
		}

		if count >= s.limit {
			d = ratelimit.Decision{Allowed: false}
			if oldest != nil {
				d.RetryAfter = oldest.Add(s.window).Sub(now)
			}
			return nil
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO rate_limit_attempts (source_address, attempted_at) VALUES ($1, $2)`,
			key, now,
		); err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}
		d = ratelimit.Decision{Allowed: true, Remaining: s.limit - count - 1}
		return nil
	})
	if err != nil {
		return ratelimit.Decision{}, err
	}
	return d, nil
}

// Sweep deletes attempts that have aged out of every window.
func (s *PgRateLimitStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rate_limit_attempts WHERE attempted_at <= $1`, now.Add(-s.window))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
