package sequence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists per-prefix counters in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NextValue atomically increments and returns the counter for the given
// prefix and period. The single-statement upsert serialises concurrent
// callers on the counter row, so two callers can never observe the same
// value.
func (r *Repository) NextValue(ctx context.Context, prefix, periodKey string) (int64, error) {
	if r == nil {
		return 0, errors.New("sequence repository not initialised")
	}
	var next int64
	err := r.pool.QueryRow(ctx, `INSERT INTO document_sequences (prefix, period_key, last_no)
VALUES ($1, $2, 1)
ON CONFLICT (prefix, period_key) DO UPDATE SET last_no = document_sequences.last_no + 1
RETURNING last_no`, prefix, periodKey).Scan(&next)
	return next, err
}

// NextValueTx is the transactional variant used when number allocation must
// commit or roll back together with the document insert.
func (r *Repository) NextValueTx(ctx context.Context, tx pgx.Tx, prefix, periodKey string) (int64, error) {
	var next int64
	err := tx.QueryRow(ctx, `INSERT INTO document_sequences (prefix, period_key, last_no)
VALUES ($1, $2, 1)
ON CONFLICT (prefix, period_key) DO UPDATE SET last_no = document_sequences.last_no + 1
RETURNING last_no`, prefix, periodKey).Scan(&next)
	return next, err
}
