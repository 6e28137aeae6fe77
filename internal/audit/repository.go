package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for audit records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores one audit record.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_log (id, at, actor, action, target, detail)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.At, rec.Actor, rec.Action, rec.Target, rec.Detail)
	return err
}

// List returns the most recent records, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, at, actor, action, target, detail
		 FROM audit_log ORDER BY at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.At, &rec.Actor, &rec.Action, &rec.Target, &rec.Detail); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
