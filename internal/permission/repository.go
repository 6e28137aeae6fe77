package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/authcore-io/authcore/internal/platform/httpx"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for the permission catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert adds a permission row, mapping unique violations to ErrDuplicateSlug.
func (r *Repository) Insert(ctx context.Context, p Permission) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO permissions (slug, name, description, "group", category, requires, active, plugin_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)`,
		p.Slug, p.Name, p.Description, p.Group, p.Category, p.Requires, p.Active, p.PluginID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("permission %q: %w", p.Slug, httpx.ErrDuplicateSlug)
		}
		return err
	}
	return nil
}

// Update replaces the mutable columns of a permission row.
func (r *Repository) Update(ctx context.Context, p Permission) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE permissions
		 SET name = $2, description = $3, "group" = $4, category = $5, requires = $6, active = $7, updated_at = $8
		 WHERE slug = $1`,
		p.Slug, p.Name, p.Description, p.Group, p.Category, p.Requires, p.Active, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("permission %q: %w", p.Slug, httpx.ErrNotFound)
	}
	return nil
}

// Delete removes a permission row.
func (r *Repository) Delete(ctx context.Context, slug string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE slug = $1`, slug)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("permission %q: %w", slug, httpx.ErrNotFound)
	}
	return nil
}

// Get returns a permission by slug.
func (r *Repository) Get(ctx context.Context, slug string) (*Permission, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT slug, name, description, "group", category, requires, active, COALESCE(plugin_id, ''), created_at, updated_at
		 FROM permissions WHERE slug = $1`, slug)
	var p Permission
	if err := row.Scan(&p.Slug, &p.Name, &p.Description, &p.Group, &p.Category, &p.Requires, &p.Active, &p.PluginID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("permission %q: %w", slug, httpx.ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// List returns permissions matching the filter.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT slug, name, description, "group", category, requires, active, COALESCE(plugin_id, ''), created_at, updated_at
		 FROM permissions
		 WHERE ($1 = '' OR "group" = $1)
		   AND ($2 = '' OR plugin_id = $2)
		   AND ($3::boolean IS NULL OR active = $3)
		   AND ($4 = '' OR slug ILIKE '%' || $4 || '%' OR name ILIKE '%' || $4 || '%')
		 ORDER BY slug`,
		filter.Group, filter.PluginID, filter.Active, filter.Search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Slug, &p.Name, &p.Description, &p.Group, &p.Category, &p.Requires, &p.Active, &p.PluginID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
