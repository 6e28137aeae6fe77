package role

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/authcore-io/authcore/internal/platform/db"
	"github.com/authcore-io/authcore/internal/platform/httpx"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for the role catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert adds a role row, mapping unique violations to ErrDuplicateSlug.
func (r *Repository) Insert(ctx context.Context, role Role) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO roles (slug, name, description, level, parent, is_default, active, plugin_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9, $10)`,
		role.Slug, role.Name, role.Description, role.Level, role.Parent, role.IsDefault, role.Active, role.PluginID, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("role %q: %w", role.Slug, httpx.ErrDuplicateSlug)
		}
		return err
	}
	return nil
}

// Update replaces the mutable columns of a role row.
func (r *Repository) Update(ctx context.Context, role Role) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE roles
		 SET name = $2, description = $3, level = $4, parent = NULLIF($5, ''), is_default = $6, active = $7, updated_at = $8
		 WHERE slug = $1`,
		role.Slug, role.Name, role.Description, role.Level, role.Parent, role.IsDefault, role.Active, role.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("role %q: %w", role.Slug, httpx.ErrNotFound)
	}
	return nil
}

// Delete removes a role row and its grants atomically.
func (r *Repository) Delete(ctx context.Context, slug string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_grants WHERE role_slug = $1`, slug); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE slug = $1`, slug)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("role %q: %w", slug, httpx.ErrNotFound)
		}
		return nil
	})
}

// Get returns a role by slug.
func (r *Repository) Get(ctx context.Context, slug string) (*Role, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT slug, name, description, level, COALESCE(parent, ''), is_default, active, COALESCE(plugin_id, ''), created_at, updated_at
		 FROM roles WHERE slug = $1`, slug)
	var role Role
	if err := row.Scan(&role.Slug, &role.Name, &role.Description, &role.Level, &role.Parent, &role.IsDefault, &role.Active, &role.PluginID, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("role %q: %w", slug, httpx.ErrNotFound)
		}
		return nil, err
	}
	return &role, nil
}

// List returns all roles.
func (r *Repository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT slug, name, description, level, COALESCE(parent, ''), is_default, active, COALESCE(plugin_id, ''), created_at, updated_at
		 FROM roles ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.Slug, &role.Name, &role.Description, &role.Level, &role.Parent, &role.IsDefault, &role.Active, &role.PluginID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Grant unions permission slugs into the role's grant set. ON CONFLICT keeps
// the operation idempotent and commutative under concurrent writers.
func (r *Repository) Grant(ctx context.Context, roleSlug string, permissionSlugs []string) error {
	for _, p := range permissionSlugs {
		if _, err := r.pool.Exec(ctx,
			`INSERT INTO role_grants (role_slug, permission_slug)
			 VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleSlug, p); err != nil {
			return err
		}
	}
	return nil
}

// Revoke removes permission slugs from the role's grant set.
func (r *Repository) Revoke(ctx context.Context, roleSlug string, permissionSlugs []string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_grants WHERE role_slug = $1 AND permission_slug = ANY($2)`,
		roleSlug, permissionSlugs)
	return err
}

// Grants returns the role's own grant set.
func (r *Repository) Grants(ctx context.Context, roleSlug string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT permission_slug FROM role_grants WHERE role_slug = $1`, roleSlug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// RolesGranting returns roles granting the permission slug directly or via a
// wildcard covering its group.
func (r *Repository) RolesGranting(ctx context.Context, permissionSlug string) ([]string, error) {
	wildcard := ""
	if i := strings.LastIndex(permissionSlug, "."); i > 0 {
		wildcard = permissionSlug[:i] + ".*"
	}
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT role_slug FROM role_grants
		 WHERE permission_slug = $1 OR ($2 <> '' AND permission_slug = $2)`,
		permissionSlug, wildcard)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		roles = append(roles, slug)
	}
	return roles, rows.Err()
}

// ChildrenOf returns roles whose parent is slug.
func (r *Repository) ChildrenOf(ctx context.Context, slug string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT slug FROM roles WHERE parent = $1`, slug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var children []string
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, rows.Err()
}
