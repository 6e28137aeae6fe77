package grant

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/authcore-io/authcore/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the grant store.
// Scopes are denormalized into (scope_type, scope_id) columns with empty
// strings standing in for the global scope, so the uniqueness constraint on
// (subject, slug, scope_type, scope_id) enforces set semantics in the
// database itself.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scopeColumns(scope *Scope) (string, string) {
	if scope == nil {
		return "", ""
	}
	return scope.Type, scope.ID
}

func scopeFromColumns(scopeType, scopeID string) *Scope {
	if scopeType == "" && scopeID == "" {
		return nil
	}
	return &Scope{Type: scopeType, ID: scopeID}
}

// UpsertAssignment inserts or refreshes a (subject, role, scope) binding.
func (r *Repository) UpsertAssignment(ctx context.Context, a RoleAssignment) error {
	scopeType, scopeID := scopeColumns(a.Scope)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO role_assignments (id, subject_id, role_slug, scope_type, scope_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (subject_id, role_slug, scope_type, scope_id)
		 DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		a.ID, a.SubjectID, a.RoleSlug, scopeType, scopeID, a.ExpiresAt, a.CreatedAt)
	return err
}

// DeleteAssignment removes a binding, reporting whether a row existed.
func (r *Repository) DeleteAssignment(ctx context.Context, subjectID, roleSlug string, scope *Scope) (bool, error) {
	scopeType, scopeID := scopeColumns(scope)
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM role_assignments
		 WHERE subject_id = $1 AND role_slug = $2 AND scope_type = $3 AND scope_id = $4`,
		subjectID, roleSlug, scopeType, scopeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AssignmentsForSubject returns all assignment rows for a subject.
func (r *Repository) AssignmentsForSubject(ctx context.Context, subjectID string) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, subject_id, role_slug, scope_type, scope_id, expires_at, created_at
		 FROM role_assignments WHERE subject_id = $1`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		var scopeType, scopeID string
		if err := rows.Scan(&a.ID, &a.SubjectID, &a.RoleSlug, &scopeType, &scopeID, &a.ExpiresAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Scope = scopeFromColumns(scopeType, scopeID)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertDirect inserts or refreshes a (subject, permission, scope) override.
func (r *Repository) UpsertDirect(ctx context.Context, g DirectGrant) error {
	scopeType, scopeID := scopeColumns(g.Scope)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO direct_grants (id, subject_id, permission_slug, granted, scope_type, scope_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (subject_id, permission_slug, scope_type, scope_id)
		 DO UPDATE SET granted = EXCLUDED.granted, expires_at = EXCLUDED.expires_at`,
		g.ID, g.SubjectID, g.PermissionSlug, g.Granted, scopeType, scopeID, g.ExpiresAt, g.CreatedAt)
	return err
}

// DeleteDirect removes an override, reporting whether a row existed.
func (r *Repository) DeleteDirect(ctx context.Context, subjectID, permissionSlug string, scope *Scope) (bool, error) {
	scopeType, scopeID := scopeColumns(scope)
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM direct_grants
		 WHERE subject_id = $1 AND permission_slug = $2 AND scope_type = $3 AND scope_id = $4`,
		subjectID, permissionSlug, scopeType, scopeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DirectsForSubject returns all override rows for a subject.
func (r *Repository) DirectsForSubject(ctx context.Context, subjectID string) ([]DirectGrant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, subject_id, permission_slug, granted, scope_type, scope_id, expires_at, created_at
		 FROM direct_grants WHERE subject_id = $1`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DirectGrant
	for rows.Next() {
		var g DirectGrant
		var scopeType, scopeID string
		if err := rows.Scan(&g.ID, &g.SubjectID, &g.PermissionSlug, &g.Granted, &scopeType, &scopeID, &g.ExpiresAt, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Scope = scopeFromColumns(scopeType, scopeID)
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteExpired removes rows whose expiry precedes the cutoff. Both tables
// are swept in one transaction so the reported count matches what a retry
// would no longer find.
func (r *Repository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM role_assignments WHERE expires_at IS NOT NULL AND expires_at <= $1`, before)
		if err != nil {
			return err
		}
		total += tag.RowsAffected()
		tag, err = tx.Exec(ctx,
			`DELETE FROM direct_grants WHERE expires_at IS NOT NULL AND expires_at <= $1`, before)
		if err != nil {
			return err
		}
		total += tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
