// Package grant implements the grant store: role assignments and direct
// permission grants bound to subjects, with optional scope and expiry.
package grant

import (
	"context"
	"net/url"
	"time"
)

// Scope identifies an addressable context such as a tenant or project. A nil
// *Scope means the grant applies globally.
type Scope struct {
	Type string
	ID   string
}

// Key returns the scope's cache-key form. Both components are escaped so
// the separator cannot occur inside them: {a, b:c} and {a:b, c} must never
// collapse into the same key.
func (s Scope) Key() string {
	return url.QueryEscape(s.Type) + ":" + url.QueryEscape(s.ID)
}

// GlobalScopeKey is the cache-key form of the absent scope.
const GlobalScopeKey = "global"

// ScopeKey returns the cache-key form of an optional scope. The key must
// distinguish the absent scope from every concrete one so cached decisions
// never leak across scopes.
func ScopeKey(s *Scope) string {
	if s == nil {
		return GlobalScopeKey
	}
	return s.Key()
}

// sameScope reports scope identity; two nils match, a nil never matches a
// concrete scope.
func sameScope(a, b *Scope) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Type == b.Type && a.ID == b.ID
}

// RoleAssignment binds a subject to a role within an optional scope.
type RoleAssignment struct {
	ID        string
	SubjectID string
	RoleSlug  string
	Scope     *Scope
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// activeAt reports whether the assignment is live at the given instant.
func (a RoleAssignment) activeAt(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// DirectGrant binds a subject straight to a permission slug with explicit
// allow/deny polarity. Absence of a row means no override either way.
type DirectGrant struct {
	ID             string
	SubjectID      string
	PermissionSlug string
	Granted        bool
	Scope          *Scope
	ExpiresAt      *time.Time
	CreatedAt      time.Time
}

func (g DirectGrant) activeAt(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// Store is the persistence port for the grant store. Upserts key on
// (subject, role-or-permission, scope) so concurrent writers converge on set
// semantics instead of last-write-wins over a materialized list.
type Store interface {
	UpsertAssignment(ctx context.Context, a RoleAssignment) error
	DeleteAssignment(ctx context.Context, subjectID, roleSlug string, scope *Scope) (bool, error)
	AssignmentsForSubject(ctx context.Context, subjectID string) ([]RoleAssignment, error)
	UpsertDirect(ctx context.Context, g DirectGrant) error
	DeleteDirect(ctx context.Context, subjectID, permissionSlug string, scope *Scope) (bool, error)
	DirectsForSubject(ctx context.Context, subjectID string) ([]DirectGrant, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
