// Package role implements the role catalog and hierarchy.
package role

import (
	"context"
	"regexp"
	"time"
)

// Role represents a named bundle of permissions with hierarchy via Parent.
// Level orders roles for comparison only; permission inheritance flows
// through the parent chain, never through levels.
type Role struct {
	Slug        string
	Name        string
	Description string
	Level       int
	Parent      string // empty means no parent
	IsDefault   bool
	Active      bool
	PluginID    string // empty means system-owned
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Definition carries the fields accepted at registration time.
type Definition struct {
	Slug        string
	Name        string
	Description string
	Level       int
	Parent      string
	IsDefault   bool
}

// Patch carries optional updates. The slug itself is immutable.
type Patch struct {
	Name        *string
	Description *string
	Level       *int
	Parent      *string
	IsDefault   *bool
	Active      *bool
}

// Store is the persistence port for the role catalog. Grant and Revoke use
// set semantics so concurrent writers union and remove without losing
// updates.
type Store interface {
	Insert(ctx context.Context, r Role) error
	Update(ctx context.Context, r Role) error
	Delete(ctx context.Context, slug string) error
	Get(ctx context.Context, slug string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	Grant(ctx context.Context, roleSlug string, permissionSlugs []string) error
	Revoke(ctx context.Context, roleSlug string, permissionSlugs []string) error
	Grants(ctx context.Context, roleSlug string) ([]string, error)
	RolesGranting(ctx context.Context, permissionSlug string) ([]string, error)
	ChildrenOf(ctx context.Context, slug string) ([]string, error)
}

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidSlug reports whether s is a well-formed role slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}
