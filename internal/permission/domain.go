// Package permission implements the permission catalog.
package permission

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Permission represents an atomic, named capability.
type Permission struct {
	Slug        string
	Name        string
	Description string
	Group       string
	Category    string
	Requires    []string
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
	Group       string
	Category    string
	Requires    []string
}

// Patch carries optional updates. Nil fields are left unchanged; the slug
// itself is immutable.
type Patch struct {
	Name        *string
	Description *string
	Group       *string
	Category    *string
	Requires    *[]string
	Active      *bool
}

// Filter narrows catalog listings.
type Filter struct {
	Group    string
	PluginID string
	Active   *bool
	Search   string
}

// Store is the persistence port for the permission catalog.
type Store interface {
	Insert(ctx context.Context, p Permission) error
	Update(ctx context.Context, p Permission) error
	Delete(ctx context.Context, slug string) error
	Get(ctx context.Context, slug string) (*Permission, error)
	List(ctx context.Context, filter Filter) ([]Permission, error)
}

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9._-]*$`)

// ValidSlug reports whether s is a well-formed permission slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// ValidGrantSlug reports whether s may appear in a role grant: either a
// regular permission slug or the wildcard form "group.*".
func ValidGrantSlug(s string) bool {
	if base, ok := strings.CutSuffix(s, ".*"); ok {
		return ValidSlug(base)
	}
	return ValidSlug(s)
}

// GroupOf returns the group prefix of a slug, up to and excluding the last
// dot segment. Slugs without a dot have no group.
func GroupOf(slug string) string {
	i := strings.LastIndex(slug, ".")
	if i < 0 {
		return ""
	}
	return slug[:i]
}
