package role

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/authcore-io/authcore/internal/platform/httpx"
)

// MemoryStore keeps roles and their grants in memory. Used embedded and in
// tests.
type MemoryStore struct {
	mu     sync.RWMutex
	roles  map[string]Role
	grants map[string]map[string]struct{}
}

// NewMemoryStore constructs an empty in-memory role store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:  make(map[string]Role),
		grants: make(map[string]map[string]struct{}),
	}
}

// Insert adds a role, failing on duplicate slugs.
func (m *MemoryStore) Insert(ctx context.Context, r Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.roles[r.Slug]; exists {
		return fmt.Errorf("role %q: %w", r.Slug, httpx.ErrDuplicateSlug)
	}
	m.roles[r.Slug] = r
	return nil
}

// Update replaces a stored role.
func (m *MemoryStore) Update(ctx context.Context, r Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.roles[r.Slug]; !exists {
		return fmt.Errorf("role %q: %w", r.Slug, httpx.ErrNotFound)
	}
	m.roles[r.Slug] = r
	return nil
}

// Delete removes a role and its grants.
func (m *MemoryStore) Delete(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.roles[slug]; !exists {
		return fmt.Errorf("role %q: %w", slug, httpx.ErrNotFound)
	}
	delete(m.roles, slug)
	delete(m.grants, slug)
	return nil
}

// Get returns a role by slug.
func (m *MemoryStore) Get(ctx context.Context, slug string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, exists := m.roles[slug]
	if !exists {
		return nil, fmt.Errorf("role %q: %w", slug, httpx.ErrNotFound)
	}
	return &r, nil
}

// List returns all roles.
func (m *MemoryStore) List(ctx context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out, nil
}

// Grant unions permission slugs into the role's grant set.
func (m *MemoryStore) Grant(ctx context.Context, roleSlug string, permissionSlugs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.grants[roleSlug]
	if set == nil {
		set = make(map[string]struct{})
		m.grants[roleSlug] = set
	}
	for _, p := range permissionSlugs {
		set[p] = struct{}{}
	}
	return nil
}

// Revoke removes permission slugs from the role's grant set.
func (m *MemoryStore) Revoke(ctx context.Context, roleSlug string, permissionSlugs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.grants[roleSlug]
	for _, p := range permissionSlugs {
		delete(set, p)
	}
	return nil
}

// Grants returns the role's own grant set.
func (m *MemoryStore) Grants(ctx context.Context, roleSlug string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.grants[roleSlug]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out, nil
}

// RolesGranting returns roles whose grant set contains the slug, including
// wildcard grants covering it.
func (m *MemoryStore) RolesGranting(ctx context.Context, permissionSlug string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for slug, set := range m.grants {
		if _, ok := set[permissionSlug]; ok {
			out = append(out, slug)
			continue
		}
		if i := strings.LastIndex(permissionSlug, "."); i > 0 {
			if _, ok := set[permissionSlug[:i]+".*"]; ok {
				out = append(out, slug)
			}
		}
	}
	return out, nil
}

// ChildrenOf returns roles whose parent is slug.
func (m *MemoryStore) ChildrenOf(ctx context.Context, slug string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for s, r := range m.roles {
		if r.Parent == slug {
			out = append(out, s)
		}
	}
	return out, nil
}
