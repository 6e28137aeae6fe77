package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/authcore-io/authcore/internal/platform/httpx"
)

// MemoryStore keeps the catalog in memory. Used embedded and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	perms map[string]Permission
}

// NewMemoryStore constructs an empty in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{perms: make(map[string]Permission)}
}

// Insert adds a permission, failing on duplicate slugs.
func (m *MemoryStore) Insert(ctx context.Context, p Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.perms[p.Slug]; exists {
		return fmt.Errorf("permission %q: %w", p.Slug, httpx.ErrDuplicateSlug)
	}
	m.perms[p.Slug] = p
	return nil
}

// Update replaces a stored permission.
func (m *MemoryStore) Update(ctx context.Context, p Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.perms[p.Slug]; !exists {
		return fmt.Errorf("permission %q: %w", p.Slug, httpx.ErrNotFound)
	}
	m.perms[p.Slug] = p
	return nil
}

// Delete removes a permission by slug.
func (m *MemoryStore) Delete(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.perms[slug]; !exists {
		return fmt.Errorf("permission %q: %w", slug, httpx.ErrNotFound)
	}
	delete(m.perms, slug)
	return nil
}

// Get returns a permission by slug.
func (m *MemoryStore) Get(ctx context.Context, slug string) (*Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, exists := m.perms[slug]
	if !exists {
		return nil, fmt.Errorf("permission %q: %w", slug, httpx.ErrNotFound)
	}
	out := p
	out.Requires = append([]string(nil), p.Requires...)
	return &out, nil
}

// List returns permissions matching the filter.
func (m *MemoryStore) List(ctx context.Context, filter Filter) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Permission
	for _, p := range m.perms {
		if filter.Group != "" && p.Group != filter.Group {
			continue
		}
		if filter.PluginID != "" && p.PluginID != filter.PluginID {
			continue
		}
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		if filter.Search != "" &&
			!strings.Contains(p.Slug, filter.Search) &&
			!strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		cp := p
		cp.Requires = append([]string(nil), p.Requires...)
		out = append(out, cp)
	}
	return out, nil
}
