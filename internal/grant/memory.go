package grant

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps grants in memory, keyed for set semantics. Used embedded
// and in tests.
type MemoryStore struct {
	mu          sync.RWMutex
	assignments map[string]RoleAssignment // subject|role|scope
	directs     map[string]DirectGrant    // subject|permission|scope
}

// NewMemoryStore constructs an empty in-memory grant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assignments: make(map[string]RoleAssignment),
		directs:     make(map[string]DirectGrant),
	}
}

func grantKey(subjectID, slug string, scope *Scope) string {
	return subjectID + "|" + slug + "|" + ScopeKey(scope)
}

// UpsertAssignment inserts or refreshes a (subject, role, scope) binding.
func (m *MemoryStore) UpsertAssignment(ctx context.Context, a RoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[grantKey(a.SubjectID, a.RoleSlug, a.Scope)] = a
	return nil
}

// DeleteAssignment removes a binding, reporting whether a row existed.
func (m *MemoryStore) DeleteAssignment(ctx context.Context, subjectID, roleSlug string, scope *Scope) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := grantKey(subjectID, roleSlug, scope)
	_, existed := m.assignments[key]
	delete(m.assignments, key)
	return existed, nil
}

// AssignmentsForSubject returns all assignment rows for a subject, expired
// included; callers filter.
func (m *MemoryStore) AssignmentsForSubject(ctx context.Context, subjectID string) ([]RoleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RoleAssignment
	for _, a := range m.assignments {
		if a.SubjectID == subjectID {
			out = append(out, a)
		}
	}
	return out, nil
}

// UpsertDirect inserts or refreshes a (subject, permission, scope) override.
func (m *MemoryStore) UpsertDirect(ctx context.Context, g DirectGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directs[grantKey(g.SubjectID, g.PermissionSlug, g.Scope)] = g
	return nil
}

// DeleteDirect removes an override, reporting whether a row existed.
func (m *MemoryStore) DeleteDirect(ctx context.Context, subjectID, permissionSlug string, scope *Scope) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := grantKey(subjectID, permissionSlug, scope)
	_, existed := m.directs[key]
	delete(m.directs, key)
	return existed, nil
}

// DirectsForSubject returns all override rows for a subject.
func (m *MemoryStore) DirectsForSubject(ctx context.Context, subjectID string) ([]DirectGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DirectGrant
	for _, g := range m.directs {
		if g.SubjectID == subjectID {
			out = append(out, g)
		}
	}
	return out, nil
}

// DeleteExpired removes rows whose expiry precedes the cutoff.
func (m *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, a := range m.assignments {
		if a.ExpiresAt != nil && !a.ExpiresAt.After(before) {
			delete(m.assignments, k)
			n++
		}
	}
	for k, g := range m.directs {
		if g.ExpiresAt != nil && !g.ExpiresAt.After(before) {
			delete(m.directs, k)
			n++
		}
	}
	return n, nil
}
