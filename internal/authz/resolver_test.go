package authz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authcore-io/authcore/internal/grant"
	"github.com/authcore-io/authcore/internal/role"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type superSubject string

func (s superSubject) ID() string         { return string(s) }
func (s superSubject) IsSuperAdmin() bool { return true }

type fixture struct {
	cache    *MemoryCache
	roles    *role.Service
	grants   *grant.Service
	resolver *Resolver
	clock    *fakeClock
}

func newFixture(t *testing.T, opts ...ResolverOption) *fixture {
	t.Helper()
	logger := discardLogger()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache(WithMemoryTTL(30*time.Second), WithMemoryClock(clock.Now))

	roles := role.NewService(role.NewMemoryStore(), cache, nil, logger)
	grants := grant.NewService(grant.NewMemoryStore(), roles, cache, nil, logger, grant.WithClock(clock.Now))
	resolver := NewResolver(grants, roles, cache, logger, opts...)

	return &fixture{cache: cache, roles: roles, grants: grants, resolver: resolver, clock: clock}
}

func (f *fixture) mustRegisterRole(t *testing.T, slug, parent string, level int, grants ...string) {
	t.Helper()
	_, err := f.roles.Register(context.Background(), role.Definition{Slug: slug, Parent: parent, Level: level}, "")
	require.NoError(t, err)
	if len(grants) > 0 {
		require.NoError(t, f.roles.GrantToRole(context.Background(), slug, grants))
	}
}

func TestHasPermissionFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.resolver.HasPermission(ctx, nil, "content.edit", nil), "nil subject")
	assert.False(t, f.resolver.HasPermission(ctx, SubjectID("u1"), "content.edit", nil), "unknown subject")
	assert.False(t, f.resolver.HasPermissionForID(ctx, "", "content.edit", nil), "empty subject id")
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "", nil), "empty permission")

	f.mustRegisterRole(t, "editor", "", 10, "content.edit")
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "editor", nil, nil))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "no.such.permission", nil), "unknown permission")
}

func TestSuperAdminShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.True(t, f.resolver.HasPermission(ctx, superSubject("root"), "anything.at.all", nil))
	assert.True(t, f.resolver.HasPermission(ctx, superSubject("root"), "anything", &grant.Scope{Type: "tenant", ID: "7"}))
	// The shortcut lives on the subject path only.
	assert.False(t, f.resolver.HasPermissionForID(ctx, "root", "anything.at.all", nil))
}

func TestRoleGrantAllows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustRegisterRole(t, "editor", "", 10, "content.edit", "content.view")
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "editor", nil, nil))

	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil))
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.view", nil))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "content.publish", nil))
}

func TestDirectDenyBeatsRoleGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustRegisterRole(t, "editor", "", 10, "content.edit")
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "editor", nil, nil))
	require.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil))

	require.NoError(t, f.grants.GrantDirect(ctx, "u1", "content.edit", false, nil, nil))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil))

	// Removing the override restores the role-derived answer.
	require.NoError(t, f.grants.RevokeDirect(ctx, "u1", "content.edit", nil))
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil))
}

func TestDirectAllowWithoutRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.grants.GrantDirect(ctx, "u1", "reports.export", true, nil, nil))
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "reports.export", nil))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u2", "reports.export", nil))
}

func TestHierarchyInheritance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustRegisterRole(t, "viewer", "", 10, "content.view")
	f.mustRegisterRole(t, "editor", "viewer", 20, "content.edit")
	f.mustRegisterRole(t, "admin", "editor", 30, "content.publish")
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "admin", nil, nil))

	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.publish", nil))
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil), "inherited from editor")
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.view", nil), "inherited transitively")
}

func TestWildcardFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustRegisterRole(t, "manager", "", 10, "billing.*")
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "manager", nil, nil))

	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "billing.view", nil))
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "billing.export", nil))
	// The wildcard covers one dot level of the group, not unrelated groups
	// and not the bare group name.
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "billing", nil))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "reports.view", nil))
}

func TestDirectDenyBeatsWildcardRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustRegisterRole(t, "manager", "", 10, "billing.*")
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "manager", nil, nil))
	require.NoError(t, f.grants.GrantDirect(ctx, "u1", "billing.view", false, nil, nil))

	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "billing.view", nil))
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "billing.export", nil), "deny is per-slug, not per-group")
}

func TestWildcardDirectGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.grants.GrantDirect(ctx, "u1", "reports.*", true, nil, nil))
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "reports.view", nil))
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "reports.export", nil))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "billing.view", nil))
}

func TestWildcardOf(t *testing.T) {
	cases := []struct {
		slug     string
		wildcard string
		ok       bool
	}{
		{"content.edit", "content.*", true},
		{"billing.invoices.send", "billing.invoices.*", true},
		{"content", "", false},
		{"content.*", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		wildcard, ok := WildcardOf(tc.slug)
		assert.Equal(t, tc.ok, ok, tc.slug)
		assert.Equal(t, tc.wildcard, wildcard, tc.slug)
	}
}

func TestScopeExactMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant7 := &grant.Scope{Type: "tenant", ID: "7"}
	tenant8 := &grant.Scope{Type: "tenant", ID: "8"}

	f.mustRegisterRole(t, "editor", "", 10, "content.edit")
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "editor", tenant7, nil))

	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", tenant7))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", tenant8))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil), "scoped grant never answers global queries")

	// And the mirror: a global grant does not answer scoped queries under
	// strict matching.
	require.NoError(t, f.grants.AssignRole(ctx, "u2", "editor", nil, nil))
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u2", "content.edit", nil))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u2", "content.edit", tenant7))
}

func TestScopeComponentsNeverCollide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	granted := &grant.Scope{Type: "tenant", ID: "7:project"}
	shifted := &grant.Scope{Type: "tenant:7", ID: "project"}

	require.NoError(t, f.grants.GrantDirect(ctx, "u1", "billing.view", true, granted, nil))
	require.True(t, f.resolver.HasPermissionForID(ctx, "u1", "billing.view", granted))

	// The granted decision is now cached; a scope whose naive concatenation
	// matches must still resolve on its own and deny.
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "billing.view", shifted))
}

func TestGlobalFallback(t *testing.T) {
	f := newFixture(t, WithGlobalFallback(true))
	ctx := context.Background()
	tenant7 := &grant.Scope{Type: "tenant", ID: "7"}

	f.mustRegisterRole(t, "editor", "", 10, "content.edit")
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "editor", nil, nil))

	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", tenant7), "global grant widens to scoped queries")

	require.NoError(t, f.grants.GrantDirect(ctx, "u2", "reports.export", true, nil, nil))
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u2", "reports.export", tenant7))

	// A scoped grant still never leaks into other scopes.
	require.NoError(t, f.grants.AssignRole(ctx, "u3", "editor", tenant7, nil))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u3", "content.edit", &grant.Scope{Type: "tenant", ID: "8"}))
}

func TestExpiredGrantBehavesAsAbsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustRegisterRole(t, "editor", "", 10, "content.edit")
	expiry := f.clock.Now().Add(time.Hour)
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "editor", nil, &expiry))
	require.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil))

	// No revoke call, no invalidation: the cached allow lapses on its own
	// and re-resolution sees the assignment gone.
	f.clock.Advance(2 * time.Hour)
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil))

	// Expired direct grants vanish the same way, deny polarity included.
	denyExpiry := f.clock.Now().Add(time.Minute)
	require.NoError(t, f.grants.AssignRole(ctx, "u2", "editor", nil, nil))
	require.NoError(t, f.grants.GrantDirect(ctx, "u2", "content.edit", false, nil, &denyExpiry))
	require.False(t, f.resolver.HasPermissionForID(ctx, "u2", "content.edit", nil))

	f.clock.Advance(2 * time.Minute)
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u2", "content.edit", nil), "role grant resurfaces once the deny expires")
}

func TestReassignRefreshesExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustRegisterRole(t, "editor", "", 10, "content.edit")
	shortExpiry := f.clock.Now().Add(time.Hour)
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "editor", nil, &shortExpiry))

	longExpiry := f.clock.Now().Add(24 * time.Hour)
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "editor", nil, &longExpiry))

	f.clock.Advance(2 * time.Hour)
	assert.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil), "upsert replaced the earlier expiry")

	assignments, err := f.grants.ActiveRoleAssignments(ctx, "u1", nil)
	require.NoError(t, err)
	require.Len(t, assignments, 1, "re-assignment must not duplicate the row")
}

func TestDecisionCachingAndCoherence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustRegisterRole(t, "editor", "", 10, "content.edit")
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "editor", nil, nil))

	require.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil))
	assert.Equal(t, 1, f.cache.Len())

	// Grant mutations invalidate the subject on their own.
	require.NoError(t, f.grants.UnassignRole(ctx, "u1", "editor", nil))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil))
}

func TestRoleCatalogMutationFlushesDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustRegisterRole(t, "editor", "", 10, "content.edit")
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "editor", nil, nil))
	require.NoError(t, f.grants.AssignRole(ctx, "u2", "editor", nil, nil))
	require.True(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil))
	require.True(t, f.resolver.HasPermissionForID(ctx, "u2", "content.edit", nil))

	// Revoking at the role level affects every holder without enumerating
	// them.
	require.NoError(t, f.roles.RevokeFromRole(ctx, "editor", []string{"content.edit"}))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil))
	assert.False(t, f.resolver.HasPermissionForID(ctx, "u2", "content.edit", nil))
}

func TestResolutionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustRegisterRole(t, "editor", "", 10, "content.edit")
	require.NoError(t, f.grants.AssignRole(ctx, "u1", "editor", nil, nil))

	first := f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, f.resolver.HasPermissionForID(ctx, "u1", "content.edit", nil))
	}
}

type failingGrants struct{}

func (failingGrants) ActiveRoleAssignments(context.Context, string, *grant.Scope) ([]grant.RoleAssignment, error) {
	return nil, errors.New("store unavailable")
}

func (failingGrants) ActiveDirectGrant(context.Context, string, string, *grant.Scope) (*bool, error) {
	return nil, errors.New("store unavailable")
}

type emptyRoles struct{}

func (emptyRoles) EffectivePermissions(context.Context, string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func TestInfrastructureFailureDeniesWithoutCaching(t *testing.T) {
	cache := NewMemoryCache()
	r := NewResolver(failingGrants{}, emptyRoles{}, cache, discardLogger())

	assert.False(t, r.HasPermissionForID(context.Background(), "u1", "content.edit", nil))
	assert.Equal(t, 0, cache.Len(), "a failure is not a decision and must not be cached")
}
