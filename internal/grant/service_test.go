package grant

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authcore-io/authcore/internal/platform/httpx"
)

type stubRoles struct {
	known map[string]bool
}

func (s *stubRoles) Exists(_ context.Context, roleSlug string) (bool, error) {
	return s.known[roleSlug], nil
}

type recordingInvalidator struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingInvalidator) InvalidateSubject(_ context.Context, subjectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subjectID)
}

type testEnv struct {
	svc   *Service
	inv   *recordingInvalidator
	clock time.Time
	mu    sync.Mutex
}

func (e *testEnv) now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = e.clock.Add(d)
}

func newTestEnv(roles ...string) *testEnv {
	known := make(map[string]bool, len(roles))
	for _, r := range roles {
		known[r] = true
	}
	env := &testEnv{
		inv:   &recordingInvalidator{},
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.svc = NewService(NewMemoryStore(), &stubRoles{known: known}, env.inv, nil, logger, WithClock(env.now))
	return env
}

func TestAssignRoleValidation(t *testing.T) {
	env := newTestEnv("editor")
	ctx := context.Background()

	assert.ErrorIs(t, env.svc.AssignRole(ctx, "", "editor", nil, nil), httpx.ErrValidation)
	assert.ErrorIs(t, env.svc.AssignRole(ctx, "u1", "ghost", nil, nil), httpx.ErrNotFound)
	require.NoError(t, env.svc.AssignRole(ctx, "u1", "editor", nil, nil))
	assert.Contains(t, env.inv.subjects, "u1", "assignment invalidates the subject's decisions")
}

func TestAssignmentSetSemantics(t *testing.T) {
	env := newTestEnv("editor")
	ctx := context.Background()
	tenant7 := &Scope{Type: "tenant", ID: "7"}

	require.NoError(t, env.svc.AssignRole(ctx, "u1", "editor", nil, nil))
	require.NoError(t, env.svc.AssignRole(ctx, "u1", "editor", nil, nil))
	require.NoError(t, env.svc.AssignRole(ctx, "u1", "editor", tenant7, nil))

	global, err := env.svc.ActiveRoleAssignments(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Len(t, global, 1, "duplicate assignment collapses onto one row")

	scoped, err := env.svc.ActiveRoleAssignments(ctx, "u1", tenant7)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "7", scoped[0].Scope.ID, "scoped and global rows are distinct")
}

func TestUnassignRole(t *testing.T) {
	env := newTestEnv("editor")
	ctx := context.Background()

	require.NoError(t, env.svc.AssignRole(ctx, "u1", "editor", nil, nil))
	require.NoError(t, env.svc.UnassignRole(ctx, "u1", "editor", nil))
	assert.ErrorIs(t, env.svc.UnassignRole(ctx, "u1", "editor", nil), httpx.ErrNotFound)

	rows, err := env.svc.ActiveRoleAssignments(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDirectGrantPolarity(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	assert.ErrorIs(t, env.svc.GrantDirect(ctx, "u1", "Bad Slug", true, nil, nil), httpx.ErrInvalidSlug)

	require.NoError(t, env.svc.GrantDirect(ctx, "u1", "content.edit", false, nil, nil))
	verdict, err := env.svc.ActiveDirectGrant(ctx, "u1", "content.edit", nil)
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.False(t, *verdict)

	// Re-granting flips polarity in place.
	require.NoError(t, env.svc.GrantDirect(ctx, "u1", "content.edit", true, nil, nil))
	verdict, err = env.svc.ActiveDirectGrant(ctx, "u1", "content.edit", nil)
	require.NoError(t, err)
	require.NotNil(t, verdict)
	assert.True(t, *verdict)

	// Absence reads as no override at all.
	verdict, err = env.svc.ActiveDirectGrant(ctx, "u1", "content.view", nil)
	require.NoError(t, err)
	assert.Nil(t, verdict)

	require.NoError(t, env.svc.RevokeDirect(ctx, "u1", "content.edit", nil))
	assert.ErrorIs(t, env.svc.RevokeDirect(ctx, "u1", "content.edit", nil), httpx.ErrNotFound)
}

func TestExpiryFilteredAtReadTime(t *testing.T) {
	env := newTestEnv("editor")
	ctx := context.Background()

	expiry := env.now().Add(time.Hour)
	require.NoError(t, env.svc.AssignRole(ctx, "u1", "editor", nil, &expiry))
	require.NoError(t, env.svc.GrantDirect(ctx, "u1", "content.edit", true, nil, &expiry))

	rows, err := env.svc.ActiveRoleAssignments(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	env.advance(2 * time.Hour)

	rows, err = env.svc.ActiveRoleAssignments(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, rows, "expired rows behave as absent without any purge")

	verdict, err := env.svc.ActiveDirectGrant(ctx, "u1", "content.edit", nil)
	require.NoError(t, err)
	assert.Nil(t, verdict)
}

func TestPurgeExpired(t *testing.T) {
	env := newTestEnv("editor")
	ctx := context.Background()

	expiry := env.now().Add(time.Hour)
	require.NoError(t, env.svc.AssignRole(ctx, "u1", "editor", nil, &expiry))
	require.NoError(t, env.svc.GrantDirect(ctx, "u1", "content.edit", true, nil, &expiry))
	require.NoError(t, env.svc.AssignRole(ctx, "u2", "editor", nil, nil))

	n, err := env.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing expired yet")

	env.advance(2 * time.Hour)
	n, err = env.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Open-ended rows survive the sweep.
	rows, err := env.svc.ActiveRoleAssignments(ctx, "u2", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "global", ScopeKey(nil))
	assert.Equal(t, "tenant:7", ScopeKey(&Scope{Type: "tenant", ID: "7"}))
	assert.NotEqual(t, ScopeKey(&Scope{Type: "tenant", ID: "7"}), ScopeKey(&Scope{Type: "project", ID: "7"}))

	// Separator characters inside a component must not make two distinct
	// scopes share a key.
	assert.NotEqual(t,
		ScopeKey(&Scope{Type: "tenant", ID: "7:project"}),
		ScopeKey(&Scope{Type: "tenant:7", ID: "project"}))
	assert.NotEqual(t, "global", ScopeKey(&Scope{Type: "global", ID: ""}))
}
