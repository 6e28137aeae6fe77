package grant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/authcore-io/authcore/internal/audit"
	"github.com/authcore-io/authcore/internal/permission"
	"github.com/authcore-io/authcore/internal/platform/httpx"
)

// Invalidator drops cached decisions for one subject. Satisfied by the
// authz decision caches.
type Invalidator interface {
	InvalidateSubject(ctx context.Context, subjectID string)
}

// RoleChecker verifies a role slug exists in the catalog.
type RoleChecker interface {
	Exists(ctx context.Context, roleSlug string) (bool, error)
}

// Service manages role assignments and direct grants. Expired rows are
// filtered at read time; the background reaper only reclaims storage.
type Service struct {
	store     Store
	roles     RoleChecker
	decisions Invalidator
	audit     *audit.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the service clock. Tests use this to cross expiry
// boundaries without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs the grant store service. roles and decisions may be
// nil to skip role validation and cache invalidation respectively.
func NewService(store Store, roles RoleChecker, decisions Invalidator, recorder *audit.Recorder, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     store,
		roles:     roles,
		decisions: decisions,
		audit:     recorder,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AssignRole binds a subject to a role, optionally scoped and time-bound.
// Re-assigning an existing (subject, role, scope) triple refreshes its
// expiry rather than duplicating the row.
func (s *Service) AssignRole(ctx context.Context, subjectID, roleSlug string, scope *Scope, expiresAt *time.Time) error {
	if subjectID == "" {
		return fmt.Errorf("subject id required: %w", httpx.ErrValidation)
	}
	if s.roles != nil {
		exists, err := s.roles.Exists(ctx, roleSlug)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("role %q: %w", roleSlug, httpx.ErrNotFound)
		}
	}
	a := RoleAssignment{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		RoleSlug:  roleSlug,
		Scope:     scope,
		ExpiresAt: expiresAt,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.UpsertAssignment(ctx, a); err != nil {
		return err
	}
	s.invalidate(ctx, subjectID)
	s.audit.Record(ctx, "subject.role_assigned", subjectID, map[string]any{
		"role": roleSlug, "scope": ScopeKey(scope),
	})
	return nil
}

// UnassignRole removes a role binding. Removing an absent binding reports
// NotFound.
func (s *Service) UnassignRole(ctx context.Context, subjectID, roleSlug string, scope *Scope) error {
	removed, err := s.store.DeleteAssignment(ctx, subjectID, roleSlug, scope)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("assignment of %q to %q in %s: %w", roleSlug, subjectID, ScopeKey(scope), httpx.ErrNotFound)
	}
	s.invalidate(ctx, subjectID)
	s.audit.Record(ctx, "subject.role_unassigned", subjectID, map[string]any{
		"role": roleSlug, "scope": ScopeKey(scope),
	})
	return nil
}

// GrantDirect binds a permission straight to a subject with explicit
// allow/deny polarity.
func (s *Service) GrantDirect(ctx context.Context, subjectID, permissionSlug string, granted bool, scope *Scope, expiresAt *time.Time) error {
	if subjectID == "" {
		return fmt.Errorf("subject id required: %w", httpx.ErrValidation)
	}
	if !permission.ValidGrantSlug(permissionSlug) {
		return fmt.Errorf("permission %q: %w", permissionSlug, httpx.ErrInvalidSlug)
	}
	g := DirectGrant{
		ID:             uuid.NewString(),
		SubjectID:      subjectID,
		PermissionSlug: permissionSlug,
		Granted:        granted,
		Scope:          scope,
		ExpiresAt:      expiresAt,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.UpsertDirect(ctx, g); err != nil {
		return err
	}
	s.invalidate(ctx, subjectID)
	s.audit.Record(ctx, "subject.direct_granted", subjectID, map[string]any{
		"permission": permissionSlug, "granted": granted, "scope": ScopeKey(scope),
	})
	return nil
}

// RevokeDirect removes a direct grant row, restoring role-derived behavior.
func (s *Service) RevokeDirect(ctx context.Context, subjectID, permissionSlug string, scope *Scope) error {
	removed, err := s.store.DeleteDirect(ctx, subjectID, permissionSlug, scope)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("direct grant of %q to %q in %s: %w", permissionSlug, subjectID, ScopeKey(scope), httpx.ErrNotFound)
	}
	s.invalidate(ctx, subjectID)
	s.audit.Record(ctx, "subject.direct_revoked", subjectID, map[string]any{
		"permission": permissionSlug, "scope": ScopeKey(scope),
	})
	return nil
}

// ActiveRoleAssignments returns the subject's live assignments whose scope
// exactly matches the requested scope. An expired row behaves as if it did
// not exist.
func (s *Service) ActiveRoleAssignments(ctx context.Context, subjectID string, scope *Scope) ([]RoleAssignment, error) {
	rows, err := s.store.AssignmentsForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := rows[:0:0]
	for _, a := range rows {
		if a.activeAt(now) && sameScope(a.Scope, scope) {
			out = append(out, a)
		}
	}
	return out, nil
}

// ActiveDirectGrant returns the polarity of the live direct grant for
// exactly this (subject, permission, scope), or nil when none exists.
func (s *Service) ActiveDirectGrant(ctx context.Context, subjectID, permissionSlug string, scope *Scope) (*bool, error) {
	rows, err := s.store.DirectsForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, g := range rows {
		if g.PermissionSlug == permissionSlug && g.activeAt(now) && sameScope(g.Scope, scope) {
			granted := g.Granted
			return &granted, nil
		}
	}
	return nil, nil
}

// PurgeExpired deletes rows whose expiry has passed. Correctness never
// depends on this; reads already ignore expired rows.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged expired grants", slog.Int64("rows", n))
	}
	return n, nil
}

func (s *Service) invalidate(ctx context.Context, subjectID string) {
	if s.decisions != nil {
		s.decisions.InvalidateSubject(ctx, subjectID)
	}
}
