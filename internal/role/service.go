package role

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/authcore-io/authcore/internal/audit"
	"github.com/authcore-io/authcore/internal/permission"
	"github.com/authcore-io/authcore/internal/platform/httpx"
)

// Invalidator flushes resolution decisions that can no longer be trusted.
// Role grants affect an unknown set of subjects, so the catalog always
// invalidates broadly. Satisfied by the authz decision caches.
type Invalidator interface {
	InvalidateAll(ctx context.Context)
}

// Service manages the role catalog and memoizes effective permission sets.
type Service struct {
	store     Store
	decisions Invalidator
	audit     *audit.Recorder
	logger    *slog.Logger

	mu   sync.RWMutex
	memo map[string]map[string]struct{}
}

// NewService constructs the role catalog service. decisions may be nil when
// no resolution cache is attached.
func NewService(store Store, decisions Invalidator, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		decisions: decisions,
		audit:     recorder,
		logger:    logger,
		memo:      make(map[string]map[string]struct{}),
	}
}

// Register adds a new role definition owned by the given plugin.
func (s *Service) Register(ctx context.Context, def Definition, owner string) (*Role, error) {
	if !ValidSlug(def.Slug) {
		return nil, fmt.Errorf("role %q: %w", def.Slug, httpx.ErrInvalidSlug)
	}
	if def.Level < 0 {
		return nil, fmt.Errorf("role %q: negative level: %w", def.Slug, httpx.ErrValidation)
	}
	if def.Parent != "" {
		if def.Parent == def.Slug {
			return nil, fmt.Errorf("role %q: %w", def.Slug, httpx.ErrCyclicParent)
		}
		if _, err := s.store.Get(ctx, def.Parent); err != nil {
			return nil, fmt.Errorf("parent role %q: %w", def.Parent, httpx.ErrNotFound)
		}
	}
	name := def.Name
	if name == "" {
		name = permission.DisplayName(def.Slug)
	}
	now := time.Now().UTC()
	r := Role{
		Slug:        def.Slug,
		Name:        name,
		Description: def.Description,
		Level:       def.Level,
		Parent:      def.Parent,
		IsDefault:   def.IsDefault,
		Active:      true,
		PluginID:    owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Insert(ctx, r); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, "role.registered", r.Slug, map[string]any{"plugin": owner})
	return &r, nil
}

// Update applies a patch. Reassigning the parent is rejected when the new
// chain would loop back onto the role itself.
func (s *Service) Update(ctx context.Context, slug string, patch Patch, owner string) (*Role, error) {
	r, err := s.store.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(ctx, r.PluginID, owner, slug); err != nil {
		return nil, err
	}
	parentChanged := false
	if patch.Parent != nil && *patch.Parent != r.Parent {
		if err := s.checkCycle(ctx, slug, *patch.Parent); err != nil {
			return nil, err
		}
		r.Parent = *patch.Parent
		parentChanged = true
	}
	if patch.Name != nil {
		r.Name = *patch.Name
	}
	if patch.Description != nil {
		r.Description = *patch.Description
	}
	if patch.Level != nil {
		if *patch.Level < 0 {
			return nil, fmt.Errorf("role %q: negative level: %w", slug, httpx.ErrValidation)
		}
		r.Level = *patch.Level
	}
	if patch.IsDefault != nil {
		r.IsDefault = *patch.IsDefault
	}
	if patch.Active != nil {
		r.Active = *patch.Active
	}
	r.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, *r); err != nil {
		return nil, err
	}
	if parentChanged {
		s.invalidate(ctx)
	}
	s.audit.Record(ctx, "role.updated", slug, map[string]any{"plugin": owner})
	return r, nil
}

// Unregister removes a role. Roles referenced as a parent cannot be removed.
func (s *Service) Unregister(ctx context.Context, slug, owner string) error {
	r, err := s.store.Get(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.checkOwnership(ctx, r.PluginID, owner, slug); err != nil {
		return err
	}
	children, err := s.store.ChildrenOf(ctx, slug)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("role %q is parent of %v: %w", slug, children, httpx.ErrInUse)
	}
	if err := s.store.Delete(ctx, slug); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.audit.Record(ctx, "role.unregistered", slug, map[string]any{"plugin": owner})
	return nil
}

// GrantToRole attaches permission slugs to a role. The operation is an
// idempotent set union; wildcard slugs ("group.*") are stored as-is and
// interpreted at resolution time.
func (s *Service) GrantToRole(ctx context.Context, roleSlug string, permissionSlugs []string) error {
	if _, err := s.store.Get(ctx, roleSlug); err != nil {
		return err
	}
	for _, p := range permissionSlugs {
		if !permission.ValidGrantSlug(p) {
			return fmt.Errorf("grant %q: %w", p, httpx.ErrInvalidSlug)
		}
	}
	if err := s.store.Grant(ctx, roleSlug, permissionSlugs); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.audit.Record(ctx, "role.granted", roleSlug, map[string]any{"permissions": permissionSlugs})
	return nil
}

// RevokeFromRole detaches permission slugs from a role; idempotent removal.
func (s *Service) RevokeFromRole(ctx context.Context, roleSlug string, permissionSlugs []string) error {
	if _, err := s.store.Get(ctx, roleSlug); err != nil {
		return err
	}
	if err := s.store.Revoke(ctx, roleSlug, permissionSlugs); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.audit.Record(ctx, "role.revoked", roleSlug, map[string]any{"permissions": permissionSlugs})
	return nil
}

// EffectivePermissions returns the role's own grants unioned with its parent
// chain's grants. Unknown roles yield an empty set so resolution fails
// closed. Results are memoized until the next catalog mutation.
func (s *Service) EffectivePermissions(ctx context.Context, roleSlug string) (map[string]struct{}, error) {
	s.mu.RLock()
	cached, ok := s.memo[roleSlug]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	effective := make(map[string]struct{})
	visited := make(map[string]struct{})
	current := roleSlug
	for current != "" {
		if _, seen := visited[current]; seen {
			break
		}
		visited[current] = struct{}{}
		r, err := s.store.Get(ctx, current)
		if err != nil {
			break
		}
		grants, err := s.store.Grants(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			effective[g] = struct{}{}
		}
		current = r.Parent
	}

	s.mu.Lock()
	s.memo[roleSlug] = effective
	s.mu.Unlock()
	return effective, nil
}

// IsHigherThan reports whether role a outranks role b by level. Equal levels
// are not higher.
func (s *Service) IsHigherThan(ctx context.Context, a, b string) (bool, error) {
	ra, err := s.store.Get(ctx, a)
	if err != nil {
		return false, err
	}
	rb, err := s.store.Get(ctx, b)
	if err != nil {
		return false, err
	}
	return ra.Level > rb.Level, nil
}

// Grants returns the role's own grants, without parent aggregation.
func (s *Service) Grants(ctx context.Context, roleSlug string) ([]string, error) {
	if _, err := s.store.Get(ctx, roleSlug); err != nil {
		return nil, err
	}
	grants, err := s.store.Grants(ctx, roleSlug)
	if err != nil {
		return nil, err
	}
	sort.Strings(grants)
	return grants, nil
}

// RolesGranting reports which roles currently grant the permission slug.
func (s *Service) RolesGranting(ctx context.Context, permissionSlug string) ([]string, error) {
	return s.store.RolesGranting(ctx, permissionSlug)
}

// Get returns a single role by slug.
func (s *Service) Get(ctx context.Context, slug string) (*Role, error) {
	return s.store.Get(ctx, slug)
}

// Exists reports whether a role slug is registered.
func (s *Service) Exists(ctx context.Context, slug string) (bool, error) {
	_, err := s.store.Get(ctx, slug)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns all roles ordered by level descending, then slug.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	roles, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		return roles[i].Slug < roles[j].Slug
	})
	return roles, nil
}

// DefaultRoles returns active roles flagged for automatic assignment.
func (s *Service) DefaultRoles(ctx context.Context) ([]Role, error) {
	roles, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := roles[:0:0]
	for _, r := range roles {
		if r.IsDefault && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

// invalidate clears the effective-set memo and the resolution cache. The
// catalog cannot cheaply enumerate affected subjects, so it clears broadly.
func (s *Service) invalidate(ctx context.Context) {
	s.mu.Lock()
	s.memo = make(map[string]map[string]struct{})
	s.mu.Unlock()
	if s.decisions != nil {
		s.decisions.InvalidateAll(ctx)
	}
}

// checkCycle walks the prospective parent chain and rejects assignments that
// loop back onto slug.
func (s *Service) checkCycle(ctx context.Context, slug, parent string) error {
	visited := make(map[string]struct{})
	current := parent
	for current != "" {
		if current == slug {
			return fmt.Errorf("role %q cannot have %q as ancestor: %w", slug, parent, httpx.ErrCyclicParent)
		}
		if _, seen := visited[current]; seen {
			return fmt.Errorf("role %q: %w", slug, httpx.ErrCyclicParent)
		}
		visited[current] = struct{}{}
		r, err := s.store.Get(ctx, current)
		if err != nil {
			return fmt.Errorf("parent role %q: %w", current, httpx.ErrNotFound)
		}
		current = r.Parent
	}
	return nil
}

func (s *Service) checkOwnership(ctx context.Context, storedOwner, owner, slug string) error {
	if storedOwner != "" && storedOwner != owner {
		s.logger.Warn("role ownership violation",
			slog.String("slug", slug),
			slog.String("owner", storedOwner),
			slog.String("caller", owner),
			slog.String("actor", audit.ActorFromContext(ctx)))
		s.audit.Record(ctx, "role.ownership_violation", slug, map[string]any{
			"owner":  storedOwner,
			"caller": owner,
		})
		return fmt.Errorf("role %q owned by %q: %w", slug, storedOwner, httpx.ErrForbidden)
	}
	return nil
}
