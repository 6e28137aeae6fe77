package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/authcore-io/authcore/internal/audit"
	"github.com/authcore-io/authcore/internal/platform/httpx"
)

// GrantChecker reports which roles currently grant a permission slug. It is
// satisfied by the role catalog.
type GrantChecker interface {
	RolesGranting(ctx context.Context, permissionSlug string) ([]string, error)
}

// Service manages the permission catalog. Reads of grouped listings are
// memoized; every mutation clears the memo before returning.
type Service struct {
	store  Store
	roles  GrantChecker
	audit  *audit.Recorder
	logger *slog.Logger

	mu      sync.RWMutex
	grouped map[string][]Permission
}

// NewService constructs the catalog service. roles may be nil, in which case
// unregistration skips the in-use check.
func NewService(store Store, roles GrantChecker, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		roles:   roles,
		audit:   recorder,
		logger:  logger,
		grouped: make(map[string][]Permission),
	}
}

var titleCaser = cases.Title(language.English)

// DisplayName derives a human-readable name from a slug.
func DisplayName(slug string) string {
	return titleCaser.String(strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(slug))
}

// Register adds a new permission definition owned by the given plugin.
// An empty owner marks the permission as system-owned.
func (s *Service) Register(ctx context.Context, def Definition, owner string) (*Permission, error) {
	if !ValidSlug(def.Slug) {
		return nil, fmt.Errorf("permission %q: %w", def.Slug, httpx.ErrInvalidSlug)
	}
	for _, req := range def.Requires {
		if !ValidSlug(req) {
			return nil, fmt.Errorf("prerequisite %q: %w", req, httpx.ErrInvalidSlug)
		}
	}
	name := def.Name
	if name == "" {
		name = DisplayName(def.Slug)
	}
	group := def.Group
	if group == "" {
		group = GroupOf(def.Slug)
	}
	now := time.Now().UTC()
	p := Permission{
		Slug:        def.Slug,
		Name:        name,
		Description: def.Description,
		Group:       group,
		Category:    def.Category,
		Requires:    append([]string(nil), def.Requires...),
		Active:      true,
		PluginID:    owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Insert(ctx, p); err != nil {
		return nil, err
	}
	s.invalidateListings()
	s.audit.Record(ctx, "permission.registered", p.Slug, map[string]any{"plugin": owner})
	return &p, nil
}

// Update applies a patch to an existing permission. Only the owning plugin
// may modify a plugin-owned permission.
func (s *Service) Update(ctx context.Context, slug string, patch Patch, owner string) (*Permission, error) {
	p, err := s.store.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(ctx, p.PluginID, owner, slug); err != nil {
		return nil, err
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Group != nil {
		p.Group = *patch.Group
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.Requires != nil {
		for _, req := range *patch.Requires {
			if !ValidSlug(req) {
				return nil, fmt.Errorf("prerequisite %q: %w", req, httpx.ErrInvalidSlug)
			}
		}
		p.Requires = append([]string(nil), (*patch.Requires)...)
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, *p); err != nil {
		return nil, err
	}
	s.invalidateListings()
	s.audit.Record(ctx, "permission.updated", slug, map[string]any{"plugin": owner})
	return p, nil
}

// Unregister removes a permission. Removal is refused while any role still
// grants the slug.
func (s *Service) Unregister(ctx context.Context, slug, owner string) error {
	p, err := s.store.Get(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.checkOwnership(ctx, p.PluginID, owner, slug); err != nil {
		return err
	}
	if s.roles != nil {
		holders, err := s.roles.RolesGranting(ctx, slug)
		if err != nil {
			return err
		}
		if len(holders) > 0 {
			return fmt.Errorf("permission %q granted by roles %v: %w", slug, holders, httpx.ErrInUse)
		}
	}
	if err := s.store.Delete(ctx, slug); err != nil {
		return err
	}
	s.invalidateListings()
	s.audit.Record(ctx, "permission.unregistered", slug, map[string]any{"plugin": owner})
	return nil
}

// Get returns a single permission by slug.
func (s *Service) Get(ctx context.Context, slug string) (*Permission, error) {
	return s.store.Get(ctx, slug)
}

// List returns permissions matching the filter, ordered by slug.
func (s *Service) List(ctx context.Context, filter Filter) ([]Permission, error) {
	perms, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Slug < perms[j].Slug })
	return perms, nil
}

// ListByGroup returns the permissions of one group, memoized until the next
// catalog mutation.
func (s *Service) ListByGroup(ctx context.Context, group string) ([]Permission, error) {
	s.mu.RLock()
	cached, ok := s.grouped[group]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}
	perms, err := s.List(ctx, Filter{Group: group})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.grouped[group] = perms
	s.mu.Unlock()
	return perms, nil
}

// ListByPlugin returns all permissions owned by a plugin.
func (s *Service) ListByPlugin(ctx context.Context, pluginID string) ([]Permission, error) {
	return s.List(ctx, Filter{PluginID: pluginID})
}

func (s *Service) invalidateListings() {
	s.mu.Lock()
	s.grouped = make(map[string][]Permission)
	s.mu.Unlock()
}

func (s *Service) checkOwnership(ctx context.Context, storedOwner, owner, slug string) error {
	if storedOwner != "" && storedOwner != owner {
		s.logger.Warn("permission ownership violation",
			slog.String("slug", slug),
			slog.String("owner", storedOwner),
			slog.String("caller", owner),
			slog.String("actor", audit.ActorFromContext(ctx)))
		s.audit.Record(ctx, "permission.ownership_violation", slug, map[string]any{
			"owner":  storedOwner,
			"caller": owner,
		})
		return fmt.Errorf("permission %q owned by %q: %w", slug, storedOwner, httpx.ErrForbidden)
	}
	return nil
}
