package authz

import (
	"context"
	"log/slog"
	"strings"

	"github.com/authcore-io/authcore/internal/grant"
	"github.com/authcore-io/authcore/internal/observability"
)

// GrantReader is the resolver's view of the grant store.
type GrantReader interface {
	ActiveRoleAssignments(ctx context.Context, subjectID string, scope *grant.Scope) ([]grant.RoleAssignment, error)
	ActiveDirectGrant(ctx context.Context, subjectID, permissionSlug string, scope *grant.Scope) (*bool, error)
}

// RoleReader is the resolver's view of the role catalog.
type RoleReader interface {
	EffectivePermissions(ctx context.Context, roleSlug string) (map[string]struct{}, error)
}

// Resolver decides whether a subject holds a permission in a scope. The
// decision tree is strict: direct overrides beat role grants, exact slugs
// beat wildcard forms, and anything unresolved denies.
type Resolver struct {
	grants  GrantReader
	roles   RoleReader
	cache   DecisionCache
	metrics *observability.Metrics
	logger  *slog.Logger

	// globalFallback widens scope matching: when set, grants held globally
	// also satisfy scoped queries. The default is strict equality, where a
	// global grant only answers global queries.
	globalFallback bool
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithGlobalFallback makes globally-held grants apply to scoped queries.
func WithGlobalFallback(enabled bool) ResolverOption {
	return func(r *Resolver) { r.globalFallback = enabled }
}

// WithMetrics attaches check and cache counters.
func WithMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver constructs the resolution engine.
func NewResolver(grants GrantReader, roles RoleReader, cache DecisionCache, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	r := &Resolver{grants: grants, roles: roles, cache: cache, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasPermission reports whether the subject holds the permission in the
// given scope. It is total: a nil subject, unknown permission, or unknown
// scope all resolve to false. It never returns an error; infrastructure
// failures deny and are logged.
func (r *Resolver) HasPermission(ctx context.Context, subject Subject, permissionSlug string, scope *grant.Scope) bool {
	if subject == nil {
		return false
	}
	if subject.IsSuperAdmin() {
		return true
	}
	return r.HasPermissionForID(ctx, subject.ID(), permissionSlug, scope)
}

// HasPermissionForID resolves by bare subject identifier, without the
// super-admin shortcut. The admin check endpoint uses this form.
func (r *Resolver) HasPermissionForID(ctx context.Context, subjectID, permissionSlug string, scope *grant.Scope) bool {
	if subjectID == "" || permissionSlug == "" {
		return false
	}
	scopeKey := grant.ScopeKey(scope)
	if allowed, ok := r.cache.Get(ctx, subjectID, permissionSlug, scopeKey); ok {
		r.metrics.ObserveCacheLookup(true)
		r.metrics.ObserveCheck(allowed)
		return allowed
	}
	r.metrics.ObserveCacheLookup(false)

	allowed, err := r.decide(ctx, subjectID, permissionSlug, scope)
	if err != nil {
		// Fail closed without caching: an infrastructure failure is not a
		// decision.
		r.logger.Error("permission resolution failed",
			slog.String("subject", subjectID),
			slog.String("permission", permissionSlug),
			slog.String("scope", scopeKey),
			slog.Any("error", err))
		r.metrics.ObserveCheck(false)
		return false
	}
	r.cache.Set(ctx, subjectID, permissionSlug, scopeKey, allowed)
	r.metrics.ObserveCheck(allowed)
	return allowed
}

func (r *Resolver) decide(ctx context.Context, subjectID, permissionSlug string, scope *grant.Scope) (bool, error) {
	if verdict, err := r.directVerdict(ctx, subjectID, permissionSlug, scope); err != nil || verdict != nil {
		if err != nil {
			return false, err
		}
		return *verdict, nil
	}
	if granted, err := r.roleVerdict(ctx, subjectID, permissionSlug, scope); err != nil || granted {
		return granted, err
	}
	wildcard, ok := WildcardOf(permissionSlug)
	if !ok {
		return false, nil
	}
	if verdict, err := r.directVerdict(ctx, subjectID, wildcard, scope); err != nil || verdict != nil {
		if err != nil {
			return false, err
		}
		return *verdict, nil
	}
	return r.roleVerdict(ctx, subjectID, wildcard, scope)
}

// directVerdict returns the polarity of the matching direct grant, nil when
// no override exists. A direct deny beats every role grant.
func (r *Resolver) directVerdict(ctx context.Context, subjectID, permissionSlug string, scope *grant.Scope) (*bool, error) {
	verdict, err := r.grants.ActiveDirectGrant(ctx, subjectID, permissionSlug, scope)
	if err != nil {
		return nil, err
	}
	if verdict == nil && r.globalFallback && scope != nil {
		verdict, err = r.grants.ActiveDirectGrant(ctx, subjectID, permissionSlug, nil)
		if err != nil {
			return nil, err
		}
	}
	return verdict, nil
}

// roleVerdict reports whether any matching role assignment's effective
// permission set contains the slug.
func (r *Resolver) roleVerdict(ctx context.Context, subjectID, permissionSlug string, scope *grant.Scope) (bool, error) {
	assignments, err := r.grants.ActiveRoleAssignments(ctx, subjectID, scope)
	if err != nil {
		return false, err
	}
	if r.globalFallback && scope != nil {
		global, err := r.grants.ActiveRoleAssignments(ctx, subjectID, nil)
		if err != nil {
			return false, err
		}
		assignments = append(assignments, global...)
	}
	for _, a := range assignments {
		effective, err := r.roles.EffectivePermissions(ctx, a.RoleSlug)
		if err != nil {
			return false, err
		}
		if _, ok := effective[permissionSlug]; ok {
			return true, nil
		}
	}
	return false, nil
}

// WildcardOf derives the wildcard form of a permission slug: everything up
// to the last dot segment plus ".*". Slugs without a dot, and slugs already
// in wildcard form, have none.
func WildcardOf(permissionSlug string) (string, bool) {
	if strings.HasSuffix(permissionSlug, ".*") {
		return "", false
	}
	i := strings.LastIndex(permissionSlug, ".")
	if i < 0 {
		return "", false
	}
	return permissionSlug[:i] + ".*", true
}
