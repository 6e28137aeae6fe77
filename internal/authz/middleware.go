package authz

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/authcore-io/authcore/internal/grant"
)

// PermissionChecker is the middleware's view of the resolver.
type PermissionChecker interface {
	HasPermission(ctx context.Context, subject Subject, permissionSlug string, scope *grant.Scope) bool
}

// Middleware wires authorization helpers for HTTP handlers. The subject is
// taken from the request context; requests without one are rejected.
type Middleware struct {
	Checker PermissionChecker
	Logger  *slog.Logger
}

// RequireAny admits the request when the subject holds at least one of the
// permissions in the global scope.
func (m Middleware) RequireAny(permissionSlugs ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(permissionSlugs) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			subject := SubjectFromContext(r.Context())
			if subject == nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			for _, p := range permissionSlugs {
				if m.Checker.HasPermission(r.Context(), subject, p, nil) {
					next.ServeHTTP(w, r)
					return
				}
			}
			m.logDenied(subject, r, permissionSlugs)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAll admits the request only when the subject holds every
// permission in the global scope.
func (m Middleware) RequireAll(permissionSlugs ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := SubjectFromContext(r.Context())
			if subject == nil && len(permissionSlugs) > 0 {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			for _, p := range permissionSlugs {
				if !m.Checker.HasPermission(r.Context(), subject, p, nil) {
					m.logDenied(subject, r, permissionSlugs)
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logDenied(subject Subject, r *http.Request, permissionSlugs []string) {
	if m.Logger == nil {
		return
	}
	m.Logger.Warn("authorization denied",
		slog.String("subject", subject.ID()),
		slog.String("path", r.URL.Path),
		slog.Any("permissions", permissionSlugs))
}
