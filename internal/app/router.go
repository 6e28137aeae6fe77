package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/authcore-io/authcore/internal/audit"
	"github.com/authcore-io/authcore/internal/authz"
	"github.com/authcore-io/authcore/internal/grant"
	"github.com/authcore-io/authcore/internal/observability"
	"github.com/authcore-io/authcore/internal/permission"
	"github.com/authcore-io/authcore/internal/role"
	"github.com/authcore-io/authcore/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Metrics           *observability.Metrics
	PermissionHandler *permission.Handler
	RoleHandler       *role.Handler
	GrantHandler      *grant.Handler
	CheckHandler      *authz.Handler
	AuditHandler      *audit.Handler
	JobHandler        *jobs.Handler
}

// NewRouter assembles the service router. The admin API sits behind bearer
// auth; health and metrics stay open for probes and scrapers.
func NewRouter(p RouterParams) chi.Router {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: p.Logger, Config: p.Config, Metrics: p.Metrics}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if p.Config != nil && p.Config.APITokenHash != "" {
			r.Use(BearerAuth(p.Config.APITokenHash, p.Logger))
		}
		r.Route("/permissions", p.PermissionHandler.MountRoutes)
		r.Route("/roles", p.RoleHandler.MountRoutes)
		r.Route("/subjects", p.GrantHandler.MountRoutes)
		r.Route("/check", p.CheckHandler.MountRoutes)
		if p.AuditHandler != nil {
			r.Route("/audit", p.AuditHandler.MountRoutes)
		}
		if p.JobHandler != nil {
			r.Route("/jobs", p.JobHandler.MountRoutes)
		}
	})

	return r
}
