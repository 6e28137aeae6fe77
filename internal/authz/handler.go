package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/authcore-io/authcore/internal/grant"
	"github.com/authcore-io/authcore/internal/platform/httpx"
)

// Handler exposes the check endpoint.
type Handler struct {
	logger   *slog.Logger
	resolver *Resolver
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, resolver *Resolver) *Handler {
	return &Handler{logger: logger, resolver: resolver}
}

// MountRoutes registers the check route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.check)
}

type checkRequest struct {
	SubjectID  string `json:"subject_id"`
	Permission string `json:"permission"`
	Scope      *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"scope"`
}

// check never fails: malformed or incomplete requests resolve to a denial,
// matching the engine's fail-closed contract.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"allowed": false})
		return
	}
	var scope *grant.Scope
	if req.Scope != nil {
		scope = &grant.Scope{Type: req.Scope.Type, ID: req.Scope.ID}
	}
	allowed := h.resolver.HasPermissionForID(r.Context(), req.SubjectID, req.Permission, scope)
	httpx.JSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}
