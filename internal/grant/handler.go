package grant

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/authcore-io/authcore/internal/permission"
	"github.com/authcore-io/authcore/internal/platform/httpx"
	"github.com/authcore-io/authcore/internal/role"
)

// Handler exposes subject grant management over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	v := validator.New()
	_ = v.RegisterValidation("roleslug", func(fl validator.FieldLevel) bool {
		return role.ValidSlug(fl.Field().String())
	})
	_ = v.RegisterValidation("grantslug", func(fl validator.FieldLevel) bool {
		return permission.ValidGrantSlug(fl.Field().String())
	})
	return &Handler{logger: logger, service: service, validate: v}
}

// MountRoutes registers subject grant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{subject}/roles", h.listRoles)
	r.Post("/{subject}/roles", h.assignRole)
	r.Delete("/{subject}/roles/{role}", h.unassignRole)
	r.Post("/{subject}/permissions", h.grantDirect)
	r.Delete("/{subject}/permissions/{permission}", h.revokeDirect)
}

type scopePayload struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

func (p *scopePayload) toScope() *Scope {
	if p == nil {
		return nil
	}
	return &Scope{Type: p.Type, ID: p.ID}
}

func scopeFromQuery(q url.Values) *Scope {
	scopeType := q.Get("scope_type")
	scopeID := q.Get("scope_id")
	if scopeType == "" && scopeID == "" {
		return nil
	}
	return &Scope{Type: scopeType, ID: scopeID}
}

type assignmentResponse struct {
	Role      string     `json:"role"`
	ScopeType string     `json:"scope_type,omitempty"`
	ScopeID   string     `json:"scope_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subject")
	assignments, err := h.service.ActiveRoleAssignments(r.Context(), subjectID, scopeFromQuery(r.URL.Query()))
	if err != nil {
		h.logger.Error("list assignments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]assignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		resp := assignmentResponse{Role: a.RoleSlug, ExpiresAt: a.ExpiresAt}
		if a.Scope != nil {
			resp.ScopeType = a.Scope.Type
			resp.ScopeID = a.Scope.ID
		}
		out = append(out, resp)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignments": out})
}

type assignRoleRequest struct {
	Role      string        `json:"role" validate:"required,roleslug"`
	Scope     *scopePayload `json:"scope"`
	ExpiresAt *time.Time    `json:"expires_at"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	subjectID := chi.URLParam(r, "subject")
	if err := h.service.AssignRole(r.Context(), subjectID, req.Role, req.Scope.toScope(), req.ExpiresAt); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unassignRole(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subject")
	roleSlug := chi.URLParam(r, "role")
	if err := h.service.UnassignRole(r.Context(), subjectID, roleSlug, scopeFromQuery(r.URL.Query())); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type directGrantRequest struct {
	Permission string        `json:"permission" validate:"required,grantslug"`
	Granted    *bool         `json:"granted" validate:"required"`
	Scope      *scopePayload `json:"scope"`
	ExpiresAt  *time.Time    `json:"expires_at"`
}

func (h *Handler) grantDirect(w http.ResponseWriter, r *http.Request) {
	var req directGrantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	subjectID := chi.URLParam(r, "subject")
	if err := h.service.GrantDirect(r.Context(), subjectID, req.Permission, *req.Granted, req.Scope.toScope(), req.ExpiresAt); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeDirect(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subject")
	permissionSlug := chi.URLParam(r, "permission")
	if err := h.service.RevokeDirect(r.Context(), subjectID, permissionSlug, scopeFromQuery(r.URL.Query())); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
