package role

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/authcore-io/authcore/internal/permission"
	"github.com/authcore-io/authcore/internal/platform/httpx"
)

// Handler exposes the role catalog over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	v := validator.New()
	_ = v.RegisterValidation("roleslug", func(fl validator.FieldLevel) bool {
		return ValidSlug(fl.Field().String())
	})
	_ = v.RegisterValidation("grantslug", func(fl validator.FieldLevel) bool {
		return permission.ValidGrantSlug(fl.Field().String())
	})
	return &Handler{logger: logger, service: service, validate: v}
}

// MountRoutes registers role catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{slug}", h.get)
	r.Patch("/{slug}", h.update)
	r.Delete("/{slug}", h.remove)
	r.Get("/{slug}/permissions", h.effective)
	r.Post("/{slug}/permissions", h.grant)
	r.Delete("/{slug}/permissions", h.revoke)
}

type roleResponse struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Level       int    `json:"level"`
	Parent      string `json:"parent,omitempty"`
	IsDefault   bool   `json:"is_default"`
	Active      bool   `json:"active"`
	PluginID    string `json:"plugin_id,omitempty"`
}

func toRoleResponse(r Role) roleResponse {
	return roleResponse{
		Slug:        r.Slug,
		Name:        r.Name,
		Description: r.Description,
		Level:       r.Level,
		Parent:      r.Parent,
		IsDefault:   r.IsDefault,
		Active:      r.Active,
		PluginID:    r.PluginID,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

type createRoleRequest struct {
	Slug        string `json:"slug" validate:"required,roleslug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Level       int    `json:"level" validate:"gte=0"`
	Parent      string `json:"parent" validate:"omitempty,roleslug"`
	IsDefault   bool   `json:"is_default"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.Register(r.Context(), Definition{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Level:       req.Level,
		Parent:      req.Parent,
		IsDefault:   req.IsDefault,
	}, ownerFrom(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(*role))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(*role))
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Level       *int    `json:"level"`
	Parent      *string `json:"parent"`
	IsDefault   *bool   `json:"is_default"`
	Active      *bool   `json:"active"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	role, err := h.service.Update(r.Context(), chi.URLParam(r, "slug"), Patch{
		Name:        req.Name,
		Description: req.Description,
		Level:       req.Level,
		Parent:      req.Parent,
		IsDefault:   req.IsDefault,
		Active:      req.Active,
	}, ownerFrom(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(*role))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unregister(r.Context(), chi.URLParam(r, "slug"), ownerFrom(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) effective(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	own, err := h.service.Grants(r.Context(), slug)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	effective, err := h.service.EffectivePermissions(r.Context(), slug)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	all := make([]string, 0, len(effective))
	for p := range effective {
		all = append(all, p)
	}
	sort.Strings(all)
	httpx.JSON(w, http.StatusOK, map[string]any{"own": own, "effective": all})
}

type grantRequest struct {
	Permissions []string `json:"permissions" validate:"required,min=1,dive,grantslug"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.GrantToRole(r.Context(), chi.URLParam(r, "slug"), req.Permissions); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.RevokeFromRole(r.Context(), chi.URLParam(r, "slug"), req.Permissions); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func ownerFrom(r *http.Request) string {
	return r.Header.Get("X-Plugin-ID")
}
