package permission

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/authcore-io/authcore/internal/platform/httpx"
)

// Handler exposes the permission catalog over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	v := validator.New()
	_ = v.RegisterValidation("permslug", func(fl validator.FieldLevel) bool {
		return ValidSlug(fl.Field().String())
	})
	return &Handler{logger: logger, service: service, validate: v}
}

// MountRoutes registers permission catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{slug}", h.get)
	r.Patch("/{slug}", h.update)
	r.Delete("/{slug}", h.remove)
}

type permissionResponse struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Group       string   `json:"group,omitempty"`
	Category    string   `json:"category,omitempty"`
	Requires    []string `json:"requires,omitempty"`
	Active      bool     `json:"active"`
	PluginID    string   `json:"plugin_id,omitempty"`
}

func toResponse(p Permission) permissionResponse {
	return permissionResponse{
		Slug:        p.Slug,
		Name:        p.Name,
		Description: p.Description,
		Group:       p.Group,
		Category:    p.Category,
		Requires:    p.Requires,
		Active:      p.Active,
		PluginID:    p.PluginID,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		Group:    r.URL.Query().Get("group"),
		PluginID: r.URL.Query().Get("plugin"),
		Search:   r.URL.Query().Get("q"),
	}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "active must be a boolean")
			return
		}
		filter.Active = &active
	}
	perms, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if grouped, _ := strconv.ParseBool(r.URL.Query().Get("grouped")); grouped {
		byGroup := make(map[string][]permissionResponse)
		for _, p := range perms {
			byGroup[p.Group] = append(byGroup[p.Group], toResponse(p))
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"groups": byGroup})
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, toResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

type createPermissionRequest struct {
	Slug        string   `json:"slug" validate:"required,permslug"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Group       string   `json:"group"`
	Category    string   `json:"category"`
	Requires    []string `json:"requires" validate:"dive,permslug"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, err := h.service.Register(r.Context(), Definition{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Group:       req.Group,
		Category:    req.Category,
		Requires:    req.Requires,
	}, ownerFrom(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(*p))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*p))
}

type updatePermissionRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Group       *string   `json:"group"`
	Category    *string   `json:"category"`
	Requires    *[]string `json:"requires"`
	Active      *bool     `json:"active"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req updatePermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	p, err := h.service.Update(r.Context(), chi.URLParam(r, "slug"), Patch{
		Name:        req.Name,
		Description: req.Description,
		Group:       req.Group,
		Category:    req.Category,
		Requires:    req.Requires,
		Active:      req.Active,
	}, ownerFrom(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(*p))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unregister(r.Context(), chi.URLParam(r, "slug"), ownerFrom(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownerFrom extracts the calling plugin identity. An empty value means the
// caller acts as the system.
func ownerFrom(r *http.Request) string {
	return r.Header.Get("X-Plugin-ID")
}
